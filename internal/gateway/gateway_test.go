package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const secret = "gateway-secret"

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewSandbox(), NewHosted(HostedConfig{BaseURL: "http://x", Secret: secret}))

	a, err := reg.Get("SANDBOX")
	require.NoError(t, err)
	assert.Equal(t, "sandbox", a.Name())

	_, err = reg.Get("stripe")
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, []string{"hosted", "sandbox"}, reg.Names())
}

func TestSandbox_InitiateAndVerify(t *testing.T) {
	s := NewSandbox()
	res, err := s.Initiate(context.Background(), InitiateRequest{UserID: uuid.New(), Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Reference, "SANDBOX-"))
	assert.Contains(t, res.RedirectURL, res.Reference)

	body, _ := json.Marshal(VerifyResult{Reference: res.Reference, Status: StatusSuccess, ExternalID: "ext-1"})
	v, err := s.Verify(context.Background(), Callback{Body: body})
	require.NoError(t, err)
	assert.Equal(t, res.Reference, v.Reference)
	assert.Equal(t, StatusSuccess, v.Status)

	_, err = s.Verify(context.Background(), Callback{Body: []byte(`{"reference":"r","status":"maybe"}`)})
	assert.True(t, apperror.IsValidation(err))
}

func TestHosted_Initiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout", r.URL.Path)
		var req checkoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "25.50", req.Amount)
		_ = json.NewEncoder(w).Encode(checkoutResponse{RedirectURL: "https://pay.example/" + req.Reference})
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, Secret: secret, Timeout: time.Second})
	res, err := h.Initiate(context.Background(), InitiateRequest{
		UserID: uuid.New(), Amount: decimal.RequireFromString("25.5"), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/"+res.Reference, res.RedirectURL)
}

func TestHosted_ServerErrorIsTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, Secret: secret, Timeout: time.Second})
	_, err := h.Initiate(context.Background(), InitiateRequest{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeGateway, apperror.Code(err))
	assert.True(t, apperror.IsTransient(err))
}

func TestHosted_VerifySignedCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/HOSTED-abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(VerifyResult{Reference: "HOSTED-abc", Status: StatusSuccess, ExternalID: "pi_42"})
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, Secret: secret, Timeout: time.Second})
	body := []byte(`{"reference":"HOSTED-abc","status":"success"}`)

	res, err := h.Verify(context.Background(), Callback{Body: body, Signature: "sha256=" + Sign([]byte(secret), body)})
	require.NoError(t, err)
	assert.Equal(t, "pi_42", res.ExternalID)

	_, err = h.Verify(context.Background(), Callback{Body: body, Signature: Sign([]byte("other"), body)})
	assert.Equal(t, apperror.ErrCodeUnauthorized, apperror.Code(err))
}

func TestHosted_VerifyStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VerifyResult{Reference: "HOSTED-x", Status: StatusFailed})
	}))
	defer srv.Close()

	h := NewHosted(HostedConfig{BaseURL: srv.URL, Secret: secret, Timeout: time.Second})
	body := []byte(`{"reference":"HOSTED-x","status":"success"}`)

	_, err := h.Verify(context.Background(), Callback{Body: body, Signature: Sign([]byte(secret), body)})
	assert.True(t, apperror.IsValidation(err))
}
