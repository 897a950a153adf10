package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// HostedConfig параметры внешнего шлюза с hosted checkout.
type HostedConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
	// RPS ограничивает исходящие вызовы к шлюзу.
	RPS   float64
	Burst int
}

// Hosted шлюз, который открывает checkout по HTTP и присылает подписанный callback.
type Hosted struct {
	baseURL string
	secret  []byte
	client  *http.Client
	limiter *rate.Limiter
}

func NewHosted(cfg HostedConfig) *Hosted {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Hosted{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.Secret),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

func (h *Hosted) Name() string {
	return "hosted"
}

type checkoutRequest struct {
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	UserID    string `json:"user_id"`
}

type checkoutResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (h *Hosted) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ref := NewReference(h.Name())
	body, err := json.Marshal(checkoutRequest{
		Reference: ref,
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		UserID:    req.UserID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("hosted gateway: marshal checkout: %w", err)
	}

	var out checkoutResponse
	if err := h.do(ctx, http.MethodPost, "/checkout", body, &out); err != nil {
		return nil, err
	}
	if out.RedirectURL == "" {
		return nil, apperror.New(apperror.ErrCodeGateway, "шлюз не вернул адрес оплаты")
	}
	return &InitiateResult{RedirectURL: out.RedirectURL, Reference: ref}, nil
}

// Verify проверяет подпись callback и подтверждает статус запросом к шлюзу.
func (h *Hosted) Verify(ctx context.Context, cb Callback) (*VerifyResult, error) {
	if err := h.checkSignature(cb); err != nil {
		return nil, err
	}

	var res VerifyResult
	if err := json.Unmarshal(cb.Body, &res); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный callback")
	}
	if err := validateResult(&res); err != nil {
		return nil, err
	}

	var confirmed VerifyResult
	if err := h.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(res.Reference), nil, &confirmed); err != nil {
		return nil, err
	}
	if confirmed.Status != res.Status {
		return nil, apperror.New(apperror.ErrCodeValidation, "статус callback не совпадает со статусом в шлюзе")
	}
	if confirmed.ExternalID != "" {
		res.ExternalID = confirmed.ExternalID
	}
	return &res, nil
}

// Sign подписывает тело callback секретом шлюза.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hosted) checkSignature(cb Callback) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(cb.Signature, "sha256="))
	if err != nil || len(sig) == 0 {
		return apperror.New(apperror.ErrCodeUnauthorized, "callback без корректной подписи")
	}
	expected, _ := hex.DecodeString(Sign(h.secret, cb.Body))
	if subtle.ConstantTimeCompare(expected, sig) != 1 {
		return apperror.New(apperror.ErrCodeUnauthorized, "подпись callback не совпадает")
	}
	return nil
}

// do выполняет запрос к шлюзу. Сетевые ошибки и 5xx временные, 4xx постоянные.
func (h *Hosted) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "превышен лимит запросов к шлюзу")
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hosted gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if body != nil {
		req.Header.Set("X-Signature", Sign(h.secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "шлюз недоступен")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return apperror.New(apperror.ErrCodeGateway, fmt.Sprintf("шлюз ответил %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperror.New(apperror.ErrCodeBadRequest, fmt.Sprintf("шлюз отклонил запрос: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "некорректный ответ шлюза")
	}
	return nil
}
