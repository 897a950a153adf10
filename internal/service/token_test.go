package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/models"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	userID := uuid.New()

	token, exp, err := tm.IssueAccess(userID, models.RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	gotID, role, err := tm.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)

	expired, _, err := NewTokenManager("secret", -time.Minute).IssueAccess(uuid.New(), models.RoleBuyer)
	require.NoError(t, err)
	_, _, err = tm.ParseAccess(expired)
	assert.Error(t, err)

	foreign, _, err := NewTokenManager("other", time.Hour).IssueAccess(uuid.New(), models.RoleBuyer)
	require.NoError(t, err)
	_, _, err = tm.ParseAccess(foreign)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = tm.ParseAccess(none)
	assert.Error(t, err)

	_, _, err = tm.ParseAccess("garbage")
	assert.Error(t, err)
}
