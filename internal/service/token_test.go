package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

func TestTokenManager_AccessRoundTrip(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	userID := uuid.New()

	raw, err := tm.NewAccessToken(userID)
	assert.NoError(t, err)

	claims, err := tm.ParseAccessToken(raw)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestTokenManager_RefreshRoundTrip(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	userID := uuid.New()

	raw, err := tm.NewRefreshToken(userID)
	assert.NoError(t, err)

	claims, err := tm.ParseRefreshToken(raw)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestTokenManager_SecretsNotInterchangeable(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	userID := uuid.New()

	refresh, err := tm.NewRefreshToken(userID)
	assert.NoError(t, err)

	_, err = tm.ParseAccessToken(refresh)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestTokenManager_ExpiredToken(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", -1*time.Minute, 720*time.Hour)
	userID := uuid.New()

	raw, err := tm.NewAccessToken(userID)
	assert.NoError(t, err)

	_, err = tm.ParseAccessToken(raw)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestTokenManager_Garbage(t *testing.T) {
	tm := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)

	_, err := tm.ParseAccessToken("not-a-token")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}
