package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// TokenPair — пара токенов, выдаваемая при входе.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenClaims — полезная нагрузка access токена.
type TokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenManager выпускает и проверяет JWT токены. Access и refresh токены
// подписываются разными секретами.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// NewAccessToken выпускает access токен пользователя.
func (m *TokenManager) NewAccessToken(userID uuid.UUID) (string, error) {
	return m.sign(userID, m.accessSecret, m.accessTTL)
}

// NewRefreshToken выпускает refresh токен пользователя.
func (m *TokenManager) NewRefreshToken(userID uuid.UUID) (string, error) {
	return m.sign(userID, m.refreshSecret, m.refreshTTL)
}

// RefreshTTL возвращает срок жизни refresh токена.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

func (m *TokenManager) sign(userID uuid.UUID, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign %w", err)
	}
	return signed, nil
}

// ParseAccessToken проверяет access токен и возвращает claims.
func (m *TokenManager) ParseAccessToken(raw string) (*TokenClaims, error) {
	return m.parse(raw, m.accessSecret)
}

// ParseRefreshToken проверяет refresh токен и возвращает claims.
func (m *TokenManager) ParseRefreshToken(raw string) (*TokenClaims, error) {
	return m.parse(raw, m.refreshSecret)
}

func (m *TokenManager) parse(raw string, secret []byte) (*TokenClaims, error) {
	var claims TokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperror.ErrUnauthorized
	}
	return &claims, nil
}
