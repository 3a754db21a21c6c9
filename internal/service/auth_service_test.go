package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

func newAuthService(users *mockUserStore) *AuthService {
	tokens := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	return NewAuthService(users, tokens, nil)
}

func TestAuthService_Register_IssuesTokens(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)
	ctx := context.Background()

	users.On("Create", ctx, mock.MatchedBy(func(u *models.UserAccount) bool {
		return u.Email == "user@example.com" && u.Username == "collector" && u.PasswordHash != "password123"
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.UserAccount).ID = uuid.New()
	}).Return(nil)
	users.On("CreateSession", ctx, mock.Anything).Return(nil)

	user, pair, err := svc.Register(ctx, "  User@Example.com ", "collector", "password123", nil, nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "user@example.com", user.Email)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)
	ctx := context.Background()

	users.On("Create", ctx, mock.Anything).Return(common.ErrAlreadyExists)

	_, _, err := svc.Register(ctx, "user@example.com", "collector", "password123", nil, nil)
	assert.Error(t, err)
	users.AssertNotCalled(t, "CreateSession")
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)

	_, _, err := svc.Register(context.Background(), "user@example.com", "collector", "short", nil, nil)
	assert.Error(t, err)
	users.AssertNotCalled(t, "Create")
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	users.On("GetByEmail", ctx, "user@example.com").Return(&models.UserAccount{ID: uuid.New(), PasswordHash: string(hash)}, nil)

	_, _, err := svc.Login(ctx, "user@example.com", "wrong-password", nil, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
}

func TestAuthService_Login_Success(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)
	ctx := context.Background()
	userID := uuid.New()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-password"), bcrypt.MinCost)
	users.On("GetByEmail", ctx, "user@example.com").Return(&models.UserAccount{ID: userID, PasswordHash: string(hash)}, nil)
	users.On("UpdateLastLoginAt", ctx, userID).Return(nil)
	users.On("CreateSession", ctx, mock.Anything).Return(nil)

	user, pair, err := svc.Login(ctx, "User@Example.com", "correct-password", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestAuthService_Refresh_RotatesSession(t *testing.T) {
	users := new(mockUserStore)
	tokens := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	svc := NewAuthService(users, tokens, nil)
	ctx := context.Background()
	userID := uuid.New()

	refresh, err := tokens.NewRefreshToken(userID)
	assert.NoError(t, err)

	users.On("GetSession", ctx, refresh).Return(&models.Session{UserID: userID, RefreshToken: refresh, ExpiresAt: time.Now().Add(time.Hour)}, nil)
	users.On("DeleteSession", ctx, refresh).Return(nil)
	users.On("CreateSession", ctx, mock.Anything).Return(nil)

	pair, err := svc.Refresh(ctx, refresh, nil, nil)
	assert.NoError(t, err)
	assert.NotEqual(t, refresh, pair.RefreshToken)
	users.AssertExpectations(t)
}

func TestAuthService_Refresh_ExpiredSession(t *testing.T) {
	users := new(mockUserStore)
	tokens := NewTokenManager("access-secret", "refresh-secret", 15*time.Minute, 720*time.Hour)
	svc := NewAuthService(users, tokens, nil)
	ctx := context.Background()
	userID := uuid.New()

	refresh, err := tokens.NewRefreshToken(userID)
	assert.NoError(t, err)

	users.On("GetSession", ctx, refresh).Return(&models.Session{UserID: userID, RefreshToken: refresh, ExpiresAt: time.Now().Add(-time.Hour)}, nil)
	users.On("DeleteSession", ctx, refresh).Return(nil)

	_, err = svc.Refresh(ctx, refresh, nil, nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	users.AssertNotCalled(t, "CreateSession")
}

func TestAuthService_Refresh_GarbageToken(t *testing.T) {
	users := new(mockUserStore)
	svc := newAuthService(users)

	_, err := svc.Refresh(context.Background(), "not-a-token", nil, nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	users.AssertNotCalled(t, "GetSession")
}
