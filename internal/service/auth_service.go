package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/collectibles-backend/internal/goroutine"
	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

// walletEnsurer выдаёт пользователю кастодиальный кошелёк.
type walletEnsurer interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.UserAccount, error)
}

// AuthService — регистрация, вход и жизненный цикл сессий.
type AuthService struct {
	users   userStore
	tokens  *TokenManager
	wallets walletEnsurer
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(users userStore, tokens *TokenManager, wallets walletEnsurer) *AuthService {
	return &AuthService{users: users, tokens: tokens, wallets: wallets}
}

// Register создаёт аккаунт и сразу выдаёт пару токенов. Кошелёк процессора
// заводится в фоне: регистрация не ждёт внешних систем.
func (s *AuthService) Register(ctx context.Context, email, username, password string, userAgent, ip *string) (*models.UserAccount, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "некорректный email")
	}
	if len(username) < 3 {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "имя пользователя слишком короткое")
	}
	if len(password) < 8 {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "пароль должен быть не короче 8 символов")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "hash password")
	}

	user := &models.UserAccount{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, nil, apperror.New(apperror.ErrCodeConflict, "пользователь с таким email уже существует")
		}
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create user")
	}

	if s.wallets != nil {
		userID := user.ID
		goroutine.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.wallets.EnsureWallet(ctx, userID); err != nil {
				logger.WithComponent("auth").WithError(err).WithField("user_id", userID).
					Warn("wallet provisioning failed, will retry on first use")
			}
		})
	}

	pair, err := s.issueSession(ctx, user.ID, userAgent, ip)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login проверяет учётные данные и выдаёт пару токенов.
func (s *AuthService) Login(ctx context.Context, email, password string, userAgent, ip *string) (*models.UserAccount, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, nil, apperror.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperror.ErrInvalidCredentials
	}
	if err := s.users.UpdateLastLoginAt(ctx, user.ID); err != nil {
		logger.WithComponent("auth").WithError(err).Warn("failed to update last login")
	}

	pair, err := s.issueSession(ctx, user.ID, userAgent, ip)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh ротирует пару токенов по refresh токену. Старая сессия удаляется.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, userAgent, ip *string) (*TokenPair, error) {
	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}
	session, err := s.users.GetSession(ctx, refreshToken)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}
	if time.Now().After(session.ExpiresAt) || session.UserID != claims.UserID {
		_ = s.users.DeleteSession(ctx, refreshToken)
		return nil, apperror.ErrUnauthorized
	}

	if err := s.users.DeleteSession(ctx, refreshToken); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "rotate session")
	}
	return s.issueSession(ctx, session.UserID, userAgent, ip)
}

// Logout удаляет сессию по refresh токену.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.users.DeleteSession(ctx, refreshToken); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "delete session")
	}
	return nil
}

// Me возвращает аккаунт текущего пользователя.
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.UserAccount, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) issueSession(ctx context.Context, userID uuid.UUID, userAgent, ip *string) (*TokenPair, error) {
	access, err := s.tokens.NewAccessToken(userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "issue access token")
	}
	refresh, err := s.tokens.NewRefreshToken(userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "issue refresh token")
	}

	session := &models.Session{
		UserID:       userID,
		RefreshToken: refresh,
		UserAgent:    userAgent,
		IPAddress:    ip,
		ExpiresAt:    time.Now().Add(s.tokens.RefreshTTL()),
	}
	if err := s.users.CreateSession(ctx, session); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create session")
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
