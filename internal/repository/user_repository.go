package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

var (
	// ErrUserNotFound возвращается, когда пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound возвращается, когда сессия не найдена.
	ErrSessionNotFound = errors.New("session not found")
)

// UserRepository отвечает за аккаунты пользователей и их сессии.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository создаёт экземпляр репозитория.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create создаёт нового пользователя.
func (r *UserRepository) Create(ctx context.Context, user *models.UserAccount) error {
	query := `
		INSERT INTO user_accounts (id, email, username, password_hash, balance, verification_status)
		VALUES ($1, $2, $3, $4, 0, 'none')
		RETURNING id, balance, verification_status, created_at, updated_at
	`
	id := user.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if err := r.db.QueryRowxContext(ctx, query, id, user.Email, user.Username, user.PasswordHash).
		Scan(&user.ID, &user.Balance, &user.VerificationStatus, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if common.IsUniqueViolation(err, "") {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("user repository: create %w", err)
	}
	return nil
}

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserAccount, error) {
	return common.GetByID[models.UserAccount](ctx, r.db, "user_accounts", id, ErrUserNotFound)
}

// GetByEmail возвращает пользователя по email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	return common.GetByField[models.UserAccount](ctx, r.db, "user_accounts", "email", email, ErrUserNotFound)
}

// LockForUpdate берёт блокировку строки аккаунта внутри транзакции. Держать
// её можно только на время проверки порогов KYC или выдачи кошелька — никаких
// внешних вызовов под блокировкой.
func (r *UserRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.UserAccount, error) {
	var user models.UserAccount
	if err := tx.GetContext(ctx, &user, `SELECT * FROM user_accounts WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: lock for update %w", err)
	}
	return &user, nil
}

// SetWallet сохраняет кошелёк процессора и депозитный адрес. Вызывается под
// блокировкой строки, поэтому работает через переданную транзакцию.
func (r *UserRepository) SetWallet(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, walletID, depositAddress string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE user_accounts SET wallet_id = $2, deposit_address = $3, updated_at = NOW()
		WHERE id = $1 AND wallet_id IS NULL
	`, id, walletID, depositAddress); err != nil {
		return fmt.Errorf("user repository: set wallet %w", err)
	}
	return nil
}

// SetVerificationStatus обновляет статус проверки личности.
func (r *UserRepository) SetVerificationStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_accounts SET verification_status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("user repository: set verification status %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateVerificationDocument сохраняет метаданные документа KYC.
func (r *UserRepository) CreateVerificationDocument(ctx context.Context, doc *models.VerificationDocument) error {
	query := `
		INSERT INTO verification_documents (id, user_id, doc_type, file_path)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query, uuid.New(), doc.UserID, doc.DocType, doc.FilePath).
		Scan(&doc.ID, &doc.CreatedAt); err != nil {
		return fmt.Errorf("user repository: create verification document %w", err)
	}
	return nil
}

// ListVerificationDocuments возвращает документы пользователя.
func (r *UserRepository) ListVerificationDocuments(ctx context.Context, userID uuid.UUID) ([]models.VerificationDocument, error) {
	var docs []models.VerificationDocument
	err := r.db.SelectContext(ctx, &docs, `
		SELECT * FROM verification_documents WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("user repository: list verification documents %w", err)
	}
	return docs, nil
}

// UpdateLastLoginAt отмечает время последнего входа.
func (r *UserRepository) UpdateLastLoginAt(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE user_accounts SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("user repository: update last login %w", err)
	}
	return nil
}

// CreateSession сохраняет сессию пользователя.
func (r *UserRepository) CreateSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		uuid.New(), session.UserID, session.RefreshToken, session.UserAgent, session.IPAddress, session.ExpiresAt).
		Scan(&session.ID, &session.CreatedAt); err != nil {
		return fmt.Errorf("user repository: create session %w", err)
	}
	return nil
}

// GetSession возвращает сессию по refresh токену.
func (r *UserRepository) GetSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	return common.GetByField[models.Session](ctx, r.db, "sessions", "refresh_token", refreshToken, ErrSessionNotFound)
}

// DeleteSession удаляет сессию по refresh токену.
func (r *UserRepository) DeleteSession(ctx context.Context, refreshToken string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_token = $1`, refreshToken)
	if err != nil {
		return fmt.Errorf("user repository: delete session %w", err)
	}
	return nil
}

// Tx открывает транзакцию для оркестраторов, которым нужна блокировка строки
// аккаунта вместе с другими запросами.
func (r *UserRepository) Tx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return common.WithTransaction(ctx, r.db, fn)
}
