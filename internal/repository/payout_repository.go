package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

var (
	// ErrPayoutNotFound возвращается, когда выплата не найдена.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrPayoutTerminal возвращается при попытке перехода из терминального статуса.
	ErrPayoutTerminal = errors.New("payout is in terminal status")
)

// PayoutRepository отвечает за выплаты и банковские счета.
type PayoutRepository struct {
	db *sqlx.DB
}

// NewPayoutRepository создаёт экземпляр репозитория.
func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Create создаёт выплату в статусе pending.
func (r *PayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	query := `
		INSERT INTO payouts (id, user_id, type, status, amount, fee, destination_address, bank_account_id, idempotency_key)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8)
		RETURNING id, status, created_at, updated_at
	`
	id := payout.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	idemKey := payout.IdempotencyKey
	if idemKey == uuid.Nil {
		idemKey = uuid.New()
	}
	if err := r.db.QueryRowxContext(ctx, query,
		id, payout.UserID, payout.Type, payout.Amount, payout.Fee,
		payout.DestinationAddress, payout.BankAccountID, idemKey).
		Scan(&payout.ID, &payout.Status, &payout.CreatedAt, &payout.UpdatedAt); err != nil {
		return fmt.Errorf("payout repository: create %w", err)
	}
	payout.IdempotencyKey = idemKey
	return nil
}

// GetByID возвращает выплату по идентификатору.
func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return common.GetByID[models.Payout](ctx, r.db, "payouts", id, ErrPayoutNotFound)
}

// GetByExternalID возвращает выплату по идентификатору процессора.
func (r *PayoutRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Payout, error) {
	return common.GetByField[models.Payout](ctx, r.db, "payouts", "external_id", externalID, ErrPayoutNotFound)
}

// ListByUser возвращает выплаты пользователя.
func (r *PayoutRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.SelectContext(ctx, &payouts, `
		SELECT * FROM payouts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return payouts, err
}

// RecordSubmission фиксирует отправку выплаты процессору.
func (r *PayoutRepository) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET external_id = $2, payload = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, externalID, payload)
	if err != nil {
		return fmt.Errorf("payout repository: record submission %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPayoutTerminal
	}
	return nil
}

// MarkComplete завершает выплату: pending -> complete.
func (r *PayoutRepository) MarkComplete(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return r.transition(ctx, id, `
		UPDATE payouts SET status = 'complete', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, models.PayoutStatusComplete, id)
}

// MarkFailed помечает выплату проваленной по уведомлению процессора.
func (r *PayoutRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.GetContext(ctx, &payout, `
		UPDATE payouts SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, models.PayoutStatusFailed)
		}
		return nil, fmt.Errorf("payout repository: mark failed %w", err)
	}
	return &payout, nil
}

// MarkReturned фиксирует возврат средств после формально успешной выплаты.
// Возвращённая сумма может быть меньше исходной.
func (r *PayoutRepository) MarkReturned(ctx context.Context, id uuid.UUID, returnedAmount int64) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.GetContext(ctx, &payout, `
		UPDATE payouts SET status = 'returned', returned_amount = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'complete')
		RETURNING *
	`, id, returnedAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, models.PayoutStatusReturned)
		}
		return nil, fmt.Errorf("payout repository: mark returned %w", err)
	}
	return &payout, nil
}

func (r *PayoutRepository) transition(ctx context.Context, id uuid.UUID, query, want string, args ...interface{}) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.GetContext(ctx, &payout, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, want)
		}
		return nil, fmt.Errorf("payout repository: transition %w", err)
	}
	return &payout, nil
}

// recheck после нулевого условного UPDATE: достигнутая цель — идемпотентный
// повтор, любой другой статус — конфликт.
func (r *PayoutRepository) recheck(ctx context.Context, id uuid.UUID, want string) (*models.Payout, error) {
	payout, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status == want {
		return payout, nil
	}
	return nil, ErrPayoutTerminal
}

// SaveBankAccount сохраняет банковский счёт, заведённый у процессора.
func (r *PayoutRepository) SaveBankAccount(ctx context.Context, account *models.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (id, user_id, external_id, description, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET status = EXCLUDED.status
		RETURNING id, created_at
	`
	id := account.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if err := r.db.QueryRowxContext(ctx, query,
		id, account.UserID, account.ExternalID, account.Description, account.Status).
		Scan(&account.ID, &account.CreatedAt); err != nil {
		return fmt.Errorf("payout repository: save bank account %w", err)
	}
	return nil
}

// GetBankAccount возвращает банковский счёт пользователя.
func (r *PayoutRepository) GetBankAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error) {
	return common.GetByID[models.BankAccount](ctx, r.db, "bank_accounts", id, common.ErrNotFound)
}
