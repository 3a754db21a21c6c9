package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

var (
	// ErrPaymentNotFound возвращается, когда платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentTerminal возвращается при попытке перехода из поглощающего статуса.
	ErrPaymentTerminal = errors.New("payment is in terminal status")
	// ErrRetryAlreadySet возвращается, когда retry-поля уже заняты: смена
	// метода верификации допускается ровно один раз.
	ErrRetryAlreadySet = errors.New("payment retry already recorded")
)

// PaymentRepository отвечает за платежи и сохранённые карты.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository создаёт экземпляр репозитория.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create создаёт платёж в статусе pending с primary idempotency key.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (id, payer_id, type, status, amount, fees, total, item_type, item_id, idempotency_key)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9)
		RETURNING id, status, created_at, updated_at
	`
	id := payment.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	idemKey := payment.IdempotencyKey
	if idemKey == uuid.Nil {
		idemKey = uuid.New()
	}
	if err := r.db.QueryRowxContext(ctx, query,
		id, payment.PayerID, payment.Type, payment.Amount, payment.Fees, payment.Total,
		payment.ItemType, payment.ItemID, idemKey).
		Scan(&payment.ID, &payment.Status, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return fmt.Errorf("payment repository: create %w", err)
	}
	payment.IdempotencyKey = idemKey
	return nil
}

// GetByID возвращает платёж по идентификатору.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return common.GetByID[models.Payment](ctx, r.db, "payments", id, ErrPaymentNotFound)
}

// GetByExternalID возвращает платёж по идентификатору процессора.
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return common.GetByField[models.Payment](ctx, r.db, "payments", "external_id", externalID, ErrPaymentNotFound)
}

// ListByUser возвращает платежи пользователя.
func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT * FROM payments WHERE payer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return payments, err
}

// RecordSubmission фиксирует внешний идентификатор платежа и payload его
// отправки во внешнюю систему. Статус при этом не меняется.
func (r *PaymentRepository) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET external_id = $2, payload = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('failed', 'canceled')
	`, id, externalID, payload)
	if err != nil {
		return fmt.Errorf("payment repository: record submission %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentTerminal
	}
	return nil
}

// SwapVerificationMethod атомарно занимает retry-поля для пересдачи платежа
// с альтернативным методом верификации. Условие «оба поля пусты» отсекает
// дубль при конкурентной доставке вебхука: второй вызов получает
// ErrRetryAlreadySet и ничего не пересдаёт. Статус остаётся pending.
func (r *PaymentRepository) SwapVerificationMethod(ctx context.Context, id uuid.UUID, retryKey uuid.UUID, retryPayload json.RawMessage) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, `
		UPDATE payments SET retry_idempotency_key = $2, retry_payload = $3, updated_at = NOW()
		WHERE id = $1 AND retry_idempotency_key IS NULL AND retry_payload IS NULL
		  AND status = 'pending'
		RETURNING *
	`, id, retryKey, retryPayload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRetryAlreadySet
		}
		return nil, fmt.Errorf("payment repository: swap verification method %w", err)
	}
	return &payment, nil
}

// UpdateStatus выполняет условный переход статуса из списка ожидаемых.
// Нулевое число строк при уже достигнутой цели — идемпотентный повтор.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string) (*models.Payment, error) {
	var payment models.Payment
	query, args, err := sqlx.In(`
		UPDATE payments SET status = ?, updated_at = NOW()
		WHERE id = ? AND status IN (?)
		RETURNING *
	`, to, id, from)
	if err != nil {
		return nil, fmt.Errorf("payment repository: update status build %w", err)
	}
	err = r.db.GetContext(ctx, &payment, r.db.Rebind(query), args...)
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment repository: update status %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	return nil, ErrPaymentTerminal
}

// SumOpenTotals суммирует total незавершённых и подтверждённых платежей
// пользователя начиная с since. Вызывается под блокировкой строки аккаунта,
// чтобы две конкурентные покупки не прошли порог KYC одновременно.
func (r *PaymentRepository) SumOpenTotals(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, since time.Time) (int64, error) {
	var sum int64
	err := tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(total), 0) FROM payments
		WHERE payer_id = $1 AND status NOT IN ('failed', 'canceled') AND created_at >= $2
	`, userID, since)
	if err != nil {
		return 0, fmt.Errorf("payment repository: sum open totals %w", err)
	}
	return sum, nil
}

// SaveCard сохраняет карту, заведённую у процессора.
func (r *PaymentRepository) SaveCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO cards (id, user_id, external_id, last4, network, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO UPDATE SET status = EXCLUDED.status
		RETURNING id, created_at
	`
	id := card.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if err := r.db.QueryRowxContext(ctx, query,
		id, card.UserID, card.ExternalID, card.Last4, card.Network, card.Status).
		Scan(&card.ID, &card.CreatedAt); err != nil {
		return fmt.Errorf("payment repository: save card %w", err)
	}
	return nil
}

// GetCard возвращает карту пользователя.
func (r *PaymentRepository) GetCard(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	return common.GetByID[models.Card](ctx, r.db, "cards", id, common.ErrNotFound)
}

// GetCardByExternalID возвращает карту по идентификатору процессора.
func (r *PaymentRepository) GetCardByExternalID(ctx context.Context, externalID string) (*models.Card, error) {
	return common.GetByField[models.Card](ctx, r.db, "cards", "external_id", externalID, common.ErrNotFound)
}

// UpdateCardStatus обновляет статус карты по уведомлению процессора.
func (r *PaymentRepository) UpdateCardStatus(ctx context.Context, externalID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cards SET status = $2 WHERE external_id = $1
	`, externalID, status)
	if err != nil {
		return fmt.Errorf("payment repository: update card status %w", err)
	}
	return nil
}
