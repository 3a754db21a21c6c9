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
	// ErrTransferNotFound возвращается, когда перевод не найден.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferInFlight возвращается при попытке провалить перевод,
	// запрос по которому уже ушёл во внешнюю систему.
	ErrTransferInFlight = errors.New("transfer already submitted externally")
	// ErrTransferNotPending возвращается, когда статусный переход невозможен.
	ErrTransferNotPending = errors.New("transfer is not pending")
	// ErrInsufficientBalance возвращается, когда дебет увёл бы кэшированный
	// баланс в минус. Перевод остаётся pending, транзакция откатывается.
	ErrInsufficientBalance = errors.New("insufficient balance for debit")
)

// Имя уникального ограничения: один незавершённый перевод на бизнес-событие.
const uxTransfersEntityUser = "ux_transfers_entity_user_open"

// TransferRepository отвечает за записи леджера.
type TransferRepository struct {
	db *sqlx.DB
}

// NewTransferRepository создаёт экземпляр репозитория.
func NewTransferRepository(db *sqlx.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// CreateIdempotent вставляет перевод с локально сгенерированным id. При
// нарушении уникального ограничения (entity_type, entity_id, user_account_id)
// возвращает уже существующую не-failed строку вместо ошибки: повторный вызов
// после падения или конкурентный дубль получают тот же перевод.
func (r *TransferRepository) CreateIdempotent(ctx context.Context, amount int64, entityType string, entityID, userAccountID uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	query := `
		INSERT INTO transfers (id, user_account_id, amount, entity_type, entity_id, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING *
	`
	err := r.db.GetContext(ctx, &transfer, query, uuid.New(), userAccountID, amount, entityType, entityID)
	if err == nil {
		return &transfer, nil
	}
	if !common.IsUniqueViolation(err, uxTransfersEntityUser) {
		return nil, fmt.Errorf("transfer repository: create %w", err)
	}

	existing, err := r.getOpen(ctx, entityType, entityID, userAccountID)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// getOpen возвращает не-failed перевод по бизнес-событию.
func (r *TransferRepository) getOpen(ctx context.Context, entityType string, entityID, userAccountID uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	query := `
		SELECT * FROM transfers
		WHERE entity_type = $1 AND entity_id = $2 AND user_account_id = $3 AND status <> 'failed'
	`
	if err := r.db.GetContext(ctx, &transfer, query, entityType, entityID, userAccountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("transfer repository: get open %w", err)
	}
	return &transfer, nil
}

// GetByID возвращает перевод по идентификатору.
func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return common.GetByID[models.Transfer](ctx, r.db, "transfers", id, ErrTransferNotFound)
}

// GetByExternalID возвращает перевод по идентификатору внешней системы.
func (r *TransferRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Transfer, error) {
	return common.GetByField[models.Transfer](ctx, r.db, "transfers", "external_id", externalID, ErrTransferNotFound)
}

// ListByUser возвращает историю переводов пользователя.
func (r *TransferRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	var transfers []models.Transfer
	err := r.db.SelectContext(ctx, &transfers, `
		SELECT * FROM transfers WHERE user_account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return transfers, err
}

// RecordSubmission фиксирует отправку перевода во внешнюю систему: payload
// запроса и внешний id. После этого MarkFailed для перевода запрещён.
func (r *TransferRepository) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET external_id = $2, payload = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, externalID, payload)
	if err != nil {
		return fmt.Errorf("transfer repository: record submission %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTransferNotPending
	}
	return nil
}

// Complete завершает перевод и применяет его сумму к кэшированному балансу
// в одной транзакции. Повторный вызов для уже завершённого перевода — no-op.
func (r *TransferRepository) Complete(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &transfer, `
			UPDATE transfers SET status = 'complete', completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		`, id)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("transfer repository: complete %w", err)
			}
			// Ноль строк: либо перевод уже завершён (безопасно вернуть его),
			// либо переход невозможен.
			if err := tx.GetContext(ctx, &transfer, `SELECT * FROM transfers WHERE id = $1`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrTransferNotFound
				}
				return fmt.Errorf("transfer repository: complete recheck %w", err)
			}
			if transfer.Status == models.TransferStatusComplete {
				return nil
			}
			return ErrTransferNotPending
		}

		// Баланс меняется только здесь, вместе с завершением перевода.
		// Дебет ниже нуля не проходит: ноль строк откатывает транзакцию,
		// перевод остаётся pending.
		res, err := tx.ExecContext(ctx, `
			UPDATE user_accounts SET balance = balance + $2, updated_at = NOW()
			WHERE id = $1 AND balance + $2 >= 0
		`, transfer.UserAccountID, transfer.Amount)
		if err != nil {
			return fmt.Errorf("transfer repository: complete apply balance %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// MarkFailed помечает перевод проваленным. Разрешено только пока перевод не
// ушёл во внешнюю систему (payload пуст) — после отправки судьбу перевода
// решает только авторитетный статус процессора.
func (r *TransferRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payload IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("transfer repository: mark failed %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	transfer, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if transfer.Status == models.TransferStatusFailed {
		return nil
	}
	if transfer.HasPayload() {
		return ErrTransferInFlight
	}
	return ErrTransferNotPending
}

// MarkFailedByExternal помечает перевод проваленным по авторитетному
// уведомлению внешней системы (ограничение на payload не действует).
func (r *TransferRepository) MarkFailedByExternal(ctx context.Context, externalID string) (*models.Transfer, error) {
	var transfer models.Transfer
	err := r.db.GetContext(ctx, &transfer, `
		UPDATE transfers SET status = 'failed', updated_at = NOW()
		WHERE external_id = $1 AND status = 'pending'
		RETURNING *
	`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("transfer repository: mark failed by external %w", err)
	}
	return &transfer, nil
}

// AvailableBalance возвращает доступный баланс: кэшированный баланс минус
// сумма модулей незавершённых дебетов минус зарезервированные покупки на
// вторичном рынке, по которым перевод ещё не материализован. Не меньше нуля.
func (r *TransferRepository) AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var available int64
	query := `
		SELECT u.balance
			- COALESCE((
				SELECT SUM(ABS(t.amount)) FROM transfers t
				WHERE t.user_account_id = $1 AND t.status = 'pending' AND t.amount < 0
			), 0)
			- COALESCE((
				SELECT SUM(l.price) FROM listings l
				WHERE l.buyer_id = $1
				  AND l.status IN ('reserved', 'transferring_credits')
				  AND NOT EXISTS (
					SELECT 1 FROM transfers t2
					WHERE t2.entity_type = 'listing_sale' AND t2.entity_id = l.id
					  AND t2.user_account_id = $1 AND t2.status <> 'failed'
				  )
			), 0)
		FROM user_accounts u WHERE u.id = $1
	`
	if err := r.db.GetContext(ctx, &available, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTransferNotFound
		}
		return 0, fmt.Errorf("transfer repository: available balance %w", err)
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}
