package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

// WebhookRepository хранит обработанные уведомления процессора (дедупликация
// at-least-once доставки) и состояние подписок на топики уведомлений.
type WebhookRepository struct {
	db *sqlx.DB
}

// NewWebhookRepository создаёт экземпляр репозитория.
func NewWebhookRepository(db *sqlx.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// HasEvent проверяет, было ли уведомление с таким (category, external id)
// уже обработано.
func (r *WebhookRepository) HasEvent(ctx context.Context, category, externalID string) (bool, error) {
	var seen bool
	err := r.db.GetContext(ctx, &seen, `
		SELECT EXISTS (
			SELECT 1 FROM webhook_events WHERE category = $1 AND external_id = $2
		)
	`, category, externalID)
	if err != nil {
		return false, fmt.Errorf("webhook repository: has event %w", err)
	}
	return seen, nil
}

// RecordEvent фиксирует обработанное уведомление по (category, external id).
// Запись делается после применения перехода: уведомление без записи при
// повторной доставке обрабатывается заново. Возвращает false, если запись
// уже есть — конкурентная доставка успела первой, обработчики идемпотентны.
func (r *WebhookRepository) RecordEvent(ctx context.Context, category, externalID string, payload json.RawMessage) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, category, external_id, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), category, externalID, payload)
	if err != nil {
		if common.IsUniqueViolation(err, "") {
			return false, nil
		}
		return false, fmt.Errorf("webhook repository: record event %w", err)
	}
	return true, nil
}

// ConfirmSubscription отмечает топик уведомлений подтверждённым. Пока топик
// не подтверждён, уведомления из него не считаются доверенными.
func (r *WebhookRepository) ConfirmSubscription(ctx context.Context, topic string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (topic, confirmed, confirmed_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (topic) DO UPDATE SET confirmed = TRUE, confirmed_at = NOW()
	`, topic)
	if err != nil {
		return fmt.Errorf("webhook repository: confirm subscription %w", err)
	}
	return nil
}

// IsSubscriptionConfirmed проверяет, что топик прошёл подтверждение.
func (r *WebhookRepository) IsSubscriptionConfirmed(ctx context.Context, topic string) (bool, error) {
	var confirmed bool
	err := r.db.GetContext(ctx, &confirmed, `
		SELECT confirmed FROM webhook_subscriptions WHERE topic = $1
	`, topic)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("webhook repository: is subscription confirmed %w", err)
	}
	return confirmed, nil
}
