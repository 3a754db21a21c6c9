package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы перевода в леджере.
const (
	TransferStatusPending  = "pending"
	TransferStatusComplete = "complete"
	TransferStatusFailed   = "failed"
)

// Типы бизнес-событий, к которым привязан перевод.
const (
	TransferEntityPayment      = "payment"
	TransferEntityPayout       = "payout"
	TransferEntityPackPurchase = "pack_purchase"
	TransferEntityListingSale  = "listing_sale"
	// Возврат средств по проваленной или частично возвращённой выплате.
	// Отдельный тип нужен, чтобы кредит не столкнулся с завершённым дебетом
	// по той же выплате в уникальном ограничении леджера.
	TransferEntityPayoutRefund = "payout_refund"
)

// Transfer — запись леджера: кредит (amount > 0) или дебет (amount < 0)
// баланса пользователя, привязанный к бизнес-событию (entity_type, entity_id).
// Инвариант: на одну тройку (entity_type, entity_id, user_account_id)
// одновременно существует не более одного перевода вне статуса failed.
type Transfer struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserAccountID uuid.UUID       `db:"user_account_id" json:"user_account_id"`
	Amount        int64           `db:"amount" json:"amount"`
	EntityType    string          `db:"entity_type" json:"entity_type"`
	EntityID      uuid.UUID       `db:"entity_id" json:"entity_id"`
	Status        string          `db:"status" json:"status"`
	ExternalID    *string         `db:"external_id" json:"external_id,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsDebit сообщает, списывает ли перевод средства.
func (t *Transfer) IsDebit() bool {
	return t.Amount < 0
}

// HasPayload сообщает, был ли зафиксирован запрос во внешнюю систему.
// После этого перевод считается «в полёте» и локально проваливать его нельзя.
func (t *Transfer) HasPayload() bool {
	return len(t.Payload) > 0
}
