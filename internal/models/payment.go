package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы платежа.
const (
	PaymentStatusPending        = "pending"
	PaymentStatusActionRequired = "action_required"
	PaymentStatusConfirmed      = "confirmed"
	PaymentStatusPaid           = "paid"
	PaymentStatusFailed         = "failed"
	PaymentStatusCanceled       = "canceled"
)

// Типы платежа.
const (
	PaymentTypeCard       = "card"
	PaymentTypeStablecoin = "stablecoin"
)

// Методы верификации карты. При отказе процессора от выбранного метода
// платёж пересоздаётся с альтернативным.
const (
	VerificationMethodCVV = "cvv"
	VerificationMethod3DS = "three_d_secure"
)

// Назначение платежа.
const (
	PaymentItemPack    = "pack"
	PaymentItemListing = "listing"
	PaymentItemDeposit = "deposit"
)

// Payment описывает попытку пополнения кредитного баланса картой или
// стейблкоином. Primary и retry пары (idempotency key + payload) позволяют
// один раз пересдать платёж с другим методом верификации, не меняя
// видимый статус.
type Payment struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	PayerID             uuid.UUID       `db:"payer_id" json:"payer_id"`
	Type                string          `db:"type" json:"type"`
	Status              string          `db:"status" json:"status"`
	Amount              int64           `db:"amount" json:"amount"`
	Fees                int64           `db:"fees" json:"fees"`
	Total               int64           `db:"total" json:"total"`
	ItemType            string          `db:"item_type" json:"item_type"`
	ItemID              *uuid.UUID      `db:"item_id" json:"item_id,omitempty"`
	ExternalID          *string         `db:"external_id" json:"external_id,omitempty"`
	IdempotencyKey      uuid.UUID       `db:"idempotency_key" json:"-"`
	Payload             json.RawMessage `db:"payload" json:"-"`
	RetryIdempotencyKey *uuid.UUID      `db:"retry_idempotency_key" json:"-"`
	RetryPayload        json.RawMessage `db:"retry_payload" json:"-"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal сообщает, находится ли платёж в поглощающем статусе.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusFailed || p.Status == PaymentStatusCanceled
}

// IsFunded сообщает, подтверждены ли средства процессором.
func (p *Payment) IsFunded() bool {
	return p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusPaid
}

// Card — сохранённая карта пользователя у процессора.
type Card struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Last4      string    `db:"last4" json:"last4"`
	Network    string    `db:"network" json:"network"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
