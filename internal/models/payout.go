package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы выплаты. Повторяют внешний жизненный цикл у процессора.
const (
	PayoutStatusPending  = "pending"
	PayoutStatusComplete = "complete"
	PayoutStatusFailed   = "failed"
	PayoutStatusReturned = "returned"
)

// Типы выплаты.
const (
	PayoutTypeWire   = "wire"
	PayoutTypeCrypto = "crypto"
)

// Payout описывает вывод средств: банковским переводом (wire) или на
// блокчейн-адрес (crypto). После отправки во внешнюю систему выплату может
// завершить только её собственное уведомление об ошибке или возврате.
type Payout struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	UserID             uuid.UUID       `db:"user_id" json:"user_id"`
	Type               string          `db:"type" json:"type"`
	Status             string          `db:"status" json:"status"`
	Amount             int64           `db:"amount" json:"amount"`
	Fee                int64           `db:"fee" json:"fee"`
	DestinationAddress *string         `db:"destination_address" json:"destination_address,omitempty"`
	BankAccountID      *uuid.UUID      `db:"bank_account_id" json:"bank_account_id,omitempty"`
	ExternalID         *string         `db:"external_id" json:"external_id,omitempty"`
	IdempotencyKey     uuid.UUID       `db:"idempotency_key" json:"-"`
	Payload            json.RawMessage `db:"payload" json:"-"`
	ReturnedAmount     *int64          `db:"returned_amount" json:"returned_amount,omitempty"`
	FailureReason      *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal сообщает, завершена ли выплата.
func (p *Payout) IsTerminal() bool {
	return p.Status == PayoutStatusComplete || p.Status == PayoutStatusFailed || p.Status == PayoutStatusReturned
}

// BankAccount — банковский счёт пользователя, заведённый у процессора.
type BankAccount struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	ExternalID  string    `db:"external_id" json:"external_id"`
	Description string    `db:"description" json:"description"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
