package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы проверки личности (KYC).
const (
	VerificationStatusNone     = "none"
	VerificationStatusPending  = "pending"
	VerificationStatusApproved = "approved"
	VerificationStatusRejected = "rejected"
)

// UserAccount описывает аккаунт пользователя маркетплейса.
// Balance — кэшированная сумма завершённых переводов в минорных единицах
// валюты (центах). Поле меняется только при завершении перевода; оркестраторы
// его напрямую не пишут.
type UserAccount struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Email              string     `db:"email" json:"email"`
	Username           string     `db:"username" json:"username"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	Balance            int64      `db:"balance" json:"balance"`
	VerificationStatus string     `db:"verification_status" json:"verification_status"`
	WalletID           *string    `db:"wallet_id" json:"wallet_id,omitempty"`
	DepositAddress     *string    `db:"deposit_address" json:"deposit_address,omitempty"`
	LastLoginAt        *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsVerified сообщает, прошёл ли пользователь проверку личности.
func (u *UserAccount) IsVerified() bool {
	return u.VerificationStatus == VerificationStatusApproved
}

// VerificationDocument — загруженный документ проверки личности.
type VerificationDocument struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	DocType   string    `db:"doc_type" json:"doc_type"`
	FilePath  string    `db:"file_path" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Session представляет сохранённую сессию пользователя.
type Session struct {
	ID           uuid.UUID `db:"id" json:"id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	RefreshToken string    `db:"refresh_token" json:"refresh_token"`
	UserAgent    *string   `db:"user_agent" json:"user_agent,omitempty"`
	IPAddress    *string   `db:"ip_address" json:"ip_address,omitempty"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
