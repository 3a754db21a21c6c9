package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы листинга.
const (
	ListingStatusActive              = "active"
	ListingStatusReserved            = "reserved"
	ListingStatusTransferringCredits = "transferring_credits"
	ListingStatusTransferringNFT     = "transferring_nft"
	ListingStatusSettled             = "settled"
	ListingStatusCanceled            = "canceled"
)

// ValidListingStatuses список валидных статусов листинга.
var ValidListingStatuses = map[string]struct{}{
	ListingStatusActive:              {},
	ListingStatusReserved:            {},
	ListingStatusTransferringCredits: {},
	ListingStatusTransferringNFT:     {},
	ListingStatusSettled:             {},
	ListingStatusCanceled:            {},
}

// Listing — предложение о продаже конкретного экземпляра коллекционного
// актива по фиксированной цене. Терминальные статусы (settled, canceled)
// сохраняются для истории, строки не удаляются.
type Listing struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CollectibleID uuid.UUID  `db:"collectible_id" json:"collectible_id"`
	SellerID      uuid.UUID  `db:"seller_id" json:"seller_id"`
	BuyerID       *uuid.UUID `db:"buyer_id" json:"buyer_id,omitempty"`
	Price         int64      `db:"price" json:"price"`
	Status        string     `db:"status" json:"status"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	ClaimedAt     *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	PurchasedAt   *time.Time `db:"purchased_at" json:"purchased_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal сообщает, завершён ли жизненный цикл листинга.
func (l *Listing) IsTerminal() bool {
	return l.Status == ListingStatusSettled || l.Status == ListingStatusCanceled
}

// IsExpired сообщает, истёк ли срок листинга. Истёкший листинг может быть
// возвращён в active любым участником, даже если был зарезервирован.
func (l *Listing) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
