package models

import (
	"time"

	"github.com/google/uuid"
)

// Collectible — уникальный экземпляр коллекционного актива, привязанный к
// токену в блокчейне. Владелец меняется только при сеттлменте продажи.
type Collectible struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OwnerID         uuid.UUID  `db:"owner_id" json:"owner_id"`
	TemplateID      uuid.UUID  `db:"template_id" json:"template_id"`
	AssetID         int64      `db:"asset_id" json:"asset_id"`
	SerialNumber    int        `db:"serial_number" json:"serial_number"`
	LastTransferTxID *string   `db:"last_transfer_tx_id" json:"last_transfer_tx_id,omitempty"`
	LastTransferAt  *time.Time `db:"last_transfer_at" json:"last_transfer_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// OwnershipRecord — строка истории владения, создаётся при каждом сеттлменте.
type OwnershipRecord struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	CollectibleID uuid.UUID  `db:"collectible_id" json:"collectible_id"`
	FromUserID    *uuid.UUID `db:"from_user_id" json:"from_user_id,omitempty"`
	ToUserID      uuid.UUID  `db:"to_user_id" json:"to_user_id"`
	ListingID     *uuid.UUID `db:"listing_id" json:"listing_id,omitempty"`
	Price         *int64     `db:"price" json:"price,omitempty"`
	ChainTxID     *string    `db:"chain_tx_id" json:"chain_tx_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Статусы пака.
const (
	PackStatusAvailable = "available"
	PackStatusReserved  = "reserved"
	PackStatusSold      = "sold"
)

// Pack — набор коллекционных предметов, продаваемый за кредиты.
// Reserved — временная бронь на время оплаты.
type Pack struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TemplateID uuid.UUID  `db:"template_id" json:"template_id"`
	OwnerID    *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`
	Price      int64      `db:"price" json:"price"`
	Status     string     `db:"status" json:"status"`
	ClaimedAt  *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
