package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

// ErrCollectibleNotFound возвращается, когда актив не найден.
var ErrCollectibleNotFound = errors.New("collectible not found")

// ErrPackNotFound возвращается, когда пак не найден.
var ErrPackNotFound = errors.New("pack not found")

// ErrPackUnavailable возвращается, когда пак забрал другой покупатель.
var ErrPackUnavailable = errors.New("pack no longer available")

// CollectibleRepository отвечает за активы, паки и историю владения.
type CollectibleRepository struct {
	db *sqlx.DB
}

// NewCollectibleRepository создаёт экземпляр репозитория.
func NewCollectibleRepository(db *sqlx.DB) *CollectibleRepository {
	return &CollectibleRepository{db: db}
}

// GetByID возвращает актив по идентификатору.
func (r *CollectibleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Collectible, error) {
	return common.GetByID[models.Collectible](ctx, r.db, "collectibles", id, ErrCollectibleNotFound)
}

// ListByOwner возвращает активы пользователя.
func (r *CollectibleRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Collectible, error) {
	var items []models.Collectible
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM collectibles WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	return items, err
}

// OwnershipHistory возвращает историю владения активом.
func (r *CollectibleRepository) OwnershipHistory(ctx context.Context, collectibleID uuid.UUID) ([]models.OwnershipRecord, error) {
	var records []models.OwnershipRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM ownership_records WHERE collectible_id = $1 ORDER BY created_at DESC
	`, collectibleID)
	return records, err
}

// GetPack возвращает пак по идентификатору.
func (r *CollectibleRepository) GetPack(ctx context.Context, id uuid.UUID) (*models.Pack, error) {
	return common.GetByID[models.Pack](ctx, r.db, "packs", id, ErrPackNotFound)
}

// ReservePack резервирует пак за покупателем: available -> reserved.
func (r *CollectibleRepository) ReservePack(ctx context.Context, id, buyerID uuid.UUID) (*models.Pack, error) {
	var pack models.Pack
	err := r.db.GetContext(ctx, &pack, `
		UPDATE packs SET status = 'reserved', owner_id = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'available'
		RETURNING *
	`, id, buyerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Повтор того же покупателя после падения — успех.
			pack, rerr := r.GetPack(ctx, id)
			if rerr != nil {
				return nil, rerr
			}
			if pack.Status == models.PackStatusReserved && pack.OwnerID != nil && *pack.OwnerID == buyerID {
				return pack, nil
			}
			return nil, ErrPackUnavailable
		}
		return nil, fmt.Errorf("collectible repository: reserve pack %w", err)
	}
	return &pack, nil
}

// UnreservePack возвращает пак в продажу: reserved -> available. Компенсация,
// когда оплата так и не была поставлена в очередь.
func (r *CollectibleRepository) UnreservePack(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE packs SET status = 'available', owner_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'reserved'
	`, id)
	if err != nil {
		return fmt.Errorf("collectible repository: unreserve pack %w", err)
	}
	return nil
}

// MarkPackSold закрывает продажу пака: reserved -> sold.
func (r *CollectibleRepository) MarkPackSold(ctx context.Context, id uuid.UUID) (*models.Pack, error) {
	var pack models.Pack
	err := r.db.GetContext(ctx, &pack, `
		UPDATE packs SET status = 'sold', updated_at = NOW()
		WHERE id = $1 AND status = 'reserved'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			pack, rerr := r.GetPack(ctx, id)
			if rerr != nil {
				return nil, rerr
			}
			if pack.Status == models.PackStatusSold {
				return pack, nil
			}
			return nil, ErrPackUnavailable
		}
		return nil, fmt.Errorf("collectible repository: mark pack sold %w", err)
	}
	return &pack, nil
}
