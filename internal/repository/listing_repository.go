package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/repository/common"
)

var (
	// ErrListingNotFound возвращается, когда листинг не найден.
	ErrListingNotFound = errors.New("listing not found")
	// ErrListingUnavailable возвращается, когда условный переход не прошёл:
	// листинг забрал другой покупатель или он уже закрыт.
	ErrListingUnavailable = errors.New("listing no longer available")
	// ErrCollectibleNotTradable возвращается, когда актив нельзя выставить:
	// по нему уже есть открытый листинг либо последний он-чейн перевод ещё
	// не подтверждён или слишком свежий.
	ErrCollectibleNotTradable = errors.New("collectible is not tradable")
)

// Частичный уникальный индекс: не более одного открытого листинга на актив.
const uxListingsOpenCollectible = "ux_listings_open_collectible"

// ListingRepository реализует машину состояний листинга. Каждый переход —
// условный UPDATE по ожидаемому статусу: проигравший конкурент получает ноль
// строк и либо ErrListingUnavailable, либо no-op, если цель уже достигнута.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository создаёт экземпляр репозитория.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// Create выставляет актив на продажу. Подзапрос гарантирует, что по активу
// нет другого открытого листинга, продавец владеет активом, а последний
// он-чейн перевод подтверждён и старше cooldown. Частичный уникальный индекс
// страхует подзапрос от гонки двух одновременных вставок.
func (r *ListingRepository) Create(ctx context.Context, collectibleID, sellerID uuid.UUID, price int64, expiresAt *time.Time, cooldown time.Duration) (*models.Listing, error) {
	var listing models.Listing
	query := `
		INSERT INTO listings (id, collectible_id, seller_id, price, status, expires_at)
		SELECT $1, c.id, $3, $4, 'active', $5
		FROM collectibles c
		WHERE c.id = $2
		  AND c.owner_id = $3
		  AND NOT EXISTS (
			SELECT 1 FROM listings l
			WHERE l.collectible_id = c.id AND l.status NOT IN ('settled', 'canceled')
		  )
		  AND (c.last_transfer_at IS NULL OR c.last_transfer_at <= NOW() - $6::interval)
		RETURNING *
	`
	err := r.db.GetContext(ctx, &listing, query,
		uuid.New(), collectibleID, sellerID, price, expiresAt, cooldown.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || common.IsUniqueViolation(err, uxListingsOpenCollectible) {
			return nil, ErrCollectibleNotTradable
		}
		return nil, fmt.Errorf("listing repository: create %w", err)
	}
	return &listing, nil
}

// GetByID возвращает листинг по идентификатору.
func (r *ListingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return common.GetByID[models.Listing](ctx, r.db, "listings", id, ErrListingNotFound)
}

// ListActive возвращает открытые листинги.
func (r *ListingRepository) ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	var listings []models.Listing
	err := r.db.SelectContext(ctx, &listings, `
		SELECT * FROM listings WHERE status = 'active' ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	return listings, err
}

// Reserve резервирует листинг за покупателем: active -> reserved.
func (r *ListingRepository) Reserve(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'reserved', buyer_id = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING *
	`, id, buyerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Повторный вызов тем же покупателем безопасен, чужой резерв — нет.
			return r.recheck(ctx, id, func(l *models.Listing) bool {
				return l.Status == models.ListingStatusReserved && l.BuyerID != nil && *l.BuyerID == buyerID
			})
		}
		return nil, fmt.Errorf("listing repository: reserve %w", err)
	}
	return &listing, nil
}

// Unreserve возвращает листинг в продажу: reserved -> active. Компенсация
// резерва, когда оплата так и не стартовала.
func (r *ListingRepository) Unreserve(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'active', buyer_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'reserved'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, func(l *models.Listing) bool {
				return l.Status == models.ListingStatusActive
			})
		}
		return nil, fmt.Errorf("listing repository: unreserve %w", err)
	}
	return &listing, nil
}

// ListExpiredReserved возвращает просроченные резервы, по которым покупатель
// так и не заплатил: ни одного не-failed перевода по листингу нет. Резервы с
// зафиксированным дебетом не трогаем, их доведёт до конца фоновая задача.
func (r *ListingRepository) ListExpiredReserved(ctx context.Context, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	err := r.db.SelectContext(ctx, &listings, `
		SELECT * FROM listings l
		WHERE l.status = 'reserved' AND l.expires_at IS NOT NULL AND l.expires_at < NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM transfers t
			WHERE t.entity_type = 'listing_sale' AND t.entity_id = l.id AND t.status <> 'failed'
		  )
		ORDER BY l.expires_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing repository: list expired reserved %w", err)
	}
	return listings, nil
}

// ListStalledTransfers возвращает покупки, зависшие в переводе кредитов или
// актива дольше olderThan и не имеющие живой фоновой задачи: дебет покупателя
// зафиксирован, но довести сделку некому.
func (r *ListingRepository) ListStalledTransfers(ctx context.Context, olderThan time.Duration, limit int) ([]models.Listing, error) {
	var listings []models.Listing
	err := r.db.SelectContext(ctx, &listings, `
		SELECT * FROM listings l
		WHERE l.status IN ('transferring_credits', 'transferring_nft')
		  AND l.updated_at < NOW() - $1::interval
		  AND NOT EXISTS (
			SELECT 1 FROM jobs j
			WHERE j.name = 'trade_listing' AND j.status IN ('queued', 'running')
			  AND (j.payload->>'listing_id')::uuid = l.id
		  )
		ORDER BY l.updated_at
		LIMIT $2
	`, olderThan.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing repository: list stalled transfers %w", err)
	}
	return listings, nil
}

// ReclaimExpired возвращает просроченный резерв в продажу независимо от того,
// кто его держал.
func (r *ListingRepository) ReclaimExpired(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'active', buyer_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'reserved' AND expires_at IS NOT NULL AND expires_at < NOW()
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrListingUnavailable
		}
		return nil, fmt.Errorf("listing repository: reclaim expired %w", err)
	}
	return &listing, nil
}

// Cancel снимает листинг с продажи: active -> canceled.
func (r *ListingRepository) Cancel(ctx context.Context, id, sellerID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'canceled', updated_at = NOW()
		WHERE id = $1 AND seller_id = $2 AND status = 'active'
		RETURNING *
	`, id, sellerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, func(l *models.Listing) bool {
				return l.Status == models.ListingStatusCanceled && l.SellerID == sellerID
			})
		}
		return nil, fmt.Errorf("listing repository: cancel %w", err)
	}
	return &listing, nil
}

// BeginCreditTransfer отмечает начало движения кредитов:
// reserved -> transferring_credits. Проверка buyer_id отсекает чужой резерв.
func (r *ListingRepository) BeginCreditTransfer(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'transferring_credits', purchased_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND buyer_id = $2 AND status = 'reserved'
		RETURNING *
	`, id, buyerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.recheck(ctx, id, func(l *models.Listing) bool {
				return l.Status == models.ListingStatusTransferringCredits && l.BuyerID != nil && *l.BuyerID == buyerID
			})
		}
		return nil, fmt.Errorf("listing repository: begin credit transfer %w", err)
	}
	return &listing, nil
}

// BeginNFTTransfer отмечает начало он-чейн перевода:
// transferring_credits -> transferring_nft.
func (r *ListingRepository) BeginNFTTransfer(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, `
		UPDATE listings SET status = 'transferring_nft', updated_at = NOW()
		WHERE id = $1 AND status = 'transferring_credits'
		RETURNING *
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Ретрай после падения между переходом и сеттлментом продолжает
			// с transferring_nft; уже закрытый листинг отдаём как есть.
			return r.recheck(ctx, id, func(l *models.Listing) bool {
				return l.Status == models.ListingStatusTransferringNFT || l.Status == models.ListingStatusSettled
			})
		}
		return nil, fmt.Errorf("listing repository: begin nft transfer %w", err)
	}
	return &listing, nil
}

// RollbackToCreditTransfer откатывает неудавшийся он-чейн шаг к состоянию
// «кредиты переведены», чтобы ретрай продолжил с него. Полный откат невозможен:
// перевод кредитов уже зафиксирован и не должен потеряться.
func (r *ListingRepository) RollbackToCreditTransfer(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE listings SET status = 'transferring_credits', updated_at = NOW()
		WHERE id = $1 AND status = 'transferring_nft'
	`, id)
	if err != nil {
		return fmt.Errorf("listing repository: rollback to credit transfer %w", err)
	}
	return nil
}

// Settle завершает продажу в одной транзакции: transferring_nft -> settled,
// смена владельца актива и строка истории владения.
func (r *ListingRepository) Settle(ctx context.Context, id uuid.UUID, chainTxID *string) (*models.Listing, error) {
	var listing models.Listing
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &listing, `
			UPDATE listings SET status = 'settled', updated_at = NOW()
			WHERE id = $1 AND status = 'transferring_nft'
			RETURNING *
		`, id)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("listing repository: settle %w", err)
			}
			if err := tx.GetContext(ctx, &listing, `SELECT * FROM listings WHERE id = $1`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrListingNotFound
				}
				return fmt.Errorf("listing repository: settle recheck %w", err)
			}
			if listing.Status == models.ListingStatusSettled {
				return nil
			}
			return ErrListingUnavailable
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE collectibles
			SET owner_id = $2, last_transfer_tx_id = $3, last_transfer_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, listing.CollectibleID, listing.BuyerID, chainTxID); err != nil {
			return fmt.Errorf("listing repository: settle owner %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ownership_records (id, collectible_id, from_user_id, to_user_id, listing_id, price, chain_tx_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), listing.CollectibleID, listing.SellerID, listing.BuyerID, listing.ID, listing.Price, chainTxID); err != nil {
			return fmt.Errorf("listing repository: settle history %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// recheck перечитывает листинг после нулевого условного UPDATE. Если ok
// признаёт состояние идемпотентным повтором, возвращаем строку как успех;
// иначе листинг забрал кто-то другой.
func (r *ListingRepository) recheck(ctx context.Context, id uuid.UUID, ok func(*models.Listing) bool) (*models.Listing, error) {
	listing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok(listing) {
		return listing, nil
	}
	return nil, ErrListingUnavailable
}
