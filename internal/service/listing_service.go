package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/collectibles-backend/internal/chain"
	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

// listingStore — машина состояний листинга.
type listingStore interface {
	Create(ctx context.Context, collectibleID, sellerID uuid.UUID, price int64, expiresAt *time.Time, cooldown time.Duration) (*models.Listing, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error)
	Reserve(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error)
	Unreserve(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListExpiredReserved(ctx context.Context, limit int) ([]models.Listing, error)
	ListStalledTransfers(ctx context.Context, olderThan time.Duration, limit int) ([]models.Listing, error)
	ReclaimExpired(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Cancel(ctx context.Context, id, sellerID uuid.UUID) (*models.Listing, error)
	BeginCreditTransfer(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error)
	BeginNFTTransfer(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	RollbackToCreditTransfer(ctx context.Context, id uuid.UUID) error
	Settle(ctx context.Context, id uuid.UUID, chainTxID *string) (*models.Listing, error)
}

// collectibleStore — активы, паки и история владения.
type collectibleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Collectible, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Collectible, error)
	OwnershipHistory(ctx context.Context, collectibleID uuid.UUID) ([]models.OwnershipRecord, error)
	GetPack(ctx context.Context, id uuid.UUID) (*models.Pack, error)
	ReservePack(ctx context.Context, id, buyerID uuid.UUID) (*models.Pack, error)
	UnreservePack(ctx context.Context, id uuid.UUID) error
	MarkPackSold(ctx context.Context, id uuid.UUID) (*models.Pack, error)
}

// chainGateway — операции с блокчейн-нодой для передачи актива.
type chainGateway interface {
	GetAssetOwner(ctx context.Context, assetID int64) (string, error)
	GenerateTradeTransactions(ctx context.Context, assetID int64, sellerAddr, buyerAddr string) (*chain.TradeGroup, error)
	SubmitTransaction(ctx context.Context, group *chain.TradeGroup) (string, error)
	WaitForConfirmation(ctx context.Context, txID string) error
	DecodeSignedTransaction(ctx context.Context, signed *chain.SignedTransaction) (*chain.DecodedTransaction, error)
}

// creditLedger — движения кредитов, нужные оркестраторам.
type creditLedger interface {
	AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error)
	CreditPending(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error)
	CompleteTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	FailTransfer(ctx context.Context, id uuid.UUID) error
}

// jobEnqueuer ставит фоновую задачу.
type jobEnqueuer interface {
	EnqueueDefault(ctx context.Context, name string, payload any) (uuid.UUID, error)
}

// notifier доставляет событие пользователю.
type notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]any) error
}

// tradeListingPayload — аргументы фоновой задачи передачи актива.
type tradeListingPayload struct {
	ListingID uuid.UUID `json:"listing_id"`
}

// ListingService — вторичный рынок: выставление, покупка и сеттлмент
// листингов. Денежная часть проходит синхронно в Purchase, он-чейн часть —
// в фоновой задаче HandleTrade.
type ListingService struct {
	listings     listingStore
	collectibles collectibleStore
	users        userStore
	ledger       creditLedger
	chain        chainGateway
	queue        jobEnqueuer
	notifier     notifier

	cooldown time.Duration
	ttl      time.Duration
	log      *logrus.Entry
}

// NewListingService создаёт сервис вторичного рынка.
func NewListingService(
	listings listingStore,
	collectibles collectibleStore,
	users userStore,
	ledger creditLedger,
	chainClient chainGateway,
	queue jobEnqueuer,
	notifier notifier,
	cooldown, ttl time.Duration,
) *ListingService {
	return &ListingService{
		listings:     listings,
		collectibles: collectibles,
		users:        users,
		ledger:       ledger,
		chain:        chainClient,
		queue:        queue,
		notifier:     notifier,
		cooldown:     cooldown,
		ttl:          ttl,
		log:          logger.WithComponent("listings"),
	}
}

// Create выставляет актив на продажу. Актив должен принадлежать продавцу,
// не иметь другого открытого листинга, а последний он-чейн перевод — отлежать
// cooldown.
func (s *ListingService) Create(ctx context.Context, sellerID, collectibleID uuid.UUID, price int64) (*models.Listing, error) {
	if price <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена должна быть положительной")
	}
	var expiresAt *time.Time
	if s.ttl > 0 {
		t := time.Now().Add(s.ttl)
		expiresAt = &t
	}
	listing, err := s.listings.Create(ctx, collectibleID, sellerID, price, expiresAt, s.cooldown)
	if err != nil {
		if errors.Is(err, repository.ErrCollectibleNotTradable) {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "актив сейчас нельзя выставить на продажу")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create listing")
	}
	return listing, nil
}

// Get возвращает листинг.
func (s *ListingService) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			return nil, apperror.ErrListingNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get listing")
	}
	return listing, nil
}

// ListActive возвращает открытые листинги.
func (s *ListingService) ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	listings, err := s.listings.ListActive(ctx, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list active")
	}
	return listings, nil
}

// Cancel снимает листинг с продажи. Допускается только из active: резерв и
// дальнейшие статусы принадлежат покупателю.
func (s *ListingService) Cancel(ctx context.Context, sellerID, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.listings.Cancel(ctx, id, sellerID)
	if err != nil {
		return nil, mapListingErr(err)
	}
	return listing, nil
}

// Purchase покупает листинг за кредиты. Синхронная часть: резерв, списание с
// покупателя, пометка движения кредитов и постановка фоновой задачи передачи
// актива. Покупатель получает ответ, не дожидаясь блокчейна.
func (s *ListingService) Purchase(ctx context.Context, buyerID, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя купить собственный листинг")
	}
	if listing.IsExpired(time.Now()) && listing.Status == models.ListingStatusActive {
		return nil, apperror.ErrListingUnavailable
	}

	// Быстрая проверка до резерва. Авторитетная проверка случится при
	// завершении дебета, под защитой баланса.
	available, err := s.ledger.AvailableBalance(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if available < listing.Price {
		return nil, apperror.ErrInsufficientFunds
	}

	listing, err = s.listings.Reserve(ctx, id, buyerID)
	if err != nil {
		return nil, mapListingErr(err)
	}

	if _, err := s.ledger.Debit(ctx, buyerID, listing.Price, models.TransferEntityListingSale, listing.ID); err != nil {
		// Деньги не списались, резерв возвращаем.
		if _, uerr := s.listings.Unreserve(ctx, listing.ID); uerr != nil {
			s.log.WithError(uerr).WithField("listing_id", listing.ID).Error("failed to unreserve after debit failure")
		}
		return nil, err
	}

	listing, err = s.listings.BeginCreditTransfer(ctx, id, buyerID)
	if err != nil {
		return nil, mapListingErr(err)
	}
	if _, err := s.ledger.CreditPending(ctx, listing.SellerID, listing.Price, models.TransferEntityListingSale, listing.ID); err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueDefault(ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: listing.ID}); err != nil {
		// Дебет уже зафиксирован и не откатывается: сделку доведёт обход
		// зависших передач.
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "enqueue trade")
	}
	return listing, nil
}

// HandleTrade — фоновая часть покупки: довершает движение кредитов и
// передаёт актив он-чейн. Каждый шаг идемпотентен, задача может выполняться
// повторно после любого падения.
func (s *ListingService) HandleTrade(ctx context.Context, listingID uuid.UUID) error {
	listing, err := s.Get(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Status == models.ListingStatusSettled {
		return nil
	}
	if listing.BuyerID == nil {
		return apperror.New(apperror.ErrCodeInvalidState, "листинг без покупателя")
	}
	buyerID := *listing.BuyerID

	// Кредитная часть: дебет покупателя мог остаться незавершённым после
	// падения, кредит продавца завершается здесь.
	if _, err := s.ledger.Debit(ctx, buyerID, listing.Price, models.TransferEntityListingSale, listing.ID); err != nil {
		return err
	}
	sellerCredit, err := s.ledger.CreditPending(ctx, listing.SellerID, listing.Price, models.TransferEntityListingSale, listing.ID)
	if err != nil {
		return err
	}
	if _, err := s.ledger.CompleteTransfer(ctx, sellerCredit.ID); err != nil {
		return err
	}

	listing, err = s.listings.BeginNFTTransfer(ctx, listing.ID)
	if err != nil {
		return mapListingErr(err)
	}
	if listing.Status == models.ListingStatusSettled {
		return nil
	}

	txID, err := s.transferOnChain(ctx, listing, buyerID)
	if err != nil {
		// Кредиты уже переведены и не откатываются: возвращаемся на шаг
		// назад, ретрай продолжит с передачи актива.
		if rerr := s.listings.RollbackToCreditTransfer(ctx, listing.ID); rerr != nil {
			s.log.WithError(rerr).WithField("listing_id", listing.ID).Error("rollback to credit transfer failed")
		}
		return err
	}

	listing, err = s.listings.Settle(ctx, listing.ID, txID)
	if err != nil {
		return mapListingErr(err)
	}

	data := map[string]any{"listing_id": listing.ID, "price": listing.Price}
	if err := s.notifier.Notify(ctx, listing.SellerID, models.NotificationEventListingSettled, data); err != nil {
		s.log.WithError(err).Warn("seller notification failed")
	}
	if err := s.notifier.Notify(ctx, buyerID, models.NotificationEventListingSettled, data); err != nil {
		s.log.WithError(err).Warn("buyer notification failed")
	}
	return nil
}

// transferOnChain передаёт актив покупателю и возвращает id транзакции.
// Если актив уже у покупателя (повтор после подтверждённой группы), передача
// пропускается.
func (s *ListingService) transferOnChain(ctx context.Context, listing *models.Listing, buyerID uuid.UUID) (*string, error) {
	collectible, err := s.collectibles.GetByID(ctx, listing.CollectibleID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get collectible")
	}
	seller, err := s.users.GetByID(ctx, listing.SellerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get seller")
	}
	buyer, err := s.users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get buyer")
	}
	if seller.DepositAddress == nil || buyer.DepositAddress == nil {
		return nil, apperror.New(apperror.ErrCodeRecoverable, "кошелёк участника ещё не выдан")
	}

	owner, err := s.chain.GetAssetOwner(ctx, collectible.AssetID)
	if err != nil {
		return nil, err
	}
	if owner == *buyer.DepositAddress {
		return collectible.LastTransferTxID, nil
	}

	group, err := s.chain.GenerateTradeTransactions(ctx, collectible.AssetID, *seller.DepositAddress, *buyer.DepositAddress)
	if err != nil {
		return nil, err
	}
	txID, err := s.chain.SubmitTransaction(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := s.chain.WaitForConfirmation(ctx, txID); err != nil {
		return nil, err
	}
	return &txID, nil
}

// ReclaimExpired возвращает в продажу просроченные неоплаченные резервы.
// Вызывается фоновой задачей по расписанию.
func (s *ListingService) ReclaimExpired(ctx context.Context) error {
	expired, err := s.listings.ListExpiredReserved(ctx, 100)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "list expired")
	}
	for _, listing := range expired {
		if _, err := s.listings.ReclaimExpired(ctx, listing.ID); err != nil {
			if errors.Is(err, repository.ErrListingUnavailable) {
				continue
			}
			s.log.WithError(err).WithField("listing_id", listing.ID).Error("reclaim failed")
		}
	}
	return nil
}

// RequeueStalledTrades заново ставит фоновую задачу по покупкам, застрявшим
// после зафиксированного дебета без живой задачи в очереди: повтор Purchase
// такой листинг уже не принимает, довести сделку может только HandleTrade.
// Вызывается фоновой задачей по расписанию.
func (s *ListingService) RequeueStalledTrades(ctx context.Context, olderThan time.Duration) error {
	stalled, err := s.listings.ListStalledTransfers(ctx, olderThan, 100)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "list stalled transfers")
	}
	for _, listing := range stalled {
		if _, err := s.queue.EnqueueDefault(ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: listing.ID}); err != nil {
			s.log.WithError(err).WithField("listing_id", listing.ID).Error("requeue trade failed")
			continue
		}
		s.log.WithField("listing_id", listing.ID).Warn("stalled trade requeued")
	}
	return nil
}

// Collectibles возвращает активы пользователя.
func (s *ListingService) Collectibles(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]models.Collectible, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	items, err := s.collectibles.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list collectibles")
	}
	return items, nil
}

// OwnershipHistory возвращает историю владения активом.
func (s *ListingService) OwnershipHistory(ctx context.Context, collectibleID uuid.UUID) ([]models.OwnershipRecord, error) {
	if _, err := s.collectibles.GetByID(ctx, collectibleID); err != nil {
		return nil, apperror.ErrCollectibleNotFound
	}
	records, err := s.collectibles.OwnershipHistory(ctx, collectibleID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "ownership history")
	}
	return records, nil
}

// mapListingErr переводит ошибки репозитория в прикладные.
func mapListingErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrListingNotFound):
		return apperror.ErrListingNotFound
	case errors.Is(err, repository.ErrListingUnavailable):
		return apperror.ErrListingUnavailable
	}
	return apperror.Wrap(err, apperror.ErrCodeInternal, "listing transition")
}
