package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/collectibles-backend/internal/chain"
	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

type mockListingStore struct {
	mock.Mock
}

func (m *mockListingStore) Create(ctx context.Context, collectibleID, sellerID uuid.UUID, price int64, expiresAt *time.Time, cooldown time.Duration) (*models.Listing, error) {
	args := m.Called(ctx, collectibleID, sellerID, price, expiresAt, cooldown)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *mockListingStore) Reserve(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) Unreserve(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) ListExpiredReserved(ctx context.Context, limit int) ([]models.Listing, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *mockListingStore) ListStalledTransfers(ctx context.Context, olderThan time.Duration, limit int) ([]models.Listing, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *mockListingStore) ReclaimExpired(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) Cancel(ctx context.Context, id, sellerID uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) BeginCreditTransfer(ctx context.Context, id, buyerID uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) BeginNFTTransfer(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *mockListingStore) RollbackToCreditTransfer(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockListingStore) Settle(ctx context.Context, id uuid.UUID, chainTxID *string) (*models.Listing, error) {
	args := m.Called(ctx, id, chainTxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

type listingFixture struct {
	listings     *mockListingStore
	collectibles *mockCollectibleStore
	users        *mockUserStore
	ledger       *mockCreditLedger
	chain        *mockChainGateway
	queue        *mockJobQueue
	notifier     *mockNotifier
	svc          *ListingService
}

func newListingFixture() *listingFixture {
	f := &listingFixture{
		listings:     new(mockListingStore),
		collectibles: new(mockCollectibleStore),
		users:        new(mockUserStore),
		ledger:       new(mockCreditLedger),
		chain:        new(mockChainGateway),
		queue:        new(mockJobQueue),
		notifier:     new(mockNotifier),
	}
	f.svc = NewListingService(f.listings, f.collectibles, f.users, f.ledger, f.chain, f.queue, f.notifier, time.Hour, 24*time.Hour)
	return f
}

func TestListingService_Create_NonPositivePrice(t *testing.T) {
	f := newListingFixture()

	_, err := f.svc.Create(context.Background(), uuid.New(), uuid.New(), 0)
	assert.Error(t, err)
	f.listings.AssertNotCalled(t, "Create")
}

func TestListingService_Create_CooldownRejected(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	sellerID := uuid.New()
	collectibleID := uuid.New()

	f.listings.On("Create", ctx, collectibleID, sellerID, int64(1000), mock.Anything, time.Hour).
		Return(nil, repository.ErrCollectibleNotTradable)

	_, err := f.svc.Create(ctx, sellerID, collectibleID, 1000)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestListingService_Purchase_HappyPath(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	sellerID := uuid.New()
	listingID := uuid.New()

	active := &models.Listing{ID: listingID, SellerID: sellerID, Price: 1000, Status: models.ListingStatusActive}
	reserved := &models.Listing{ID: listingID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusReserved}
	transferring := &models.Listing{ID: listingID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringCredits}

	f.listings.On("GetByID", ctx, listingID).Return(active, nil)
	f.ledger.On("AvailableBalance", ctx, buyerID).Return(int64(5000), nil)
	f.listings.On("Reserve", ctx, listingID, buyerID).Return(reserved, nil)
	f.ledger.On("Debit", ctx, buyerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	f.listings.On("BeginCreditTransfer", ctx, listingID, buyerID).Return(transferring, nil)
	f.ledger.On("CreditPending", ctx, sellerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{ID: uuid.New(), Status: models.TransferStatusPending}, nil)
	f.queue.On("EnqueueDefault", ctx, jobs.JobTradeListing, mock.Anything).Return(uuid.New(), nil)

	listing, err := f.svc.Purchase(ctx, buyerID, listingID)
	assert.NoError(t, err)
	assert.Equal(t, models.ListingStatusTransferringCredits, listing.Status)
	f.ledger.AssertExpectations(t)
	f.queue.AssertExpectations(t)
}

func TestListingService_Purchase_OwnListing(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	sellerID := uuid.New()
	listingID := uuid.New()

	f.listings.On("GetByID", ctx, listingID).Return(&models.Listing{ID: listingID, SellerID: sellerID, Status: models.ListingStatusActive}, nil)

	_, err := f.svc.Purchase(ctx, sellerID, listingID)
	assert.Error(t, err)
	f.listings.AssertNotCalled(t, "Reserve")
}

func TestListingService_Purchase_InsufficientBalance(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	listingID := uuid.New()

	f.listings.On("GetByID", ctx, listingID).Return(&models.Listing{ID: listingID, SellerID: uuid.New(), Price: 1000, Status: models.ListingStatusActive}, nil)
	f.ledger.On("AvailableBalance", ctx, buyerID).Return(int64(500), nil)

	_, err := f.svc.Purchase(ctx, buyerID, listingID)
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	f.listings.AssertNotCalled(t, "Reserve")
}

func TestListingService_Purchase_CanceledListing(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	listingID := uuid.New()

	canceled := &models.Listing{ID: listingID, SellerID: uuid.New(), Price: 1000, Status: models.ListingStatusCanceled}

	f.listings.On("GetByID", ctx, listingID).Return(canceled, nil)
	f.ledger.On("AvailableBalance", ctx, buyerID).Return(int64(5000), nil)
	// Условный UPDATE не трогает снятый листинг, он остаётся canceled.
	f.listings.On("Reserve", ctx, listingID, buyerID).Return(nil, repository.ErrListingUnavailable)

	_, err := f.svc.Purchase(ctx, buyerID, listingID)
	assert.ErrorIs(t, err, apperror.ErrListingUnavailable)
	f.ledger.AssertNotCalled(t, "Debit")
	f.listings.AssertNotCalled(t, "Unreserve")
	f.listings.AssertNotCalled(t, "BeginCreditTransfer")
}

func TestListingService_Purchase_Expired(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	listingID := uuid.New()
	past := time.Now().Add(-time.Minute)

	f.listings.On("GetByID", ctx, listingID).Return(&models.Listing{ID: listingID, SellerID: uuid.New(), Price: 1000, Status: models.ListingStatusActive, ExpiresAt: &past}, nil)

	_, err := f.svc.Purchase(ctx, uuid.New(), listingID)
	assert.ErrorIs(t, err, apperror.ErrListingUnavailable)
}

func TestListingService_Purchase_DebitFailureUnreserves(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	sellerID := uuid.New()
	listingID := uuid.New()

	active := &models.Listing{ID: listingID, SellerID: sellerID, Price: 1000, Status: models.ListingStatusActive}
	reserved := &models.Listing{ID: listingID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusReserved}

	f.listings.On("GetByID", ctx, listingID).Return(active, nil)
	f.ledger.On("AvailableBalance", ctx, buyerID).Return(int64(5000), nil)
	f.listings.On("Reserve", ctx, listingID, buyerID).Return(reserved, nil)
	f.ledger.On("Debit", ctx, buyerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(nil, apperror.ErrInsufficientFunds)
	f.listings.On("Unreserve", ctx, listingID).Return(active, nil)

	_, err := f.svc.Purchase(ctx, buyerID, listingID)
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	f.listings.AssertExpectations(t)
}

func TestListingService_HandleTrade_SettledIsNoop(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	listingID := uuid.New()

	f.listings.On("GetByID", ctx, listingID).Return(&models.Listing{ID: listingID, Status: models.ListingStatusSettled}, nil)

	err := f.svc.HandleTrade(ctx, listingID)
	assert.NoError(t, err)
	f.ledger.AssertNotCalled(t, "Debit")
}

func TestListingService_HandleTrade_HappyPath(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	sellerID := uuid.New()
	listingID := uuid.New()
	collectibleID := uuid.New()
	creditID := uuid.New()

	sellerAddr := "SELLER"
	buyerAddr := "BUYER"
	txID := "tx-1"

	transferring := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringCredits}
	nft := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringNFT}
	settled := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusSettled}

	f.listings.On("GetByID", ctx, listingID).Return(transferring, nil)
	f.ledger.On("Debit", ctx, buyerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	f.ledger.On("CreditPending", ctx, sellerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{ID: creditID, Status: models.TransferStatusPending}, nil)
	f.ledger.On("CompleteTransfer", ctx, creditID).Return(&models.Transfer{ID: creditID, Status: models.TransferStatusComplete}, nil)
	f.listings.On("BeginNFTTransfer", ctx, listingID).Return(nft, nil)

	f.collectibles.On("GetByID", ctx, collectibleID).Return(&models.Collectible{ID: collectibleID, AssetID: 42}, nil)
	f.users.On("GetByID", ctx, sellerID).Return(&models.UserAccount{ID: sellerID, DepositAddress: &sellerAddr}, nil)
	f.users.On("GetByID", ctx, buyerID).Return(&models.UserAccount{ID: buyerID, DepositAddress: &buyerAddr}, nil)
	f.chain.On("GetAssetOwner", ctx, int64(42)).Return(sellerAddr, nil)
	f.chain.On("GenerateTradeTransactions", ctx, int64(42), sellerAddr, buyerAddr).Return(&chain.TradeGroup{}, nil)
	f.chain.On("SubmitTransaction", ctx, mock.Anything).Return(txID, nil)
	f.chain.On("WaitForConfirmation", ctx, txID).Return(nil)

	f.listings.On("Settle", ctx, listingID, &txID).Return(settled, nil)
	f.notifier.On("Notify", ctx, sellerID, models.NotificationEventListingSettled, mock.Anything).Return(nil)
	f.notifier.On("Notify", ctx, buyerID, models.NotificationEventListingSettled, mock.Anything).Return(nil)

	err := f.svc.HandleTrade(ctx, listingID)
	assert.NoError(t, err)
	f.chain.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestListingService_HandleTrade_AssetAlreadyWithBuyer(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	sellerID := uuid.New()
	listingID := uuid.New()
	collectibleID := uuid.New()
	creditID := uuid.New()

	sellerAddr := "SELLER"
	buyerAddr := "BUYER"
	lastTx := "tx-old"

	nft := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringNFT}
	settled := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Status: models.ListingStatusSettled}

	f.listings.On("GetByID", ctx, listingID).Return(nft, nil)
	f.ledger.On("Debit", ctx, buyerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	f.ledger.On("CreditPending", ctx, sellerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{ID: creditID, Status: models.TransferStatusComplete}, nil)
	f.ledger.On("CompleteTransfer", ctx, creditID).Return(&models.Transfer{ID: creditID, Status: models.TransferStatusComplete}, nil)
	f.listings.On("BeginNFTTransfer", ctx, listingID).Return(nft, nil)

	f.collectibles.On("GetByID", ctx, collectibleID).Return(&models.Collectible{ID: collectibleID, AssetID: 42, LastTransferTxID: &lastTx}, nil)
	f.users.On("GetByID", ctx, sellerID).Return(&models.UserAccount{ID: sellerID, DepositAddress: &sellerAddr}, nil)
	f.users.On("GetByID", ctx, buyerID).Return(&models.UserAccount{ID: buyerID, DepositAddress: &buyerAddr}, nil)
	f.chain.On("GetAssetOwner", ctx, int64(42)).Return(buyerAddr, nil)

	f.listings.On("Settle", ctx, listingID, &lastTx).Return(settled, nil)
	f.notifier.On("Notify", ctx, mock.Anything, models.NotificationEventListingSettled, mock.Anything).Return(nil)

	err := f.svc.HandleTrade(ctx, listingID)
	assert.NoError(t, err)
	f.chain.AssertNotCalled(t, "SubmitTransaction")
}

func TestListingService_HandleTrade_ChainFailureRollsBack(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	buyerID := uuid.New()
	sellerID := uuid.New()
	listingID := uuid.New()
	collectibleID := uuid.New()
	creditID := uuid.New()

	sellerAddr := "SELLER"
	buyerAddr := "BUYER"

	transferring := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringCredits}
	nft := &models.Listing{ID: listingID, CollectibleID: collectibleID, SellerID: sellerID, BuyerID: &buyerID, Price: 1000, Status: models.ListingStatusTransferringNFT}

	f.listings.On("GetByID", ctx, listingID).Return(transferring, nil)
	f.ledger.On("Debit", ctx, buyerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	f.ledger.On("CreditPending", ctx, sellerID, int64(1000), models.TransferEntityListingSale, listingID).
		Return(&models.Transfer{ID: creditID, Status: models.TransferStatusPending}, nil)
	f.ledger.On("CompleteTransfer", ctx, creditID).Return(&models.Transfer{ID: creditID, Status: models.TransferStatusComplete}, nil)
	f.listings.On("BeginNFTTransfer", ctx, listingID).Return(nft, nil)

	f.collectibles.On("GetByID", ctx, collectibleID).Return(&models.Collectible{ID: collectibleID, AssetID: 42}, nil)
	f.users.On("GetByID", ctx, sellerID).Return(&models.UserAccount{ID: sellerID, DepositAddress: &sellerAddr}, nil)
	f.users.On("GetByID", ctx, buyerID).Return(&models.UserAccount{ID: buyerID, DepositAddress: &buyerAddr}, nil)
	f.chain.On("GetAssetOwner", ctx, int64(42)).Return(sellerAddr, nil)
	f.chain.On("GenerateTradeTransactions", ctx, int64(42), sellerAddr, buyerAddr).Return(&chain.TradeGroup{}, nil)
	f.chain.On("SubmitTransaction", ctx, mock.Anything).Return("", errors.New("node unavailable"))
	f.listings.On("RollbackToCreditTransfer", ctx, listingID).Return(nil)

	err := f.svc.HandleTrade(ctx, listingID)
	assert.Error(t, err)
	f.listings.AssertExpectations(t)
	f.listings.AssertNotCalled(t, "Settle")
}

func TestListingService_Cancel_ReservedRejected(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	sellerID := uuid.New()
	listingID := uuid.New()

	f.listings.On("Cancel", ctx, listingID, sellerID).Return(nil, repository.ErrListingUnavailable)

	_, err := f.svc.Cancel(ctx, sellerID, listingID)
	assert.ErrorIs(t, err, apperror.ErrListingUnavailable)
}

func TestListingService_ReclaimExpired(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	f.listings.On("ListExpiredReserved", ctx, 100).Return([]models.Listing{{ID: first}, {ID: second}}, nil)
	f.listings.On("ReclaimExpired", ctx, first).Return(&models.Listing{ID: first, Status: models.ListingStatusActive}, nil)
	// Второй листинг успели оплатить, резерв уже не снимается.
	f.listings.On("ReclaimExpired", ctx, second).Return(nil, repository.ErrListingUnavailable)

	err := f.svc.ReclaimExpired(ctx)
	assert.NoError(t, err)
	f.listings.AssertExpectations(t)
}

func TestListingService_RequeueStalledTrades(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	stalled := []models.Listing{
		{ID: first, Status: models.ListingStatusTransferringCredits},
		{ID: second, Status: models.ListingStatusTransferringNFT},
	}
	f.listings.On("ListStalledTransfers", ctx, 10*time.Minute, 100).Return(stalled, nil)
	f.queue.On("EnqueueDefault", ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: first}).Return(uuid.New(), nil)
	f.queue.On("EnqueueDefault", ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: second}).Return(uuid.New(), nil)

	err := f.svc.RequeueStalledTrades(ctx, 10*time.Minute)
	assert.NoError(t, err)
	f.queue.AssertExpectations(t)
}

func TestListingService_RequeueStalledTrades_EnqueueFailureContinues(t *testing.T) {
	f := newListingFixture()
	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	stalled := []models.Listing{
		{ID: first, Status: models.ListingStatusTransferringCredits},
		{ID: second, Status: models.ListingStatusTransferringCredits},
	}
	f.listings.On("ListStalledTransfers", ctx, 10*time.Minute, 100).Return(stalled, nil)
	f.queue.On("EnqueueDefault", ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: first}).
		Return(uuid.Nil, errors.New("queue unavailable"))
	f.queue.On("EnqueueDefault", ctx, jobs.JobTradeListing, tradeListingPayload{ListingID: second}).Return(uuid.New(), nil)

	err := f.svc.RequeueStalledTrades(ctx, 10*time.Minute)
	assert.NoError(t, err)
	f.queue.AssertExpectations(t)
}
