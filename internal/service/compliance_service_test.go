package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
)

type mockUserStore struct {
	mock.Mock
}

func (m *mockUserStore) Create(ctx context.Context, user *models.UserAccount) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.UserAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *mockUserStore) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.UserAccount, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

func (m *mockUserStore) SetWallet(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, walletID, depositAddress string) error {
	args := m.Called(ctx, tx, id, walletID, depositAddress)
	return args.Error(0)
}

func (m *mockUserStore) SetVerificationStatus(ctx context.Context, id uuid.UUID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockUserStore) UpdateLastLoginAt(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockUserStore) CreateSession(ctx context.Context, session *models.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockUserStore) GetSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *mockUserStore) DeleteSession(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

func (m *mockUserStore) Tx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	m.Called(ctx)
	return fn(nil)
}

type mockPaymentTotals struct {
	mock.Mock
}

func (m *mockPaymentTotals) SumOpenTotals(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, since time.Time) (int64, error) {
	args := m.Called(ctx, tx, userID, since)
	return args.Get(0).(int64), args.Error(1)
}

type mockWalletProvider struct {
	mock.Mock
}

func (m *mockWalletProvider) CreateWallet(ctx context.Context, idempotencyKey string) (*processor.Wallet, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Wallet), args.Error(1)
}

func (m *mockWalletProvider) GetBlockchainAddress(ctx context.Context, walletID, chain, idempotencyKey string) (*processor.BlockchainAddress, error) {
	args := m.Called(ctx, walletID, chain, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.BlockchainAddress), args.Error(1)
}

func (m *mockWalletProvider) ScreenAddress(ctx context.Context, address, chain string) (*processor.RiskDecision, error) {
	args := m.Called(ctx, address, chain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.RiskDecision), args.Error(1)
}

func TestComplianceService_CheckPaymentAllowed_VerifiedSkipsTotals(t *testing.T) {
	users := new(mockUserStore)
	totals := new(mockPaymentTotals)
	svc := NewComplianceService(users, totals, new(mockWalletProvider), 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	verified := &models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusApproved}
	users.On("Tx", ctx).Return(nil)
	users.On("LockForUpdate", ctx, (*sqlx.Tx)(nil), userID).Return(verified, nil)

	err := svc.CheckPaymentAllowed(ctx, userID, 100000)
	assert.NoError(t, err)
	totals.AssertNotCalled(t, "SumOpenTotals")
}

func TestComplianceService_CheckPaymentAllowed_DailyThreshold(t *testing.T) {
	users := new(mockUserStore)
	totals := new(mockPaymentTotals)
	svc := NewComplianceService(users, totals, new(mockWalletProvider), 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	unverified := &models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusNone}
	users.On("Tx", ctx).Return(nil)
	users.On("LockForUpdate", ctx, (*sqlx.Tx)(nil), userID).Return(unverified, nil)
	totals.On("SumOpenTotals", ctx, (*sqlx.Tx)(nil), userID, mock.Anything).Return(int64(900), nil).Once()

	err := svc.CheckPaymentAllowed(ctx, userID, 200)
	assert.ErrorIs(t, err, apperror.ErrKYCRequired)
}

func TestComplianceService_CheckPaymentAllowed_LifetimeThreshold(t *testing.T) {
	users := new(mockUserStore)
	totals := new(mockPaymentTotals)
	svc := NewComplianceService(users, totals, new(mockWalletProvider), 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	unverified := &models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusNone}
	users.On("Tx", ctx).Return(nil)
	users.On("LockForUpdate", ctx, (*sqlx.Tx)(nil), userID).Return(unverified, nil)
	// Первый вызов — за сутки, второй — за всё время.
	totals.On("SumOpenTotals", ctx, (*sqlx.Tx)(nil), userID, mock.Anything).Return(int64(100), nil).Once()
	totals.On("SumOpenTotals", ctx, (*sqlx.Tx)(nil), userID, mock.Anything).Return(int64(4900), nil).Once()

	err := svc.CheckPaymentAllowed(ctx, userID, 200)
	assert.ErrorIs(t, err, apperror.ErrKYCRequired)
}

func TestComplianceService_CheckPaymentAllowed_UnderThresholds(t *testing.T) {
	users := new(mockUserStore)
	totals := new(mockPaymentTotals)
	svc := NewComplianceService(users, totals, new(mockWalletProvider), 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	unverified := &models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusNone}
	users.On("Tx", ctx).Return(nil)
	users.On("LockForUpdate", ctx, (*sqlx.Tx)(nil), userID).Return(unverified, nil)
	totals.On("SumOpenTotals", ctx, (*sqlx.Tx)(nil), userID, mock.Anything).Return(int64(100), nil)

	err := svc.CheckPaymentAllowed(ctx, userID, 200)
	assert.NoError(t, err)
}

func TestComplianceService_EnsureWallet_AlreadyProvisioned(t *testing.T) {
	users := new(mockUserStore)
	wallets := new(mockWalletProvider)
	svc := NewComplianceService(users, new(mockPaymentTotals), wallets, 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	walletID := "wal-1"
	users.On("GetByID", ctx, userID).Return(&models.UserAccount{ID: userID, WalletID: &walletID}, nil)

	user, err := svc.EnsureWallet(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, &walletID, user.WalletID)
	wallets.AssertNotCalled(t, "CreateWallet")
}

func TestComplianceService_EnsureWallet_Provisions(t *testing.T) {
	users := new(mockUserStore)
	wallets := new(mockWalletProvider)
	svc := NewComplianceService(users, new(mockPaymentTotals), wallets, 1000, 5000)
	ctx := context.Background()
	userID := uuid.New()

	users.On("GetByID", ctx, userID).Return(&models.UserAccount{ID: userID}, nil)
	wallets.On("CreateWallet", ctx, userID.String()).Return(&processor.Wallet{ID: "wal-1"}, nil)
	wallets.On("GetBlockchainAddress", ctx, "wal-1", "ALGO", userID.String()).Return(&processor.BlockchainAddress{Address: "ADDR", Chain: "ALGO"}, nil)
	users.On("Tx", ctx).Return(nil)
	users.On("LockForUpdate", ctx, (*sqlx.Tx)(nil), userID).Return(&models.UserAccount{ID: userID}, nil)
	users.On("SetWallet", ctx, (*sqlx.Tx)(nil), userID, "wal-1", "ADDR").Return(nil)

	user, err := svc.EnsureWallet(ctx, userID)
	assert.NoError(t, err)
	assert.NotNil(t, user.WalletID)
	assert.Equal(t, "wal-1", *user.WalletID)
	assert.Equal(t, "ADDR", *user.DepositAddress)
}

func TestComplianceService_ScreenPayoutAddress_Denied(t *testing.T) {
	wallets := new(mockWalletProvider)
	svc := NewComplianceService(new(mockUserStore), new(mockPaymentTotals), wallets, 1000, 5000)
	ctx := context.Background()

	wallets.On("ScreenAddress", ctx, "BAD", "ALGO").Return(&processor.RiskDecision{Approved: false, Reason: "sanctions"}, nil)

	err := svc.ScreenPayoutAddress(ctx, "BAD")
	assert.Error(t, err)
}
