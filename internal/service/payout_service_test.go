package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

type mockPayoutStore struct {
	mock.Mock
}

func (m *mockPayoutStore) Create(ctx context.Context, payout *models.Payout) error {
	args := m.Called(ctx, payout)
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockPayoutStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutStore) GetByExternalID(ctx context.Context, externalID string) (*models.Payout, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Payout), args.Error(1)
}

func (m *mockPayoutStore) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	args := m.Called(ctx, id, externalID, payload)
	return args.Error(0)
}

func (m *mockPayoutStore) MarkComplete(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutStore) MarkReturned(ctx context.Context, id uuid.UUID, returnedAmount int64) (*models.Payout, error) {
	args := m.Called(ctx, id, returnedAmount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockPayoutStore) SaveBankAccount(ctx context.Context, account *models.BankAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockPayoutStore) GetBankAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BankAccount), args.Error(1)
}

type mockPayoutProcessor struct {
	mock.Mock
}

func (m *mockPayoutProcessor) CreatePayout(ctx context.Context, req processor.CreatePayoutRequest) (*processor.Payout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Payout), args.Error(1)
}

func (m *mockPayoutProcessor) CreateWalletTransfer(ctx context.Context, req processor.CreateWalletTransferRequest) (*processor.WalletTransfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.WalletTransfer), args.Error(1)
}

func (m *mockPayoutProcessor) CreateBankAccount(ctx context.Context, req processor.CreateBankAccountRequest) (*processor.BankAccount, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.BankAccount), args.Error(1)
}

type mockPayoutGate struct {
	mock.Mock
}

func (m *mockPayoutGate) ScreenPayoutAddress(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *mockPayoutGate) EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.UserAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserAccount), args.Error(1)
}

type mockCreditLedger struct {
	mock.Mock
}

func (m *mockCreditLedger) AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCreditLedger) Debit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, userID, amount, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockCreditLedger) Credit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, userID, amount, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockCreditLedger) CreditPending(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, userID, amount, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockCreditLedger) CompleteTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockCreditLedger) FailTransfer(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockJobQueue struct {
	mock.Mock
}

func (m *mockJobQueue) EnqueueDefault(ctx context.Context, name string, payload any) (uuid.UUID, error) {
	args := m.Called(ctx, name, payload)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]any) error {
	args := m.Called(ctx, userID, event, data)
	return args.Error(0)
}

func newPayoutService(payouts *mockPayoutStore, users *mockUserStore, ledger *mockCreditLedger, proc *mockPayoutProcessor, gate *mockPayoutGate, queue *mockJobQueue, notif *mockNotifier) *PayoutService {
	return NewPayoutService(payouts, users, ledger, proc, gate, queue, notif, 2500, 1000)
}

func TestPayoutService_RequestWire_DebitsAmountPlusFee(t *testing.T) {
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	queue := new(mockJobQueue)
	svc := newPayoutService(payouts, new(mockUserStore), ledger, new(mockPayoutProcessor), new(mockPayoutGate), queue, new(mockNotifier))
	ctx := context.Background()
	userID := uuid.New()
	bankID := uuid.New()

	payouts.On("GetBankAccount", ctx, bankID).Return(&models.BankAccount{ID: bankID, UserID: userID, ExternalID: "ba-1"}, nil)
	payouts.On("Create", ctx, mock.Anything).Return(nil)
	ledger.On("Debit", ctx, userID, int64(10000+2500), models.TransferEntityPayout, mock.Anything).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	queue.On("EnqueueDefault", ctx, jobs.JobSubmitPayout, mock.Anything).Return(uuid.New(), nil)

	payout, err := svc.RequestWire(ctx, userID, 10000, bankID)
	assert.NoError(t, err)
	assert.Equal(t, models.PayoutTypeWire, payout.Type)
	assert.Equal(t, int64(2500), payout.Fee)
	ledger.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestPayoutService_RequestWire_ForeignBankAccount(t *testing.T) {
	payouts := new(mockPayoutStore)
	svc := newPayoutService(payouts, new(mockUserStore), new(mockCreditLedger), new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))
	ctx := context.Background()
	bankID := uuid.New()

	payouts.On("GetBankAccount", ctx, bankID).Return(&models.BankAccount{ID: bankID, UserID: uuid.New()}, nil)

	_, err := svc.RequestWire(ctx, uuid.New(), 10000, bankID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestPayoutService_RequestWire_InsufficientFunds(t *testing.T) {
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	queue := new(mockJobQueue)
	svc := newPayoutService(payouts, new(mockUserStore), ledger, new(mockPayoutProcessor), new(mockPayoutGate), queue, new(mockNotifier))
	ctx := context.Background()
	userID := uuid.New()
	bankID := uuid.New()

	payouts.On("GetBankAccount", ctx, bankID).Return(&models.BankAccount{ID: bankID, UserID: userID, ExternalID: "ba-1"}, nil)
	payouts.On("Create", ctx, mock.Anything).Return(nil)
	ledger.On("Debit", ctx, userID, int64(12500), models.TransferEntityPayout, mock.Anything).
		Return(nil, apperror.ErrInsufficientFunds)
	payouts.On("MarkFailed", ctx, mock.Anything, "insufficient funds").Return(&models.Payout{Status: models.PayoutStatusFailed}, nil)

	_, err := svc.RequestWire(ctx, userID, 10000, bankID)
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	queue.AssertNotCalled(t, "EnqueueDefault")
	payouts.AssertExpectations(t)
}

func TestPayoutService_RequestCrypto_BelowMinimum(t *testing.T) {
	svc := newPayoutService(new(mockPayoutStore), new(mockUserStore), new(mockCreditLedger), new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))

	_, err := svc.RequestCrypto(context.Background(), uuid.New(), 500, "ADDR")
	assert.Error(t, err)
}

func TestPayoutService_RequestCrypto_RequiresKYC(t *testing.T) {
	users := new(mockUserStore)
	svc := newPayoutService(new(mockPayoutStore), users, new(mockCreditLedger), new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))
	ctx := context.Background()
	userID := uuid.New()

	users.On("GetByID", ctx, userID).Return(&models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusNone}, nil)

	_, err := svc.RequestCrypto(ctx, userID, 5000, "ADDR")
	assert.ErrorIs(t, err, apperror.ErrKYCRequired)
}

func TestPayoutService_RequestCrypto_ScreensAddress(t *testing.T) {
	users := new(mockUserStore)
	gate := new(mockPayoutGate)
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	queue := new(mockJobQueue)
	svc := newPayoutService(payouts, users, ledger, new(mockPayoutProcessor), gate, queue, new(mockNotifier))
	ctx := context.Background()
	userID := uuid.New()

	users.On("GetByID", ctx, userID).Return(&models.UserAccount{ID: userID, VerificationStatus: models.VerificationStatusApproved}, nil)
	gate.On("ScreenPayoutAddress", ctx, "ADDR").Return(nil)
	payouts.On("Create", ctx, mock.Anything).Return(nil)
	ledger.On("Debit", ctx, userID, int64(5000), models.TransferEntityPayout, mock.Anything).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	queue.On("EnqueueDefault", ctx, jobs.JobSubmitTransfer, mock.Anything).Return(uuid.New(), nil)

	payout, err := svc.RequestCrypto(ctx, userID, 5000, "ADDR")
	assert.NoError(t, err)
	assert.Equal(t, models.PayoutTypeCrypto, payout.Type)
	gate.AssertExpectations(t)
}

func TestPayoutService_HandlePayoutUpdate_FailureRefundsAmountAndFee(t *testing.T) {
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	notif := new(mockNotifier)
	svc := newPayoutService(payouts, new(mockUserStore), ledger, new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), notif)
	ctx := context.Background()
	userID := uuid.New()
	payoutID := uuid.New()

	stored := &models.Payout{ID: payoutID, UserID: userID, Type: models.PayoutTypeWire, Amount: 10000, Fee: 2500}
	failed := &models.Payout{ID: payoutID, UserID: userID, Type: models.PayoutTypeWire, Status: models.PayoutStatusFailed}

	payouts.On("GetByExternalID", ctx, "po-ext-1").Return(stored, nil)
	payouts.On("MarkFailed", ctx, payoutID, "bank rejected").Return(failed, nil)
	ledger.On("Credit", ctx, userID, int64(12500), models.TransferEntityPayoutRefund, payoutID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	notif.On("Notify", ctx, userID, models.NotificationEventPayoutFailed, mock.Anything).Return(nil)

	err := svc.HandlePayoutUpdate(ctx, &processor.Payout{ID: "po-ext-1", Status: processor.StatusFailed, FailureReason: "bank rejected"})
	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestPayoutService_HandlePayoutUpdate_TerminalIsNoop(t *testing.T) {
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	svc := newPayoutService(payouts, new(mockUserStore), ledger, new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))
	ctx := context.Background()
	payoutID := uuid.New()

	payouts.On("GetByExternalID", ctx, "po-ext-1").Return(&models.Payout{ID: payoutID, Status: models.PayoutStatusFailed}, nil)
	payouts.On("MarkFailed", ctx, payoutID, "bank rejected").Return(nil, repository.ErrPayoutTerminal)

	err := svc.HandlePayoutUpdate(ctx, &processor.Payout{ID: "po-ext-1", Status: processor.StatusFailed, FailureReason: "bank rejected"})
	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Credit")
}

func TestPayoutService_HandlePayoutUpdate_UnknownPayoutIgnored(t *testing.T) {
	payouts := new(mockPayoutStore)
	svc := newPayoutService(payouts, new(mockUserStore), new(mockCreditLedger), new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))
	ctx := context.Background()

	payouts.On("GetByExternalID", ctx, "unknown").Return(nil, repository.ErrPayoutNotFound)

	err := svc.HandlePayoutUpdate(ctx, &processor.Payout{ID: "unknown", Status: processor.StatusComplete})
	assert.NoError(t, err)
}

func TestPayoutService_HandleReturn_CreditsReturnedAmount(t *testing.T) {
	payouts := new(mockPayoutStore)
	ledger := new(mockCreditLedger)
	notif := new(mockNotifier)
	svc := newPayoutService(payouts, new(mockUserStore), ledger, new(mockPayoutProcessor), new(mockPayoutGate), new(mockJobQueue), notif)
	ctx := context.Background()
	userID := uuid.New()
	payoutID := uuid.New()

	stored := &models.Payout{ID: payoutID, UserID: userID, Type: models.PayoutTypeWire, Amount: 10000, Status: models.PayoutStatusComplete}
	returned := &models.Payout{ID: payoutID, UserID: userID, Type: models.PayoutTypeWire, Status: models.PayoutStatusReturned}

	payouts.On("GetByExternalID", ctx, "po-ext-1").Return(stored, nil)
	payouts.On("MarkReturned", ctx, payoutID, int64(7000)).Return(returned, nil)
	ledger.On("Credit", ctx, userID, int64(7000), models.TransferEntityPayoutRefund, payoutID).
		Return(&models.Transfer{Status: models.TransferStatusComplete}, nil)
	notif.On("Notify", ctx, userID, models.NotificationEventPayoutReturned, mock.Anything).Return(nil)

	err := svc.HandleReturn(ctx, &processor.PayoutReturn{ID: "ret-1", PayoutID: "po-ext-1", Amount: 7000})
	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestPayoutService_SubmitPayout_AlreadySubmittedIsNoop(t *testing.T) {
	payouts := new(mockPayoutStore)
	proc := new(mockPayoutProcessor)
	svc := newPayoutService(payouts, new(mockUserStore), new(mockCreditLedger), proc, new(mockPayoutGate), new(mockJobQueue), new(mockNotifier))
	ctx := context.Background()
	payoutID := uuid.New()
	extID := "po-ext-1"

	payouts.On("GetByID", ctx, payoutID).Return(&models.Payout{ID: payoutID, Status: models.PayoutStatusPending, ExternalID: &extID}, nil)

	err := svc.SubmitPayout(ctx, payoutID)
	assert.NoError(t, err)
	proc.AssertNotCalled(t, "CreatePayout")
}
