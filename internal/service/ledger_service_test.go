package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

type mockTransferStore struct {
	mock.Mock
}

func (m *mockTransferStore) CreateIdempotent(ctx context.Context, amount int64, entityType string, entityID, userAccountID uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, amount, entityType, entityID, userAccountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockTransferStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockTransferStore) GetByExternalID(ctx context.Context, externalID string) (*models.Transfer, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockTransferStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Transfer), args.Error(1)
}

func (m *mockTransferStore) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	args := m.Called(ctx, id, externalID, payload)
	return args.Error(0)
}

func (m *mockTransferStore) Complete(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockTransferStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockTransferStore) MarkFailedByExternal(ctx context.Context, externalID string) (*models.Transfer, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transfer), args.Error(1)
}

func (m *mockTransferStore) AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func TestLedgerService_Debit_Success(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	userID := uuid.New()
	entityID := uuid.New()

	pending := &models.Transfer{ID: uuid.New(), UserAccountID: userID, Amount: -500, Status: models.TransferStatusPending}
	completed := &models.Transfer{ID: pending.ID, UserAccountID: userID, Amount: -500, Status: models.TransferStatusComplete, EntityType: models.TransferEntityPayout}

	store.On("CreateIdempotent", ctx, int64(-500), models.TransferEntityPayout, entityID, userID).Return(pending, nil)
	store.On("Complete", ctx, pending.ID).Return(completed, nil)

	transfer, err := svc.Debit(ctx, userID, 500, models.TransferEntityPayout, entityID)
	assert.NoError(t, err)
	assert.Equal(t, models.TransferStatusComplete, transfer.Status)
	store.AssertExpectations(t)
}

func TestLedgerService_Debit_InsufficientBalance(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	userID := uuid.New()
	entityID := uuid.New()

	pending := &models.Transfer{ID: uuid.New(), UserAccountID: userID, Amount: -500, Status: models.TransferStatusPending}

	store.On("CreateIdempotent", ctx, int64(-500), models.TransferEntityPayout, entityID, userID).Return(pending, nil)
	store.On("Complete", ctx, pending.ID).Return(nil, repository.ErrInsufficientBalance)
	store.On("MarkFailed", ctx, pending.ID).Return(nil)

	_, err := svc.Debit(ctx, userID, 500, models.TransferEntityPayout, entityID)
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	store.AssertExpectations(t)
}

func TestLedgerService_Debit_InvalidAmount(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)

	_, err := svc.Debit(context.Background(), uuid.New(), 0, models.TransferEntityPayout, uuid.New())
	assert.Error(t, err)
	store.AssertNotCalled(t, "CreateIdempotent")
}

func TestLedgerService_Credit_Success(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	userID := uuid.New()
	entityID := uuid.New()

	pending := &models.Transfer{ID: uuid.New(), UserAccountID: userID, Amount: 300, Status: models.TransferStatusPending}
	completed := &models.Transfer{ID: pending.ID, UserAccountID: userID, Amount: 300, Status: models.TransferStatusComplete, EntityType: models.TransferEntityPayment}

	store.On("CreateIdempotent", ctx, int64(300), models.TransferEntityPayment, entityID, userID).Return(pending, nil)
	store.On("Complete", ctx, pending.ID).Return(completed, nil)

	transfer, err := svc.Credit(ctx, userID, 300, models.TransferEntityPayment, entityID)
	assert.NoError(t, err)
	assert.Equal(t, int64(300), transfer.Amount)
	store.AssertExpectations(t)
}

func TestLedgerService_CompleteTransfer_NotPending(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	id := uuid.New()

	store.On("Complete", ctx, id).Return(nil, repository.ErrTransferNotPending)

	_, err := svc.CompleteTransfer(ctx, id)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestLedgerService_FailTransfer_AlreadySubmitted(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	id := uuid.New()

	store.On("MarkFailed", ctx, id).Return(repository.ErrTransferInFlight)

	err := svc.FailTransfer(ctx, id)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestLedgerService_AvailableBalance(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	userID := uuid.New()

	store.On("AvailableBalance", ctx, userID).Return(int64(1200), nil)

	available, err := svc.AvailableBalance(ctx, userID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1200), available)
}

func TestLedgerService_AvailableBalance_UnknownUser(t *testing.T) {
	store := new(mockTransferStore)
	svc := NewLedgerService(store)
	ctx := context.Background()
	userID := uuid.New()

	store.On("AvailableBalance", ctx, userID).Return(int64(0), repository.ErrTransferNotFound)

	_, err := svc.AvailableBalance(ctx, userID)
	assert.True(t, errors.Is(err, apperror.ErrUserNotFound))
}
