package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

// transferStore — операции леджера, нужные сервисам.
type transferStore interface {
	CreateIdempotent(ctx context.Context, amount int64, entityType string, entityID, userAccountID uuid.UUID) (*models.Transfer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Transfer, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transfer, error)
	RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error
	Complete(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	MarkFailedByExternal(ctx context.Context, externalID string) (*models.Transfer, error)
	AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// LedgerService — единая точка движения кредитов. Все деньги проходят через
// идемпотентные переводы: повтор любого вызова с теми же аргументами безопасен.
type LedgerService struct {
	transfers transferStore
}

// NewLedgerService создаёт сервис леджера.
func NewLedgerService(transfers transferStore) *LedgerService {
	return &LedgerService{transfers: transfers}
}

// AvailableBalance возвращает доступный к трате остаток пользователя.
func (s *LedgerService) AvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	available, err := s.transfers.AvailableBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrTransferNotFound) {
			return 0, apperror.ErrUserNotFound
		}
		return 0, apperror.Wrap(err, apperror.ErrCodeInternal, "available balance")
	}
	return available, nil
}

// History возвращает историю переводов пользователя.
func (s *LedgerService) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transfer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	transfers, err := s.transfers.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "transfer history")
	}
	return transfers, nil
}

// Debit списывает amount с баланса пользователя: идемпотентно создаёт дебет
// по бизнес-событию и сразу завершает его. Нехватка средств возвращает
// ErrInsufficientFunds, перевод при этом помечается проваленным.
func (s *LedgerService) Debit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма списания должна быть положительной")
	}
	transfer, err := s.transfers.CreateIdempotent(ctx, -amount, entityType, entityID, userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create debit")
	}
	completed, err := s.transfers.Complete(ctx, transfer.ID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			// Дебет не прошёл и во внешнюю систему не уходил, можно провалить.
			if ferr := s.transfers.MarkFailed(ctx, transfer.ID); ferr != nil {
				return nil, apperror.Wrap(ferr, apperror.ErrCodeInternal, "fail debit")
			}
			return nil, apperror.ErrInsufficientFunds
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "complete debit")
	}
	metrics.TransfersTotal.WithLabelValues(entityType, completed.Status).Inc()
	return completed, nil
}

// Credit зачисляет amount на баланс пользователя и сразу завершает перевод.
func (s *LedgerService) Credit(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	transfer, err := s.CreditPending(ctx, userID, amount, entityType, entityID)
	if err != nil {
		return nil, err
	}
	return s.CompleteTransfer(ctx, transfer.ID)
}

// CreditPending идемпотентно создаёт кредит, не завершая его: средства ещё
// не подтверждены и в балансе не участвуют.
func (s *LedgerService) CreditPending(ctx context.Context, userID uuid.UUID, amount int64, entityType string, entityID uuid.UUID) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма зачисления должна быть положительной")
	}
	transfer, err := s.transfers.CreateIdempotent(ctx, amount, entityType, entityID, userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create credit")
	}
	return transfer, nil
}

// CompleteTransfer завершает перевод и применяет его к балансу. Повтор для
// уже завершённого перевода — no-op.
func (s *LedgerService) CompleteTransfer(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	transfer, err := s.transfers.Complete(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTransferNotFound):
			return nil, apperror.ErrTransferNotFound
		case errors.Is(err, repository.ErrTransferNotPending):
			return nil, apperror.New(apperror.ErrCodeInvalidState, "перевод нельзя завершить из текущего статуса")
		case errors.Is(err, repository.ErrInsufficientBalance):
			return nil, apperror.ErrInsufficientFunds
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "complete transfer")
	}
	metrics.TransfersTotal.WithLabelValues(transfer.EntityType, transfer.Status).Inc()
	return transfer, nil
}

// FailTransfer помечает перевод проваленным. Отказ разрешён только пока
// запрос не ушёл во внешнюю систему.
func (s *LedgerService) FailTransfer(ctx context.Context, id uuid.UUID) error {
	if err := s.transfers.MarkFailed(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrTransferNotFound):
			return apperror.ErrTransferNotFound
		case errors.Is(err, repository.ErrTransferInFlight):
			return apperror.New(apperror.ErrCodeInvalidState, "перевод уже отправлен во внешнюю систему")
		case errors.Is(err, repository.ErrTransferNotPending):
			return apperror.New(apperror.ErrCodeInvalidState, "перевод нельзя провалить из текущего статуса")
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "fail transfer")
	}
	return nil
}

// RecordSubmission фиксирует отправку перевода во внешнюю систему.
func (s *LedgerService) RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error {
	if err := s.transfers.RecordSubmission(ctx, id, externalID, payload); err != nil {
		if errors.Is(err, repository.ErrTransferNotPending) {
			return apperror.New(apperror.ErrCodeInvalidState, "перевод не в статусе pending")
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "record submission")
	}
	return nil
}
