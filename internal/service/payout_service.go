package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

// payoutStore — выплаты и банковские счета.
type payoutStore interface {
	Create(ctx context.Context, payout *models.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Payout, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payout, error)
	RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error
	MarkComplete(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Payout, error)
	MarkReturned(ctx context.Context, id uuid.UUID, returnedAmount int64) (*models.Payout, error)
	SaveBankAccount(ctx context.Context, account *models.BankAccount) error
	GetBankAccount(ctx context.Context, id uuid.UUID) (*models.BankAccount, error)
}

// payoutProcessor — вызовы процессора вокруг выплат.
type payoutProcessor interface {
	CreatePayout(ctx context.Context, req processor.CreatePayoutRequest) (*processor.Payout, error)
	CreateWalletTransfer(ctx context.Context, req processor.CreateWalletTransferRequest) (*processor.WalletTransfer, error)
	CreateBankAccount(ctx context.Context, req processor.CreateBankAccountRequest) (*processor.BankAccount, error)
}

// payoutGate — комплаенс-проверки перед выплатой.
type payoutGate interface {
	ScreenPayoutAddress(ctx context.Context, address string) error
	EnsureWallet(ctx context.Context, userID uuid.UUID) (*models.UserAccount, error)
}

// submitPayoutPayload — аргументы фоновых задач отправки выплаты.
type submitPayoutPayload struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

// PayoutService — вывод средств: банковский перевод (wire, с комиссией) и
// перевод на внешний блокчейн-адрес (crypto). Дебет фиксируется сразу,
// компенсации идут по авторитетным уведомлениям процессора.
type PayoutService struct {
	payouts    payoutStore
	users      userStore
	ledger     creditLedger
	processor  payoutProcessor
	compliance payoutGate
	queue      jobEnqueuer
	notifier   notifier

	wireFee         int64
	minCryptoAmount int64
	log             *logrus.Entry
}

// NewPayoutService создаёт сервис выплат.
func NewPayoutService(
	payouts payoutStore,
	users userStore,
	ledger creditLedger,
	proc payoutProcessor,
	compliance payoutGate,
	queue jobEnqueuer,
	notifier notifier,
	wireFee, minCryptoAmount int64,
) *PayoutService {
	return &PayoutService{
		payouts:         payouts,
		users:           users,
		ledger:          ledger,
		processor:       proc,
		compliance:      compliance,
		queue:           queue,
		notifier:        notifier,
		wireFee:         wireFee,
		minCryptoAmount: minCryptoAmount,
		log:             logger.WithComponent("payouts"),
	}
}

// Get возвращает выплату.
func (s *PayoutService) Get(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.payouts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			return nil, apperror.ErrPayoutNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get payout")
	}
	return payout, nil
}

// List возвращает выплаты пользователя.
func (s *PayoutService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payout, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	payouts, err := s.payouts.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list payouts")
	}
	return payouts, nil
}

// CreateBankAccount заводит банковский счёт у процессора и сохраняет его.
func (s *PayoutService) CreateBankAccount(ctx context.Context, userID uuid.UUID, accountNumber, routingNumber, description string) (*models.BankAccount, error) {
	if accountNumber == "" || routingNumber == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "реквизиты счёта обязательны")
	}
	created, err := s.processor.CreateBankAccount(ctx, processor.CreateBankAccountRequest{
		IdempotencyKey: uuid.New().String(),
		AccountNumber:  accountNumber,
		RoutingNumber:  routingNumber,
		Description:    description,
	})
	if err != nil {
		return nil, err
	}
	account := &models.BankAccount{
		UserID:      userID,
		ExternalID:  created.ID,
		Description: created.Description,
		Status:      created.Status,
	}
	if err := s.payouts.SaveBankAccount(ctx, account); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "save bank account")
	}
	return account, nil
}

// RequestWire создаёт банковскую выплату. С баланса списывается сумма плюс
// комиссия, отправка процессору уходит в фоновую задачу.
func (s *PayoutService) RequestWire(ctx context.Context, userID uuid.UUID, amount int64, bankAccountID uuid.UUID) (*models.Payout, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	bank, err := s.payouts.GetBankAccount(ctx, bankAccountID)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeNotFound, "банковский счёт не найден")
	}
	if bank.UserID != userID {
		return nil, apperror.ErrForbidden
	}

	payout := &models.Payout{
		UserID:        userID,
		Type:          models.PayoutTypeWire,
		Amount:        amount,
		Fee:           s.wireFee,
		BankAccountID: &bankAccountID,
	}
	return s.debitAndEnqueue(ctx, payout, amount+s.wireFee, jobs.JobSubmitPayout)
}

// RequestCrypto создаёт выплату на внешний блокчейн-адрес. Требует пройденный
// KYC, минимальную сумму и address-risk скрининг адреса назначения.
func (s *PayoutService) RequestCrypto(ctx context.Context, userID uuid.UUID, amount int64, destinationAddress string) (*models.Payout, error) {
	if amount < s.minCryptoAmount {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма ниже минимальной для вывода")
	}
	if destinationAddress == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "адрес назначения обязателен")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	if !user.IsVerified() {
		return nil, apperror.ErrKYCRequired
	}
	if err := s.compliance.ScreenPayoutAddress(ctx, destinationAddress); err != nil {
		return nil, err
	}

	payout := &models.Payout{
		UserID:             userID,
		Type:               models.PayoutTypeCrypto,
		Amount:             amount,
		DestinationAddress: &destinationAddress,
	}
	return s.debitAndEnqueue(ctx, payout, amount, jobs.JobSubmitTransfer)
}

// debitAndEnqueue создаёт выплату, списывает дебет и ставит фоновую отправку.
func (s *PayoutService) debitAndEnqueue(ctx context.Context, payout *models.Payout, debit int64, jobName string) (*models.Payout, error) {
	if err := s.payouts.Create(ctx, payout); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create payout")
	}
	if _, err := s.ledger.Debit(ctx, payout.UserID, debit, models.TransferEntityPayout, payout.ID); err != nil {
		if errors.Is(err, apperror.ErrInsufficientFunds) {
			if _, ferr := s.payouts.MarkFailed(ctx, payout.ID, "insufficient funds"); ferr != nil {
				s.log.WithError(ferr).WithField("payout_id", payout.ID).Error("failed to fail payout")
			}
		}
		return nil, err
	}
	if _, err := s.queue.EnqueueDefault(ctx, jobName, submitPayoutPayload{PayoutID: payout.ID}); err != nil {
		// Дебет уже в леджере, выплату доведёт оператор через dead-letter.
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "enqueue payout")
	}
	metrics.PayoutsTotal.WithLabelValues(payout.Type, payout.Status).Inc()
	return payout, nil
}

// SubmitPayout — фоновая отправка банковской выплаты процессору.
func (s *PayoutService) SubmitPayout(ctx context.Context, payoutID uuid.UUID) error {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.IsTerminal() || payout.ExternalID != nil {
		return nil
	}
	if payout.BankAccountID == nil {
		return apperror.New(apperror.ErrCodeUnrecoverable, "wire-выплата без банковского счёта")
	}
	bank, err := s.payouts.GetBankAccount(ctx, *payout.BankAccountID)
	if err != nil {
		return apperror.New(apperror.ErrCodeUnrecoverable, "банковский счёт выплаты не найден")
	}

	req := processor.CreatePayoutRequest{
		IdempotencyKey: payout.IdempotencyKey.String(),
		Amount:         payout.Amount,
		Currency:       "USD",
		BankAccountID:  bank.ExternalID,
	}
	resp, err := s.processor.CreatePayout(ctx, req)
	if err != nil {
		return err
	}
	return s.recordSubmission(ctx, payout.ID, resp.ID, req)
}

// SubmitCryptoTransfer — фоновая отправка крипто-выплаты: перевод из
// кастодиального кошелька пользователя на внешний адрес.
func (s *PayoutService) SubmitCryptoTransfer(ctx context.Context, payoutID uuid.UUID) error {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.IsTerminal() || payout.ExternalID != nil {
		return nil
	}
	if payout.DestinationAddress == nil {
		return apperror.New(apperror.ErrCodeUnrecoverable, "крипто-выплата без адреса назначения")
	}
	user, err := s.compliance.EnsureWallet(ctx, payout.UserID)
	if err != nil {
		return err
	}

	req := processor.CreateWalletTransferRequest{
		IdempotencyKey:     payout.IdempotencyKey.String(),
		Amount:             payout.Amount,
		Currency:           "USD",
		SourceWalletID:     *user.WalletID,
		DestinationAddress: *payout.DestinationAddress,
		DestinationChain:   depositChain,
	}
	resp, err := s.processor.CreateWalletTransfer(ctx, req)
	if err != nil {
		return err
	}
	return s.recordSubmission(ctx, payout.ID, resp.ID, req)
}

func (s *PayoutService) recordSubmission(ctx context.Context, payoutID uuid.UUID, externalID string, req any) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "marshal submission")
	}
	if err := s.payouts.RecordSubmission(ctx, payoutID, externalID, reqJSON); err != nil {
		if errors.Is(err, repository.ErrPayoutTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "record submission")
	}
	return nil
}

// HandlePayoutUpdate сводит выплату с авторитетным статусом процессора.
func (s *PayoutService) HandlePayoutUpdate(ctx context.Context, remote *processor.Payout) error {
	switch remote.Status {
	case processor.StatusComplete, processor.StatusPaid:
		return s.complete(ctx, remote.ID)
	case processor.StatusFailed:
		return s.fail(ctx, remote.ID, remote.FailureReason)
	case processor.StatusPending:
		return nil
	default:
		s.log.WithField("status", remote.Status).Warn("unknown processor payout status")
		return nil
	}
}

// HandleWalletTransferUpdate сводит крипто-выплату по уведомлению о переводе.
func (s *PayoutService) HandleWalletTransferUpdate(ctx context.Context, remote *processor.WalletTransfer) error {
	switch remote.Status {
	case processor.StatusComplete:
		return s.complete(ctx, remote.ID)
	case processor.StatusFailed:
		return s.fail(ctx, remote.ID, "wallet transfer failed")
	default:
		return nil
	}
}

// HandleReturn фиксирует возврат средств после формально успешной выплаты и
// зачисляет возвращённую сумму обратно.
func (s *PayoutService) HandleReturn(ctx context.Context, ret *processor.PayoutReturn) error {
	payout, err := s.payouts.GetByExternalID(ctx, ret.PayoutID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			s.log.WithField("external_id", ret.PayoutID).Warn("return for unknown payout")
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "get payout by external id")
	}
	updated, err := s.payouts.MarkReturned(ctx, payout.ID, ret.Amount)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "mark returned")
	}
	if _, err := s.ledger.Credit(ctx, payout.UserID, ret.Amount, models.TransferEntityPayoutRefund, payout.ID); err != nil {
		return err
	}
	metrics.PayoutsTotal.WithLabelValues(updated.Type, updated.Status).Inc()
	if err := s.notifier.Notify(ctx, payout.UserID, models.NotificationEventPayoutReturned,
		map[string]any{"payout_id": payout.ID, "returned_amount": ret.Amount}); err != nil {
		s.log.WithError(err).Warn("return notification failed")
	}
	return nil
}

func (s *PayoutService) complete(ctx context.Context, externalID string) error {
	payout, err := s.payouts.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			s.log.WithField("external_id", externalID).Warn("notification for unknown payout")
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "get payout by external id")
	}
	updated, err := s.payouts.MarkComplete(ctx, payout.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "mark complete")
	}
	metrics.PayoutsTotal.WithLabelValues(updated.Type, updated.Status).Inc()
	if err := s.notifier.Notify(ctx, payout.UserID, models.NotificationEventPayoutComplete,
		map[string]any{"payout_id": payout.ID, "amount": payout.Amount}); err != nil {
		s.log.WithError(err).Warn("complete notification failed")
	}
	return nil
}

// fail проваливает выплату и возвращает списанное (сумму и комиссию) на
// баланс. Кредит идемпотентен по (payout_refund, payout id).
func (s *PayoutService) fail(ctx context.Context, externalID, reason string) error {
	payout, err := s.payouts.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutNotFound) {
			s.log.WithField("external_id", externalID).Warn("failure for unknown payout")
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "get payout by external id")
	}
	updated, err := s.payouts.MarkFailed(ctx, payout.ID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "mark failed")
	}
	if _, err := s.ledger.Credit(ctx, payout.UserID, payout.Amount+payout.Fee, models.TransferEntityPayoutRefund, payout.ID); err != nil {
		return err
	}
	metrics.PayoutsTotal.WithLabelValues(updated.Type, updated.Status).Inc()
	if err := s.notifier.Notify(ctx, payout.UserID, models.NotificationEventPayoutFailed,
		map[string]any{"payout_id": payout.ID, "reason": reason}); err != nil {
		s.log.WithError(err).Warn("failure notification failed")
	}
	return nil
}
