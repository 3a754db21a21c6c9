package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/collectibles-backend/internal/chain"
	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
)

// paymentStore — платежи и сохранённые карты.
type paymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error)
	RecordSubmission(ctx context.Context, id uuid.UUID, externalID string, payload json.RawMessage) error
	SwapVerificationMethod(ctx context.Context, id uuid.UUID, retryKey uuid.UUID, retryPayload json.RawMessage) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string) (*models.Payment, error)
	SaveCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, id uuid.UUID) (*models.Card, error)
	GetCardByExternalID(ctx context.Context, externalID string) (*models.Card, error)
	UpdateCardStatus(ctx context.Context, externalID, status string) error
}

// paymentProcessor — вызовы процессора вокруг платежей.
type paymentProcessor interface {
	CreatePayment(ctx context.Context, req processor.CreateCardPaymentRequest) (*processor.Payment, error)
	CancelPayment(ctx context.Context, externalID string, idempotencyKey string) (*processor.Payment, error)
	GetPayment(ctx context.Context, externalID string) (*processor.Payment, error)
	GetPaymentsBySettlement(ctx context.Context, settlementID string) ([]processor.Payment, error)
}

// complianceGate — пороги KYC и скрининг адресов перед приёмом платежа.
type complianceGate interface {
	CheckPaymentAllowed(ctx context.Context, userID uuid.UUID, total int64) error
	ScreenDepositSource(ctx context.Context, address string) error
}

// marketPurchaser — продолжение покупки листинга после зачисления кредитов.
type marketPurchaser interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Purchase(ctx context.Context, buyerID, id uuid.UUID) (*models.Listing, error)
}

// submitPaymentPayload — аргументы фоновой задачи отправки платежа.
type submitPaymentPayload struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	CardID       uuid.UUID `json:"card_id"`
	Verification string    `json:"verification"`
}

// confirmDepositPayload — аргументы фоновой задачи подтверждения депозита.
type confirmDepositPayload struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

// depositSubmission — подписанная транзакция депозита, сохранённая в payload
// платежа до отправки в сеть.
type depositSubmission struct {
	Blob []byte `json:"blob"`
}

// PaymentService — приём платежей: карты (через процессор) и стейблкоин
// (он-чейн депозит). Платёж становится кредитами только после авторитетного
// подтверждения средств.
type PaymentService struct {
	payments     paymentStore
	collectibles collectibleStore
	users        userStore
	ledger       creditLedger
	compliance   complianceGate
	processor    paymentProcessor
	chain        chainGateway
	queue        jobEnqueuer
	notifier     notifier
	market       marketPurchaser

	stablecoinAssetID int64
	log               *logrus.Entry
}

// NewPaymentService создаёт платёжный сервис. market навешивается отдельно
// через SetMarket: платёжный сервис и сервис листингов создаются раздельно.
func NewPaymentService(
	payments paymentStore,
	collectibles collectibleStore,
	users userStore,
	ledger creditLedger,
	compliance complianceGate,
	proc paymentProcessor,
	chainClient chainGateway,
	queue jobEnqueuer,
	notifier notifier,
	stablecoinAssetID int64,
) *PaymentService {
	return &PaymentService{
		payments:          payments,
		collectibles:      collectibles,
		users:             users,
		ledger:            ledger,
		compliance:        compliance,
		processor:         proc,
		chain:             chainClient,
		queue:             queue,
		notifier:          notifier,
		stablecoinAssetID: stablecoinAssetID,
		log:               logger.WithComponent("payments"),
	}
}

// SetMarket подключает продолжение покупки листинга для платежей с item_type
// listing.
func (s *PaymentService) SetMarket(market marketPurchaser) {
	s.market = market
}

// Get возвращает платёж.
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "get payment")
	}
	return payment, nil
}

// List возвращает платежи пользователя.
func (s *PaymentService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	payments, err := s.payments.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list payments")
	}
	return payments, nil
}

// RegisterCard сохраняет карту, заведённую у процессора напрямую с клиента.
// Статус карты сойдётся по уведомлению процессора.
func (s *PaymentService) RegisterCard(ctx context.Context, userID uuid.UUID, externalID, last4, network string) (*models.Card, error) {
	if externalID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "external_id обязателен")
	}
	card := &models.Card{
		UserID:     userID,
		ExternalID: externalID,
		Last4:      last4,
		Network:    network,
		Status:     "pending",
	}
	if err := s.payments.SaveCard(ctx, card); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "save card")
	}
	return card, nil
}

// CheckoutPack покупает пак за карту: резерв пака, платёж и фоновая отправка
// процессору. Кредиты и сам пак пользователь получает после подтверждения
// средств.
func (s *PaymentService) CheckoutPack(ctx context.Context, userID, packID, cardID uuid.UUID, verification string) (*models.Payment, error) {
	pack, err := s.collectibles.GetPack(ctx, packID)
	if err != nil {
		return nil, apperror.ErrPackNotFound
	}
	return s.checkoutCard(ctx, userID, cardID, verification, pack.Price, models.PaymentItemPack, &packID, func(ctx context.Context) error {
		_, err := s.collectibles.ReservePack(ctx, packID, userID)
		if errors.Is(err, repository.ErrPackUnavailable) {
			return apperror.New(apperror.ErrCodeInvalidState, "пак уже продан")
		}
		return err
	})
}

// CheckoutListing покупает листинг за карту: платёж на полную цену, а после
// подтверждения средств — обычный сценарий покупки за кредиты. Листинг на
// время оплаты не резервируется: если его успеют купить, кредиты останутся
// на балансе плательщика.
func (s *PaymentService) CheckoutListing(ctx context.Context, userID, listingID, cardID uuid.UUID, verification string) (*models.Payment, error) {
	if s.market == nil {
		return nil, apperror.New(apperror.ErrCodeInternal, "market is not wired")
	}
	listing, err := s.market.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingStatusActive {
		return nil, apperror.ErrListingUnavailable
	}
	if listing.SellerID == userID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя купить собственный листинг")
	}
	return s.checkoutCard(ctx, userID, cardID, verification, listing.Price, models.PaymentItemListing, &listingID, nil)
}

// Deposit пополняет кредитный баланс картой.
func (s *PaymentService) Deposit(ctx context.Context, userID, cardID uuid.UUID, amount int64, verification string) (*models.Payment, error) {
	if amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	return s.checkoutCard(ctx, userID, cardID, verification, amount, models.PaymentItemDeposit, nil, nil)
}

// checkoutCard — общий путь карточного платежа: проверка порогов, проверка
// карты, резервирование предмета, запись платежа и постановка задачи.
func (s *PaymentService) checkoutCard(ctx context.Context, userID, cardID uuid.UUID, verification string, amount int64, itemType string, itemID *uuid.UUID, reserve func(context.Context) error) (*models.Payment, error) {
	if verification == "" {
		verification = models.VerificationMethodCVV
	}
	if verification != models.VerificationMethodCVV && verification != models.VerificationMethod3DS {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный метод верификации")
	}
	if err := s.compliance.CheckPaymentAllowed(ctx, userID, amount); err != nil {
		return nil, err
	}
	card, err := s.payments.GetCard(ctx, cardID)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeNotFound, "карта не найдена")
	}
	if card.UserID != userID {
		return nil, apperror.ErrForbidden
	}

	if reserve != nil {
		if err := reserve(ctx); err != nil {
			return nil, err
		}
	}

	payment := &models.Payment{
		PayerID:  userID,
		Type:     models.PaymentTypeCard,
		Amount:   amount,
		Fees:     0,
		Total:    amount,
		ItemType: itemType,
		ItemID:   itemID,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.compensateItem(ctx, itemType, itemID)
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create payment")
	}

	job := submitPaymentPayload{PaymentID: payment.ID, CardID: cardID, Verification: verification}
	if _, err := s.queue.EnqueueDefault(ctx, jobs.JobSubmitPayment, job); err != nil {
		if _, ferr := s.payments.UpdateStatus(ctx, payment.ID, []string{models.PaymentStatusPending}, models.PaymentStatusFailed); ferr != nil {
			s.log.WithError(ferr).WithField("payment_id", payment.ID).Error("failed to fail orphaned payment")
		}
		s.compensateItem(ctx, itemType, itemID)
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "enqueue payment")
	}
	metrics.PaymentsTotal.WithLabelValues(payment.Type, payment.Status).Inc()
	return payment, nil
}

// SubmitPayment — фоновая отправка платежа процессору. Повтор безопасен:
// ключ идемпотентности зафиксирован в платеже, процессор дедуплицирует.
func (s *PaymentService) SubmitPayment(ctx context.Context, paymentID, cardID uuid.UUID, verification string) error {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.IsTerminal() || payment.IsFunded() {
		return nil
	}

	req, err := s.buildCardRequest(ctx, payment, cardID, verification)
	if err != nil {
		return err
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "marshal request")
	}

	resp, err := s.processor.CreatePayment(ctx, *req)
	if err != nil {
		return err
	}
	if err := s.payments.RecordSubmission(ctx, payment.ID, resp.ID, reqJSON); err != nil {
		if errors.Is(err, repository.ErrPaymentTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "record submission")
	}
	return s.HandleProcessorUpdate(ctx, resp)
}

// buildCardRequest восстанавливает запрос к процессору: retry-пара, затем
// сохранённый payload, затем свежий запрос с primary ключом.
func (s *PaymentService) buildCardRequest(ctx context.Context, payment *models.Payment, cardID uuid.UUID, verification string) (*processor.CreateCardPaymentRequest, error) {
	var req processor.CreateCardPaymentRequest
	if len(payment.RetryPayload) > 0 {
		if err := json.Unmarshal(payment.RetryPayload, &req); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "decode retry payload")
		}
		return &req, nil
	}
	if len(payment.Payload) > 0 {
		if err := json.Unmarshal(payment.Payload, &req); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "decode payload")
		}
		return &req, nil
	}

	card, err := s.payments.GetCard(ctx, cardID)
	if err != nil {
		return nil, apperror.New(apperror.ErrCodeUnrecoverable, "карта платежа не найдена")
	}
	return &processor.CreateCardPaymentRequest{
		IdempotencyKey:     payment.IdempotencyKey.String(),
		Amount:             payment.Total,
		Currency:           "USD",
		SourceCardID:       card.ExternalID,
		VerificationMethod: verification,
	}, nil
}

// DepositStablecoin принимает подписанную клиентом транзакцию депозита.
// Сумма, получатель и актив берутся из самой транзакции; отправку в сеть и
// подтверждение выполняет фоновая задача.
func (s *PaymentService) DepositStablecoin(ctx context.Context, userID uuid.UUID, signedBlob []byte) (*models.Payment, error) {
	decoded, err := s.chain.DecodeSignedTransaction(ctx, &chain.SignedTransaction{Blob: signedBlob})
	if err != nil {
		return nil, err
	}
	if decoded.AssetID != s.stablecoinAssetID {
		return nil, apperror.New(apperror.ErrCodeValidation, "транзакция переводит не стейблкоин")
	}
	if decoded.Amount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "нулевая сумма депозита")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	if user.DepositAddress == nil || decoded.Receiver != *user.DepositAddress {
		return nil, apperror.New(apperror.ErrCodeValidation, "транзакция направлена не на депозитный адрес")
	}
	if err := s.compliance.CheckPaymentAllowed(ctx, userID, decoded.Amount); err != nil {
		return nil, err
	}
	if err := s.compliance.ScreenDepositSource(ctx, decoded.Sender); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		PayerID:  userID,
		Type:     models.PaymentTypeStablecoin,
		Amount:   decoded.Amount,
		Total:    decoded.Amount,
		ItemType: models.PaymentItemDeposit,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "create deposit")
	}

	// Blob сохраняется до отправки: в сеть его понесёт фоновая задача.
	submission, err := json.Marshal(depositSubmission{Blob: signedBlob})
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "marshal deposit submission")
	}
	if err := s.payments.RecordSubmission(ctx, payment.ID, decoded.TxID, submission); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "record deposit submission")
	}

	if _, err := s.queue.EnqueueDefault(ctx, jobs.JobConfirmDeposit, confirmDepositPayload{PaymentID: payment.ID}); err != nil {
		// В сеть ещё ничего не ушло, платёж безопасно закрыть.
		if _, ferr := s.payments.UpdateStatus(ctx, payment.ID, []string{models.PaymentStatusPending}, models.PaymentStatusFailed); ferr != nil {
			s.log.WithError(ferr).WithField("payment_id", payment.ID).Error("failed to fail orphaned deposit")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "enqueue deposit confirmation")
	}
	metrics.PaymentsTotal.WithLabelValues(payment.Type, payment.Status).Inc()
	return payment, nil
}

// ConfirmDeposit — фоновая отправка и подтверждение он-чейн депозита. После
// первой попытки отправки транзакция могла попасть в сеть, поэтому локально
// депозит не закрывается: судьбу решает только подтверждение.
func (s *PaymentService) ConfirmDeposit(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.IsTerminal() || payment.IsFunded() {
		return nil
	}
	if payment.ExternalID == nil {
		return apperror.New(apperror.ErrCodeUnrecoverable, "депозит без транзакции")
	}

	var sub depositSubmission
	if len(payment.Payload) > 0 {
		if err := json.Unmarshal(payment.Payload, &sub); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeUnrecoverable, "decode deposit submission")
		}
	}
	if len(sub.Blob) > 0 {
		if _, err := s.chain.SubmitTransaction(ctx, &chain.TradeGroup{Transactions: [][]byte{sub.Blob}}); err != nil {
			if apperror.IsRecoverable(err) {
				return err
			}
			// Отказ узла не терминален: транзакция могла уйти в сеть на
			// прошлой попытке, ждём подтверждения.
			s.log.WithError(err).WithField("payment_id", payment.ID).Warn("deposit broadcast rejected, waiting for confirmation")
		}
	}

	if err := s.chain.WaitForConfirmation(ctx, *payment.ExternalID); err != nil {
		return err
	}
	return s.settlePayment(ctx, payment, models.PaymentStatusPaid)
}

// HandleProcessorUpdate сводит локальный платёж с авторитетным статусом
// процессора. Идемпотентен: повторная доставка того же статуса ничего не
// меняет.
func (s *PaymentService) HandleProcessorUpdate(ctx context.Context, remote *processor.Payment) error {
	payment, err := s.payments.GetByExternalID(ctx, remote.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			// Уведомление о чужом платеже: подтверждаем без работы.
			s.log.WithField("external_id", remote.ID).Warn("notification for unknown payment")
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "get payment by external id")
	}

	switch remote.Status {
	case processor.StatusPending:
		return nil
	case processor.StatusActionRequired:
		_, err := s.payments.UpdateStatus(ctx, payment.ID, []string{models.PaymentStatusPending}, models.PaymentStatusActionRequired)
		if errors.Is(err, repository.ErrPaymentTerminal) {
			return nil
		}
		return err
	case processor.StatusConfirmed:
		return s.settlePayment(ctx, payment, models.PaymentStatusConfirmed)
	case processor.StatusPaid:
		return s.settlePayment(ctx, payment, models.PaymentStatusPaid)
	case processor.StatusFailed:
		return s.handleFailure(ctx, payment, remote)
	default:
		s.log.WithField("status", remote.Status).Warn("unknown processor payment status")
		return nil
	}
}

// settlePayment подтверждает средства: статус, кредит в леджере и, для
// предметных платежей, выдача предмета.
func (s *PaymentService) settlePayment(ctx context.Context, payment *models.Payment, status string) error {
	updated, err := s.payments.UpdateStatus(ctx, payment.ID,
		[]string{models.PaymentStatusPending, models.PaymentStatusActionRequired, models.PaymentStatusConfirmed}, status)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "settle payment status")
	}
	metrics.PaymentsTotal.WithLabelValues(updated.Type, updated.Status).Inc()

	if _, err := s.ledger.Credit(ctx, payment.PayerID, payment.Amount, models.TransferEntityPayment, payment.ID); err != nil {
		return err
	}

	switch payment.ItemType {
	case models.PaymentItemPack:
		if payment.ItemID != nil {
			if err := s.deliverPack(ctx, payment, *payment.ItemID); err != nil {
				return err
			}
		}
	case models.PaymentItemListing:
		if payment.ItemID != nil && s.market != nil {
			if _, err := s.market.Purchase(ctx, payment.PayerID, *payment.ItemID); err != nil {
				// Листинг мог уйти за время оплаты: кредиты остаются на
				// балансе пользователя.
				if apperror.IsInvalidState(err) {
					s.log.WithField("payment_id", payment.ID).Warn("listing gone after payment, credits kept")
					return nil
				}
				return err
			}
		}
	}

	if err := s.notifier.Notify(ctx, payment.PayerID, models.NotificationEventPaymentComplete,
		map[string]any{"payment_id": payment.ID, "amount": payment.Amount}); err != nil {
		s.log.WithError(err).Warn("payment notification failed")
	}
	return nil
}

// deliverPack списывает кредиты за пак и закрывает продажу.
func (s *PaymentService) deliverPack(ctx context.Context, payment *models.Payment, packID uuid.UUID) error {
	pack, err := s.collectibles.GetPack(ctx, packID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "get pack")
	}
	if _, err := s.ledger.Debit(ctx, payment.PayerID, pack.Price, models.TransferEntityPackPurchase, packID); err != nil {
		return err
	}
	if _, err := s.collectibles.MarkPackSold(ctx, packID); err != nil {
		if errors.Is(err, repository.ErrPackUnavailable) {
			return apperror.New(apperror.ErrCodeUnrecoverable, "пак потерял резерв до выдачи")
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "mark pack sold")
	}
	return nil
}

// handleFailure обрабатывает отказ процессора. Отказ из-за неподдерживаемого
// метода верификации один раз пересдаёт платёж с альтернативным методом,
// остальные отказы терминальны.
func (s *PaymentService) handleFailure(ctx context.Context, payment *models.Payment, remote *processor.Payment) error {
	if remote.FailureCode == processor.FailureVerificationUnsupported {
		swapped, err := s.trySwapVerification(ctx, payment)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}

	if _, err := s.payments.UpdateStatus(ctx, payment.ID,
		[]string{models.PaymentStatusPending, models.PaymentStatusActionRequired}, models.PaymentStatusFailed); err != nil {
		if errors.Is(err, repository.ErrPaymentTerminal) {
			return nil
		}
		return apperror.Wrap(err, apperror.ErrCodeInternal, "fail payment")
	}
	metrics.PaymentsTotal.WithLabelValues(payment.Type, models.PaymentStatusFailed).Inc()
	s.compensateItem(ctx, payment.ItemType, payment.ItemID)
	return nil
}

// trySwapVerification пересдаёт платёж с альтернативным методом верификации.
// Возвращает false, если retry уже был использован.
func (s *PaymentService) trySwapVerification(ctx context.Context, payment *models.Payment) (bool, error) {
	var req processor.CreateCardPaymentRequest
	if len(payment.Payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(payment.Payload, &req); err != nil {
		return false, apperror.Wrap(err, apperror.ErrCodeInternal, "decode payload for retry")
	}

	if req.VerificationMethod == models.VerificationMethodCVV {
		req.VerificationMethod = models.VerificationMethod3DS
	} else {
		req.VerificationMethod = models.VerificationMethodCVV
	}
	retryKey := uuid.New()
	req.IdempotencyKey = retryKey.String()
	retryJSON, err := json.Marshal(req)
	if err != nil {
		return false, apperror.Wrap(err, apperror.ErrCodeInternal, "marshal retry payload")
	}

	if _, err := s.payments.SwapVerificationMethod(ctx, payment.ID, retryKey, retryJSON); err != nil {
		if errors.Is(err, repository.ErrRetryAlreadySet) {
			return false, nil
		}
		return false, apperror.Wrap(err, apperror.ErrCodeInternal, "swap verification")
	}

	job := submitPaymentPayload{PaymentID: payment.ID, Verification: req.VerificationMethod}
	if _, err := s.queue.EnqueueDefault(ctx, jobs.JobSubmitPayment, job); err != nil {
		return false, apperror.Wrap(err, apperror.ErrCodeInternal, "enqueue retry")
	}
	s.log.WithField("payment_id", payment.ID).WithField("verification", req.VerificationMethod).
		Info("payment resubmitted with alternate verification")
	return true, nil
}

// Cancel отменяет платёж по запросу пользователя. После подтверждения
// средств отмена невозможна.
func (s *PaymentService) Cancel(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != userID {
		return nil, apperror.ErrForbidden
	}
	if payment.IsFunded() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "платёж уже подтверждён")
	}

	if payment.ExternalID != nil {
		if _, err := s.processor.CancelPayment(ctx, *payment.ExternalID, uuid.New().String()); err != nil {
			return nil, err
		}
	}
	updated, err := s.payments.UpdateStatus(ctx, payment.ID,
		[]string{models.PaymentStatusPending, models.PaymentStatusActionRequired}, models.PaymentStatusCanceled)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentTerminal) {
			return payment, nil
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "cancel payment")
	}
	s.compensateItem(ctx, payment.ItemType, payment.ItemID)
	metrics.PaymentsTotal.WithLabelValues(updated.Type, updated.Status).Inc()
	return updated, nil
}

// HandleSettlement сводит все платежи, закрытые пакетом settlement.
func (s *PaymentService) HandleSettlement(ctx context.Context, settlementID string) error {
	payments, err := s.processor.GetPaymentsBySettlement(ctx, settlementID)
	if err != nil {
		return err
	}
	for i := range payments {
		if err := s.HandleProcessorUpdate(ctx, &payments[i]); err != nil {
			return err
		}
	}
	return nil
}

// HandleCardUpdate обновляет статус карты по уведомлению процессора.
func (s *PaymentService) HandleCardUpdate(ctx context.Context, externalID, status string) error {
	if err := s.payments.UpdateCardStatus(ctx, externalID, status); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "update card status")
	}
	return nil
}

// compensateItem возвращает предмет несостоявшегося платежа в продажу.
func (s *PaymentService) compensateItem(ctx context.Context, itemType string, itemID *uuid.UUID) {
	if itemID == nil {
		return
	}
	switch itemType {
	case models.PaymentItemPack:
		if err := s.collectibles.UnreservePack(ctx, *itemID); err != nil {
			s.log.WithError(err).WithField("pack_id", *itemID).Error("failed to unreserve pack")
		}
	}
}
