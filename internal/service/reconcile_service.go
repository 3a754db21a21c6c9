package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
)

// webhookStore — дедупликация уведомлений и состояние подписок.
type webhookStore interface {
	HasEvent(ctx context.Context, category, externalID string) (bool, error)
	RecordEvent(ctx context.Context, category, externalID string, payload json.RawMessage) (bool, error)
	ConfirmSubscription(ctx context.Context, topic string) error
	IsSubscriptionConfirmed(ctx context.Context, topic string) (bool, error)
}

// paymentReconciler — сведение платежей по уведомлениям.
type paymentReconciler interface {
	HandleProcessorUpdate(ctx context.Context, remote *processor.Payment) error
	HandleSettlement(ctx context.Context, settlementID string) error
	HandleCardUpdate(ctx context.Context, externalID, status string) error
}

// payoutReconciler — сведение выплат по уведомлениям.
type payoutReconciler interface {
	HandlePayoutUpdate(ctx context.Context, remote *processor.Payout) error
	HandleWalletTransferUpdate(ctx context.Context, remote *processor.WalletTransfer) error
	HandleReturn(ctx context.Context, ret *processor.PayoutReturn) error
}

// Типы конвертов уведомлений.
const (
	envelopeNotification             = "notification"
	envelopeSubscriptionConfirmation = "subscription_confirmation"
)

// webhookEnvelope — внешний конверт уведомления процессора.
type webhookEnvelope struct {
	Type         string                  `json:"type"`
	Topic        string                  `json:"topic"`
	Notification *processor.Notification `json:"notification,omitempty"`
}

// ReconcileService принимает уведомления процессора и сводит локальное
// состояние с авторитетным. Доставка at-least-once: конверт проверяется по
// подписи, топик — по подтверждённой подписке, дубль срезается по
// (category, external id), а сами обработчики идемпотентны.
type ReconcileService struct {
	webhooks webhookStore
	payments paymentReconciler
	payouts  payoutReconciler

	secret []byte
	log    *logrus.Entry
}

// NewReconcileService создаёт сервис сведения.
func NewReconcileService(webhooks webhookStore, payments paymentReconciler, payouts payoutReconciler, secret string) *ReconcileService {
	return &ReconcileService{
		webhooks: webhooks,
		payments: payments,
		payouts:  payouts,
		secret:   []byte(secret),
		log:      logger.WithComponent("reconcile"),
	}
}

// VerifySignature проверяет HMAC-SHA256 подпись тела уведомления.
func (s *ReconcileService) VerifySignature(body []byte, signature string) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperror.ErrUnauthorized
	}
	return nil
}

// HandleEnvelope обрабатывает конверт уведомления. Подпись должна быть
// проверена вызывающим кодом до разбора тела.
func (s *ReconcileService) HandleEnvelope(ctx context.Context, body []byte) error {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeBadRequest, "malformed envelope")
	}

	if envelope.Type == envelopeSubscriptionConfirmation {
		if err := s.webhooks.ConfirmSubscription(ctx, envelope.Topic); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "confirm subscription")
		}
		s.log.WithField("topic", envelope.Topic).Info("subscription confirmed")
		return nil
	}
	if envelope.Type != envelopeNotification || envelope.Notification == nil {
		return apperror.New(apperror.ErrCodeBadRequest, "неизвестный тип конверта")
	}

	confirmed, err := s.webhooks.IsSubscriptionConfirmed(ctx, envelope.Topic)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "check subscription")
	}
	if !confirmed {
		// Уведомления из неподтверждённого топика не считаются доверенными.
		metrics.WebhooksTotal.WithLabelValues(envelope.Notification.Category, "unconfirmed_topic").Inc()
		return apperror.New(apperror.ErrCodeForbidden, "топик подписки не подтверждён")
	}

	n := envelope.Notification
	seen, err := s.webhooks.HasEvent(ctx, n.Category, n.ID)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "check event")
	}
	if seen {
		metrics.WebhooksTotal.WithLabelValues(n.Category, "duplicate").Inc()
		return nil
	}

	if err := s.dispatch(ctx, n); err != nil {
		metrics.WebhooksTotal.WithLabelValues(n.Category, "error").Inc()
		return err
	}
	// Дедуп-запись появляется только после применённого перехода: упавшая
	// обработка не оставляет следа, и повтор доставки выполнит её заново.
	if _, err := s.webhooks.RecordEvent(ctx, n.Category, n.ID, body); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "record event")
	}
	metrics.WebhooksTotal.WithLabelValues(n.Category, "ok").Inc()
	return nil
}

// dispatch раскладывает уведомление по категории.
func (s *ReconcileService) dispatch(ctx context.Context, n *processor.Notification) error {
	switch n.Category {
	case processor.NotificationPayment:
		if n.Payment == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление payments без платежа")
		}
		return s.payments.HandleProcessorUpdate(ctx, n.Payment)
	case processor.NotificationSettlement:
		if n.Settlement == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление settlements без пакета")
		}
		return s.payments.HandleSettlement(ctx, n.Settlement.ID)
	case processor.NotificationCard:
		if n.Card == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление cards без карты")
		}
		return s.payments.HandleCardUpdate(ctx, n.Card.ID, n.Card.Status)
	case processor.NotificationPayout:
		if n.Payout == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление payouts без выплаты")
		}
		return s.payouts.HandlePayoutUpdate(ctx, n.Payout)
	case processor.NotificationReturn:
		if n.Return == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление returns без возврата")
		}
		return s.payouts.HandleReturn(ctx, n.Return)
	case processor.NotificationTransfer:
		if n.Transfer == nil {
			return apperror.New(apperror.ErrCodeBadRequest, "уведомление transfers без перевода")
		}
		return s.payouts.HandleWalletTransferUpdate(ctx, n.Transfer)
	default:
		s.log.WithField("category", n.Category).Warn("unknown notification category")
		return nil
	}
}
