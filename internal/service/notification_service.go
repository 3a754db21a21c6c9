package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// notificationStore — хранилище уведомлений.
type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// pushGateway доставляет уведомление в открытые websocket-сессии пользователя.
type pushGateway interface {
	Send(userID uuid.UUID, payload []byte)
}

// NotificationService сохраняет уведомления и рассылает их в реальном времени.
type NotificationService struct {
	store notificationStore
	push  pushGateway
}

// NewNotificationService создаёт сервис уведомлений. push может быть nil,
// тогда уведомления только сохраняются.
func NewNotificationService(store notificationStore, push pushGateway) *NotificationService {
	return &NotificationService{store: store, push: push}
}

// Notify сохраняет уведомление о событии и пушит его пользователю. Ошибка
// доставки не роняет вызывающий сценарий: уведомление уже в базе.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]any) error {
	body := map[string]any{"event": event}
	for k, v := range data {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "marshal notification")
	}

	notification := &models.Notification{UserID: userID, Payload: payload}
	if err := s.store.Create(ctx, notification); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "save notification")
	}
	if s.push != nil {
		s.push.Send(userID, payload)
	}
	logger.WithComponent("notifications").WithField("event", event).WithField("user_id", userID).Debug("notification sent")
	return nil
}

// List возвращает уведомления пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	items, err := s.store.List(ctx, userID, limit, offset, unreadOnly)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list notifications")
	}
	return items, nil
}

// MarkAsRead помечает уведомление прочитанным.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkAsRead(ctx, id); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeNotFound, "уведомление не найдено")
	}
	return nil
}

// CountUnread возвращает число непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeInternal, "count unread")
	}
	return count, nil
}
