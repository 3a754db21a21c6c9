package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/models"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// documentStorage — файловое хранилище документов KYC.
type documentStorage interface {
	Save(userID uuid.UUID, data []byte) (string, error)
}

// verificationStore — метаданные документов.
type verificationStore interface {
	userStore
	CreateVerificationDocument(ctx context.Context, doc *models.VerificationDocument) error
	ListVerificationDocuments(ctx context.Context, userID uuid.UUID) ([]models.VerificationDocument, error)
}

// VerificationService — приём документов проверки личности и вынесение
// решения.
type VerificationService struct {
	users    verificationStore
	storage  documentStorage
	notifier notifier
}

// NewVerificationService создаёт сервис верификации.
func NewVerificationService(users verificationStore, storage documentStorage, notifier notifier) *VerificationService {
	return &VerificationService{users: users, storage: storage, notifier: notifier}
}

// SubmitDocument принимает документ и переводит проверку в pending.
func (s *VerificationService) SubmitDocument(ctx context.Context, userID uuid.UUID, docType string, data []byte) (*models.VerificationDocument, error) {
	if docType == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "тип документа обязателен")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	if user.IsVerified() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "проверка уже пройдена")
	}

	path, err := s.storage.Save(userID, data)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "документ не принят")
	}
	doc := &models.VerificationDocument{UserID: userID, DocType: docType, FilePath: path}
	if err := s.users.CreateVerificationDocument(ctx, doc); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "save document")
	}
	if err := s.users.SetVerificationStatus(ctx, userID, models.VerificationStatusPending); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "set verification status")
	}
	return doc, nil
}

// Documents возвращает документы пользователя.
func (s *VerificationService) Documents(ctx context.Context, userID uuid.UUID) ([]models.VerificationDocument, error) {
	docs, err := s.users.ListVerificationDocuments(ctx, userID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "list documents")
	}
	return docs, nil
}

// Review выносит решение по проверке: approved либо rejected.
func (s *VerificationService) Review(ctx context.Context, userID uuid.UUID, approve bool) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apperror.ErrUserNotFound
	}
	if user.VerificationStatus != models.VerificationStatusPending {
		return apperror.New(apperror.ErrCodeInvalidState, "проверка не ожидает решения")
	}

	status := models.VerificationStatusRejected
	if approve {
		status = models.VerificationStatusApproved
	}
	if err := s.users.SetVerificationStatus(ctx, userID, status); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "set verification status")
	}
	if err := s.notifier.Notify(ctx, userID, "verification_"+status, map[string]any{"status": status}); err != nil {
		return nil
	}
	return nil
}
