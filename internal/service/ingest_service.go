package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxAttempts = 3

// IngestService accepts notification requests, records them durably, and
// enqueues dispatch tasks.
type IngestService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	maxAttempts   int
	now           func() time.Time
}

func NewIngestService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	maxAttempts int,
	logger *zap.Logger,
) (*IngestService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IngestService{
		notifications: notifications,
		attempts:      attempts,
		publisher:     publisher,
		logger:        logger,
		maxAttempts:   maxAttempts,
		now:           time.Now,
	}, nil
}

// Submit validates and persists a notification, then publishes a dispatch
// task. The record is only considered accepted once both the store write and
// the publish succeed; a failed publish rolls the record back so the caller
// can retry the whole submission.
func (s *IngestService) Submit(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.prepareForSubmit(notification); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, notification.IdempotencyKey)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return existing, nil
		}
		return nil, err
	}

	if notification.NextAttemptAt != nil {
		// Scheduled send: the dispatch scanner enqueues it once due.
		s.logger.Info("notification scheduled",
			zap.String("notificationId", notification.ID),
			zap.Time("sendAt", *notification.NextAttemptAt),
		)
		return notification, nil
	}

	msg := queue.TaskMessage{
		NotificationID: notification.ID,
		Channel:        notification.Channel,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(notification.Channel), msg); err != nil {
		s.logger.Error("failed to publish dispatch task",
			zap.String("notificationId", notification.ID),
			zap.String("channel", string(notification.Channel)),
			zap.Error(err),
		)
		if deleteErr := s.notifications.Delete(ctx, notification.ID); deleteErr != nil {
			// The stale record stays PENDING and is picked up by the
			// dispatch scanner once it exceeds the stale threshold.
			s.logger.Error("failed to roll back notification after publish error",
				zap.String("notificationId", notification.ID),
				zap.Error(deleteErr),
			)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	return notification, nil
}

func (s *IngestService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (s *IngestService) GetAttempts(ctx context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	if strings.TrimSpace(notificationID) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notificationID = strings.TrimSpace(notificationID)
	if _, err := s.notifications.GetByID(ctx, notificationID); err != nil {
		return nil, err
	}
	return s.attempts.GetByNotificationID(ctx, notificationID)
}

func (s *IngestService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *IngestService) prepareForSubmit(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.Recipient = strings.TrimSpace(n.Recipient)
	n.Body = strings.TrimSpace(n.Body)
	n.Subject = normalizeOptionalString(n.Subject)
	n.Title = normalizeOptionalString(n.Title)
	if n.BodyHTML != nil && strings.TrimSpace(*n.BodyHTML) == "" {
		n.BodyHTML = nil
	}
	n.IdempotencyKey = normalizeOptionalString(n.IdempotencyKey)

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.Status = domain.StatusPending
	n.Attempts = 0
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = s.maxAttempts
	}
	n.ProviderMessageID = nil
	n.LastError = nil

	// A send time in the past is an immediate send.
	if n.NextAttemptAt != nil && !n.NextAttemptAt.After(s.now().UTC()) {
		n.NextAttemptAt = nil
	}

	return n.Validate()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *IngestService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	idempotencyKey *string,
) (*domain.Notification, bool, error) {
	if idempotencyKey == nil || strings.TrimSpace(*idempotencyKey) == "" {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.notifications.GetByIdempotencyKey(ctx, strings.TrimSpace(*idempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing notification after idempotency conflict: %w", err)
	}
	s.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
