package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval      = 5 * time.Second
	defaultScanLimit         = 100
	defaultStalePendingAfter = 60 * time.Second
)

// DispatchScanner periodically re-enqueues due notifications: retries whose
// backoff has elapsed, scheduled sends that have come due, stale PENDING
// records whose task was lost between the store write and the publish, and
// PROCESSING records orphaned by a worker crash mid-dispatch.
type DispatchScanner struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	limit         int
	staleAfter    time.Duration
	now           func() time.Time
}

func NewDispatchScanner(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*DispatchScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if staleAfter <= 0 {
		staleAfter = defaultStalePendingAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchScanner{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		staleAfter:    staleAfter,
		now:           time.Now,
	}, nil
}

func (s *DispatchScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DispatchScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due notifications do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("dispatch scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("dispatch scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *DispatchScanner) scanDue(ctx context.Context) error {
	scanTime := s.now().UTC()

	dueNotifications, err := s.notifications.GetDueForDispatch(ctx, s.staleAfter, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due notifications: %w", err)
	}

	for i := range dueNotifications {
		notification := dueNotifications[i]
		if !s.republish(ctx, notification) {
			continue
		}

		// Clearing is bounded to the timestamp the scan matched on, so a
		// backoff written by a worker that already processed the republished
		// task stays intact.
		if err := s.notifications.ClearNextAttemptAt(ctx, notification.ID, scanTime); err != nil {
			s.logger.Error("failed to clear next attempt timestamp after enqueue",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}
	}

	recovered, err := s.notifications.RecoverStaleProcessing(ctx, s.staleAfter, s.limit)
	if err != nil {
		return fmt.Errorf("failed to recover stale processing notifications: %w", err)
	}

	for i := range recovered {
		notification := recovered[i]
		if s.republish(ctx, notification) {
			s.logger.Warn("recovered orphaned in-flight notification",
				zap.String("notificationId", notification.ID),
				zap.Int("attempts", notification.Attempts),
			)
		}
	}

	return nil
}

func (s *DispatchScanner) republish(ctx context.Context, notification domain.Notification) bool {
	msg := queue.TaskMessage{
		NotificationID: notification.ID,
		Channel:        notification.Channel,
	}

	queueName := queue.QueueName(notification.Channel)
	if err := s.publisher.Publish(ctx, queueName, msg); err != nil {
		s.logger.Error("failed to enqueue due notification",
			zap.String("notificationId", notification.ID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return false
	}

	if s.metrics != nil {
		s.metrics.IncScanRepublished(strings.ToLower(notification.Channel.String()))
	}
	return true
}
