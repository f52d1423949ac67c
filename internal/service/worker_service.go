package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/provider"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/ratelimit"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency    = 1
	maxRetryDelay           = 60 * time.Second
	baseRetryDelay          = time.Second
	maxRetryJitterMillis    = 250
	inFlightRedeliveryDelay = 500 * time.Millisecond
	defaultSendTimeout      = 10 * time.Second
)

// WorkerService consumes dispatch tasks, resolves a provider, sends, and
// drives the notification status machine.
type WorkerService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	consumer      queue.Consumer
	registry      *provider.Registry
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	sendTimeout   time.Duration
	now           func() time.Time
	randIntn      func(n int) int
	sleep         func(ctx context.Context, d time.Duration)
}

func NewWorkerService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	registry *provider.Registry,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*WorkerService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		notifications: notifications,
		attempts:      attempts,
		consumer:      consumer,
		registry:      registry,
		rateLimiter:   rateLimiter,
		logger:        logger,
		concurrency:   concurrency,
		sendTimeout:   sendTimeout,
		now:           time.Now,
		randIntn:      rand.Intn,
		sleep:         sleepFor,
	}, nil
}

// Start consumes channel queues and processes dispatch tasks until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// Every queue needs at least one consumer; otherwise low concurrency
	// settings would starve the later channels and their tasks would sit
	// unconsumed forever.
	consumers := s.concurrency
	if consumers < len(queueNames) {
		consumers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processTask)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processTask(ctx context.Context, msg queue.TaskMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.NotificationID)
	logger := observability.WithContextLogger(s.logger, ctx)

	// In-app notifications are read from the store by clients; there is
	// nothing to dispatch, so the task is acknowledged without a claim.
	if msg.Channel == domain.ChannelInApp {
		logger.Debug("in-app notification stored, no dispatch",
			zap.String("notificationId", msg.NotificationID),
		)
		return nil
	}

	notification, err := s.notifications.ClaimForDispatch(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification not found during claim, skipping",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		if errors.Is(err, domain.ErrInFlight) {
			// Another worker holds the record; let the redelivery retry
			// after a short pause instead of spinning.
			s.sleep(ctx, inFlightRedeliveryDelay)
			return err
		}
		return fmt.Errorf("failed to claim notification for dispatch: %w", err)
	}

	// Nil means the record already reached a terminal state; ack the
	// duplicate delivery and skip.
	if notification == nil {
		return nil
	}

	channelName := strings.ToLower(notification.Channel.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	sender, providerKey, err := s.registry.Resolve(notification.Channel, notification.Provider)
	if err != nil {
		if recordErr := s.recordAttempt(ctx, notification, providerKey, nil, err); recordErr != nil {
			return fmt.Errorf("failed to record attempt: %w", recordErr)
		}
		if markErr := s.notifications.MarkFailed(ctx, notification.ID, err.Error()); markErr != nil {
			return fmt.Errorf("failed to update notification status to failed: %w", markErr)
		}
		if s.metrics != nil {
			s.metrics.IncNotificationFailed(channelName, "no_provider")
		}
		logger.Error("no provider available",
			zap.String("notificationId", notification.ID),
			zap.String("channel", channelName),
			zap.Error(err),
		)
		return nil
	}

	sendStart := s.now()
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	receipt, sendErr := sender.Send(sendCtx, *notification)
	cancel()
	if s.metrics != nil {
		s.metrics.ObserveNotificationSendDuration(channelName, s.now().Sub(sendStart))
	}

	if err := s.recordAttempt(ctx, notification, providerKey, receipt, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if sendErr == nil {
		providerMessageID := ""
		if receipt != nil {
			providerMessageID = strings.TrimSpace(receipt.ProviderMessageID)
		}
		if err := s.notifications.MarkSent(ctx, notification.ID, providerMessageID); err != nil {
			return fmt.Errorf("failed to update notification status to sent: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncNotificationSent(channelName)
		}
		return nil
	}

	isTransient := provider.IsTransient(sendErr)
	maxAttempts := notification.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if isTransient && notification.Attempts < maxAttempts {
		nextAttemptAt := s.now().UTC().Add(s.computeRetryDelay(notification.Attempts))
		if err := s.notifications.MarkPendingForRetry(ctx, notification.ID, sendErr.Error(), nextAttemptAt); err != nil {
			return fmt.Errorf("failed to update notification for retry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(channelName)
		}
		logger.Warn("send failed, retry scheduled",
			zap.String("notificationId", notification.ID),
			zap.Int("attempt", notification.Attempts),
			zap.Time("nextAttemptAt", nextAttemptAt),
			zap.Error(sendErr),
		)
		return nil
	}

	if err := s.notifications.MarkFailed(ctx, notification.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to update notification status to failed: %w", err)
	}
	if s.metrics != nil {
		reason := "permanent_error"
		if isTransient {
			reason = "retry_exhausted"
		}
		s.metrics.IncNotificationFailed(channelName, reason)
	}
	logger.Error("send failed permanently",
		zap.String("notificationId", notification.ID),
		zap.Int("attempt", notification.Attempts),
		zap.Bool("transient", isTransient),
		zap.Error(sendErr),
	)

	return nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	notification *domain.Notification,
	providerKey domain.Provider,
	receipt *provider.SendReceipt,
	sendErr error,
) error {
	if s.attempts == nil {
		return nil
	}

	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if receipt != nil {
		if receipt.StatusCode > 0 {
			value := receipt.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(receipt.Body); body != "" {
			value := receipt.Body
			responseBody = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && statusCode == nil {
			value := providerErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: notification.ID,
		AttemptNumber:  notification.Attempts,
		Provider:       providerKey,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		Error:          attemptErr,
		CreatedAt:      s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}

func sleepFor(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
