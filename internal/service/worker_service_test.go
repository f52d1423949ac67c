package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
	"github.com/kursadbilgin/notification-pipeline/internal/provider"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"go.uber.org/zap"
)

type fakeSender struct {
	sendFn func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error)
}

func (f *fakeSender) Send(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, n)
	}
	return &provider.SendReceipt{}, nil
}

func newTestRegistry(t *testing.T, sender provider.Sender) *provider.Registry {
	t.Helper()

	registry := provider.NewRegistry()
	if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, sender); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return registry
}

func newTestWorker(t *testing.T, repo *fakeNotificationRepo, attempts *fakeAttemptRepo, registry *provider.Registry) *WorkerService {
	t.Helper()

	worker, err := NewWorkerService(
		repo,
		attempts,
		&fakeConsumer{},
		registry,
		&fakeRateLimiter{},
		3,
		time.Second,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	worker.randIntn = func(n int) int { return 0 }
	worker.sleep = func(ctx context.Context, d time.Duration) {}
	return worker
}

func TestWorkerServiceStartConsumesEveryQueue(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	consumed := make(map[string]int)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.TaskHandler) error {
			mu.Lock()
			consumed[queueName]++
			mu.Unlock()
			return nil
		},
	}

	// Concurrency below the queue count must still cover every queue.
	worker, err := NewWorkerService(
		&fakeNotificationRepo{},
		&fakeAttemptRepo{},
		consumer,
		newTestRegistry(t, &fakeSender{}),
		&fakeRateLimiter{},
		2,
		time.Second,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, queueName := range queue.WorkQueueNames() {
		if consumed[queueName] == 0 {
			t.Fatalf("queue %q has no consumer, consumed = %v", queueName, consumed)
		}
	}
}

func TestWorkerServiceProcessTaskSuccess(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.DeliveryAttempt
	var sentMessageID string

	notification := &domain.Notification{
		ID:          "n1",
		Channel:     domain.ChannelSMS,
		Recipient:   "+905551112233",
		Body:        "hello",
		Status:      domain.StatusProcessing,
		Attempts:    1,
		MaxAttempts: 3,
	}

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		markSentFn: func(ctx context.Context, id string, providerMessageID string) error {
			sentMessageID = providerMessageID
			return nil
		},
		markFailedFn: func(ctx context.Context, id string, lastError string) error {
			t.Fatal("MarkFailed should not be called on success")
			return nil
		},
	}
	attemptRepo := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DeliveryAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			return &provider.SendReceipt{
				ProviderMessageID: "provider-123",
				StatusCode:        202,
				Body:              `{"ok":true}`,
			}, nil
		},
	})

	worker := newTestWorker(t, repo, attemptRepo, registry)

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n1",
		Channel:        domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if sentMessageID != "provider-123" {
		t.Fatalf("provider message id = %q, want provider-123", sentMessageID)
	}
	if gotAttempt == nil {
		t.Fatal("attempt should be recorded")
	}
	if gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt number = %d, want 1", gotAttempt.AttemptNumber)
	}
	if gotAttempt.Provider != domain.ProviderTextbee {
		t.Fatalf("attempt provider = %s, want TEXTBEE", gotAttempt.Provider)
	}
	if gotAttempt.StatusCode == nil || *gotAttempt.StatusCode != 202 {
		t.Fatalf("attempt status code = %v, want 202", gotAttempt.StatusCode)
	}
}

func TestWorkerServiceProcessTaskTransientRetry(t *testing.T) {
	t.Parallel()

	var retryCalled bool
	var nextAttemptAt time.Time

	notification := &domain.Notification{
		ID:          "n2",
		Channel:     domain.ChannelSMS,
		Recipient:   "+905551112233",
		Body:        "hello",
		Status:      domain.StatusProcessing,
		Attempts:    1,
		MaxAttempts: 3,
	}

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		markPendingForRetryFn: func(ctx context.Context, id string, lastError string, next time.Time) error {
			retryCalled = true
			nextAttemptAt = next
			if lastError == "" {
				t.Fatal("lastError must be recorded on retry")
			}
			return nil
		},
		markFailedFn: func(ctx context.Context, id string, lastError string) error {
			t.Fatal("MarkFailed should not be called on transient retry")
			return nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			return nil, &provider.ProviderError{
				StatusCode: 500,
				Message:    "temporary failure",
				Transient:  true,
			}
		},
	})

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, registry)

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n2",
		Channel:        domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if !retryCalled {
		t.Fatal("expected retry to be scheduled")
	}

	wantNext := time.Unix(1_700_000_000, 0).UTC().Add(time.Second)
	if !nextAttemptAt.Equal(wantNext) {
		t.Fatalf("nextAttemptAt = %v, want %v", nextAttemptAt, wantNext)
	}
}

func TestWorkerServiceProcessTaskTransientAtMaxAttempts(t *testing.T) {
	t.Parallel()

	var failedCalled bool

	notification := &domain.Notification{
		ID:          "n3",
		Channel:     domain.ChannelSMS,
		Recipient:   "+905551112233",
		Body:        "hello",
		Status:      domain.StatusProcessing,
		Attempts:    3,
		MaxAttempts: 3,
	}

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		markFailedFn: func(ctx context.Context, id string, lastError string) error {
			failedCalled = true
			return nil
		},
		markPendingForRetryFn: func(ctx context.Context, id string, lastError string, next time.Time) error {
			t.Fatal("MarkPendingForRetry should not be called at max attempts")
			return nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			return nil, &provider.ProviderError{
				StatusCode: 503,
				Message:    "temporary failure",
				Transient:  true,
			}
		},
	})

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, registry)

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n3",
		Channel:        domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if !failedCalled {
		t.Fatal("expected notification to be marked FAILED")
	}
}

func TestWorkerServiceProcessTaskPermanentFailure(t *testing.T) {
	t.Parallel()

	var failedError string

	notification := &domain.Notification{
		ID:          "n4",
		Channel:     domain.ChannelSMS,
		Recipient:   "+905551112233",
		Body:        "hello",
		Status:      domain.StatusProcessing,
		Attempts:    1,
		MaxAttempts: 3,
	}

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		markFailedFn: func(ctx context.Context, id string, lastError string) error {
			failedError = lastError
			return nil
		},
		markPendingForRetryFn: func(ctx context.Context, id string, lastError string, next time.Time) error {
			t.Fatal("permanent failures must not schedule a retry")
			return nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			return nil, &provider.ProviderError{
				StatusCode: 400,
				Message:    "invalid recipient",
				Transient:  false,
			}
		},
	})

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, registry)

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n4",
		Channel:        domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if failedError == "" {
		t.Fatal("expected notification to be marked FAILED with the error")
	}
}

func TestWorkerServiceProcessTaskTerminalDuplicateIsAcked(t *testing.T) {
	t.Parallel()

	sendCalled := false
	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			// Terminal records claim to nil without error.
			return nil, nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			sendCalled = true
			return &provider.SendReceipt{}, nil
		},
	})

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, registry)

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n-done",
		Channel:        domain.ChannelSMS,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if sendCalled {
		t.Fatal("terminal duplicate must not trigger a send")
	}
}

func TestWorkerServiceProcessTaskInFlightIsRequeued(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, domain.ErrInFlight
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, newTestRegistry(t, &fakeSender{}))

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n-busy",
		Channel:        domain.ChannelSMS,
	})
	if !errors.Is(err, domain.ErrInFlight) {
		t.Fatalf("processTask() error = %v, want ErrInFlight", err)
	}
}

func TestWorkerServiceProcessTaskInAppIsStoredOnly(t *testing.T) {
	t.Parallel()

	claimCalled := false
	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			claimCalled = true
			return nil, nil
		},
	}

	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, newTestRegistry(t, &fakeSender{}))

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n-inapp",
		Channel:        domain.ChannelInApp,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if claimCalled {
		t.Fatal("in-app tasks must be acknowledged without a claim")
	}
}

func TestWorkerServiceProcessTaskNoProvider(t *testing.T) {
	t.Parallel()

	var failedCalled bool
	notification := &domain.Notification{
		ID:          "n-email",
		Channel:     domain.ChannelEmail,
		Recipient:   "user@example.com",
		Body:        "hello",
		Status:      domain.StatusProcessing,
		Attempts:    1,
		MaxAttempts: 3,
	}

	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return notification, nil
		},
		markFailedFn: func(ctx context.Context, id string, lastError string) error {
			failedCalled = true
			return nil
		},
	}

	// Registry has an SMS sender only; EMAIL resolves to ErrNoProvider.
	worker := newTestWorker(t, repo, &fakeAttemptRepo{}, newTestRegistry(t, &fakeSender{}))

	err := worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n-email",
		Channel:        domain.ChannelEmail,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}
	if !failedCalled {
		t.Fatal("missing provider must fail the notification")
	}
}

func TestWorkerServiceProcessTaskRateLimiterError(t *testing.T) {
	t.Parallel()

	sendCalled := false
	repo := &fakeNotificationRepo{
		claimForDispatchFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{
				ID:          "n-rate-limit",
				Channel:     domain.ChannelSMS,
				Recipient:   "+905551112233",
				Body:        "hello",
				Status:      domain.StatusProcessing,
				Attempts:    1,
				MaxAttempts: 3,
			}, nil
		},
	}
	registry := newTestRegistry(t, &fakeSender{
		sendFn: func(ctx context.Context, n domain.Notification) (*provider.SendReceipt, error) {
			sendCalled = true
			return &provider.SendReceipt{}, nil
		},
	})

	worker, err := NewWorkerService(
		repo,
		&fakeAttemptRepo{},
		&fakeConsumer{},
		registry,
		&fakeRateLimiter{
			waitFn: func(ctx context.Context, channel string) error {
				return errors.New("rate limit wait timeout")
			},
		},
		3,
		time.Second,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	err = worker.processTask(context.Background(), queue.TaskMessage{
		NotificationID: "n-rate-limit",
		Channel:        domain.ChannelSMS,
	})
	if err == nil {
		t.Fatal("processTask() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rate limiter wait failed") {
		t.Fatalf("processTask() error = %v, want rate limiter wait failure", err)
	}
	if sendCalled {
		t.Fatal("sender should not be called when rate limiter fails")
	}
}

func TestWorkerServiceComputeRetryDelay(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(t, &fakeNotificationRepo{}, &fakeAttemptRepo{}, newTestRegistry(t, &fakeSender{}))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 7, want: 60 * time.Second},
		{attempt: 100, want: 60 * time.Second},
	}

	for _, tt := range tests {
		if got := worker.computeRetryDelay(tt.attempt); got != tt.want {
			t.Fatalf("computeRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	worker.randIntn = func(n int) int { return n - 1 }
	if got := worker.computeRetryDelay(1); got != time.Second+250*time.Millisecond {
		t.Fatalf("computeRetryDelay(1) with jitter = %v, want 1.25s", got)
	}
}
