package provider

import (
	"context"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// Sender is the outbound delivery capability implemented by each provider
// adapter. Adapters perform no retries and no status writes; both belong to
// the dispatch worker.
type Sender interface {
	Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error)
}

// SendReceipt stores provider call metadata for audit and persistence.
type SendReceipt struct {
	ProviderMessageID string
	StatusCode        int
	Body              string
}
