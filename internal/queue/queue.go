package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// Publisher publishes task references to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg TaskMessage) error
	Close() error
}

// TaskHandler handles a consumed task reference. A nil return acknowledges
// the message; an error negatively acknowledges it with requeue.
type TaskHandler func(ctx context.Context, msg TaskMessage) error

// Consumer consumes task references from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler TaskHandler) error
	Close() error
}

var supportedChannels = []domain.Channel{
	domain.ChannelSMS,
	domain.ChannelEmail,
	domain.ChannelPushAndroid,
	domain.ChannelInApp,
}

// QueueName returns the channel work queue name, e.g. sms.
func QueueName(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.sms.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", QueueName(channel))
}

// WorkQueueNames returns all channel work queues (4 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns all dead-letter queues (4 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}
