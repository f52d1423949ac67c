package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// TaskMessage is the broker payload: the minimal reference needed to look up
// the full notification record. The record itself stays in the status store.
type TaskMessage struct {
	NotificationID string         `json:"notificationId"`
	Channel        domain.Channel `json:"channel"`
}

func (m TaskMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
