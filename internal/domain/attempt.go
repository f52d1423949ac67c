package domain

import "time"

// DeliveryAttempt records a single provider invocation for a notification.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Provider       Provider
	StatusCode     *int
	ResponseBody   *string
	Error          *string
	CreatedAt      time.Time
}
