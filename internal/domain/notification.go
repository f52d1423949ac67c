package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions may occur.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransitionTo reports whether the edge s -> next is allowed:
// PENDING -> PROCESSING, PROCESSING -> PENDING | SENT | FAILED.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusPending || next == StatusSent || next == StatusFailed
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelSMS         Channel = "SMS"
	ChannelEmail       Channel = "EMAIL"
	ChannelPushAndroid Channel = "PUSH_ANDROID"
	ChannelInApp       Channel = "IN_APP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPushAndroid, ChannelInApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Provider identifies an external delivery provider. An empty value on a
// notification means the worker applies the channel default.
type Provider string

const (
	ProviderTextbee Provider = "TEXTBEE"
	ProviderTwilio  Provider = "TWILIO"
	ProviderSNS     Provider = "AWS_SNS"
	ProviderSES     Provider = "AWS_SES"
)

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	switch p {
	case ProviderTextbee, ProviderTwilio, ProviderSNS, ProviderSES:
		return true
	}
	return false
}

func ParseProviderFromString(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid provider %q", ErrValidation, s)
	}
	return p, nil
}

// Body limits per channel (in characters).
const (
	MaxSMSBody   = 160
	MaxPushBody  = 240
	MaxEmailBody = 10000
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Notification is the core entity: one message to be delivered through one
// channel. ID is assigned at ingestion and acts as the idempotency key for
// every downstream operation.
type Notification struct {
	ID                string
	Channel           Channel
	Provider          Provider
	Recipient         string
	Subject           *string
	Title             *string
	Body              string
	BodyHTML          *string
	Status            Status
	Attempts          int
	MaxAttempts       int
	ProviderMessageID *string
	LastError         *string
	NextAttemptAt     *time.Time
	IdempotencyKey    *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *Notification) Validate() error {
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if n.Provider != "" && !n.Provider.IsValid() {
		return fmt.Errorf("%w: invalid provider %q", ErrValidation, n.Provider)
	}
	if n.BodyHTML != nil && n.Channel != ChannelEmail {
		return fmt.Errorf("%w: bodyHtml is only supported for EMAIL", ErrValidation)
	}

	bodyLen := len([]rune(n.Body))
	switch n.Channel {
	case ChannelSMS:
		if !phonePattern.MatchString(n.Recipient) {
			return fmt.Errorf("%w: recipient is not a valid phone number", ErrValidation)
		}
		if bodyLen > MaxSMSBody {
			return fmt.Errorf("%w: SMS body exceeds %d characters (got %d)", ErrValidation, MaxSMSBody, bodyLen)
		}
	case ChannelEmail:
		if !emailPattern.MatchString(n.Recipient) {
			return fmt.Errorf("%w: recipient is not a valid email address", ErrValidation)
		}
		if n.Subject == nil || strings.TrimSpace(*n.Subject) == "" {
			return fmt.Errorf("%w: subject is required for EMAIL", ErrValidation)
		}
		if bodyLen > MaxEmailBody {
			return fmt.Errorf("%w: email body exceeds %d characters (got %d)", ErrValidation, MaxEmailBody, bodyLen)
		}
		if n.BodyHTML != nil {
			if htmlLen := len([]rune(*n.BodyHTML)); htmlLen > MaxEmailBody {
				return fmt.Errorf("%w: email HTML body exceeds %d characters (got %d)", ErrValidation, MaxEmailBody, htmlLen)
			}
		}
	case ChannelPushAndroid:
		if bodyLen > MaxPushBody {
			return fmt.Errorf("%w: push body exceeds %d characters (got %d)", ErrValidation, MaxPushBody, bodyLen)
		}
	}

	return nil
}
