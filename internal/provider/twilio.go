package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

const defaultTwilioTimeout = 10 * time.Second

type twilioMessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSMS sends SMS notifications through the Twilio REST API, preferring
// a messaging service SID over a bare from-number when both are configured.
type TwilioSMS struct {
	api                 twilioMessageAPI
	messagingServiceSID string
	fromNumber          string
}

func NewTwilioSMS(accountSID, authToken, messagingServiceSID, fromNumber string) (*TwilioSMS, error) {
	if strings.TrimSpace(accountSID) == "" || strings.TrimSpace(authToken) == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: strings.TrimSpace(accountSID),
		Password: strings.TrimSpace(authToken),
	})
	client.SetTimeout(defaultTwilioTimeout)

	return NewTwilioSMSWithAPI(client.Api, messagingServiceSID, fromNumber)
}

func NewTwilioSMSWithAPI(api twilioMessageAPI, messagingServiceSID, fromNumber string) (*TwilioSMS, error) {
	if api == nil {
		return nil, fmt.Errorf("twilio api client is required")
	}

	messagingServiceSID = strings.TrimSpace(messagingServiceSID)
	fromNumber = strings.TrimSpace(fromNumber)
	if messagingServiceSID == "" && fromNumber == "" {
		return nil, fmt.Errorf("twilio messaging service sid or from number is required")
	}

	return &TwilioSMS{
		api:                 api,
		messagingServiceSID: messagingServiceSID,
		fromNumber:          fromNumber,
	}, nil
}

func (p *TwilioSMS) Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error) {
	if p == nil || p.api == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(notification.Recipient)
	params.SetBody(notification.Body)
	if p.messagingServiceSID != "" {
		params.SetMessagingServiceSid(p.messagingServiceSID)
	} else {
		params.SetFrom(p.fromNumber)
	}

	message, err := p.api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return nil, &ProviderError{
				StatusCode: restErr.Status,
				Message:    restErr.Message,
				Transient:  isTransientHTTPStatus(restErr.Status),
				Cause:      err,
			}
		}
		return nil, &ProviderError{
			Message:   "twilio request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if message == nil {
		return nil, &ProviderError{
			Message:   "twilio returned empty response",
			Transient: true,
		}
	}

	receipt := &SendReceipt{}
	if message.Sid != nil {
		receipt.ProviderMessageID = *message.Sid
	}
	if message.Status != nil {
		receipt.Body = *message.Status
	}
	return receipt, nil
}
