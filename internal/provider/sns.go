package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMS sends SMS notifications through AWS SNS.
type SNSSMS struct {
	client   snsAPI
	senderID string
	smsType  string
}

func NewSNSSMS(client snsAPI, senderID, smsType string) (*SNSSMS, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	if strings.TrimSpace(smsType) == "" {
		smsType = "Transactional"
	}

	return &SNSSMS{
		client:   client,
		senderID: strings.TrimSpace(senderID),
		smsType:  smsType,
	}, nil
}

func (p *SNSSMS) Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	attributes := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(p.smsType),
		},
	}
	if p.senderID != "" {
		attributes["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(notification.Recipient),
		Message:           aws.String(notification.Body),
		MessageAttributes: attributes,
	})
	if err != nil {
		return nil, classifyAWSError("sns sms publish failed", err)
	}

	return &SendReceipt{
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}

// SNSPush sends push notifications to an SNS platform endpoint. The endpoint
// ARN is the notification recipient.
type SNSPush struct {
	client snsAPI
}

func NewSNSPush(client snsAPI) (*SNSPush, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	return &SNSPush{client: client}, nil
}

func (p *SNSPush) Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	message, err := buildPushPayload(notification)
	if err != nil {
		return nil, &ProviderError{
			Message: "failed to build push payload",
			Cause:   err,
		}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(notification.Recipient),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return nil, classifyAWSError("sns push publish failed", err)
	}

	return &SendReceipt{
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}

func buildPushPayload(notification domain.Notification) (string, error) {
	gcmNotification := map[string]string{"body": notification.Body}
	if notification.Title != nil && strings.TrimSpace(*notification.Title) != "" {
		gcmNotification["title"] = *notification.Title
	}

	gcm, err := json.Marshal(map[string]any{"notification": gcmNotification})
	if err != nil {
		return "", err
	}

	// SNS requires the per-platform payloads to be JSON-encoded strings.
	payload, err := json.Marshal(map[string]string{
		"default": notification.Body,
		"GCM":     string(gcm),
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

var transientAWSCodes = map[string]struct{}{
	"Throttling":                  {},
	"ThrottlingException":         {},
	"ThrottledException":          {},
	"TooManyRequestsException":    {},
	"ServiceUnavailable":          {},
	"ServiceUnavailableException": {},
	"InternalError":               {},
	"InternalFailure":             {},
	"InternalServerError":         {},
	"RequestTimeout":              {},
}

func classifyAWSError(message string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, throttled := transientAWSCodes[apiErr.ErrorCode()]
		return &ProviderError{
			Message:   fmt.Sprintf("%s: %s", message, apiErr.ErrorCode()),
			Transient: throttled || apiErr.ErrorFault() == smithy.FaultServer,
			Cause:     err,
		}
	}

	return &ProviderError{
		Message:   message,
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
