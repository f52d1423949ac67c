package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESEmail sends email notifications through AWS SES v2. The sender address
// must be a verified SES identity.
type SESEmail struct {
	client sesAPI
	sender string
}

func NewSESEmail(client sesAPI, sender string) (*SESEmail, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("sender email is required")
	}

	return &SESEmail{
		client: client,
		sender: strings.TrimSpace(sender),
	}, nil
}

func (p *SESEmail) Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if notification.Subject == nil || strings.TrimSpace(*notification.Subject) == "" {
		return nil, &ProviderError{
			Message: "subject is required for email",
		}
	}

	body := &sestypes.Body{
		Text: &sestypes.Content{Data: aws.String(notification.Body)},
	}
	if notification.BodyHTML != nil && strings.TrimSpace(*notification.BodyHTML) != "" {
		body.Html = &sestypes.Content{Data: aws.String(*notification.BodyHTML)}
	}

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.sender),
		Destination: &sestypes.Destination{
			ToAddresses: []string{notification.Recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(*notification.Subject)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return nil, classifyAWSError("ses send failed", err)
	}

	return &SendReceipt{
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}
