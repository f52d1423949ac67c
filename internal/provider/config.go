package provider

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// Config carries provider credentials explicitly; adapters receive their
// settings at construction instead of reading ambient globals.
type Config struct {
	TextbeeAPIKey   string
	TextbeeDeviceID string

	TwilioAccountSID          string
	TwilioAuthToken           string
	TwilioMessagingServiceSID string
	TwilioFromNumber          string

	AWSRegion   string
	EmailSender string
	SNSSenderID string
	SNSSMSType  string
}

// BuildRegistry assembles the provider registry from the configured
// credentials. Channels without any configured adapter stay empty; the
// worker surfaces ErrNoProvider per task. The first adapter registered for a
// channel is its default, so Textbee stays the SMS default when configured.
func BuildRegistry(ctx context.Context, cfg Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := NewRegistry()

	if cfg.TextbeeAPIKey != "" && cfg.TextbeeDeviceID != "" {
		textbee, err := NewTextbeeSMS(cfg.TextbeeAPIKey, cfg.TextbeeDeviceID)
		if err != nil {
			return nil, fmt.Errorf("failed to build textbee provider: %w", err)
		}
		if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, textbee); err != nil {
			return nil, err
		}
		logger.Info("provider registered",
			zap.String("channel", domain.ChannelSMS.String()),
			zap.String("provider", domain.ProviderTextbee.String()),
		)
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" &&
		(cfg.TwilioMessagingServiceSID != "" || cfg.TwilioFromNumber != "") {
		twilio, err := NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioMessagingServiceSID, cfg.TwilioFromNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to build twilio provider: %w", err)
		}
		if err := registry.Register(domain.ChannelSMS, domain.ProviderTwilio, twilio); err != nil {
			return nil, err
		}
		logger.Info("provider registered",
			zap.String("channel", domain.ChannelSMS.String()),
			zap.String("provider", domain.ProviderTwilio.String()),
		)
	}

	if strings.TrimSpace(cfg.AWSRegion) != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}

		snsClient := sns.NewFromConfig(awsCfg)

		snsSMS, err := NewSNSSMS(snsClient, cfg.SNSSenderID, cfg.SNSSMSType)
		if err != nil {
			return nil, fmt.Errorf("failed to build sns sms provider: %w", err)
		}
		if err := registry.Register(domain.ChannelSMS, domain.ProviderSNS, snsSMS); err != nil {
			return nil, err
		}

		snsPush, err := NewSNSPush(snsClient)
		if err != nil {
			return nil, fmt.Errorf("failed to build sns push provider: %w", err)
		}
		if err := registry.Register(domain.ChannelPushAndroid, domain.ProviderSNS, snsPush); err != nil {
			return nil, err
		}
		logger.Info("provider registered",
			zap.String("channel", domain.ChannelPushAndroid.String()),
			zap.String("provider", domain.ProviderSNS.String()),
		)

		if cfg.EmailSender != "" {
			sesEmail, err := NewSESEmail(sesv2.NewFromConfig(awsCfg), cfg.EmailSender)
			if err != nil {
				return nil, fmt.Errorf("failed to build ses provider: %w", err)
			}
			if err := registry.Register(domain.ChannelEmail, domain.ProviderSES, sesEmail); err != nil {
				return nil, err
			}
			logger.Info("provider registered",
				zap.String("channel", domain.ChannelEmail.String()),
				zap.String("provider", domain.ProviderSES.String()),
			)
		}
	}

	return registry, nil
}
