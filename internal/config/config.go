package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string        `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string        `env:"RABBITMQ_URL,required=true"`
	RedisURL          string        `env:"REDIS_URL,required=true"`
	APIPort           int           `env:"API_PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=16"`
	RateLimitPerSec   int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS,default=3"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`
	ScanInterval      time.Duration `env:"SCAN_INTERVAL,default=5s"`
	ScanLimit         int           `env:"SCAN_LIMIT,default=100"`
	StalePendingAfter time.Duration `env:"STALE_PENDING_AFTER,default=60s"`

	TextbeeAPIKey   string `env:"TEXTBEE_API_KEY"`
	TextbeeDeviceID string `env:"TEXTBEE_DEVICE_ID"`

	TwilioAccountSID          string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken           string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber          string `env:"TWILIO_FROM_NUMBER"`
	TwilioMessagingServiceSID string `env:"TWILIO_MESSAGING_SERVICE_SID"`

	AWSRegion   string `env:"AWS_REGION"`
	EmailSender string `env:"EMAIL_SENDER"`
	SNSSenderID string `env:"SNS_SENDER_ID"`
	SNSSMSType  string `env:"SNS_SMS_TYPE,default=Transactional"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
