package repository

import (
	"time"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                string          `gorm:"type:uuid;primaryKey"`
	Channel           domain.Channel  `gorm:"type:varchar(20);not null"`
	Provider          domain.Provider `gorm:"type:varchar(20)"`
	Recipient         string          `gorm:"type:varchar(255);not null"`
	Subject           *string         `gorm:"type:varchar(255)"`
	Title             *string         `gorm:"type:varchar(255)"`
	Body              string          `gorm:"type:text;not null"`
	BodyHTML          *string         `gorm:"type:text"`
	Status            domain.Status   `gorm:"type:varchar(20);not null"`
	Attempts          int             `gorm:"not null;default:0"`
	MaxAttempts       int             `gorm:"not null;default:3"`
	ProviderMessageID *string         `gorm:"type:varchar(255)"`
	LastError         *string         `gorm:"type:text"`
	NextAttemptAt     *time.Time      `gorm:"type:timestamptz"`
	IdempotencyKey    *string         `gorm:"type:varchar(255)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	NotificationID string          `gorm:"type:uuid;not null"`
	AttemptNumber  int             `gorm:"not null"`
	Provider       domain.Provider `gorm:"type:varchar(20)"`
	StatusCode     *int            `gorm:"type:int"`
	ResponseBody   *string         `gorm:"type:text"`
	Error          *string         `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                n.ID,
		Channel:           n.Channel,
		Provider:          n.Provider,
		Recipient:         n.Recipient,
		Subject:           n.Subject,
		Title:             n.Title,
		Body:              n.Body,
		BodyHTML:          n.BodyHTML,
		Status:            n.Status,
		Attempts:          n.Attempts,
		MaxAttempts:       n.MaxAttempts,
		ProviderMessageID: n.ProviderMessageID,
		LastError:         n.LastError,
		NextAttemptAt:     n.NextAttemptAt,
		IdempotencyKey:    n.IdempotencyKey,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                m.ID,
		Channel:           m.Channel,
		Provider:          m.Provider,
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Title:             m.Title,
		Body:              m.Body,
		BodyHTML:          m.BodyHTML,
		Status:            m.Status,
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		ProviderMessageID: m.ProviderMessageID,
		LastError:         m.LastError,
		NextAttemptAt:     m.NextAttemptAt,
		IdempotencyKey:    m.IdempotencyKey,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Provider:       a.Provider,
		StatusCode:     a.StatusCode,
		ResponseBody:   a.ResponseBody,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Provider:       m.Provider,
		StatusCode:     m.StatusCode,
		ResponseBody:   m.ResponseBody,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}
