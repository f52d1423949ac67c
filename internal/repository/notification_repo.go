package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

type ListParams struct {
	Status   *domain.Status
	Channel  *domain.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	ClaimForDispatch(ctx context.Context, id string) (*domain.Notification, error)
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	MarkPendingForRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
	GetDueForDispatch(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Notification, error)
	ClearNextAttemptAt(ctx context.Context, id string, dueBefore time.Time) error
	RecoverStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

// Delete removes a record whose task was never published. It is the
// compensating action of the accept-and-enqueue step, not a user operation.
func (r *GormNotificationRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// ClaimForDispatch atomically moves a PENDING record to PROCESSING and
// increments its attempt counter. It returns (nil, nil) for records already
// in a terminal state, so redeliveries are acknowledged as no-ops, and
// domain.ErrInFlight when another handler holds the record in PROCESSING.
func (r *GormNotificationRepo) ClaimForDispatch(ctx context.Context, id string) (*domain.Notification, error) {
	var claimed *domain.Notification

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if model.Status.IsTerminal() {
			return nil
		}
		if model.Status == domain.StatusProcessing {
			return domain.ErrInFlight
		}

		result := tx.Model(&NotificationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":   domain.StatusProcessing,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return result.Error
		}

		model.Status = domain.StatusProcessing
		model.Attempts++
		claimed = notificationModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	updates := map[string]any{
		"status":          domain.StatusSent,
		"last_error":      nil,
		"next_attempt_at": nil,
	}
	if providerMessageID != "" {
		updates["provider_message_id"] = providerMessageID
	}
	return r.transitionFromProcessing(ctx, id, domain.StatusSent, updates)
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.transitionFromProcessing(ctx, id, domain.StatusFailed, map[string]any{
		"status":          domain.StatusFailed,
		"last_error":      lastError,
		"next_attempt_at": nil,
	})
}

func (r *GormNotificationRepo) MarkPendingForRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	return r.transitionFromProcessing(ctx, id, domain.StatusPending, map[string]any{
		"status":          domain.StatusPending,
		"last_error":      lastError,
		"next_attempt_at": nextAttemptAt,
	})
}

// transitionFromProcessing applies a PROCESSING -> target update guarded by
// the current status, making re-applied transitions no-ops.
func (r *GormNotificationRepo) transitionFromProcessing(ctx context.Context, id string, target domain.Status, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == target {
		return nil
	}
	return domain.ErrConflict
}

// GetDueForDispatch returns PENDING records whose next attempt time has
// elapsed, plus PENDING records with no scheduled attempt that have not been
// touched for staleAfter (accepted records whose task was lost). IN_APP
// records never dispatch and are excluded.
func (r *GormNotificationRepo) GetDueForDispatch(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Notification, error) {
	now := time.Now().UTC()

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND channel <> ?", domain.StatusPending, domain.ChannelInApp).
		Where("next_attempt_at <= ? OR (next_attempt_at IS NULL AND updated_at <= ?)", now, now.Add(-staleAfter)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

// ClearNextAttemptAt removes the schedule marker after the scanner has
// republished a record. The guard on status and the matched timestamp keeps
// the clear from wiping a fresh backoff set by a worker that already claimed
// and retried the republished task.
func (r *GormNotificationRepo) ClearNextAttemptAt(ctx context.Context, id string, dueBefore time.Time) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", dueBefore).
		Updates(map[string]any{"next_attempt_at": nil}).Error
}

// RecoverStaleProcessing flips PROCESSING records untouched for staleAfter
// back to PENDING so the scanner can republish them. A record can only sit
// in PROCESSING that long if its worker died between the claim and the
// terminal write; staleAfter must exceed the send timeout so a slow in-flight
// send is never stolen.
func (r *GormNotificationRepo) RecoverStaleProcessing(ctx context.Context, staleAfter time.Duration, limit int) ([]domain.Notification, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)

	var recovered []domain.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []NotificationModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND updated_at <= ?", domain.StatusProcessing, cutoff).
			Order("updated_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
		}

		result := tx.Model(&NotificationModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":          domain.StatusPending,
				"next_attempt_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}

		recovered = make([]domain.Notification, 0, len(models))
		for i := range models {
			models[i].Status = domain.StatusPending
			models[i].NextAttemptAt = nil
			recovered = append(recovered, *notificationModelToDomain(&models[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return recovered, nil
}
