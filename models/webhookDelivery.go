package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResponseBodyLimit caps the stored response body.
const ResponseBodyLimit = 4096

// WebhookDelivery is one (endpoint, event) pair driven to a terminal state by
// the dispatcher. The payload and retry policy are snapshots taken at trigger
// time; only status fields mutate afterwards.
type WebhookDelivery struct {
	ID                string         `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId        string         `gorm:"size:64;index;not null" json:"business_id"`
	EndpointId        string         `gorm:"type:char(36);not null;index:uniq_endpoint_event,unique" json:"endpoint_id"`
	EventId           string         `gorm:"type:char(36);not null;index:uniq_endpoint_event,unique;index" json:"event_id"`
	EventType         string         `gorm:"size:100;not null" json:"event_type"`
	PayloadJSON       []byte         `gorm:"type:json" json:"payload"`
	Status            DeliveryStatus `gorm:"size:20;not null;index:idx_delivery_due" json:"status"`
	AttemptNumber     int            `gorm:"not null;default:0" json:"attempt_number"`
	MaxAttempts       int            `gorm:"not null" json:"max_attempts"`
	TimeoutSeconds    int            `gorm:"not null" json:"timeout_seconds"`
	InitialDelayMs    int64          `gorm:"not null" json:"initial_delay_ms"`
	MaxDelayMs        int64          `gorm:"not null" json:"max_delay_ms"`
	BackoffMultiplier float64        `gorm:"not null" json:"backoff_multiplier"`
	NextRetryAt       *time.Time     `gorm:"index:idx_delivery_due" json:"next_retry_at"`
	DeliveredAt       *time.Time     `json:"delivered_at"`
	ResponseStatus    *int           `json:"response_status"`
	ResponseBody      string         `gorm:"size:4096" json:"response_body"`
	DurationMs        int64          `gorm:"not null;default:0" json:"duration_ms"`
	ErrorMessage      string         `gorm:"size:1024" json:"error_message"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// NextAttempt advances the attempt counter without crossing the budget.
// Reaped deliveries re-enter the claim path, so an unclamped increment would
// push attempt_number past max_attempts on the extra claim.
func NextAttempt(attempt int, maxAttempts int) int {
	if attempt+1 > maxAttempts {
		return maxAttempts
	}
	return attempt + 1
}

// Policy reconstructs the retry policy snapshotted at trigger time.
func (d *WebhookDelivery) Policy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       d.MaxAttempts,
		InitialDelayMs:    d.InitialDelayMs,
		MaxDelayMs:        d.MaxDelayMs,
		BackoffMultiplier: d.BackoffMultiplier,
	}
}

// ClaimDueDeliveries leases up to limit due deliveries for one worker pass.
// Rows are locked with SKIP LOCKED so concurrent dispatchers never block each
// other, then flipped to Processing with the attempt number incremented
// inside the same transaction.
func ClaimDueDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	now := config.GetClock().Now()
	db := config.GetDB()

	var claimed []WebhookDelivery
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []WebhookDelivery
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status IN ? AND next_retry_at <= ?",
				[]DeliveryStatus{DeliveryStatusPending, DeliveryStatusRetrying}, now).
			Order("next_retry_at").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]string, 0, len(due))
		for _, d := range due {
			ids = append(ids, d.ID)
		}
		if err := tx.Model(&WebhookDelivery{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":         DeliveryStatusProcessing,
				"attempt_number": gorm.Expr("LEAST(attempt_number + 1, max_attempts)"),
				"next_retry_at":  nil,
			}).Error; err != nil {
			return err
		}
		for i := range due {
			due[i].Status = DeliveryStatusProcessing
			due[i].AttemptNumber = NextAttempt(due[i].AttemptNumber, due[i].MaxAttempts)
			due[i].NextRetryAt = nil
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimDelivery is the single-row variant: the conditional update's affected
// row count decides ownership.
func ClaimDelivery(ctx context.Context, id string) (*WebhookDelivery, bool, error) {
	now := config.GetClock().Now()
	db := config.GetDB()

	res := db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("id = ? AND status IN ? AND next_retry_at <= ?",
			id, []DeliveryStatus{DeliveryStatusPending, DeliveryStatusRetrying}, now).
		Updates(map[string]interface{}{
			"status":         DeliveryStatusProcessing,
			"attempt_number": gorm.Expr("LEAST(attempt_number + 1, max_attempts)"),
			"next_retry_at":  nil,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	var delivery WebhookDelivery
	if err := db.WithContext(ctx).Where("id = ?", id).First(&delivery).Error; err != nil {
		return nil, false, err
	}
	return &delivery, true, nil
}

// AttemptOutcome is what one send attempt observed.
type AttemptOutcome struct {
	ResponseStatus *int
	ResponseBody   string
	DurationMs     int64
	ErrorMessage   string
}

func truncateBody(body string) string {
	if len(body) > ResponseBodyLimit {
		return body[:ResponseBodyLimit]
	}
	return body
}

// MarkDelivered transitions Processing to Delivered. Terminal exactly once:
// the conditional update no-ops when a reaper already moved the row.
func MarkDelivered(ctx context.Context, delivery *WebhookDelivery, outcome AttemptOutcome) error {
	now := config.GetClock().Now()
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("id = ? AND status = ?", delivery.ID, DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":          DeliveryStatusDelivered,
			"delivered_at":    now,
			"next_retry_at":   nil,
			"response_status": outcome.ResponseStatus,
			"response_body":   truncateBody(outcome.ResponseBody),
			"duration_ms":     outcome.DurationMs,
			"error_message":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return MarkEventDelivered(ctx, delivery.BusinessId, delivery.EventId)
}

// MarkRetrying schedules the next attempt.
func MarkRetrying(ctx context.Context, delivery *WebhookDelivery, nextRetryAt time.Time, outcome AttemptOutcome) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("id = ? AND status = ?", delivery.ID, DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":          DeliveryStatusRetrying,
			"next_retry_at":   nextRetryAt,
			"response_status": outcome.ResponseStatus,
			"response_body":   truncateBody(outcome.ResponseBody),
			"duration_ms":     outcome.DurationMs,
			"error_message":   outcome.ErrorMessage,
		}).Error
}

// MarkAbandoned is the failure terminal state.
func MarkAbandoned(ctx context.Context, delivery *WebhookDelivery, outcome AttemptOutcome) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("id = ? AND status = ?", delivery.ID, DeliveryStatusProcessing).
		Updates(map[string]interface{}{
			"status":          DeliveryStatusAbandoned,
			"next_retry_at":   nil,
			"response_status": outcome.ResponseStatus,
			"response_body":   truncateBody(outcome.ResponseBody),
			"duration_ms":     outcome.DurationMs,
			"error_message":   outcome.ErrorMessage,
		}).Error
}

// ReapStuckDeliveries returns deliveries stuck in Processing past the grace
// bound to Retrying so another worker can claim them. The attempt number
// already counted the stuck attempt at claim time.
func ReapStuckDeliveries(ctx context.Context, grace time.Duration) (int64, error) {
	now := config.GetClock().Now()
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("status = ? AND updated_at < ?", DeliveryStatusProcessing, now.Add(-grace)).
		Updates(map[string]interface{}{
			"status":        DeliveryStatusRetrying,
			"next_retry_at": now,
			"error_message": "reaped after processing timeout",
		})
	return res.RowsAffected, res.Error
}

// CountDueDeliveries reports the backlog for monitoring.
func CountDueDeliveries(ctx context.Context) (int64, error) {
	now := config.GetClock().Now()
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&WebhookDelivery{}).
		Where("status IN ? AND next_retry_at <= ?",
			[]DeliveryStatus{DeliveryStatusPending, DeliveryStatusRetrying}, now).
		Count(&count).Error
	return count, err
}
