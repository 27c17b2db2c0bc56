package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is one ingested domain event. The payload is snapshotted onto
// each delivery, so later edits to the event never change what subscribers
// receive.
type WebhookEvent struct {
	ID            string    `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId    string    `gorm:"size:64;index;not null" json:"business_id"`
	EventType     string    `gorm:"size:100;not null;index" json:"event_type"`
	SourceType    string    `gorm:"size:100;not null" json:"source_type"`
	SourceId      string    `gorm:"size:64;not null" json:"source_id"`
	PayloadJSON   []byte    `gorm:"type:json" json:"payload"`
	TriggeredBy   string    `gorm:"size:64" json:"triggered_by"`
	TriggeredAt   time.Time `gorm:"not null;index" json:"triggered_at"`
	Delivered     bool      `gorm:"not null;default:false" json:"delivered"`
	DeliveryCount int       `gorm:"not null;default:0" json:"delivery_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWebhookEvent struct {
	EventType  string      `json:"event_type" binding:"required"`
	SourceType string      `json:"source_type" binding:"required"`
	SourceId   string      `json:"source_id" binding:"required"`
	Payload    interface{} `json:"payload" binding:"required"`
}

// TriggerEvent persists the event, enumerates Active subscribers of its type
// and creates one Pending delivery per subscriber, all in one transaction.
// Returns the created deliveries; none is an empty slice, not an error.
func TriggerEvent(ctx context.Context, input *NewWebhookEvent) (*WebhookEvent, []WebhookDelivery, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	payloadJSON, err := json.Marshal(input.Payload)
	if err != nil {
		return nil, nil, utils.NewValidationError("InvalidPayload", "payload is not serializable: %v", err)
	}

	subscribers, err := ActiveSubscribers(ctx, businessId, input.EventType)
	if err != nil {
		return nil, nil, err
	}

	operatorId, _ := utils.GetOperatorIdFromContext(ctx)
	now := config.GetClock().Now()

	event := WebhookEvent{
		ID:            uuid.NewString(),
		BusinessId:    businessId,
		EventType:     input.EventType,
		SourceType:    input.SourceType,
		SourceId:      input.SourceId,
		PayloadJSON:   payloadJSON,
		TriggeredBy:   operatorId,
		TriggeredAt:   now,
		DeliveryCount: len(subscribers),
	}

	deliveries := make([]WebhookDelivery, 0, len(subscribers))
	for _, sub := range subscribers {
		deliveries = append(deliveries, WebhookDelivery{
			ID:                uuid.NewString(),
			BusinessId:        businessId,
			EndpointId:        sub.ID,
			EventId:           event.ID,
			EventType:         input.EventType,
			PayloadJSON:       payloadJSON,
			Status:            DeliveryStatusPending,
			AttemptNumber:     0,
			MaxAttempts:       sub.MaxAttempts,
			TimeoutSeconds:    sub.TimeoutSeconds,
			InitialDelayMs:    sub.InitialDelayMs,
			MaxDelayMs:        sub.MaxDelayMs,
			BackoffMultiplier: sub.BackoffMultiplier,
			NextRetryAt:       &now,
		})
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		if len(deliveries) > 0 {
			if err := tx.Create(&deliveries).Error; err != nil {
				return err
			}
			ids := make([]string, 0, len(subscribers))
			for _, sub := range subscribers {
				ids = append(ids, sub.ID)
			}
			if err := tx.Model(&WebhookEndpoint{}).
				Where("business_id = ? AND id IN ?", businessId, ids).
				Updates(map[string]interface{}{
					"total_triggers":    gorm.Expr("total_triggers + 1"),
					"last_triggered_at": now,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &event, deliveries, nil
}

// MarkEventDelivered sets the delivered flag once any delivery of the event
// succeeds.
func MarkEventDelivered(ctx context.Context, businessId string, eventId string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("business_id = ? AND id = ?", businessId, eventId).
		Update("delivered", true).Error
}
