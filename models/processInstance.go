package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
)

// ProcessInstance is one end-to-end case keyed by the caller-supplied
// case id, unique per process.
type ProcessInstance struct {
	ID         string         `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId string         `gorm:"size:64;index;not null" json:"business_id"`
	ProcessId  string         `gorm:"type:char(36);not null;index:uniq_case,unique" json:"process_id"`
	CaseId     string         `gorm:"size:255;not null;index:uniq_case,unique" json:"case_id"`
	Status     InstanceStatus `gorm:"size:20;not null;index" json:"status"`
	StartTime  time.Time      `gorm:"not null;index" json:"start_time"`
	EndTime    *time.Time     `json:"end_time"`
	DurationMs *int64         `json:"duration_ms"`
	VariantId  *string        `gorm:"type:char(36)" json:"variant_id"`
	EventCount int            `gorm:"not null;default:0" json:"event_count"`
	// LastSequence is the insertion-order counter that breaks timestamp ties
	// within the case.
	LastSequence int       `gorm:"not null;default:0" json:"last_sequence"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProcessInstance(ctx context.Context, id string) (*ProcessInstance, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	return utils.FetchModel[ProcessInstance](ctx, businessId, id)
}

func FindInstanceByCase(ctx context.Context, businessId string, processId string, caseId string) (*ProcessInstance, error) {
	var instance ProcessInstance
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND process_id = ? AND case_id = ?", businessId, processId, caseId).
		First(&instance).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &instance, nil
}

// InstanceIdsForWindow lists instance ids whose events intersect the window,
// ordered by start time. Discovery streams one instance at a time off this
// list instead of loading every event of every case.
func InstanceIdsForWindow(ctx context.Context, businessId string, processId string, windowStart time.Time, windowEnd time.Time) ([]string, error) {
	var ids []string
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&ProcessEvent{}).
		Distinct("instance_id").
		Where("business_id = ? AND process_id = ? AND event_timestamp >= ? AND event_timestamp <= ?",
			businessId, processId, windowStart, windowEnd).
		Pluck("instance_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
