package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessReport stores one derived analysis snapshot. Reports are idempotent
// per (process, window, analysis type): re-running the same window replaces
// the prior row in one transaction.
type ProcessReport struct {
	ID           string       `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId   string       `gorm:"size:64;index;not null" json:"business_id"`
	ProcessId    string       `gorm:"type:char(36);not null;index:uniq_report,unique" json:"process_id"`
	AnalysisType AnalysisType `gorm:"size:20;not null;index:uniq_report,unique" json:"analysis_type"`
	WindowStart  time.Time    `gorm:"not null;index:uniq_report,unique" json:"window_start"`
	WindowEnd    time.Time    `gorm:"not null;index:uniq_report,unique" json:"window_end"`
	ResultJSON   []byte       `gorm:"type:json" json:"result"`
	GeneratedAt  time.Time    `gorm:"not null" json:"generated_at"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaveProcessReport upserts the report row for its (process, window, type)
// key.
func SaveProcessReport(ctx context.Context, report *ProcessReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	report.GeneratedAt = config.GetClock().Now()

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ProcessReport
		err := tx.Where("business_id = ? AND process_id = ? AND analysis_type = ? AND window_start = ? AND window_end = ?",
			report.BusinessId, report.ProcessId, report.AnalysisType, report.WindowStart, report.WindowEnd).
			First(&existing).Error
		if err == nil {
			return tx.Model(&existing).Updates(map[string]interface{}{
				"result_json":  report.ResultJSON,
				"generated_at": report.GeneratedAt,
			}).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(report).Error
	})
}

func GetProcessReport(ctx context.Context, processId string, analysisType AnalysisType, windowStart time.Time, windowEnd time.Time) (*ProcessReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	var report ProcessReport
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND process_id = ? AND analysis_type = ? AND window_start = ? AND window_end = ?",
			businessId, processId, analysisType, windowStart, windowEnd).
		First(&report).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &report, nil
}
