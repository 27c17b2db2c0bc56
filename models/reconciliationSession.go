package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
)

// ReconciliationSession is a bounded attempt to reconcile one account across
// [PeriodStart, PeriodEnd]. Counters and variance are recomputed at close.
type ReconciliationSession struct {
	ID                   string        `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId           string        `gorm:"size:64;index;not null" json:"business_id"`
	AccountId            string        `gorm:"type:char(36);not null;index" json:"account_id"`
	StatementId          *string       `gorm:"type:char(36)" json:"statement_id"`
	PeriodStart          time.Time     `gorm:"not null" json:"period_start"`
	PeriodEnd            time.Time     `gorm:"not null" json:"period_end"`
	Currency             string        `gorm:"size:3;not null" json:"currency"`
	Status               SessionStatus `gorm:"size:20;not null;index" json:"status"`
	OpeningBalance       int64         `gorm:"not null" json:"opening_balance"`
	ClosingBalance       int64         `gorm:"not null" json:"closing_balance"`
	CalculatedBalance    int64         `gorm:"not null;default:0" json:"calculated_balance"`
	Variance             int64         `gorm:"not null;default:0" json:"variance"`
	VarianceAcknowledged bool          `gorm:"not null;default:false" json:"variance_acknowledged"`
	TotalLines           int           `gorm:"not null;default:0" json:"total_lines"`
	MatchedCount         int           `gorm:"not null;default:0" json:"matched_count"`
	AutoMatchedCount     int           `gorm:"not null;default:0" json:"auto_matched_count"`
	ManualMatchedCount   int           `gorm:"not null;default:0" json:"manual_matched_count"`
	UnmatchedCount       int           `gorm:"not null;default:0" json:"unmatched_count"`
	ExceptionCount       int           `gorm:"not null;default:0" json:"exception_count"`
	OpenedBy             string        `gorm:"size:64" json:"opened_by"`
	ClosedBy             string        `gorm:"size:64" json:"closed_by"`
	ClosedAt             *time.Time    `json:"closed_at"`
	CreatedAt            time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReconciliationSession struct {
	AccountId      string    `json:"account_id" binding:"required"`
	StatementId    *string   `json:"statement_id"`
	PeriodStart    time.Time `json:"period_start" binding:"required"`
	PeriodEnd      time.Time `json:"period_end" binding:"required"`
	Currency       string    `json:"currency" binding:"required,len=3"`
	OpeningBalance int64     `json:"opening_balance"`
	ClosingBalance int64     `json:"closing_balance"`
}

// OpenSession creates a session in InProgress. Fails OverlappingSession when
// another InProgress session for the account intersects the period.
func OpenSession(ctx context.Context, input *NewReconciliationSession) (*ReconciliationSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if input.PeriodEnd.Before(input.PeriodStart) {
		return nil, utils.NewValidationError("InvalidPeriod", "period end precedes period start")
	}

	count, err := utils.ResourceCountWhere[ReconciliationSession](ctx, businessId,
		"account_id = ? AND status = ? AND period_start <= ? AND period_end >= ?",
		input.AccountId, SessionStatusInProgress, input.PeriodEnd, input.PeriodStart)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("OverlappingSession",
			"an in-progress session for account %s intersects the period", input.AccountId)
	}

	if input.StatementId != nil {
		if err := utils.ValidateResourceId[BankStatement](ctx, businessId, *input.StatementId); err != nil {
			return nil, utils.NewNotFoundError("StatementNotFound", "statement %s not found", *input.StatementId)
		}
	}

	operatorId, _ := utils.GetOperatorIdFromContext(ctx)
	session := ReconciliationSession{
		ID:             uuid.NewString(),
		BusinessId:     businessId,
		AccountId:      input.AccountId,
		StatementId:    input.StatementId,
		PeriodStart:    input.PeriodStart,
		PeriodEnd:      input.PeriodEnd,
		Currency:       input.Currency,
		Status:         SessionStatusInProgress,
		OpeningBalance: input.OpeningBalance,
		ClosingBalance: input.ClosingBalance,
		OpenedBy:       operatorId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func GetReconciliationSession(ctx context.Context, id string) (*ReconciliationSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	return utils.FetchModel[ReconciliationSession](ctx, businessId, id)
}

// SessionCounters is the recomputed close-time summary written by
// CompleteSession in one conditional update.
type SessionCounters struct {
	TotalLines         int
	MatchedCount       int
	AutoMatchedCount   int
	ManualMatchedCount int
	UnmatchedCount     int
	ExceptionCount     int
	CalculatedBalance  int64
	Variance           int64
}

// CompleteSession flips InProgress to Completed in one conditional update and
// writes the final counters. Returns false when the session was not
// InProgress, which callers treat as the idempotent already-closed case.
func CompleteSession(ctx context.Context, id string, counters SessionCounters, acknowledged bool) (bool, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return false, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	operatorId, _ := utils.GetOperatorIdFromContext(ctx)
	now := config.GetClock().Now()

	db := config.GetDB()
	res := db.WithContext(ctx).Model(&ReconciliationSession{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, id, SessionStatusInProgress).
		Updates(map[string]interface{}{
			"status":                SessionStatusCompleted,
			"total_lines":           counters.TotalLines,
			"matched_count":         counters.MatchedCount,
			"auto_matched_count":    counters.AutoMatchedCount,
			"manual_matched_count":  counters.ManualMatchedCount,
			"unmatched_count":       counters.UnmatchedCount,
			"exception_count":       counters.ExceptionCount,
			"calculated_balance":    counters.CalculatedBalance,
			"variance":              counters.Variance,
			"variance_acknowledged": acknowledged,
			"closed_by":             operatorId,
			"closed_at":             now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AbandonSession flips InProgress to Abandoned. Proposed matches belonging to
// the session are rejected by the workflow before this is called.
func AbandonSession(ctx context.Context, id string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&ReconciliationSession{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, id, SessionStatusInProgress).
		Update("status", SessionStatusAbandoned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("SessionNotInProgress", "session %s is not in progress", id)
	}
	return nil
}
