package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReconciliationMatch binds one statement line to exactly one internal
// entity. At most one Confirmed match may exist per line; the invariant is
// enforced by the conditional sub-state flip in the confirming transaction.
type ReconciliationMatch struct {
	ID           string      `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId   string      `gorm:"size:64;index;not null" json:"business_id"`
	SessionId    string      `gorm:"type:char(36);index;not null" json:"session_id"`
	LineId       string      `gorm:"type:char(36);index;not null" json:"line_id"`
	EntityKind   EntityKind  `gorm:"size:30;not null" json:"entity_kind"`
	EntityId     string      `gorm:"type:char(36);not null" json:"entity_id"`
	LineAmount   int64       `gorm:"not null" json:"line_amount"`
	EntityAmount int64       `gorm:"not null" json:"entity_amount"`
	Difference   int64       `gorm:"not null" json:"difference"`
	Currency     string      `gorm:"size:3;not null" json:"currency"`
	Rule         MatchRule   `gorm:"size:30;not null" json:"rule"`
	Confidence   float64     `gorm:"not null" json:"confidence"`
	Tolerance    int64       `gorm:"not null;default:0" json:"tolerance"`
	ContraEntry  bool        `gorm:"not null;default:false" json:"contra_entry"`
	Status       MatchStatus `gorm:"size:20;not null;index" json:"status"`
	OperatorId   string      `gorm:"size:64" json:"operator_id"`
	ConfirmedAt  *time.Time  `json:"confirmed_at"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetReconciliationMatch(ctx context.Context, id string) (*ReconciliationMatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	return utils.FetchModel[ReconciliationMatch](ctx, businessId, id)
}

func ListSessionMatches(ctx context.Context, sessionId string, status *MatchStatus) ([]ReconciliationMatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	var matches []ReconciliationMatch
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ? AND session_id = ?", businessId, sessionId)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("created_at").Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

// CreateProposedMatch writes a Proposed match and flips the line to
// ProposedMatch in one transaction. The flip is conditional on the line still
// being Unmatched, so a crash mid auto-match never leaves a Proposed match
// against a line whose sub-state did not move.
func CreateProposedMatch(tx *gorm.DB, ctx context.Context, match *ReconciliationMatch) error {
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	match.Status = MatchStatusProposed

	res := tx.WithContext(ctx).Model(&BankStatementLine{}).
		Where("business_id = ? AND id = ? AND status = ?", match.BusinessId, match.LineId, LineStatusUnmatched).
		Updates(map[string]interface{}{
			"status":              LineStatusProposedMatch,
			"matched_entity_kind": match.EntityKind,
			"matched_entity_id":   match.EntityId,
			"match_confidence":    match.Confidence,
			"match_rule":          match.Rule,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("AlreadyMatched", "line %s is no longer unmatched", match.LineId)
	}
	return tx.WithContext(ctx).Create(match).Error
}

// ConfirmProposedMatch promotes Proposed to Confirmed and flips the line to
// Matched, both conditionally, in the caller's transaction. The loser of a
// concurrent confirm race sees zero affected rows and gets AlreadyMatched.
func ConfirmProposedMatch(tx *gorm.DB, ctx context.Context, match *ReconciliationMatch, operatorId string) error {
	now := config.GetClock().Now()

	res := tx.WithContext(ctx).Model(&BankStatementLine{}).
		Where("business_id = ? AND id = ? AND status = ?", match.BusinessId, match.LineId, LineStatusProposedMatch).
		Updates(map[string]interface{}{
			"status":         LineStatusMatched,
			"matched_amount": match.LineAmount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("AlreadyMatched", "line %s already has a confirmed match", match.LineId)
	}

	res = tx.WithContext(ctx).Model(&ReconciliationMatch{}).
		Where("business_id = ? AND id = ? AND status = ?", match.BusinessId, match.ID, MatchStatusProposed).
		Updates(map[string]interface{}{
			"status":       MatchStatusConfirmed,
			"operator_id":  operatorId,
			"confirmed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("AlreadyMatched", "match %s is not proposed", match.ID)
	}
	return nil
}

// RejectProposedMatch marks a Proposed match Rejected and returns the line to
// Unmatched, clearing the proposal fields.
func RejectProposedMatch(tx *gorm.DB, ctx context.Context, match *ReconciliationMatch) error {
	res := tx.WithContext(ctx).Model(&ReconciliationMatch{}).
		Where("business_id = ? AND id = ? AND status = ?", match.BusinessId, match.ID, MatchStatusProposed).
		Update("status", MatchStatusRejected)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("MatchNotProposed", "match %s is not proposed", match.ID)
	}

	return tx.WithContext(ctx).Model(&BankStatementLine{}).
		Where("business_id = ? AND id = ? AND status = ?", match.BusinessId, match.LineId, LineStatusProposedMatch).
		Updates(map[string]interface{}{
			"status":              LineStatusUnmatched,
			"matched_entity_kind": nil,
			"matched_entity_id":   nil,
			"matched_amount":      nil,
			"match_confidence":    nil,
			"match_rule":          nil,
		}).Error
}
