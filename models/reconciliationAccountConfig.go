package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
)

const (
	DefaultDateWindowDays  = 3
	DefaultMinSharedTokens = 2
)

// ReconciliationAccountConfig carries per-account overrides for the match
// rule cascade. Accounts without a row use the defaults.
type ReconciliationAccountConfig struct {
	ID                string    `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId        string    `gorm:"size:64;index;not null" json:"business_id"`
	AccountId         string    `gorm:"type:char(36);not null;uniqueIndex" json:"account_id"`
	DateWindowDays    int       `gorm:"not null;default:3" json:"date_window_days"`
	AmountTolerance   *int64    `json:"amount_tolerance"`
	MinSharedTokens   int       `gorm:"not null;default:2" json:"min_shared_tokens"`
	VarianceTolerance int64     `gorm:"not null;default:0" json:"variance_tolerance"`
	AllowContraEntry  bool      `gorm:"not null;default:false" json:"allow_contra_entry"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReconciliationAccountConfig struct {
	AccountId         string `json:"account_id" binding:"required"`
	DateWindowDays    int    `json:"date_window_days" binding:"min=0,max=31"`
	AmountTolerance   *int64 `json:"amount_tolerance"`
	MinSharedTokens   int    `json:"min_shared_tokens" binding:"min=1,max=10"`
	VarianceTolerance int64  `json:"variance_tolerance" binding:"min=0"`
	AllowContraEntry  bool   `json:"allow_contra_entry"`
}

func UpsertAccountConfig(ctx context.Context, input *NewReconciliationAccountConfig) (*ReconciliationAccountConfig, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if input.DateWindowDays == 0 {
		input.DateWindowDays = DefaultDateWindowDays
	}
	if input.MinSharedTokens == 0 {
		input.MinSharedTokens = DefaultMinSharedTokens
	}

	db := config.GetDB()
	var existing ReconciliationAccountConfig
	err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ?", businessId, input.AccountId).
		First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"date_window_days":   input.DateWindowDays,
			"amount_tolerance":   input.AmountTolerance,
			"min_shared_tokens":  input.MinSharedTokens,
			"variance_tolerance": input.VarianceTolerance,
			"allow_contra_entry": input.AllowContraEntry,
		}
		if err := db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}

	cfg := ReconciliationAccountConfig{
		ID:                uuid.NewString(),
		BusinessId:        businessId,
		AccountId:         input.AccountId,
		DateWindowDays:    input.DateWindowDays,
		AmountTolerance:   input.AmountTolerance,
		MinSharedTokens:   input.MinSharedTokens,
		VarianceTolerance: input.VarianceTolerance,
		AllowContraEntry:  input.AllowContraEntry,
	}
	if err := db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetAccountConfig returns the account's overrides, or the defaults when the
// account has none.
func GetAccountConfig(ctx context.Context, businessId string, accountId string) (*ReconciliationAccountConfig, error) {
	db := config.GetDB()
	var cfg ReconciliationAccountConfig
	err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ?", businessId, accountId).
		First(&cfg).Error
	if err != nil {
		return &ReconciliationAccountConfig{
			BusinessId:      businessId,
			AccountId:       accountId,
			DateWindowDays:  DefaultDateWindowDays,
			MinSharedTokens: DefaultMinSharedTokens,
		}, nil
	}
	return &cfg, nil
}

// EffectiveAmountTolerance resolves the rule-3 tolerance for an amount. The
// default is the lesser of 1% of the amount and the currency's minor unit
// times 100, i.e. one major unit.
func (c *ReconciliationAccountConfig) EffectiveAmountTolerance(amount int64, minorUnitFactor int64) int64 {
	if c.AmountTolerance != nil {
		return *c.AmountTolerance
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	onePercent := abs / 100
	oneMajorUnit := minorUnitFactor
	if onePercent < oneMajorUnit {
		return onePercent
	}
	return oneMajorUnit
}
