package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
)

// Currency maps an ISO-like currency code to its minor-unit scale, e.g.
// USD -> 2 (cents), JPY -> 0, KWD -> 3. All monetary amounts in this codebase
// are int64 values in the smallest currency unit.
type Currency struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Code          string    `gorm:"index;size:3;not null" json:"code" binding:"required"`
	Name          string    `gorm:"size:100;not null" json:"name" binding:"required"`
	DecimalPlaces int       `gorm:"not null;default:2" json:"decimal_places"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCurrency struct {
	Code          string `json:"code" binding:"required,len=3"`
	Name          string `json:"name" binding:"required"`
	DecimalPlaces int    `json:"decimal_places" binding:"min=0,max=4"`
}

func CreateCurrency(ctx context.Context, input *NewCurrency) (*Currency, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}

	if err := utils.ValidateUnique[Currency](ctx, businessId, "code", input.Code, nil); err != nil {
		return nil, err
	}

	currency := Currency{
		BusinessId:    businessId,
		Code:          input.Code,
		Name:          input.Name,
		DecimalPlaces: input.DecimalPlaces,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&currency).Error; err != nil {
		return nil, err
	}
	// drop the cached scale map for this business
	_ = config.RemoveRedisKey("currencyScaleMap:" + businessId)
	return &currency, nil
}

// MinorUnitScale returns the decimal places configured for a currency code,
// redis or db. Unknown codes default to 2.
func MinorUnitScale(ctx context.Context, businessId string, code string) (int, error) {
	scales := make(map[string]int)
	redisKey := "currencyScaleMap:" + businessId
	exists, err := config.GetRedisObject(redisKey, &scales)
	if err != nil {
		return 0, err
	}
	if !exists {
		var currencies []*Currency
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("business_id = ?", businessId).Find(&currencies).Error; err != nil {
			return 0, err
		}
		for _, c := range currencies {
			scales[c.Code] = c.DecimalPlaces
		}
		if err := config.SetRedisObject(redisKey, &scales, 0); err != nil {
			return 0, err
		}
	}

	scale, ok := scales[code]
	if !ok {
		return 2, nil
	}
	return scale, nil
}

// MinorUnitFactor returns 10^scale for a currency, the value of one major
// unit in minor units. Used by the tolerance default (minor unit × 100).
func MinorUnitFactor(scale int) int64 {
	f := int64(1)
	for i := 0; i < scale; i++ {
		f *= 10
	}
	return f
}
