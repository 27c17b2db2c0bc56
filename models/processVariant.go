package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProcessVariant is a deduplicated activity sequence. The hash is a stable
// function of the sequence and nothing else; two cases share a variant iff
// they share a hash (sequence equality is checked on collision).
type ProcessVariant struct {
	ID            string          `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId    string          `gorm:"size:64;index;not null" json:"business_id"`
	ProcessId     string          `gorm:"type:char(36);not null;index:uniq_variant,unique" json:"process_id"`
	VariantHash   string          `gorm:"size:16;not null;index:uniq_variant,unique" json:"variant_hash"`
	SequenceJSON  []byte          `gorm:"type:json" json:"sequence"`
	Frequency     int64           `gorm:"not null;default:0" json:"frequency"`
	Percentage    decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"percentage"`
	MinDurationMs int64           `gorm:"not null;default:0" json:"min_duration_ms"`
	AvgDurationMs int64           `gorm:"not null;default:0" json:"avg_duration_ms"`
	MaxDurationMs int64           `gorm:"not null;default:0" json:"max_duration_ms"`
	IsHappyPath   bool            `gorm:"not null;default:false" json:"is_happy_path"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (v *ProcessVariant) Sequence() []string {
	var seq []string
	_ = json.Unmarshal(v.SequenceJSON, &seq)
	return seq
}

func FindVariantByHash(ctx context.Context, businessId string, processId string, hash string) (*ProcessVariant, error) {
	var variant ProcessVariant
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND process_id = ? AND variant_hash = ?", businessId, processId, hash).
		First(&variant).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &variant, nil
}

// ListVariants returns a process's variants by descending frequency.
func ListVariants(ctx context.Context, businessId string, processId string) ([]ProcessVariant, error) {
	var variants []ProcessVariant
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND process_id = ?", businessId, processId).
		Order("frequency DESC").
		Find(&variants).Error
	if err != nil {
		return nil, err
	}
	return variants, nil
}
