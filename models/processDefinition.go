package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
)

// ProcessDefinition names a business process and declares the conformance
// model: expected start/end activities and explicitly forbidden transitions.
type ProcessDefinition struct {
	ID                       string        `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId               string        `gorm:"size:64;index;not null" json:"business_id"`
	Name                     string        `gorm:"size:255;not null" json:"name"`
	Category                 string        `gorm:"size:100" json:"category"`
	Version                  string        `gorm:"size:50" json:"version"`
	Owner                    string        `gorm:"size:64" json:"owner"`
	Status                   ProcessStatus `gorm:"size:20;not null;default:'Active'" json:"status"`
	ExpectedStartJSON        []byte        `gorm:"type:json" json:"expected_start_activities"`
	ExpectedEndJSON          []byte        `gorm:"type:json" json:"expected_end_activities"`
	ForbiddenTransitionsJSON []byte        `gorm:"type:json" json:"forbidden_transitions"`
	AuthorizedResourcesJSON  []byte        `gorm:"type:json" json:"authorized_resources"`
	CreatedAt                time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// ForbiddenTransition is a directly-follows pair the process model bans.
type ForbiddenTransition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p *ProcessDefinition) ExpectedStartActivities() []string {
	var out []string
	_ = json.Unmarshal(p.ExpectedStartJSON, &out)
	return out
}

func (p *ProcessDefinition) ExpectedEndActivities() []string {
	var out []string
	_ = json.Unmarshal(p.ExpectedEndJSON, &out)
	return out
}

func (p *ProcessDefinition) ForbiddenTransitions() []ForbiddenTransition {
	var out []ForbiddenTransition
	_ = json.Unmarshal(p.ForbiddenTransitionsJSON, &out)
	return out
}

// AuthorizedResources maps activity name to the resources allowed to perform
// it. Activities absent from the map accept any performer.
func (p *ProcessDefinition) AuthorizedResources() map[string][]string {
	out := make(map[string][]string)
	if len(p.AuthorizedResourcesJSON) > 0 {
		_ = json.Unmarshal(p.AuthorizedResourcesJSON, &out)
	}
	return out
}

type NewProcessDefinition struct {
	Name                 string                `json:"name" binding:"required"`
	Category             string                `json:"category"`
	Version              string                `json:"version"`
	Owner                string                `json:"owner"`
	ExpectedStart        []string              `json:"expected_start_activities"`
	ExpectedEnd          []string              `json:"expected_end_activities"`
	ForbiddenTransitions []ForbiddenTransition `json:"forbidden_transitions"`
	AuthorizedResources  map[string][]string   `json:"authorized_resources"`
}

func CreateProcessDefinition(ctx context.Context, input *NewProcessDefinition) (*ProcessDefinition, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if err := utils.ValidateUnique[ProcessDefinition](ctx, businessId, "name", input.Name, nil); err != nil {
		return nil, err
	}

	startJSON, _ := json.Marshal(input.ExpectedStart)
	endJSON, _ := json.Marshal(input.ExpectedEnd)
	forbiddenJSON, _ := json.Marshal(input.ForbiddenTransitions)
	resourcesJSON, _ := json.Marshal(input.AuthorizedResources)

	def := ProcessDefinition{
		ID:                       uuid.NewString(),
		BusinessId:               businessId,
		Name:                     input.Name,
		Category:                 input.Category,
		Version:                  input.Version,
		Owner:                    input.Owner,
		Status:                   ProcessStatusActive,
		ExpectedStartJSON:        startJSON,
		ExpectedEndJSON:          endJSON,
		ForbiddenTransitionsJSON: forbiddenJSON,
		AuthorizedResourcesJSON:  resourcesJSON,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&def).Error; err != nil {
		return nil, err
	}
	return &def, nil
}

func GetProcessDefinition(ctx context.Context, id string) (*ProcessDefinition, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	return utils.FetchModel[ProcessDefinition](ctx, businessId, id)
}

func ArchiveProcessDefinition(ctx context.Context, id string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&ProcessDefinition{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("status", ProcessStatusArchived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
