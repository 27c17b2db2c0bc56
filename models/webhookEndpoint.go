package models

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// Endpoint signing secrets are 32 random bytes, stored hex-encoded.
	EndpointSecretBytes = 32

	DefaultEndpointTimeoutSeconds = 30
	DefaultMaxAttempts            = 5
	DefaultInitialDelayMs         = 1000
	DefaultMaxDelayMs             = 60000
	DefaultBackoffMultiplier      = 2.0

	// Consecutive delivery failures before an endpoint auto-disables.
	DefaultDisableThreshold = 50
)

// RetryPolicy is snapshotted onto each delivery at creation and never
// changes for that delivery's lifetime.
type RetryPolicy struct {
	MaxAttempts       int     `json:"max_attempts" binding:"min=1,max=20"`
	InitialDelayMs    int64   `json:"initial_delay_ms" binding:"min=100"`
	MaxDelayMs        int64   `json:"max_delay_ms" binding:"min=100"`
	BackoffMultiplier float64 `json:"backoff_multiplier" binding:"min=1"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		InitialDelayMs:    DefaultInitialDelayMs,
		MaxDelayMs:        DefaultMaxDelayMs,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

type WebhookEndpoint struct {
	ID                  string           `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId          string           `gorm:"size:64;index;not null" json:"business_id"`
	Name                string           `gorm:"size:255" json:"name"`
	Url                 string           `gorm:"size:2048;not null" json:"url"`
	Secret              string           `gorm:"size:128;not null" json:"-"`
	EventTypesJSON      []byte           `gorm:"type:json" json:"event_types"`
	HeadersJSON         []byte           `gorm:"type:json" json:"headers"`
	AuthMode            EndpointAuthMode `gorm:"size:20;not null;default:'None'" json:"auth_mode"`
	AuthUsername        string           `gorm:"size:255" json:"-"`
	AuthPassword        string           `gorm:"size:255" json:"-"`
	AuthToken           string           `gorm:"size:1024" json:"-"`
	ApiKeyHeader        string           `gorm:"size:255" json:"api_key_header"`
	ApiKeyValue         string           `gorm:"size:1024" json:"-"`
	TimeoutSeconds      int              `gorm:"not null;default:30" json:"timeout_seconds"`
	MaxAttempts         int              `gorm:"not null;default:5" json:"max_attempts"`
	InitialDelayMs      int64            `gorm:"not null;default:1000" json:"initial_delay_ms"`
	MaxDelayMs          int64            `gorm:"not null;default:60000" json:"max_delay_ms"`
	BackoffMultiplier   float64          `gorm:"not null;default:2" json:"backoff_multiplier"`
	Status              EndpointStatus   `gorm:"size:20;not null;index" json:"status"`
	TotalTriggers       int64            `gorm:"not null;default:0" json:"total_triggers"`
	SuccessCount        int64            `gorm:"not null;default:0" json:"success_count"`
	FailureCount        int64            `gorm:"not null;default:0" json:"failure_count"`
	ConsecutiveFailures int              `gorm:"not null;default:0" json:"consecutive_failures"`
	LastTriggeredAt     *time.Time       `json:"last_triggered_at"`
	LastSuccessAt       *time.Time       `json:"last_success_at"`
	LastFailureAt       *time.Time       `json:"last_failure_at"`
	DisabledReason      string           `gorm:"size:255" json:"disabled_reason"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *WebhookEndpoint) EventTypes() []string {
	var types []string
	_ = json.Unmarshal(e.EventTypesJSON, &types)
	return types
}

func (e *WebhookEndpoint) Headers() map[string]string {
	headers := make(map[string]string)
	if len(e.HeadersJSON) > 0 {
		_ = json.Unmarshal(e.HeadersJSON, &headers)
	}
	return headers
}

func (e *WebhookEndpoint) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       e.MaxAttempts,
		InitialDelayMs:    e.InitialDelayMs,
		MaxDelayMs:        e.MaxDelayMs,
		BackoffMultiplier: e.BackoffMultiplier,
	}
}

type NewWebhookEndpoint struct {
	Name           string            `json:"name"`
	Url            string            `json:"url" binding:"required"`
	EventTypes     []string          `json:"event_types" binding:"required,min=1"`
	Headers        map[string]string `json:"headers"`
	AuthMode       EndpointAuthMode  `json:"auth_mode"`
	AuthUsername   string            `json:"auth_username"`
	AuthPassword   string            `json:"auth_password"`
	AuthToken      string            `json:"auth_token"`
	ApiKeyHeader   string            `json:"api_key_header"`
	ApiKeyValue    string            `json:"api_key_value"`
	TimeoutSeconds int               `json:"timeout_seconds" binding:"min=0,max=300"`
	RetryPolicy    *RetryPolicy      `json:"retry_policy"`
}

func subscriberCacheKey(businessId string, eventType string) string {
	return "webhookSubscribers:" + businessId + ":" + eventType
}

func invalidateSubscriberCache(businessId string, eventTypes []string) {
	for _, t := range eventTypes {
		_ = config.RemoveRedisKey(subscriberCacheKey(businessId, t))
	}
}

// RegisterEndpoint validates the URL and subscription set, generates the
// signing secret and creates the endpoint Active. The secret is returned
// exactly once, on the created row.
func RegisterEndpoint(ctx context.Context, input *NewWebhookEndpoint) (*WebhookEndpoint, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	parsed, err := url.Parse(input.Url)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, utils.NewValidationError("InvalidUrl", "endpoint url must be http or https")
	}
	if len(input.EventTypes) == 0 {
		return nil, utils.NewValidationError("EmptyEventTypes", "at least one event type is required")
	}
	if input.AuthMode == "" {
		input.AuthMode = EndpointAuthNone
	}
	if !input.AuthMode.Valid() {
		return nil, utils.NewValidationError("InvalidAuthMode", "unknown auth mode %s", input.AuthMode)
	}

	secret, err := utils.GenerateSecret(EndpointSecretBytes)
	if err != nil {
		return nil, err
	}

	policy := DefaultRetryPolicy()
	if input.RetryPolicy != nil {
		policy = *input.RetryPolicy
	}
	timeout := input.TimeoutSeconds
	if timeout == 0 {
		timeout = DefaultEndpointTimeoutSeconds
	}

	eventTypesJSON, _ := json.Marshal(input.EventTypes)
	headersJSON, _ := json.Marshal(input.Headers)

	endpoint := WebhookEndpoint{
		ID:                uuid.NewString(),
		BusinessId:        businessId,
		Name:              input.Name,
		Url:               input.Url,
		Secret:            secret,
		EventTypesJSON:    eventTypesJSON,
		HeadersJSON:       headersJSON,
		AuthMode:          input.AuthMode,
		AuthUsername:      input.AuthUsername,
		AuthPassword:      input.AuthPassword,
		AuthToken:         input.AuthToken,
		ApiKeyHeader:      input.ApiKeyHeader,
		ApiKeyValue:       input.ApiKeyValue,
		TimeoutSeconds:    timeout,
		MaxAttempts:       policy.MaxAttempts,
		InitialDelayMs:    policy.InitialDelayMs,
		MaxDelayMs:        policy.MaxDelayMs,
		BackoffMultiplier: policy.BackoffMultiplier,
		Status:            EndpointStatusActive,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&endpoint).Error; err != nil {
		return nil, err
	}
	invalidateSubscriberCache(businessId, input.EventTypes)
	return &endpoint, nil
}

func GetWebhookEndpoint(ctx context.Context, id string) (*WebhookEndpoint, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	return utils.FetchModel[WebhookEndpoint](ctx, businessId, id)
}

// RotateSecret stores a new secret and returns it. Deliveries already signed
// with the old secret are unaffected; each attempt signs with the secret it
// reads at send time.
func RotateSecret(ctx context.Context, id string) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", utils.NewValidationError("MissingBusiness", "business id is required")
	}
	secret, err := utils.GenerateSecret(EndpointSecretBytes)
	if err != nil {
		return "", err
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&WebhookEndpoint{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("secret", secret)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", utils.ErrorRecordNotFound
	}
	return secret, nil
}

// DisableEndpoint stops new deliveries from being created; in-flight
// deliveries drain to a terminal state.
func DisableEndpoint(ctx context.Context, id string, reason string) error {
	return setEndpointStatus(ctx, id, EndpointStatusDisabled, reason)
}

// EnableEndpoint is the administrative re-activation after a disable, manual
// or automatic. Resets the consecutive-failure count.
func EnableEndpoint(ctx context.Context, id string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	endpoint, err := utils.FetchModel[WebhookEndpoint](ctx, businessId, id)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Model(&WebhookEndpoint{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Updates(map[string]interface{}{
			"status":               EndpointStatusActive,
			"consecutive_failures": 0,
			"disabled_reason":      "",
		}).Error
	if err != nil {
		return err
	}
	invalidateSubscriberCache(businessId, endpoint.EventTypes())
	return nil
}

func setEndpointStatus(ctx context.Context, id string, status EndpointStatus, reason string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	endpoint, err := utils.FetchModel[WebhookEndpoint](ctx, businessId, id)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).Model(&WebhookEndpoint{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Updates(map[string]interface{}{
			"status":          status,
			"disabled_reason": reason,
		}).Error
	if err != nil {
		return err
	}
	invalidateSubscriberCache(businessId, endpoint.EventTypes())
	return nil
}

// ActiveSubscribers returns the Active endpoints subscribed to an event
// type, redis cache-aside keyed per (business, event type).
func ActiveSubscribers(ctx context.Context, businessId string, eventType string) ([]WebhookEndpoint, error) {
	redisKey := subscriberCacheKey(businessId, eventType)
	var ids []string
	exists, err := config.GetRedisObject(redisKey, &ids)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var endpoints []WebhookEndpoint
	if exists {
		if len(ids) == 0 {
			return nil, nil
		}
		if err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ? AND status = ?", businessId, ids, EndpointStatusActive).
			Find(&endpoints).Error; err != nil {
			return nil, err
		}
		return endpoints, nil
	}

	var all []WebhookEndpoint
	if err := db.WithContext(ctx).
		Where("business_id = ? AND status = ?", businessId, EndpointStatusActive).
		Find(&all).Error; err != nil {
		return nil, err
	}
	ids = []string{}
	for _, e := range all {
		for _, t := range e.EventTypes() {
			if t == eventType {
				ids = append(ids, e.ID)
				endpoints = append(endpoints, e)
				break
			}
		}
	}
	if err := config.SetRedisObject(redisKey, &ids, 10*time.Minute); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// RecordDeliveryOutcome bumps the endpoint counters after a terminal or
// retrying attempt. On success the consecutive-failure streak resets; on
// failure it grows and trips the auto-disable threshold.
func RecordDeliveryOutcome(ctx context.Context, endpointId string, businessId string, success bool, disableThreshold int) error {
	now := config.GetClock().Now()
	db := config.GetDB()

	if success {
		return db.WithContext(ctx).Model(&WebhookEndpoint{}).
			Where("business_id = ? AND id = ?", businessId, endpointId).
			Updates(map[string]interface{}{
				"success_count":        gorm.Expr("success_count + 1"),
				"consecutive_failures": 0,
				"last_success_at":      now,
			}).Error
	}

	if disableThreshold <= 0 {
		disableThreshold = DefaultDisableThreshold
	}
	err := db.WithContext(ctx).Model(&WebhookEndpoint{}).
		Where("business_id = ? AND id = ?", businessId, endpointId).
		Updates(map[string]interface{}{
			"failure_count":        gorm.Expr("failure_count + 1"),
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_failure_at":      now,
		}).Error
	if err != nil {
		return err
	}

	res := db.WithContext(ctx).Model(&WebhookEndpoint{}).
		Where("business_id = ? AND id = ? AND status = ? AND consecutive_failures >= ?",
			businessId, endpointId, EndpointStatusActive, disableThreshold).
		Updates(map[string]interface{}{
			"status":          EndpointStatusDisabled,
			"disabled_reason": "consecutive failure threshold exceeded",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		var endpoint WebhookEndpoint
		if err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, endpointId).
			First(&endpoint).Error; err == nil {
			invalidateSubscriberCache(businessId, endpoint.EventTypes())
		}
	}
	return nil
}
