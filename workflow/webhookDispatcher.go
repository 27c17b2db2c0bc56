package workflow

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"github.com/sirupsen/logrus"
)

// DeliveryDecision is what one attempt's outcome means for the delivery row.
type DeliveryDecision int

const (
	DecisionDeliver DeliveryDecision = iota
	DecisionRetry
	DecisionAbandon
)

// Terminal reports whether the decision ends the delivery. Endpoint
// success/failure counters move only on terminal decisions so a delivery
// contributes at most one outcome regardless of how often it retried.
func (d DeliveryDecision) Terminal() bool {
	return d == DecisionDeliver || d == DecisionAbandon
}

// RetryDelay computes the backoff before attempt n (n >= 1):
// min(initial * multiplier^(n-1), max).
func RetryDelay(policy models.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delayMs := float64(policy.InitialDelayMs) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if delayMs > float64(policy.MaxDelayMs) {
		delayMs = float64(policy.MaxDelayMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

// ClassifyResponse maps an attempt's observation to a decision. statusCode 0
// means the request never produced a response (timeout, connection error).
// 4xx other than 408 and 429 is a permanent client error; everything else
// retries until attempts run out.
func ClassifyResponse(statusCode int, attempt int, maxAttempts int) DeliveryDecision {
	if statusCode >= 200 && statusCode < 300 {
		return DecisionDeliver
	}
	if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusRequestTimeout && statusCode != http.StatusTooManyRequests {
		return DecisionAbandon
	}
	if attempt < maxAttempts {
		return DecisionRetry
	}
	return DecisionAbandon
}

// WebhookDispatcher drives Pending/Retrying deliveries to a terminal state.
// One claimer leases due rows; a bounded pool of senders performs the HTTP
// requests.
type WebhookDispatcher struct {
	Logger           *logrus.Logger
	Client           *http.Client
	BatchSize        int
	WorkerCount      int
	Interval         time.Duration
	ReapGrace        time.Duration
	DisableThreshold int
}

func NewWebhookDispatcher(logger *logrus.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		Logger:           logger,
		Client:           &http.Client{},
		BatchSize:        50,
		WorkerCount:      8,
		Interval:         2 * time.Second,
		ReapGrace:        5 * time.Minute,
		DisableThreshold: models.DefaultDisableThreshold,
	}
}

// Run polls until the context is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := models.ReapStuckDeliveries(ctx, d.ReapGrace); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "Run", "reaping stuck deliveries", nil, err)
		}
		if _, err := d.DispatchDue(ctx, d.BatchSize); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "Run", "dispatching due deliveries", nil, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.Interval):
		}
	}
}

// DispatchDue claims up to limit due deliveries and processes each exactly
// once across the sender pool. Returns how many were claimed.
func (d *WebhookDispatcher) DispatchDue(ctx context.Context, limit int) (int, error) {
	claimed, err := models.ClaimDueDeliveries(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	queue := make(chan models.WebhookDelivery)
	var wg sync.WaitGroup
	workers := d.WorkerCount
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range queue {
				d.processDelivery(ctx, delivery)
			}
		}()
	}
	for _, delivery := range claimed {
		queue <- delivery
	}
	close(queue)
	wg.Wait()
	return len(claimed), nil
}

func (d *WebhookDispatcher) processDelivery(ctx context.Context, delivery models.WebhookDelivery) {
	if delivery.AttemptNumber > delivery.MaxAttempts {
		outcome := models.AttemptOutcome{ErrorMessage: "attempt budget exhausted"}
		if err := models.MarkAbandoned(ctx, &delivery, outcome); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "processDelivery", "abandoning over-budget delivery", delivery.ID, err)
			return
		}
		if err := models.RecordDeliveryOutcome(ctx, delivery.EndpointId, delivery.BusinessId,
			false, d.DisableThreshold); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "processDelivery", "updating endpoint counters", delivery.EndpointId, err)
		}
		return
	}

	db := config.GetDB()
	var endpoint models.WebhookEndpoint
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", delivery.BusinessId, delivery.EndpointId).
		First(&endpoint).Error; err != nil {
		outcome := models.AttemptOutcome{ErrorMessage: "endpoint no longer exists"}
		if err := models.MarkAbandoned(ctx, &delivery, outcome); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "processDelivery", "abandoning orphan delivery", delivery.ID, err)
		}
		return
	}

	outcome := d.sendOnce(ctx, &delivery, &endpoint)

	statusCode := 0
	if outcome.ResponseStatus != nil {
		statusCode = *outcome.ResponseStatus
	}
	decision := ClassifyResponse(statusCode, delivery.AttemptNumber, delivery.MaxAttempts)

	var err error
	switch decision {
	case DecisionDeliver:
		err = models.MarkDelivered(ctx, &delivery, outcome)
	case DecisionRetry:
		delay := RetryDelay(delivery.Policy(), delivery.AttemptNumber)
		err = models.MarkRetrying(ctx, &delivery, config.GetClock().Now().Add(delay), outcome)
	case DecisionAbandon:
		err = models.MarkAbandoned(ctx, &delivery, outcome)
	}
	if err != nil {
		config.LogError(d.Logger, "webhookDispatcher.go", "processDelivery", "recording attempt outcome", delivery.ID, err)
		return
	}

	if decision.Terminal() {
		if err := models.RecordDeliveryOutcome(ctx, endpoint.ID, delivery.BusinessId,
			decision == DecisionDeliver, d.DisableThreshold); err != nil {
			config.LogError(d.Logger, "webhookDispatcher.go", "processDelivery", "updating endpoint counters", endpoint.ID, err)
		}
	}

	d.Logger.WithFields(logrus.Fields{
		"delivery_id": delivery.ID,
		"endpoint_id": endpoint.ID,
		"event_type":  delivery.EventType,
		"attempt":     delivery.AttemptNumber,
		"status_code": statusCode,
		"decision":    decision,
		"duration_ms": outcome.DurationMs,
	}).Info("webhook attempt finished")
}

// sendOnce performs the HTTP request for one attempt, signing with the secret
// observed now; rotation mid-flight is safe because each attempt re-reads it.
func (d *WebhookDispatcher) sendOnce(ctx context.Context, delivery *models.WebhookDelivery, endpoint *models.WebhookEndpoint) models.AttemptOutcome {
	timeout := time.Duration(delivery.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(models.DefaultEndpointTimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.Url, bytes.NewReader(delivery.PayloadJSON))
	if err != nil {
		return models.AttemptOutcome{ErrorMessage: err.Error()}
	}

	now := config.GetClock().Now()
	timestamp := now.Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookSignature, SignPayload(endpoint.Secret, timestamp, delivery.PayloadJSON))
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderWebhookEvent, delivery.EventType)
	req.Header.Set(HeaderWebhookDelivery, delivery.ID)
	for k, v := range endpoint.Headers() {
		req.Header.Set(k, v)
	}
	switch endpoint.AuthMode {
	case models.EndpointAuthBasic:
		req.SetBasicAuth(endpoint.AuthUsername, endpoint.AuthPassword)
	case models.EndpointAuthBearer:
		req.Header.Set("Authorization", "Bearer "+endpoint.AuthToken)
	case models.EndpointAuthApiKey:
		if endpoint.ApiKeyHeader != "" {
			req.Header.Set(endpoint.ApiKeyHeader, endpoint.ApiKeyValue)
		}
	}

	started := time.Now()
	resp, err := d.Client.Do(req)
	duration := time.Since(started).Milliseconds()
	if err != nil {
		return models.AttemptOutcome{DurationMs: duration, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, models.ResponseBodyLimit))
	status := resp.StatusCode
	return models.AttemptOutcome{
		ResponseStatus: &status,
		ResponseBody:   string(body),
		DurationMs:     duration,
	}
}
