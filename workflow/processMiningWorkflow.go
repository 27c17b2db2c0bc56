package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProcessEventInput is one observed event as delivered by ingest callers and
// the event stream consumer.
type ProcessEventInput struct {
	CaseId       string                  `json:"case_id" binding:"required"`
	ActivityName string                  `json:"activity_name" binding:"required"`
	Timestamp    time.Time               `json:"timestamp" binding:"required"`
	EventType    models.ProcessEventType `json:"event_type"`
	Resource     string                  `json:"resource"`
}

// IngestResult tallies one batch.
type IngestResult struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
	NewCases  int `json:"new_cases"`
}

// IngestEvents groups a batch by case, creates instances for unseen cases and
// appends events in canonical order. Malformed events are skipped with a
// warning and counted; they never abort the batch. Re-ingesting an event the
// unique index already holds counts as a duplicate, making retries safe.
func IngestEvents(ctx context.Context, processId string, batch []ProcessEventInput) (*IngestResult, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	def, err := models.GetProcessDefinition(ctx, processId)
	if err != nil {
		return nil, err
	}
	if def.Status == models.ProcessStatusArchived {
		return nil, utils.NewConflictError("ProcessArchived", "process %s is archived", processId)
	}

	result := IngestResult{}
	byCase := make(map[string][]ProcessEventInput)
	var caseOrder []string
	for _, in := range batch {
		if in.CaseId == "" || in.ActivityName == "" || in.Timestamp.IsZero() {
			logger.WithField("event", in).Warn("skipping malformed process event")
			result.Rejected++
			continue
		}
		if _, seen := byCase[in.CaseId]; !seen {
			caseOrder = append(caseOrder, in.CaseId)
		}
		byCase[in.CaseId] = append(byCase[in.CaseId], in)
	}

	db := config.GetDB()
	endActivities := def.ExpectedEndActivities()

	for _, caseId := range caseOrder {
		caseEvents := byCase[caseId]
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			instance, err := findOrCreateInstance(tx, ctx, businessId, processId, caseId, caseEvents)
			if err != nil {
				return err
			}
			if instance == nil {
				// Instance creation lost a race; retry via the unique index.
				result.Rejected += len(caseEvents)
				return nil
			}

			accepted := 0
			for _, in := range caseEvents {
				eventType := in.EventType
				if eventType == "" {
					eventType = models.ProcessEventTypeComplete
				}
				instance.LastSequence++
				event := models.ProcessEvent{
					ID:             uuid.NewString(),
					BusinessId:     businessId,
					ProcessId:      processId,
					InstanceId:     instance.ID,
					ActivityName:   in.ActivityName,
					EventTimestamp: in.Timestamp,
					EventType:      eventType,
					Sequence:       instance.LastSequence,
					Resource:       in.Resource,
				}
				if err := tx.Create(&event).Error; err != nil {
					if isDuplicateKeyErr(err) {
						instance.LastSequence--
						result.Duplicate++
						continue
					}
					return err
				}
				accepted++
			}
			result.Accepted += accepted
			if accepted == 0 {
				return nil
			}
			return refreshInstance(tx, ctx, instance, endActivities)
		})
		if err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func findOrCreateInstance(tx *gorm.DB, ctx context.Context, businessId string, processId string, caseId string, caseEvents []ProcessEventInput) (*models.ProcessInstance, error) {
	var instance models.ProcessInstance
	err := tx.Where("business_id = ? AND process_id = ? AND case_id = ?", businessId, processId, caseId).
		First(&instance).Error
	if err == nil {
		return &instance, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	earliest := caseEvents[0].Timestamp
	for _, e := range caseEvents[1:] {
		if e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
	}
	instance = models.ProcessInstance{
		ID:         uuid.NewString(),
		BusinessId: businessId,
		ProcessId:  processId,
		CaseId:     caseId,
		Status:     models.InstanceStatusRunning,
		StartTime:  earliest,
	}
	if err := tx.Create(&instance).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return &instance, nil
}

// refreshInstance recomputes the instance's derived fields from its events in
// canonical order and reassigns its variant.
func refreshInstance(tx *gorm.DB, ctx context.Context, instance *models.ProcessInstance, endActivities []string) error {
	var events []models.ProcessEvent
	if err := tx.
		Where("business_id = ? AND instance_id = ?", instance.BusinessId, instance.ID).
		Order("event_timestamp, sequence").
		Find(&events).Error; err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	sequence := models.ActivitySequence(events)
	first := events[0].EventTimestamp
	last := events[len(events)-1].EventTimestamp
	durationMs := last.Sub(first).Milliseconds()

	status := models.InstanceStatusRunning
	var endTime *time.Time
	var durationPtr *int64
	if len(endActivities) > 0 && containsString(endActivities, sequence[len(sequence)-1]) {
		status = models.InstanceStatusCompleted
		endTime = &last
		durationPtr = &durationMs
	}

	variantId, err := assignVariant(tx, instance, sequence, durationMs, status == models.InstanceStatusCompleted)
	if err != nil {
		return err
	}

	return tx.Model(&models.ProcessInstance{}).
		Where("id = ?", instance.ID).
		Updates(map[string]interface{}{
			"start_time":    first,
			"end_time":      endTime,
			"duration_ms":   durationPtr,
			"status":        status,
			"event_count":   len(events),
			"last_sequence": instance.LastSequence,
			"variant_id":    variantId,
		}).Error
}

// assignVariant upserts the variant row for the case's sequence and folds the
// case duration into its statistics. A case whose sequence changed releases
// its previous variant before joining the new one. Hash collisions with a
// different sequence are logged and leave the case without a variant.
func assignVariant(tx *gorm.DB, instance *models.ProcessInstance, sequence []string, durationMs int64, completed bool) (*string, error) {
	if !completed {
		return instance.VariantId, nil
	}
	hash := VariantHash(sequence)

	var variant models.ProcessVariant
	err := tx.Where("business_id = ? AND process_id = ? AND variant_hash = ?",
		instance.BusinessId, instance.ProcessId, hash).
		First(&variant).Error
	if err == gorm.ErrRecordNotFound {
		if err := releaseVariant(tx, instance.VariantId); err != nil {
			return nil, err
		}
		seqJSON, _ := json.Marshal(sequence)
		variant = models.ProcessVariant{
			ID:            uuid.NewString(),
			BusinessId:    instance.BusinessId,
			ProcessId:     instance.ProcessId,
			VariantHash:   hash,
			SequenceJSON:  seqJSON,
			Frequency:     1,
			MinDurationMs: durationMs,
			AvgDurationMs: durationMs,
			MaxDurationMs: durationMs,
		}
		if err := tx.Create(&variant).Error; err != nil {
			return nil, err
		}
		return &variant.ID, nil
	}
	if err != nil {
		return nil, err
	}

	if VariantKey(variant.Sequence()) != VariantKey(sequence) {
		config.GetLogger().WithField("variant_hash", hash).Warn("variant hash collision, case left unassigned")
		if err := releaseVariant(tx, instance.VariantId); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if instance.VariantId != nil && *instance.VariantId == variant.ID {
		return instance.VariantId, nil
	}
	if err := releaseVariant(tx, instance.VariantId); err != nil {
		return nil, err
	}

	newFreq := variant.Frequency + 1
	newAvg := (variant.AvgDurationMs*variant.Frequency + durationMs) / newFreq
	updates := map[string]interface{}{
		"frequency":       newFreq,
		"avg_duration_ms": newAvg,
	}
	if durationMs < variant.MinDurationMs {
		updates["min_duration_ms"] = durationMs
	}
	if durationMs > variant.MaxDurationMs {
		updates["max_duration_ms"] = durationMs
	}
	if err := tx.Model(&models.ProcessVariant{}).Where("id = ?", variant.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &variant.ID, nil
}

// releaseVariant backs the case out of its previous variant when a new event
// changes its sequence. Frequency floors at zero so a double release never
// wraps negative.
func releaseVariant(tx *gorm.DB, variantId *string) error {
	if variantId == nil {
		return nil
	}
	return tx.Model(&models.ProcessVariant{}).
		Where("id = ?", *variantId).
		Update("frequency", gorm.Expr("GREATEST(frequency - 1, 0)")).Error
}

// AnalysisWindow bounds a report.
type AnalysisWindow struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// forEachCaseInWindow streams one case's ordered events at a time to fn.
func forEachCaseInWindow(ctx context.Context, businessId string, processId string, window AnalysisWindow,
	fn func(instance *models.ProcessInstance, events []models.ProcessEvent) error) (rejected int, err error) {

	ids, err := models.InstanceIdsForWindow(ctx, businessId, processId, window.Start, window.End)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		instance, err := utils.FetchModel[models.ProcessInstance](ctx, businessId, id)
		if err != nil {
			rejected++
			continue
		}
		events, err := models.EventsForInstance(ctx, businessId, id)
		if err != nil {
			return rejected, err
		}
		if len(events) == 0 {
			continue
		}
		if err := fn(instance, events); err != nil {
			return rejected, err
		}
	}
	return rejected, nil
}

// Discover computes the discovery snapshot over a window and persists it
// idempotently for (process, window, Discovery).
func Discover(ctx context.Context, processId string, window AnalysisWindow) (*DiscoveryResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if _, err := models.GetProcessDefinition(ctx, processId); err != nil {
		return nil, err
	}

	fold := newDiscoveryFold()
	rejected, err := forEachCaseInWindow(ctx, businessId, processId, window,
		func(_ *models.ProcessInstance, events []models.ProcessEvent) error {
			fold.addCase(models.ActivitySequence(events))
			return nil
		})
	if err != nil {
		return nil, err
	}
	result := fold.finish()
	result.RejectedCases = rejected

	if err := saveReport(ctx, businessId, processId, models.AnalysisTypeDiscovery, window, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AnalyzeBottlenecks ranks activities by waiting time over a window.
func AnalyzeBottlenecks(ctx context.Context, processId string, window AnalysisWindow) (*BottleneckResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if _, err := models.GetProcessDefinition(ctx, processId); err != nil {
		return nil, err
	}

	fold := newBottleneckFold()
	rejected, err := forEachCaseInWindow(ctx, businessId, processId, window,
		func(_ *models.ProcessInstance, events []models.ProcessEvent) error {
			fold.addCase(events)
			return nil
		})
	if err != nil {
		return nil, err
	}
	result := fold.finish()
	result.RejectedCases = rejected

	if err := saveReport(ctx, businessId, processId, models.AnalysisTypeBottleneck, window, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckConformance classifies every case in the window against the process
// definition.
func CheckConformance(ctx context.Context, processId string, window AnalysisWindow) (*ConformanceResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	def, err := models.GetProcessDefinition(ctx, processId)
	if err != nil {
		return nil, err
	}

	result := &ConformanceResult{}
	rejected, err := forEachCaseInWindow(ctx, businessId, processId, window,
		func(instance *models.ProcessInstance, events []models.ProcessEvent) error {
			result.TotalCases++
			deviations := CaseDeviations(def, instance.CaseId, events)
			if len(deviations) == 0 {
				result.ConformantCases++
			} else {
				result.Deviations = append(result.Deviations, deviations...)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	result.RejectedCases = rejected

	if err := saveReport(ctx, businessId, processId, models.AnalysisTypeConformance, window, result); err != nil {
		return nil, err
	}
	return result, nil
}

func saveReport(ctx context.Context, businessId string, processId string, analysisType models.AnalysisType, window AnalysisWindow, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return models.SaveProcessReport(ctx, &models.ProcessReport{
		BusinessId:   businessId,
		ProcessId:    processId,
		AnalysisType: analysisType,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		ResultJSON:   resultJSON,
	})
}

// RecomputeVariantPercentages refreshes each variant's share of the
// process's completed cases. Called after ingest batches by the event
// consumer, not per event.
func RecomputeVariantPercentages(ctx context.Context, processId string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	variants, err := models.ListVariants(ctx, businessId, processId)
	if err != nil {
		return err
	}
	var total int64
	for _, v := range variants {
		total += v.Frequency
	}
	if total == 0 {
		return nil
	}
	db := config.GetDB()
	totalDec := decimal.NewFromInt(total)
	hundred := decimal.NewFromInt(100)
	for _, v := range variants {
		pct := decimal.NewFromInt(v.Frequency).Mul(hundred).Div(totalDec).Round(4)
		if err := db.WithContext(ctx).Model(&models.ProcessVariant{}).
			Where("id = ?", v.ID).
			Update("percentage", pct).Error; err != nil {
			return err
		}
	}
	return nil
}
