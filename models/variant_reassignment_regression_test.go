package models_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"bitbucket.org/mmdatafocus/erp_backend/workflow"
)

// A case that completes, then receives a late event and completes again with
// a longer sequence, moves between variants. The variant it left must give
// its frequency back, or variant percentages drift above 100%.
func TestVariantFrequencyFollowsCaseRemap(t *testing.T) {
	setupIntegrationDB(t)

	businessId := "biz-variant-remap"
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)

	def, err := models.CreateProcessDefinition(ctx, &models.NewProcessDefinition{
		Name:          "Order to Cash",
		ExpectedStart: []string{"Create Order"},
		ExpectedEnd:   []string{"Approve", "Ship"},
	})
	if err != nil {
		t.Fatalf("CreateProcessDefinition: %v", err)
	}

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := workflow.IngestEvents(ctx, def.ID, []workflow.ProcessEventInput{
		{CaseId: "case-1", ActivityName: "Create Order", Timestamp: base},
		{CaseId: "case-1", ActivityName: "Approve", Timestamp: base.Add(time.Hour)},
	}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// The late Ship event re-completes the case on a different sequence.
	if _, err := workflow.IngestEvents(ctx, def.ID, []workflow.ProcessEventInput{
		{CaseId: "case-1", ActivityName: "Ship", Timestamp: base.Add(2 * time.Hour)},
	}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	db := config.GetDB()
	var variants []models.ProcessVariant
	if err := db.WithContext(ctx).Where("process_id = ?", def.ID).Find(&variants).Error; err != nil {
		t.Fatalf("fetch variants: %v", err)
	}
	freqByHash := make(map[string]int64, len(variants))
	for _, v := range variants {
		freqByHash[v.VariantHash] = v.Frequency
	}

	oldHash := workflow.VariantHash([]string{"Create Order", "Approve"})
	newHash := workflow.VariantHash([]string{"Create Order", "Approve", "Ship"})
	if got := freqByHash[oldHash]; got != 0 {
		t.Fatalf("expected the abandoned variant frequency to drop to 0, got %d", got)
	}
	if got := freqByHash[newHash]; got != 1 {
		t.Fatalf("expected the new variant frequency 1, got %d", got)
	}
}
