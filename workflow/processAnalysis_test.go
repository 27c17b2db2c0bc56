package workflow

import (
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
)

func TestVariantHash_StableAndOrderSensitive(t *testing.T) {
	a := VariantHash([]string{"Create", "Approve", "Pay"})
	b := VariantHash([]string{"Create", "Approve", "Pay"})
	c := VariantHash([]string{"Create", "Pay", "Approve"})

	if a != b {
		t.Fatalf("hash must be deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("reordered sequence must hash differently")
	}
	if len(a) != 16 {
		t.Fatalf("hash must be 16 hex chars, got %q", a)
	}
	// Concatenation without a separator must not collide.
	if VariantHash([]string{"AB", "C"}) == VariantHash([]string{"A", "BC"}) {
		t.Fatal("separator must keep distinct sequences distinct")
	}
}

func TestDetectLoops(t *testing.T) {
	selfLoops, reworkLoops := DetectLoops([]string{"A", "A", "B"})
	if selfLoops["A"] != 1 || len(reworkLoops) != 0 {
		t.Fatalf("adjacent repetition must be a self-loop: self=%v rework=%v", selfLoops, reworkLoops)
	}

	selfLoops, reworkLoops = DetectLoops([]string{"A", "B", "A", "C"})
	if len(selfLoops) != 0 || reworkLoops["A"] != 1 {
		t.Fatalf("non-adjacent recurrence must be rework: self=%v rework=%v", selfLoops, reworkLoops)
	}
}

func TestDiscoveryFold(t *testing.T) {
	fold := newDiscoveryFold()
	fold.addCase([]string{"Create", "Approve", "Pay"})
	fold.addCase([]string{"Create", "Reject"})
	fold.addCase([]string{"Create", "Approve", "Pay"})
	fold.addCase(nil)

	result := fold.finish()
	if result.TotalCases != 3 {
		t.Fatalf("expected 3 cases, got %d", result.TotalCases)
	}
	if result.TotalEvents != 8 {
		t.Fatalf("expected 8 events, got %d", result.TotalEvents)
	}
	if result.UniqueVariants != 2 {
		t.Fatalf("expected 2 variants, got %d", result.UniqueVariants)
	}
	if result.UniqueActivities != 4 {
		t.Fatalf("expected 4 activities, got %d", result.UniqueActivities)
	}

	var freqSum int64
	for _, n := range result.ActivityFrequency {
		freqSum += n
	}
	if freqSum != int64(result.TotalEvents) {
		t.Fatalf("activity frequencies must sum to total events: %d vs %d", freqSum, result.TotalEvents)
	}
	if result.TransitionFrequency[TransitionLabel("Create", "Approve")] != 2 {
		t.Fatalf("expected Create -> Approve twice, got %d",
			result.TransitionFrequency[TransitionLabel("Create", "Approve")])
	}
	if len(result.StartActivities) != 1 || result.StartActivities[0] != "Create" {
		t.Fatalf("expected single start activity Create, got %v", result.StartActivities)
	}
	if len(result.EndActivities) != 2 {
		t.Fatalf("expected two end activities, got %v", result.EndActivities)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	cases := []struct {
		p        int
		expected int64
	}{
		{50, 50},
		{95, 100},
		{100, 100},
		{1, 10},
	}
	for _, tc := range cases {
		if got := Percentile(sorted, tc.p); got != tc.expected {
			t.Fatalf("Percentile(p=%d) expected %d, got %d", tc.p, tc.expected, got)
		}
	}
	if Percentile(nil, 50) != 0 {
		t.Fatal("empty input must yield 0")
	}
}

func TestBottleneckFold_AttributesWaitToFollowingActivity(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []models.ProcessEvent{
		{ActivityName: "Create", EventTimestamp: base},
		{ActivityName: "Approve", EventTimestamp: base.Add(2 * time.Hour)},
		{ActivityName: "Pay", EventTimestamp: base.Add(3 * time.Hour)},
	}

	fold := newBottleneckFold()
	fold.addCase(events)
	result := fold.finish()

	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	// Ranked worst first.
	if result.Entries[0].Activity != "Approve" {
		t.Fatalf("expected Approve to rank first, got %s", result.Entries[0].Activity)
	}
	if result.Entries[0].MeanWaitMs != (2 * time.Hour).Milliseconds() {
		t.Fatalf("expected 2h mean wait, got %d", result.Entries[0].MeanWaitMs)
	}
	if result.Entries[1].Activity != "Pay" || result.Entries[1].Frequency != 1 {
		t.Fatalf("unexpected second entry: %+v", result.Entries[1])
	}
}

func testDefinition(t *testing.T, start, end []string, forbidden []models.ForbiddenTransition, authorized map[string][]string) *models.ProcessDefinition {
	t.Helper()
	startJSON, _ := json.Marshal(start)
	endJSON, _ := json.Marshal(end)
	forbiddenJSON, _ := json.Marshal(forbidden)
	resourcesJSON, _ := json.Marshal(authorized)
	return &models.ProcessDefinition{
		ExpectedStartJSON:        startJSON,
		ExpectedEndJSON:          endJSON,
		ForbiddenTransitionsJSON: forbiddenJSON,
		AuthorizedResourcesJSON:  resourcesJSON,
	}
}

func conformanceEvents(activities ...string) []models.ProcessEvent {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := make([]models.ProcessEvent, 0, len(activities))
	for i, a := range activities {
		events = append(events, models.ProcessEvent{
			ActivityName:   a,
			EventTimestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return events
}

func deviationTypes(deviations []Deviation) map[models.DeviationType]int {
	out := make(map[models.DeviationType]int)
	for _, d := range deviations {
		out[d.Type]++
	}
	return out
}

func TestCaseDeviations_ConformantCase(t *testing.T) {
	def := testDefinition(t, []string{"Create"}, []string{"Pay"}, nil, nil)
	deviations := CaseDeviations(def, "case-1", conformanceEvents("Create", "Approve", "Pay"))
	if len(deviations) != 0 {
		t.Fatalf("expected no deviations, got %+v", deviations)
	}
}

func TestCaseDeviations_LateStartAndPrematureEnd(t *testing.T) {
	def := testDefinition(t, []string{"Create"}, []string{"Pay"}, nil, nil)
	deviations := CaseDeviations(def, "case-1", conformanceEvents("Approve", "Create", "Review"))

	types := deviationTypes(deviations)
	if types[models.DeviationLateStart] != 1 {
		t.Fatalf("expected one LateStart, got %+v", deviations)
	}
	if types[models.DeviationPrematureEnd] != 1 {
		t.Fatalf("expected one PrematureEnd, got %+v", deviations)
	}
	// Pay never occurs at all.
	if types[models.DeviationMissingActivity] != 1 {
		t.Fatalf("expected one MissingActivity, got %+v", deviations)
	}
}

func TestCaseDeviations_ForbiddenTransition(t *testing.T) {
	def := testDefinition(t, []string{"Create"}, []string{"Pay"},
		[]models.ForbiddenTransition{{From: "Create", To: "Pay"}}, nil)
	deviations := CaseDeviations(def, "case-1", conformanceEvents("Create", "Pay"))

	types := deviationTypes(deviations)
	if types[models.DeviationWrongOrder] != 1 {
		t.Fatalf("expected one WrongOrder, got %+v", deviations)
	}
}

func TestCaseDeviations_DuplicateActivityFlaggedOnce(t *testing.T) {
	def := testDefinition(t, []string{"Create"}, []string{"Pay"}, nil, nil)
	deviations := CaseDeviations(def, "case-1", conformanceEvents("Create", "Approve", "Approve", "Approve", "Pay"))

	types := deviationTypes(deviations)
	if types[models.DeviationDuplicateActivity] != 1 {
		t.Fatalf("triple occurrence must be flagged once, got %+v", deviations)
	}
}

func TestCaseDeviations_ResourceChecks(t *testing.T) {
	def := testDefinition(t, []string{"Create"}, []string{"Pay"}, nil,
		map[string][]string{"Approve": {"alice"}})

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []models.ProcessEvent{
		{ActivityName: "Create", EventTimestamp: base},
		{ActivityName: "Approve", EventTimestamp: base.Add(time.Minute), Resource: "mallory"},
		{ActivityName: "Audit", EventTimestamp: base.Add(2 * time.Minute)},
		{ActivityName: "Pay", EventTimestamp: base.Add(3 * time.Minute)},
	}
	deviations := CaseDeviations(def, "case-1", events)

	types := deviationTypes(deviations)
	if types[models.DeviationUnauthorizedPerformer] != 1 {
		t.Fatalf("expected one UnauthorizedPerformer, got %+v", deviations)
	}
	if types[models.DeviationExtraActivity] != 1 {
		t.Fatalf("expected one ExtraActivity for Audit, got %+v", deviations)
	}
}

func TestCaseDuration(t *testing.T) {
	events := conformanceEvents("Create", "Approve", "Pay")
	if got := CaseDuration(events); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %v", got)
	}
	if CaseDuration(events[:1]) != 0 {
		t.Fatal("single-event case has zero duration")
	}
}
