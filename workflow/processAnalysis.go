package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
	"github.com/cespare/xxhash/v2"
)

// variantSeparator joins activity names into the variant key. The unit
// separator cannot occur in activity names coming off the wire.
const variantSeparator = "\x1f"

// VariantKey concatenates a case's activity sequence.
func VariantKey(sequence []string) string {
	return strings.Join(sequence, variantSeparator)
}

// VariantHash is the fixed-width hash of the variant key, a stable function
// of the activity sequence and nothing else.
func VariantHash(sequence []string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(VariantKey(sequence)))
}

// DetectLoops scans one case's ordered activity sequence. A self-loop is an
// adjacent (A, A) pair; a rework loop is an activity recurring non-adjacently.
func DetectLoops(sequence []string) (selfLoops map[string]int, reworkLoops map[string]int) {
	selfLoops = make(map[string]int)
	reworkLoops = make(map[string]int)

	lastIndex := make(map[string]int)
	for i, activity := range sequence {
		if i > 0 && sequence[i-1] == activity {
			selfLoops[activity]++
		} else if _, seen := lastIndex[activity]; seen {
			reworkLoops[activity]++
		}
		lastIndex[activity] = i
	}
	return selfLoops, reworkLoops
}

// DiscoveryResult is the derived snapshot persisted for a Discovery report.
type DiscoveryResult struct {
	TotalCases          int              `json:"total_cases"`
	TotalEvents         int              `json:"total_events"`
	UniqueActivities    int              `json:"unique_activities"`
	UniqueVariants      int              `json:"unique_variants"`
	StartActivities     []string         `json:"start_activities"`
	EndActivities       []string         `json:"end_activities"`
	ActivityFrequency   map[string]int64 `json:"activity_frequency"`
	TransitionFrequency map[string]int64 `json:"transition_frequency"`
	SelfLoops           map[string]int64 `json:"self_loops"`
	ReworkLoops         map[string]int64 `json:"rework_loops"`
	RejectedCases       int              `json:"rejected_cases"`
}

// discoveryFold accumulates one case at a time so a window scan never holds
// more than one case's events.
type discoveryFold struct {
	result      DiscoveryResult
	startSet    map[string]bool
	endSet      map[string]bool
	variantSet  map[string]bool
	activitySet map[string]bool
}

func newDiscoveryFold() *discoveryFold {
	return &discoveryFold{
		result: DiscoveryResult{
			ActivityFrequency:   make(map[string]int64),
			TransitionFrequency: make(map[string]int64),
			SelfLoops:           make(map[string]int64),
			ReworkLoops:         make(map[string]int64),
		},
		startSet:    make(map[string]bool),
		endSet:      make(map[string]bool),
		variantSet:  make(map[string]bool),
		activitySet: make(map[string]bool),
	}
}

// TransitionLabel names a directly-follows pair in the frequency map.
func TransitionLabel(from string, to string) string {
	return from + " -> " + to
}

func (f *discoveryFold) addCase(sequence []string) {
	if len(sequence) == 0 {
		return
	}
	f.result.TotalCases++
	f.result.TotalEvents += len(sequence)
	f.startSet[sequence[0]] = true
	f.endSet[sequence[len(sequence)-1]] = true
	f.variantSet[VariantHash(sequence)] = true

	for i, activity := range sequence {
		f.activitySet[activity] = true
		f.result.ActivityFrequency[activity]++
		if i > 0 {
			f.result.TransitionFrequency[TransitionLabel(sequence[i-1], activity)]++
		}
	}
	selfLoops, reworkLoops := DetectLoops(sequence)
	for a, n := range selfLoops {
		f.result.SelfLoops[a] += int64(n)
	}
	for a, n := range reworkLoops {
		f.result.ReworkLoops[a] += int64(n)
	}
}

func (f *discoveryFold) finish() *DiscoveryResult {
	f.result.UniqueActivities = len(f.activitySet)
	f.result.UniqueVariants = len(f.variantSet)
	f.result.StartActivities = sortedKeys(f.startSet)
	f.result.EndActivities = sortedKeys(f.endSet)
	return &f.result
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BottleneckEntry reports the waiting-time statistics observed before one
// activity.
type BottleneckEntry struct {
	Activity     string `json:"activity"`
	Frequency    int64  `json:"frequency"`
	MeanWaitMs   int64  `json:"mean_wait_ms"`
	MedianWaitMs int64  `json:"median_wait_ms"`
	P95WaitMs    int64  `json:"p95_wait_ms"`
}

// BottleneckResult ranks activities by mean waiting time, worst first.
type BottleneckResult struct {
	Entries       []BottleneckEntry `json:"entries"`
	RejectedCases int               `json:"rejected_cases"`
}

type bottleneckFold struct {
	waits map[string][]int64
}

func newBottleneckFold() *bottleneckFold {
	return &bottleneckFold{waits: make(map[string][]int64)}
}

// addCase records the waiting time before each activity: for consecutive
// events (A, B), timestamp(B) - timestamp(A) is attributed to B.
func (f *bottleneckFold) addCase(events []models.ProcessEvent) {
	for i := 1; i < len(events); i++ {
		wait := events[i].EventTimestamp.Sub(events[i-1].EventTimestamp)
		f.waits[events[i].ActivityName] = append(f.waits[events[i].ActivityName], wait.Milliseconds())
	}
}

func (f *bottleneckFold) finish() *BottleneckResult {
	result := &BottleneckResult{}
	for activity, waits := range f.waits {
		sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
		result.Entries = append(result.Entries, BottleneckEntry{
			Activity:     activity,
			Frequency:    int64(len(waits)),
			MeanWaitMs:   meanInt64(waits),
			MedianWaitMs: Percentile(waits, 50),
			P95WaitMs:    Percentile(waits, 95),
		})
	}
	sort.Slice(result.Entries, func(i, j int) bool {
		if result.Entries[i].MeanWaitMs != result.Entries[j].MeanWaitMs {
			return result.Entries[i].MeanWaitMs > result.Entries[j].MeanWaitMs
		}
		return result.Entries[i].Activity < result.Entries[j].Activity
	})
	return result
}

func meanInt64(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

// Percentile returns the pth percentile of sorted values using the
// nearest-rank method.
func Percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Deviation is one conformance violation in one case.
type Deviation struct {
	CaseId   string               `json:"case_id"`
	Type     models.DeviationType `json:"type"`
	Activity string               `json:"activity"`
	Detail   string               `json:"detail"`
}

// ConformanceResult summarizes a window's conformance check.
type ConformanceResult struct {
	TotalCases      int         `json:"total_cases"`
	ConformantCases int         `json:"conformant_cases"`
	Deviations      []Deviation `json:"deviations"`
	RejectedCases   int         `json:"rejected_cases"`
}

// CaseDeviations classifies one case against the definition's declared
// start/end activities, forbidden transitions and authorized performers. A
// case is conformant iff this returns nothing.
func CaseDeviations(def *models.ProcessDefinition, caseId string, events []models.ProcessEvent) []Deviation {
	if len(events) == 0 {
		return nil
	}
	sequence := models.ActivitySequence(events)
	var deviations []Deviation

	expectedStart := def.ExpectedStartActivities()
	expectedEnd := def.ExpectedEndActivities()

	if len(expectedStart) > 0 && !containsString(expectedStart, sequence[0]) {
		deviations = append(deviations, Deviation{
			CaseId: caseId, Type: models.DeviationLateStart, Activity: sequence[0],
			Detail: "case begins outside the declared start activities",
		})
	}
	last := sequence[len(sequence)-1]
	if len(expectedEnd) > 0 && !containsString(expectedEnd, last) {
		deviations = append(deviations, Deviation{
			CaseId: caseId, Type: models.DeviationPrematureEnd, Activity: last,
			Detail: "case ends outside the declared end activities",
		})
	}

	present := make(map[string]bool, len(sequence))
	for _, a := range sequence {
		present[a] = true
	}
	for _, required := range expectedStart {
		if !present[required] {
			deviations = append(deviations, Deviation{
				CaseId: caseId, Type: models.DeviationMissingActivity, Activity: required,
				Detail: "declared start activity never occurs",
			})
		}
	}
	for _, required := range expectedEnd {
		if !present[required] {
			deviations = append(deviations, Deviation{
				CaseId: caseId, Type: models.DeviationMissingActivity, Activity: required,
				Detail: "declared end activity never occurs",
			})
		}
	}

	forbidden := def.ForbiddenTransitions()
	for i := 1; i < len(sequence); i++ {
		for _, ft := range forbidden {
			if sequence[i-1] == ft.From && sequence[i] == ft.To {
				deviations = append(deviations, Deviation{
					CaseId: caseId, Type: models.DeviationWrongOrder, Activity: sequence[i],
					Detail: TransitionLabel(ft.From, ft.To) + " is a forbidden transition",
				})
			}
		}
	}

	counted := make(map[string]bool)
	for _, a := range sequence {
		if counted[a] {
			continue
		}
		occurrences := 0
		for _, b := range sequence {
			if a == b {
				occurrences++
			}
		}
		if occurrences > 1 {
			deviations = append(deviations, Deviation{
				CaseId: caseId, Type: models.DeviationDuplicateActivity, Activity: a,
				Detail: fmt.Sprintf("activity occurs %d times", occurrences),
			})
		}
		counted[a] = true
	}

	authorized := def.AuthorizedResources()
	if len(authorized) > 0 {
		known := make(map[string]bool, len(authorized))
		for a := range authorized {
			known[a] = true
		}
		for _, a := range expectedStart {
			known[a] = true
		}
		for _, a := range expectedEnd {
			known[a] = true
		}
		flaggedExtra := make(map[string]bool)
		for _, e := range events {
			if !known[e.ActivityName] {
				if !flaggedExtra[e.ActivityName] {
					deviations = append(deviations, Deviation{
						CaseId: caseId, Type: models.DeviationExtraActivity, Activity: e.ActivityName,
						Detail: "activity is not part of the process model",
					})
					flaggedExtra[e.ActivityName] = true
				}
				continue
			}
			allowed, restricted := authorized[e.ActivityName]
			if restricted && e.Resource != "" && !containsString(allowed, e.Resource) {
				deviations = append(deviations, Deviation{
					CaseId: caseId, Type: models.DeviationUnauthorizedPerformer, Activity: e.ActivityName,
					Detail: "performed by " + e.Resource,
				})
			}
		}
	}

	return deviations
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// CaseDuration is the span between a case's first and last event.
func CaseDuration(events []models.ProcessEvent) time.Duration {
	if len(events) < 2 {
		return 0
	}
	return events[len(events)-1].EventTimestamp.Sub(events[0].EventTimestamp)
}
