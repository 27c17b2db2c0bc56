package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
)

// Rule confidences, in cascade order.
const (
	ConfidenceExactReference       = 1.0
	ConfidenceExactAmountDate      = 0.9
	ConfidenceAmountTolerancePayee = 0.75
	ConfidenceApproximateAmount    = 0.5
)

// RuleConfig is the per-account tuning the cascade runs under.
type RuleConfig struct {
	DateWindowDays   int
	MinSharedTokens  int
	AllowContraEntry bool
	// ToleranceFor resolves the rule-3/4 amount tolerance for a line amount.
	ToleranceFor func(amount int64) int64
}

// Proposal is the cascade's verdict for one line. Rules 1-3 confirm
// automatically; rule 4 only proposes and waits for an operator.
type Proposal struct {
	Candidate   models.MatchCandidate
	Rule        models.MatchRule
	Confidence  float64
	Tolerance   int64
	AutoConfirm bool
}

// Outcome is what evaluating one line produced. Exactly one of Proposal and
// Exception is set when the line matched anything at all.
type Outcome struct {
	Proposal        *Proposal
	Exception       bool
	ExceptionReason string
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameSign(a, b int64) bool {
	return (a >= 0) == (b >= 0)
}

func withinDays(a, b time.Time, days int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Duration(days)*24*time.Hour
}

// EvaluateLine runs the rule cascade over one Unmatched line. Rules apply in
// descending specificity; the first rule with exactly one passing candidate
// wins and later rules are skipped. A rule passed by several candidates is a
// tie and produces an Exception instead of a proposal.
func EvaluateLine(line models.BankStatementLine, candidates []models.MatchCandidate, cfg RuleConfig) Outcome {
	if cfg.DateWindowDays == 0 {
		cfg.DateWindowDays = models.DefaultDateWindowDays
	}
	if cfg.MinSharedTokens == 0 {
		cfg.MinSharedTokens = models.DefaultMinSharedTokens
	}

	pool := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Currency != line.Currency {
			continue
		}
		if !cfg.AllowContraEntry && !sameSign(line.Amount, c.Amount) {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		return Outcome{}
	}

	// Rule 1: exact reference.
	var byRef []models.MatchCandidate
	for _, c := range pool {
		if c.DocumentNumber == "" {
			continue
		}
		if c.DocumentNumber == line.BankReference || c.DocumentNumber == line.CustomerReference {
			byRef = append(byRef, c)
		}
	}
	if len(byRef) == 1 {
		return Outcome{Proposal: &Proposal{
			Candidate:   byRef[0],
			Rule:        models.MatchRuleExactReference,
			Confidence:  ConfidenceExactReference,
			AutoConfirm: true,
		}}
	}
	if len(byRef) > 1 {
		return Outcome{Exception: true, ExceptionReason: "multiple candidates share the referenced document number"}
	}

	// Rule 2: exact amount within the date window.
	var byAmountDate []models.MatchCandidate
	for _, c := range pool {
		if c.Amount == line.Amount && withinDays(c.Date, line.TransactionDate, cfg.DateWindowDays) {
			byAmountDate = append(byAmountDate, c)
		}
	}
	if len(byAmountDate) == 1 {
		return Outcome{Proposal: &Proposal{
			Candidate:   byAmountDate[0],
			Rule:        models.MatchRuleExactAmountDate,
			Confidence:  ConfidenceExactAmountDate,
			AutoConfirm: true,
		}}
	}
	if len(byAmountDate) > 1 {
		return Outcome{Exception: true, ExceptionReason: "multiple candidates with identical amount in the date window"}
	}

	tolerance := int64(0)
	if cfg.ToleranceFor != nil {
		tolerance = cfg.ToleranceFor(line.Amount)
	}

	// Rule 3: amount within tolerance plus payee token overlap.
	if line.PayeeName != "" && tolerance > 0 {
		var byPayee []models.MatchCandidate
		for _, c := range pool {
			if absInt64(c.Amount-line.Amount) > tolerance {
				continue
			}
			if utils.SharedTokenCount(line.PayeeName, c.PartyName) >= cfg.MinSharedTokens {
				byPayee = append(byPayee, c)
			}
		}
		if len(byPayee) == 1 {
			return Outcome{Proposal: &Proposal{
				Candidate:   byPayee[0],
				Rule:        models.MatchRuleAmountTolerancePayee,
				Confidence:  ConfidenceAmountTolerancePayee,
				Tolerance:   tolerance,
				AutoConfirm: true,
			}}
		}
		if len(byPayee) > 1 {
			return Outcome{Exception: true, ExceptionReason: "multiple candidates within tolerance share payee tokens"}
		}
	}

	// Rule 4: approximate amount only. Requires a unique contender: nothing
	// else may sit within twice the tolerance. Never auto-confirms.
	if tolerance > 0 {
		var within, contenders []models.MatchCandidate
		for _, c := range pool {
			diff := absInt64(c.Amount - line.Amount)
			if !withinDays(c.Date, line.TransactionDate, cfg.DateWindowDays) {
				continue
			}
			if diff <= tolerance {
				within = append(within, c)
			}
			if diff <= 2*tolerance {
				contenders = append(contenders, c)
			}
		}
		if len(within) > 1 {
			return Outcome{Exception: true, ExceptionReason: "multiple candidates within amount tolerance"}
		}
		if len(within) == 1 && len(contenders) == 1 {
			return Outcome{Proposal: &Proposal{
				Candidate:   within[0],
				Rule:        models.MatchRuleApproximateAmount,
				Confidence:  ConfidenceApproximateAmount,
				Tolerance:   tolerance,
				AutoConfirm: false,
			}}
		}
	}

	return Outcome{}
}
