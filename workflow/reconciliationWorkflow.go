package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const sessionLockTTL = 30 * time.Second

// obtainSessionLock serializes auto-match runs on one session across
// processes. The database conditional updates stay authoritative; the lock
// only avoids wasted duplicate evaluation.
func obtainSessionLock(ctx context.Context, sessionId string) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, "reconcile:"+sessionId, sessionLockTTL, nil)
	if err == redislock.ErrNotObtained {
		return nil, utils.NewConflictError("SessionBusy", "another reconciliation run holds session %s", sessionId)
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// AutoMatchResult summarizes one auto-match pass.
type AutoMatchResult struct {
	LinesEvaluated int `json:"lines_evaluated"`
	AutoConfirmed  int `json:"auto_confirmed"`
	Proposed       int `json:"proposed"`
	Exceptions     int `json:"exceptions"`
	Skipped        int `json:"skipped"`
}

// AutoMatch runs the rule cascade over every Unmatched line in the session's
// period. Rules 1-3 confirm immediately; rule 4 leaves a Proposed match for
// operator review. Re-running is a no-op for lines that already moved.
func AutoMatch(ctx context.Context, sessionId string, providers []models.CandidateProvider) (*AutoMatchResult, error) {
	logger := config.GetLogger()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}

	session, err := models.GetReconciliationSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, utils.NewConflictError("SessionNotInProgress", "session %s is %s", sessionId, session.Status)
	}

	lock, err := obtainSessionLock(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer func() { _ = lock.Release(ctx) }()
	}

	accountCfg, err := models.GetAccountConfig(ctx, businessId, session.AccountId)
	if err != nil {
		return nil, err
	}
	scale, err := models.MinorUnitScale(ctx, businessId, session.Currency)
	if err != nil {
		return nil, err
	}
	factor := models.MinorUnitFactor(scale)
	ruleCfg := RuleConfig{
		DateWindowDays:   accountCfg.DateWindowDays,
		MinSharedTokens:  accountCfg.MinSharedTokens,
		AllowContraEntry: accountCfg.AllowContraEntry,
		ToleranceFor: func(amount int64) int64 {
			return accountCfg.EffectiveAmountTolerance(amount, factor)
		},
	}

	if providers == nil {
		providers = models.DefaultCandidateProviders()
	}
	candidates, err := models.CandidatesForPeriod(ctx, providers, session.AccountId, session.PeriodStart, session.PeriodEnd)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var lines []models.BankStatementLine
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND status = ? AND transaction_date >= ? AND transaction_date <= ?",
			businessId, session.AccountId, models.LineStatusUnmatched, session.PeriodStart, session.PeriodEnd).
		Order("transaction_date, id").
		Find(&lines).Error; err != nil {
		return nil, err
	}

	// One candidate must not satisfy two lines in the same pass.
	taken := make(map[string]bool)
	result := AutoMatchResult{LinesEvaluated: len(lines)}

	for _, line := range lines {
		available := make([]models.MatchCandidate, 0, len(candidates))
		for _, c := range candidates {
			if !taken[c.EntityId] {
				available = append(available, c)
			}
		}

		outcome := EvaluateLine(line, available, ruleCfg)
		switch {
		case outcome.Exception:
			res := db.WithContext(ctx).Model(&models.BankStatementLine{}).
				Where("business_id = ? AND id = ? AND status = ?", businessId, line.ID, models.LineStatusUnmatched).
				Update("status", models.LineStatusException)
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected > 0 {
				result.Exceptions++
			} else {
				result.Skipped++
			}

		case outcome.Proposal != nil:
			p := outcome.Proposal
			match := models.ReconciliationMatch{
				ID:           uuid.NewString(),
				BusinessId:   businessId,
				SessionId:    session.ID,
				LineId:       line.ID,
				EntityKind:   p.Candidate.Kind,
				EntityId:     p.Candidate.EntityId,
				LineAmount:   line.Amount,
				EntityAmount: p.Candidate.Amount,
				Difference:   line.Amount - p.Candidate.Amount,
				Currency:     line.Currency,
				Rule:         p.Rule,
				Confidence:   p.Confidence,
				Tolerance:    p.Tolerance,
			}
			err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := models.CreateProposedMatch(tx, ctx, &match); err != nil {
					return err
				}
				if p.AutoConfirm {
					if err := models.ConfirmProposedMatch(tx, ctx, &match, ""); err != nil {
						return err
					}
					return models.MarkEntityReconciled(tx, ctx, match.EntityKind, match.EntityId, config.GetClock().Now())
				}
				return nil
			})
			if err != nil {
				if utils.CategoryOf(err) == utils.ErrorCategoryConflict {
					result.Skipped++
					continue
				}
				config.LogError(logger, "reconciliationWorkflow.go", "AutoMatch", "writing proposal", match, err)
				return nil, err
			}
			taken[p.Candidate.EntityId] = true
			if p.AutoConfirm {
				result.AutoConfirmed++
			} else {
				result.Proposed++
			}

		default:
			result.Skipped++
		}
	}

	return &result, nil
}

// ConfirmMatch promotes a Proposed match. Fails AlreadyMatched when the line
// already carries a confirmed match, AmountOutOfTolerance when the recorded
// difference exceeds the rule's tolerance, and SignMismatch on a cross-sign
// pairing without the contra-entry flag.
func ConfirmMatch(ctx context.Context, matchId string) (*models.ReconciliationMatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	operatorId, _ := utils.GetOperatorIdFromContext(ctx)

	match, err := models.GetReconciliationMatch(ctx, matchId)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusProposed {
		return nil, utils.NewConflictError("AlreadyMatched", "match %s is %s", matchId, match.Status)
	}
	if absInt64(match.Difference) > match.Tolerance {
		return nil, utils.NewValidationError("AmountOutOfTolerance",
			"difference %d exceeds tolerance %d", match.Difference, match.Tolerance)
	}
	if !match.ContraEntry && !sameSign(match.LineAmount, match.EntityAmount) {
		return nil, utils.NewValidationError("SignMismatch",
			"cross-sign pairing requires the contra entry flag")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.ConfirmProposedMatch(tx, ctx, match, operatorId); err != nil {
			return err
		}
		return models.MarkEntityReconciled(tx, ctx, match.EntityKind, match.EntityId, config.GetClock().Now())
	})
	if err != nil {
		return nil, err
	}
	match.Status = models.MatchStatusConfirmed
	match.OperatorId = operatorId
	return match, nil
}

// RejectMatch discards a proposal and returns the line to Unmatched.
func RejectMatch(ctx context.Context, matchId string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	match, err := models.GetReconciliationMatch(ctx, matchId)
	if err != nil {
		return err
	}
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return models.RejectProposedMatch(tx, ctx, match)
	})
}

// ManualMatchInput binds one line to one entity by operator decision.
type ManualMatchInput struct {
	SessionId   string            `json:"session_id" binding:"required"`
	LineId      string            `json:"line_id" binding:"required"`
	EntityKind  models.EntityKind `json:"entity_kind" binding:"required"`
	EntityId    string            `json:"entity_id" binding:"required"`
	Amount      int64             `json:"amount" binding:"required"`
	ContraEntry bool              `json:"contra_entry"`
}

// ManualMatch writes a Confirmed match with rule Manual and confidence 1.0.
// The entity must belong to the session's account; cross-account pairings are
// rejected.
func ManualMatch(ctx context.Context, input *ManualMatchInput) (*models.ReconciliationMatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	if !input.EntityKind.Valid() {
		return nil, utils.NewValidationError("UnknownEntityKind", "unknown entity kind %s", input.EntityKind)
	}
	operatorId, _ := utils.GetOperatorIdFromContext(ctx)

	session, err := models.GetReconciliationSession(ctx, input.SessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, utils.NewConflictError("SessionNotInProgress", "session %s is %s", input.SessionId, session.Status)
	}

	line, err := utils.FetchModel[models.BankStatementLine](ctx, businessId, input.LineId)
	if err != nil {
		return nil, err
	}
	if line.AccountId != session.AccountId {
		return nil, utils.NewValidationError("CrossAccountMatch",
			"line %s does not belong to account %s", input.LineId, session.AccountId)
	}
	entityAccount, err := entityAccountId(ctx, businessId, input.EntityKind, input.EntityId)
	if err != nil {
		return nil, err
	}
	if entityAccount != session.AccountId {
		return nil, utils.NewValidationError("CrossAccountMatch",
			"entity %s does not belong to account %s", input.EntityId, session.AccountId)
	}
	if !input.ContraEntry && !sameSign(line.Amount, input.Amount) {
		return nil, utils.NewValidationError("SignMismatch",
			"cross-sign pairing requires the contra entry flag")
	}

	match := models.ReconciliationMatch{
		ID:           uuid.NewString(),
		BusinessId:   businessId,
		SessionId:    session.ID,
		LineId:       line.ID,
		EntityKind:   input.EntityKind,
		EntityId:     input.EntityId,
		LineAmount:   line.Amount,
		EntityAmount: input.Amount,
		Difference:   line.Amount - input.Amount,
		Currency:     line.Currency,
		Rule:         models.MatchRuleManual,
		Confidence:   1.0,
		ContraEntry:  input.ContraEntry,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.CreateProposedMatch(tx, ctx, &match); err != nil {
			return err
		}
		if err := models.ConfirmProposedMatch(tx, ctx, &match, operatorId); err != nil {
			return err
		}
		return models.MarkEntityReconciled(tx, ctx, match.EntityKind, match.EntityId, config.GetClock().Now())
	})
	if err != nil {
		return nil, err
	}
	match.Status = models.MatchStatusConfirmed
	match.OperatorId = operatorId
	return &match, nil
}

func entityAccountId(ctx context.Context, businessId string, kind models.EntityKind, entityId string) (string, error) {
	switch kind {
	case models.EntityKindSalesInvoice:
		m, err := utils.FetchModel[models.SalesInvoice](ctx, businessId, entityId)
		if err != nil {
			return "", err
		}
		return m.AccountId, nil
	case models.EntityKindBill:
		m, err := utils.FetchModel[models.Bill](ctx, businessId, entityId)
		if err != nil {
			return "", err
		}
		return m.AccountId, nil
	case models.EntityKindCustomerPayment:
		m, err := utils.FetchModel[models.CustomerPayment](ctx, businessId, entityId)
		if err != nil {
			return "", err
		}
		return m.AccountId, nil
	case models.EntityKindSupplierPayment:
		m, err := utils.FetchModel[models.SupplierPayment](ctx, businessId, entityId)
		if err != nil {
			return "", err
		}
		return m.AccountId, nil
	case models.EntityKindJournalLine:
		m, err := utils.FetchModel[models.JournalLine](ctx, businessId, entityId)
		if err != nil {
			return "", err
		}
		return m.AccountId, nil
	}
	return "", utils.NewValidationError("UnknownEntityKind", "unknown entity kind %s", kind)
}

// OverrideException returns an Exception line to Unmatched after operator
// review.
func OverrideException(ctx context.Context, lineId string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&models.BankStatementLine{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, lineId, models.LineStatusException).
		Update("status", models.LineStatusUnmatched)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewConflictError("LineNotException", "line %s is not in exception", lineId)
	}
	return nil
}

// SessionSummary is what CloseSession reports, whether it closed the session
// now or finds it already closed.
type SessionSummary struct {
	Session  *models.ReconciliationSession `json:"session"`
	Variance int64                         `json:"variance"`
}

// CloseSession recomputes counters and variance and transitions the session
// to Completed. Variance is (opening + confirmed credits - confirmed debits)
// - closing. Fails BalanceMismatch when |variance| exceeds the account's
// tolerance and the operator has not acknowledged it. Closing an
// already-Completed session is a no-op returning the stored counters.
func CloseSession(ctx context.Context, sessionId string, acknowledgeVariance bool) (*SessionSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}

	session, err := models.GetReconciliationSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCompleted {
		return &SessionSummary{Session: session, Variance: session.Variance}, nil
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, utils.NewConflictError("SessionNotInProgress", "session %s is %s", sessionId, session.Status)
	}

	db := config.GetDB()
	var lines []models.BankStatementLine
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND transaction_date >= ? AND transaction_date <= ?",
			businessId, session.AccountId, session.PeriodStart, session.PeriodEnd).
		Find(&lines).Error; err != nil {
		return nil, err
	}

	confirmed := models.MatchStatusConfirmed
	matches, err := models.ListSessionMatches(ctx, sessionId, &confirmed)
	if err != nil {
		return nil, err
	}

	var counters models.SessionCounters
	counters.TotalLines = len(lines)
	var credits, debits int64
	for _, line := range lines {
		switch line.Status {
		case models.LineStatusMatched:
			counters.MatchedCount++
			if line.Amount >= 0 {
				credits += line.Amount
			} else {
				debits += -line.Amount
			}
		case models.LineStatusUnmatched, models.LineStatusProposedMatch:
			counters.UnmatchedCount++
		case models.LineStatusException:
			counters.ExceptionCount++
		}
	}
	for _, m := range matches {
		if m.Rule == models.MatchRuleManual {
			counters.ManualMatchedCount++
		} else {
			counters.AutoMatchedCount++
		}
	}
	counters.CalculatedBalance = session.OpeningBalance + credits - debits
	counters.Variance = counters.CalculatedBalance - session.ClosingBalance

	accountCfg, err := models.GetAccountConfig(ctx, businessId, session.AccountId)
	if err != nil {
		return nil, err
	}
	if absInt64(counters.Variance) > accountCfg.VarianceTolerance && !acknowledgeVariance {
		return nil, utils.NewConflictError("BalanceMismatch",
			"variance %d %s exceeds tolerance %d and is not acknowledged",
			counters.Variance, session.Currency, accountCfg.VarianceTolerance)
	}

	flipped, err := models.CompleteSession(ctx, sessionId, counters, acknowledgeVariance)
	if err != nil {
		return nil, err
	}
	if !flipped {
		// Lost a close race; the stored counters are authoritative.
		session, err = models.GetReconciliationSession(ctx, sessionId)
		if err != nil {
			return nil, err
		}
		return &SessionSummary{Session: session, Variance: session.Variance}, nil
	}

	session, err = models.GetReconciliationSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return &SessionSummary{Session: session, Variance: session.Variance}, nil
}

// AbandonSession rejects the session's outstanding proposals and flips the
// session to Abandoned.
func AbandonSession(ctx context.Context, sessionId string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	proposed := models.MatchStatusProposed
	matches, err := models.ListSessionMatches(ctx, sessionId, &proposed)
	if err != nil {
		return err
	}
	db := config.GetDB()
	for i := range matches {
		m := matches[i]
		if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.RejectProposedMatch(tx, ctx, &m)
		}); err != nil {
			return err
		}
	}
	return models.AbandonSession(ctx, sessionId)
}
