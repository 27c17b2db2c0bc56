package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
)

func testLine(amount int64, ref string, payee string, date time.Time) models.BankStatementLine {
	return models.BankStatementLine{
		TransactionDate: date,
		Amount:          amount,
		Currency:        "USD",
		BankReference:   ref,
		PayeeName:       payee,
	}
}

func testCandidate(amount int64, docNumber string, party string, date time.Time) models.MatchCandidate {
	return models.MatchCandidate{
		Kind:           models.EntityKindSalesInvoice,
		EntityId:       "entity-" + docNumber,
		DocumentNumber: docNumber,
		PartyName:      party,
		Amount:         amount,
		Currency:       "USD",
		Date:           date,
	}
}

func fixedTolerance(tol int64) func(int64) int64 {
	return func(int64) int64 { return tol }
}

func TestEvaluateLine_ExactReferenceWins(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(125000, "INV-42", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(125000, "INV-41", "Beta Ltd", date),
		testCandidate(124000, "INV-42", "Acme Corp", date.AddDate(0, 0, -20)),
	}

	out := EvaluateLine(line, candidates, RuleConfig{})
	if out.Proposal == nil {
		t.Fatalf("expected a proposal, got %+v", out)
	}
	if out.Proposal.Rule != models.MatchRuleExactReference {
		t.Fatalf("expected rule ExactReference, got %s", out.Proposal.Rule)
	}
	if out.Proposal.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %v", out.Proposal.Confidence)
	}
	if !out.Proposal.AutoConfirm {
		t.Fatal("exact reference match must auto-confirm")
	}
	if out.Proposal.Candidate.DocumentNumber != "INV-42" {
		t.Fatalf("matched the wrong candidate: %s", out.Proposal.Candidate.DocumentNumber)
	}
}

func TestEvaluateLine_ReferenceTieIsException(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(125000, "INV-42", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(125000, "INV-42", "Acme Corp", date),
		testCandidate(124000, "INV-42", "Acme Corp", date),
	}

	out := EvaluateLine(line, candidates, RuleConfig{})
	if out.Proposal != nil || !out.Exception {
		t.Fatalf("expected an exception on a reference tie, got %+v", out)
	}
}

func TestEvaluateLine_ExactAmountWithinWindow(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(50000, "", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(50000, "INV-7", "Acme Corp", date.AddDate(0, 0, 2)),
		testCandidate(50000, "INV-8", "Beta Ltd", date.AddDate(0, 0, 10)),
	}

	out := EvaluateLine(line, candidates, RuleConfig{DateWindowDays: 3})
	if out.Proposal == nil || out.Proposal.Rule != models.MatchRuleExactAmountDate {
		t.Fatalf("expected rule ExactAmountDate, got %+v", out)
	}
	if out.Proposal.Candidate.DocumentNumber != "INV-7" {
		t.Fatalf("matched the wrong candidate: %s", out.Proposal.Candidate.DocumentNumber)
	}
}

func TestEvaluateLine_ExactAmountTieIsException(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(50000, "", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(50000, "INV-7", "Acme Corp", date),
		testCandidate(50000, "INV-8", "Beta Ltd", date.AddDate(0, 0, 1)),
	}

	out := EvaluateLine(line, candidates, RuleConfig{})
	if !out.Exception {
		t.Fatalf("expected an exception on an amount tie, got %+v", out)
	}
}

func TestEvaluateLine_PayeeTokensIgnoreCase(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(99950, "", "ACME CORP", date)
	candidates := []models.MatchCandidate{
		testCandidate(100000, "INV-9", "Acme Corp", date.AddDate(0, 0, 1)),
	}

	out := EvaluateLine(line, candidates, RuleConfig{ToleranceFor: fixedTolerance(100)})
	if out.Proposal == nil || out.Proposal.Rule != models.MatchRuleAmountTolerancePayee {
		t.Fatalf("expected rule AmountTolerancePayee, got %+v", out)
	}
	if !out.Proposal.AutoConfirm {
		t.Fatal("payee tolerance match must auto-confirm")
	}
	if out.Proposal.Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %v", out.Proposal.Confidence)
	}
}

func TestEvaluateLine_ApproximateAmountProposesOnly(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(100040, "", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(100000, "INV-10", "Acme Corp", date.AddDate(0, 0, 1)),
	}

	out := EvaluateLine(line, candidates, RuleConfig{ToleranceFor: fixedTolerance(100)})
	if out.Proposal == nil || out.Proposal.Rule != models.MatchRuleApproximateAmount {
		t.Fatalf("expected rule ApproximateAmount, got %+v", out)
	}
	if out.Proposal.AutoConfirm {
		t.Fatal("approximate amount match must not auto-confirm")
	}
	if out.Proposal.Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5, got %v", out.Proposal.Confidence)
	}
}

func TestEvaluateLine_ApproximateAmountNeedsClearWinner(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(100040, "", "", date)
	// Second candidate is outside the tolerance but inside twice the
	// tolerance, so the first is not a clear winner.
	candidates := []models.MatchCandidate{
		testCandidate(100000, "INV-10", "Acme Corp", date),
		testCandidate(100190, "INV-11", "Beta Ltd", date),
	}

	out := EvaluateLine(line, candidates, RuleConfig{ToleranceFor: fixedTolerance(100)})
	if out.Proposal != nil || out.Exception {
		t.Fatalf("expected no match at all, got %+v", out)
	}
}

func TestEvaluateLine_SignFilteringWithoutContra(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(-50000, "", "", date)
	candidates := []models.MatchCandidate{
		testCandidate(-50000, "BILL-1", "Supplier A", date),
		testCandidate(50000, "INV-12", "Acme Corp", date),
	}

	out := EvaluateLine(line, candidates, RuleConfig{})
	if out.Proposal == nil {
		t.Fatalf("expected a proposal, got %+v", out)
	}
	if out.Proposal.Candidate.DocumentNumber != "BILL-1" {
		t.Fatalf("sign filter failed, matched %s", out.Proposal.Candidate.DocumentNumber)
	}
}

func TestEvaluateLine_CurrencyMismatchNeverMatches(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := testLine(50000, "INV-42", "", date)
	candidate := testCandidate(50000, "INV-42", "Acme Corp", date)
	candidate.Currency = "EUR"

	out := EvaluateLine(line, []models.MatchCandidate{candidate}, RuleConfig{})
	if out.Proposal != nil || out.Exception {
		t.Fatalf("expected no match across currencies, got %+v", out)
	}
}
