package workflow

import (
	"strings"
	"testing"
	"time"
)

func TestMinorUnitsFromDecimalString(t *testing.T) {
	cases := []struct {
		in       string
		scale    int
		expected int64
	}{
		{"1250.00", 2, 125000},
		{"1250", 2, 125000},
		{"-42.50", 2, -4250},
		{" 0.01 ", 2, 1},
		{"1250.00", 0, 1250},
		{"3.141", 3, 3141},
	}
	for _, tc := range cases {
		got, err := minorUnitsFromDecimalString(tc.in, tc.scale)
		if err != nil {
			t.Fatalf("minorUnitsFromDecimalString(%q, %d) error: %v", tc.in, tc.scale, err)
		}
		if got != tc.expected {
			t.Fatalf("minorUnitsFromDecimalString(%q, %d) expected %d, got %d", tc.in, tc.scale, tc.expected, got)
		}
	}

	if _, err := minorUnitsFromDecimalString("not-a-number", 2); err == nil {
		t.Fatal("expected an error for a non-numeric amount")
	}
}

const bai2Fixture = `01,BANKID,CUSTID,260310,1200,1,80,1,2/
02,CUSTID,BANKID,1,260310,1200,USD,2/
03,1234567890,USD,010,500000,,,015,620000,,/
16,165,200000,REF001,PAYMENT RECEIVED/
88,WIRE TRANSFER/
16,455,80000,REF002,VENDOR PAYMENT/
49,1040000,5/
98,1040000,1,7/
99,1040000,1,9/`

func TestBai2Parser(t *testing.T) {
	parsed, err := bai2Parser{}.Parse(strings.NewReader(bai2Fixture), 2)
	if err != nil {
		t.Fatalf("bai2 parse error: %v", err)
	}

	if parsed.AccountNumber != "1234567890" {
		t.Fatalf("expected account 1234567890, got %s", parsed.AccountNumber)
	}
	if parsed.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", parsed.Currency)
	}
	if !parsed.StatementDate.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected statement date 2026-03-10, got %v", parsed.StatementDate)
	}
	if !parsed.HasBalances || parsed.OpeningBalance != 500000 || parsed.ClosingBalance != 620000 {
		t.Fatalf("unexpected balances: has=%v opening=%d closing=%d",
			parsed.HasBalances, parsed.OpeningBalance, parsed.ClosingBalance)
	}

	if len(parsed.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(parsed.Lines))
	}
	credit := parsed.Lines[0]
	if credit.Amount != 200000 {
		t.Fatalf("type code 165 is a credit: expected 200000, got %d", credit.Amount)
	}
	if credit.BankReference != "REF001" {
		t.Fatalf("unexpected reference: %q", credit.BankReference)
	}
	if credit.Description != "PAYMENT RECEIVED WIRE TRANSFER" {
		t.Fatalf("88 continuation not appended: %q", credit.Description)
	}
	debit := parsed.Lines[1]
	if debit.Amount != -80000 {
		t.Fatalf("type code 455 is a debit: expected -80000, got %d", debit.Amount)
	}
	if debit.BankReference != "REF002" || debit.Description != "VENDOR PAYMENT" {
		t.Fatalf("unexpected debit line: %+v", debit)
	}
}

func TestBai2Parser_ReferenceField(t *testing.T) {
	const fixture = `02,CUSTID,BANKID,1,260310,1200,USD,2/
03,1234567890,USD,010,0,,,015,25000,,/
16,165,25000,INV-42,payment for invoice/`

	parsed, err := (bai2Parser{}).Parse(strings.NewReader(fixture), 2)
	if err != nil {
		t.Fatalf("bai2 parse error: %v", err)
	}
	if len(parsed.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(parsed.Lines))
	}
	line := parsed.Lines[0]
	if line.BankReference != "INV-42" {
		t.Fatalf("expected reference INV-42 from the fourth field, got %q", line.BankReference)
	}
	if line.Description != "payment for invoice" {
		t.Fatalf("unexpected description %q", line.Description)
	}
}

const csvFixture = `transaction_date,value_date,amount,currency,bank_reference,customer_reference,payee,description
2026-03-08,2026-03-09,1250.00,USD,REF001,INV-42,Acme Corp,Invoice settlement
2026-03-09,,-310.25,USD,REF002,,Office Supplies Inc,Stationery`

func TestCsvParser(t *testing.T) {
	parsed, err := csvParser{}.Parse(strings.NewReader(csvFixture), 2)
	if err != nil {
		t.Fatalf("csv parse error: %v", err)
	}
	if len(parsed.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(parsed.Lines))
	}

	first := parsed.Lines[0]
	if first.Amount != 125000 {
		t.Fatalf("expected 125000 minor units, got %d", first.Amount)
	}
	if !first.TransactionDate.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected transaction date %v", first.TransactionDate)
	}
	if first.ValueDate == nil || !first.ValueDate.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected value date %v", first.ValueDate)
	}
	if first.CustomerReference != "INV-42" || first.PayeeName != "Acme Corp" {
		t.Fatalf("unexpected first line: %+v", first)
	}

	second := parsed.Lines[1]
	if second.Amount != -31025 {
		t.Fatalf("expected -31025 minor units, got %d", second.Amount)
	}
	if second.ValueDate != nil {
		t.Fatal("empty value_date must stay nil")
	}
}

func TestCsvParser_RejectsMissingColumns(t *testing.T) {
	if _, err := (csvParser{}).Parse(strings.NewReader("amount\n10.00"), 2); err == nil {
		t.Fatal("expected an error when transaction_date is missing")
	}
	if _, err := (csvParser{}).Parse(strings.NewReader("transaction_date\n2026-03-08"), 2); err == nil {
		t.Fatal("expected an error when amount is missing")
	}
}

func TestParserFor(t *testing.T) {
	for _, format := range []string{"bai2", "csv", "ofx", "qfx", "xlsx", "CSV"} {
		if _, err := ParserFor(format); err != nil {
			t.Fatalf("ParserFor(%q) error: %v", format, err)
		}
	}
	if _, err := ParserFor("mt940"); err == nil {
		t.Fatal("expected an error for an unsupported format")
	}
}
