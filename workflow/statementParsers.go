package workflow

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ParsedStatement is the format-independent result every statement adapter
// produces. Fields the format does not carry stay zero and are filled from
// the import request.
type ParsedStatement struct {
	AccountNumber  string
	StatementDate  time.Time
	Currency       string
	OpeningBalance int64
	ClosingBalance int64
	HasBalances    bool
	Lines          []models.NewStatementLine
}

// StatementParser adapts one bank file format to ParsedStatement.
type StatementParser interface {
	Format() string
	Parse(r io.Reader, minorUnitScale int) (*ParsedStatement, error)
}

// ParserFor resolves a parser by format tag (bai2, csv, ofx, xlsx).
func ParserFor(format string) (StatementParser, error) {
	switch strings.ToLower(format) {
	case "bai2":
		return bai2Parser{}, nil
	case "csv":
		return csvParser{}, nil
	case "ofx", "qfx":
		return ofxParser{}, nil
	case "xlsx":
		return xlsxParser{}, nil
	}
	return nil, utils.NewValidationError("UnknownStatementFormat", "unsupported statement format %s", format)
}

// minorUnitsFromDecimalString converts "123.45" to minor units at the given
// scale without going through floats.
func minorUnitsFromDecimalString(s string, scale int) (int64, error) {
	dec, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, utils.NewValidationError("InvalidAmount", "cannot parse amount %q: %v", s, err)
	}
	return dec.Shift(int32(scale)).Round(0).IntPart(), nil
}

// --- BAI2 ---

// bai2Parser reads the BAI2 cash-management format. Supported records:
// 02 group header (as-of date), 03 account identifier (account, currency,
// 010 opening / 015 closing ledger balances), 16 transaction detail and 88
// continuations. BAI2 amounts are already implied minor units.
type bai2Parser struct{}

func (bai2Parser) Format() string { return "bai2" }

func (bai2Parser) Parse(r io.Reader, _ int) (*ParsedStatement, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out := &ParsedStatement{}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), "/"))
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		switch fields[0] {
		case "02":
			// 02,receiver,originator,group status,as-of date,...
			if len(fields) > 4 {
				if d, err := time.Parse("060102", fields[4]); err == nil {
					out.StatementDate = d
				}
			}
		case "03":
			// 03,account,currency,{type code,amount,item count,funds type}...
			if len(fields) > 1 {
				out.AccountNumber = fields[1]
			}
			if len(fields) > 2 && fields[2] != "" {
				out.Currency = fields[2]
			}
			for i := 3; i+1 < len(fields); i += 4 {
				amount, err := strconv.ParseInt(strings.TrimSpace(fields[i+1]), 10, 64)
				if err != nil {
					continue
				}
				switch fields[i] {
				case "010":
					out.OpeningBalance = amount
					out.HasBalances = true
				case "015":
					out.ClosingBalance = amount
					out.HasBalances = true
				}
			}
		case "16":
			// 16,type code,amount,reference,text
			if len(fields) < 3 {
				return nil, utils.NewValidationError("MalformedRecord", "bai2 16 record has %d fields", len(fields))
			}
			typeCode, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, utils.NewValidationError("MalformedRecord", "bai2 type code %q", fields[1])
			}
			amount, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, utils.NewValidationError("MalformedRecord", "bai2 amount %q", fields[2])
			}
			// Type codes 100-399 are credits, 400-699 debits.
			if typeCode >= 400 {
				amount = -amount
			}
			parsed := models.NewStatementLine{
				TransactionDate: out.StatementDate,
				Amount:          amount,
				Currency:        out.Currency,
			}
			if len(fields) > 3 {
				parsed.BankReference = fields[3]
			}
			if len(fields) > 4 {
				parsed.Description = strings.Join(fields[4:], ",")
			}
			out.Lines = append(out.Lines, parsed)
		case "88":
			// Continuation of the previous 16 record's text.
			if n := len(out.Lines); n > 0 && len(fields) > 1 {
				out.Lines[n-1].Description = strings.TrimSpace(out.Lines[n-1].Description + " " + strings.Join(fields[1:], ","))
			}
		}
	}
	if len(out.Lines) == 0 {
		return nil, utils.NewValidationError("EmptyStatement", "bai2 file carries no transaction records")
	}
	return out, nil
}

// --- CSV ---

// csvParser expects a header row with transaction_date, amount, and
// optionally value_date, currency, bank_reference, customer_reference,
// payee, description. Amounts are major-unit decimal strings.
type csvParser struct{}

func (csvParser) Format() string { return "csv" }

func (csvParser) Parse(r io.Reader, minorUnitScale int) (*ParsedStatement, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, utils.NewValidationError("EmptyStatement", "csv file has no header row")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateIdx, ok := col["transaction_date"]
	if !ok {
		return nil, utils.NewValidationError("MalformedRecord", "csv header lacks transaction_date")
	}
	amountIdx, ok := col["amount"]
	if !ok {
		return nil, utils.NewValidationError("MalformedRecord", "csv header lacks amount")
	}

	field := func(record []string, name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	out := &ParsedStatement{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, utils.NewValidationError("MalformedRecord", "csv read: %v", err)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[dateIdx]))
		if err != nil {
			return nil, utils.NewValidationError("MalformedRecord", "csv date %q", record[dateIdx])
		}
		amount, err := minorUnitsFromDecimalString(record[amountIdx], minorUnitScale)
		if err != nil {
			return nil, err
		}
		line := models.NewStatementLine{
			TransactionDate:   date,
			Amount:            amount,
			Currency:          field(record, "currency"),
			BankReference:     field(record, "bank_reference"),
			CustomerReference: field(record, "customer_reference"),
			PayeeName:         field(record, "payee"),
			Description:       field(record, "description"),
		}
		if v := field(record, "value_date"); v != "" {
			if vd, err := time.Parse("2006-01-02", v); err == nil {
				line.ValueDate = &vd
			}
		}
		out.Lines = append(out.Lines, line)
	}
	if len(out.Lines) == 0 {
		return nil, utils.NewValidationError("EmptyStatement", "csv file carries no rows")
	}
	return out, nil
}

// --- OFX ---

type ofxParser struct{}

func (ofxParser) Format() string { return "ofx" }

func (ofxParser) Parse(r io.Reader, minorUnitScale int) (*ParsedStatement, error) {
	resp, err := ofxgo.ParseResponse(r)
	if err != nil {
		return nil, utils.NewValidationError("MalformedRecord", "ofx parse: %v", err)
	}

	out := &ParsedStatement{}
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		out.AccountNumber = string(stmt.BankAcctFrom.AcctID)
		out.Currency = stmt.CurDef.String()
		out.StatementDate = stmt.DtAsOf.Time
		balance, err := minorUnitsFromDecimalString(stmt.BalAmt.String(), minorUnitScale)
		if err == nil {
			out.ClosingBalance = balance
			out.HasBalances = true
		}

		for _, tx := range stmt.BankTranList.Transactions {
			amount, err := minorUnitsFromDecimalString(tx.TrnAmt.String(), minorUnitScale)
			if err != nil {
				return nil, err
			}
			payee := ""
			if tx.Payee != nil {
				payee = string(tx.Payee.Name)
			} else {
				payee = string(tx.Name)
			}
			out.Lines = append(out.Lines, models.NewStatementLine{
				TransactionDate:   tx.DtPosted.Time,
				Amount:            amount,
				Currency:          out.Currency,
				BankReference:     string(tx.FiTID),
				CustomerReference: string(tx.CheckNum),
				PayeeName:         payee,
				Description:       string(tx.Memo),
			})
		}
	}
	if len(out.Lines) == 0 {
		return nil, utils.NewValidationError("EmptyStatement", "ofx file carries no bank transactions")
	}
	return out, nil
}

// --- XLSX ---

// xlsxParser reads the first sheet with the same column layout as the csv
// adapter.
type xlsxParser struct{}

func (xlsxParser) Format() string { return "xlsx" }

func (xlsxParser) Parse(r io.Reader, minorUnitScale int) (*ParsedStatement, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, utils.NewValidationError("MalformedRecord", "xlsx open: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, utils.NewValidationError("EmptyStatement", "xlsx file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, utils.NewValidationError("EmptyStatement", "xlsx sheet carries no data rows")
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return csvParser{}.Parse(strings.NewReader(buf.String()), minorUnitScale)
}
