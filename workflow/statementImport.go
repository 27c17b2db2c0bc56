package workflow

import (
	"context"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
)

// StatementImportRequest carries the statement metadata the file format may
// not. Values present in the file win only where the request leaves them
// unset.
type StatementImportRequest struct {
	AccountId      string     `json:"account_id" binding:"required"`
	Format         string     `json:"format" binding:"required"`
	Currency       string     `json:"currency" binding:"required,len=3"`
	StatementDate  *time.Time `json:"statement_date"`
	OpeningBalance *int64     `json:"opening_balance"`
	ClosingBalance *int64     `json:"closing_balance"`
}

// ImportStatementFromFile parses one statement file and imports it. Balance
// validation and duplicate detection happen in models.ImportStatement.
func ImportStatementFromFile(ctx context.Context, req *StatementImportRequest, r io.Reader) (*models.BankStatement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}

	parser, err := ParserFor(req.Format)
	if err != nil {
		return nil, err
	}
	scale, err := models.MinorUnitScale(ctx, businessId, req.Currency)
	if err != nil {
		return nil, err
	}
	parsed, err := parser.Parse(r, scale)
	if err != nil {
		return nil, err
	}

	statementDate := parsed.StatementDate
	if req.StatementDate != nil {
		statementDate = *req.StatementDate
	}
	if statementDate.IsZero() {
		return nil, utils.NewValidationError("MissingStatementDate",
			"the file carries no statement date and none was supplied")
	}

	opening, closing := parsed.OpeningBalance, parsed.ClosingBalance
	if req.OpeningBalance != nil {
		opening = *req.OpeningBalance
	}
	if req.ClosingBalance != nil {
		closing = *req.ClosingBalance
	}
	if !parsed.HasBalances && req.OpeningBalance == nil && req.ClosingBalance == nil {
		return nil, utils.NewValidationError("MissingBalances",
			"the file carries no balances and none were supplied")
	}

	input := models.NewBankStatement{
		AccountId:      req.AccountId,
		StatementDate:  statementDate,
		Currency:       req.Currency,
		OpeningBalance: opening,
		ClosingBalance: closing,
		Lines:          parsed.Lines,
	}
	return models.ImportStatement(ctx, &input)
}
