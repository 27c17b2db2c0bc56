package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/google/uuid"
)

// BankStatement identifies one imported periodic statement file. Immutable
// after import except for status transitions and the superseded flag.
type BankStatement struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId     string          `gorm:"size:64;index;not null" json:"business_id"`
	AccountId      string          `gorm:"type:char(36);not null;index:idx_stmt_period" json:"account_id"`
	StatementDate  time.Time       `gorm:"not null;index:idx_stmt_period" json:"statement_date"`
	IsSuperseded   bool            `gorm:"not null;default:false" json:"is_superseded"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	OpeningBalance int64           `gorm:"not null" json:"opening_balance"`
	ClosingBalance int64           `gorm:"not null" json:"closing_balance"`
	TotalCredits   int64           `gorm:"not null" json:"total_credits"`
	TotalDebits    int64           `gorm:"not null" json:"total_debits"`
	Status         StatementStatus `gorm:"size:20;not null;index" json:"status"`
	Lines          []BankStatementLine `gorm:"foreignKey:StatementId" json:"lines"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BankStatementLine is one transaction line within a statement. Credits to
// the internal account are positive, debits negative.
type BankStatementLine struct {
	ID                string                   `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId        string                   `gorm:"size:64;index;not null" json:"business_id"`
	StatementId       string                   `gorm:"type:char(36);index;not null" json:"statement_id"`
	AccountId         string                   `gorm:"type:char(36);not null;index:idx_line_account_status" json:"account_id"`
	TransactionDate   time.Time                `gorm:"not null;index" json:"transaction_date"`
	ValueDate         *time.Time               `json:"value_date"`
	Amount            int64                    `gorm:"not null" json:"amount"`
	Currency          string                   `gorm:"size:3;not null" json:"currency"`
	BankReference     string                   `gorm:"size:255;default:null" json:"bank_reference"`
	CustomerReference string                   `gorm:"size:255;default:null" json:"customer_reference"`
	PayeeName         string                   `gorm:"size:255;default:null" json:"payee_name"`
	Description       string                   `gorm:"type:text" json:"description"`
	Status            LineReconciliationStatus `gorm:"size:20;not null;index:idx_line_account_status" json:"status"`
	MatchedEntityKind *EntityKind              `gorm:"size:30" json:"matched_entity_kind"`
	MatchedEntityId   *string                  `gorm:"type:char(36)" json:"matched_entity_id"`
	MatchedAmount     *int64                   `json:"matched_amount"`
	MatchConfidence   *float64                 `json:"match_confidence"`
	MatchRule         *MatchRule               `gorm:"size:30" json:"match_rule"`
	CreatedAt         time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewStatementLine is the parsed line shape every statement-format adapter
// (BAI2, CSV, OFX, XLSX) produces.
type NewStatementLine struct {
	TransactionDate   time.Time  `json:"transaction_date" binding:"required"`
	ValueDate         *time.Time `json:"value_date"`
	Amount            int64      `json:"amount" binding:"required"`
	Currency          string     `json:"currency"`
	BankReference     string     `json:"bank_reference"`
	CustomerReference string     `json:"customer_reference"`
	PayeeName         string     `json:"payee_name"`
	Description       string     `json:"description"`
}

type NewBankStatement struct {
	AccountId      string             `json:"account_id" binding:"required"`
	StatementDate  time.Time          `json:"statement_date" binding:"required"`
	Currency       string             `json:"currency" binding:"required,len=3"`
	OpeningBalance int64              `json:"opening_balance"`
	ClosingBalance int64              `json:"closing_balance"`
	Lines          []NewStatementLine `json:"lines" binding:"required,min=1"`
}

// ImportStatement creates the statement in Imported state with all lines
// Unmatched. Fails with DuplicateStatement when a non-superseded statement
// for the same (account, statement_date) exists, and with InvalidBalances
// when opening + credits - debits != closing.
func ImportStatement(ctx context.Context, input *NewBankStatement) (*BankStatement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}

	var credits, debits int64
	for _, l := range input.Lines {
		if l.Amount >= 0 {
			credits += l.Amount
		} else {
			debits += -l.Amount
		}
	}
	if input.OpeningBalance+credits-debits != input.ClosingBalance {
		return nil, utils.NewValidationError("InvalidBalances",
			"opening %d + credits %d - debits %d != closing %d",
			input.OpeningBalance, credits, debits, input.ClosingBalance)
	}

	count, err := utils.ResourceCountWhere[BankStatement](ctx, businessId,
		"account_id = ? AND statement_date = ? AND is_superseded = 0", input.AccountId, input.StatementDate)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError("DuplicateStatement",
			"statement for account %s dated %s already imported", input.AccountId, input.StatementDate.Format("2006-01-02"))
	}

	statement := BankStatement{
		ID:             uuid.NewString(),
		BusinessId:     businessId,
		AccountId:      input.AccountId,
		StatementDate:  input.StatementDate,
		Currency:       input.Currency,
		OpeningBalance: input.OpeningBalance,
		ClosingBalance: input.ClosingBalance,
		TotalCredits:   credits,
		TotalDebits:    debits,
		Status:         StatementStatusImported,
	}
	for _, l := range input.Lines {
		currency := l.Currency
		if currency == "" {
			currency = input.Currency
		}
		statement.Lines = append(statement.Lines, BankStatementLine{
			ID:                uuid.NewString(),
			BusinessId:        businessId,
			AccountId:         input.AccountId,
			TransactionDate:   l.TransactionDate,
			ValueDate:         l.ValueDate,
			Amount:            l.Amount,
			Currency:          currency,
			BankReference:     l.BankReference,
			CustomerReference: l.CustomerReference,
			PayeeName:         l.PayeeName,
			Description:       l.Description,
			Status:            LineStatusUnmatched,
		})
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&statement).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &statement, nil
}

func GetBankStatement(ctx context.Context, id string) (*BankStatement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	var statement BankStatement
	db := config.GetDB()
	if err := db.WithContext(ctx).Preload("Lines").
		Where("business_id = ? AND id = ?", businessId, id).
		First(&statement).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &statement, nil
}

// SupersedeStatement marks a statement replaced so the same period can be
// reimported (bad files, bank corrections).
func SupersedeStatement(ctx context.Context, id string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&BankStatement{}).
		Where("business_id = ? AND id = ? AND is_superseded = 0", businessId, id).
		Updates(map[string]interface{}{
			"is_superseded": true,
			"status":        StatementStatusFailed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
