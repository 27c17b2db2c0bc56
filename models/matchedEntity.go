package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/config"
	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"gorm.io/gorm"
)

// MatchCandidate is the flattened view of an internal entity the rule
// cascade consumes. Amount follows the bank sign convention: money into the
// account is positive, money out is negative.
type MatchCandidate struct {
	Kind           EntityKind
	EntityId       string
	DocumentNumber string
	PartyName      string
	Amount         int64
	Currency       string
	Date           time.Time
}

// CandidateProvider yields the open entities of one kind for an account and
// period. Each entity kind resolves against its own table; the union is
// assembled by CandidatesForPeriod, never by a polymorphic join.
type CandidateProvider interface {
	Kind() EntityKind
	Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error)
}

// --- minimal internal entities the reconciliation engine matches against ---

type SalesInvoice struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId    string     `gorm:"size:64;index;not null" json:"business_id"`
	AccountId     string     `gorm:"type:char(36);index;not null" json:"account_id"`
	InvoiceNumber string     `gorm:"size:100;index;not null" json:"invoice_number"`
	CustomerName  string     `gorm:"size:255" json:"customer_name"`
	OpenBalance   int64      `gorm:"not null" json:"open_balance"`
	Currency      string     `gorm:"size:3;not null" json:"currency"`
	InvoiceDate   time.Time  `gorm:"not null;index" json:"invoice_date"`
	ReconciledAt  *time.Time `json:"reconciled_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type Bill struct {
	ID           string     `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId   string     `gorm:"size:64;index;not null" json:"business_id"`
	AccountId    string     `gorm:"type:char(36);index;not null" json:"account_id"`
	BillNumber   string     `gorm:"size:100;index;not null" json:"bill_number"`
	SupplierName string     `gorm:"size:255" json:"supplier_name"`
	OpenBalance  int64      `gorm:"not null" json:"open_balance"`
	Currency     string     `gorm:"size:3;not null" json:"currency"`
	BillDate     time.Time  `gorm:"not null;index" json:"bill_date"`
	ReconciledAt *time.Time `json:"reconciled_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type CustomerPayment struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId    string     `gorm:"size:64;index;not null" json:"business_id"`
	AccountId     string     `gorm:"type:char(36);index;not null" json:"account_id"`
	PaymentNumber string     `gorm:"size:100;index;not null" json:"payment_number"`
	CustomerName  string     `gorm:"size:255" json:"customer_name"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Currency      string     `gorm:"size:3;not null" json:"currency"`
	PaymentDate   time.Time  `gorm:"not null;index" json:"payment_date"`
	ReconciledAt  *time.Time `json:"reconciled_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SupplierPayment struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId    string     `gorm:"size:64;index;not null" json:"business_id"`
	AccountId     string     `gorm:"type:char(36);index;not null" json:"account_id"`
	PaymentNumber string     `gorm:"size:100;index;not null" json:"payment_number"`
	SupplierName  string     `gorm:"size:255" json:"supplier_name"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Currency      string     `gorm:"size:3;not null" json:"currency"`
	PaymentDate   time.Time  `gorm:"not null;index" json:"payment_date"`
	ReconciledAt  *time.Time `json:"reconciled_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type JournalLine struct {
	ID           string     `gorm:"type:char(36);primaryKey" json:"id"`
	BusinessId   string     `gorm:"size:64;index;not null" json:"business_id"`
	AccountId    string     `gorm:"type:char(36);index;not null" json:"account_id"`
	JournalRef   string     `gorm:"size:100;index" json:"journal_ref"`
	Memo         string     `gorm:"size:255" json:"memo"`
	Amount       int64      `gorm:"not null" json:"amount"`
	Currency     string     `gorm:"size:3;not null" json:"currency"`
	PostingDate  time.Time  `gorm:"not null;index" json:"posting_date"`
	ReconciledAt *time.Time `json:"reconciled_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// --- db-backed providers ---

type salesInvoiceProvider struct{}

func (salesInvoiceProvider) Kind() EntityKind { return EntityKindSalesInvoice }

func (salesInvoiceProvider) Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	var rows []SalesInvoice
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND reconciled_at IS NULL AND invoice_date BETWEEN ? AND ?",
			businessId, accountId, periodStart, periodEnd).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MatchCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchCandidate{
			Kind:           EntityKindSalesInvoice,
			EntityId:       r.ID,
			DocumentNumber: r.InvoiceNumber,
			PartyName:      r.CustomerName,
			Amount:         r.OpenBalance,
			Currency:       r.Currency,
			Date:           r.InvoiceDate,
		})
	}
	return out, nil
}

type billProvider struct{}

func (billProvider) Kind() EntityKind { return EntityKindBill }

func (billProvider) Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	var rows []Bill
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND reconciled_at IS NULL AND bill_date BETWEEN ? AND ?",
			businessId, accountId, periodStart, periodEnd).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MatchCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchCandidate{
			Kind:           EntityKindBill,
			EntityId:       r.ID,
			DocumentNumber: r.BillNumber,
			PartyName:      r.SupplierName,
			Amount:         -r.OpenBalance,
			Currency:       r.Currency,
			Date:           r.BillDate,
		})
	}
	return out, nil
}

type customerPaymentProvider struct{}

func (customerPaymentProvider) Kind() EntityKind { return EntityKindCustomerPayment }

func (customerPaymentProvider) Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	var rows []CustomerPayment
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND reconciled_at IS NULL AND payment_date BETWEEN ? AND ?",
			businessId, accountId, periodStart, periodEnd).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MatchCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchCandidate{
			Kind:           EntityKindCustomerPayment,
			EntityId:       r.ID,
			DocumentNumber: r.PaymentNumber,
			PartyName:      r.CustomerName,
			Amount:         r.Amount,
			Currency:       r.Currency,
			Date:           r.PaymentDate,
		})
	}
	return out, nil
}

type supplierPaymentProvider struct{}

func (supplierPaymentProvider) Kind() EntityKind { return EntityKindSupplierPayment }

func (supplierPaymentProvider) Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	var rows []SupplierPayment
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND reconciled_at IS NULL AND payment_date BETWEEN ? AND ?",
			businessId, accountId, periodStart, periodEnd).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MatchCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchCandidate{
			Kind:           EntityKindSupplierPayment,
			EntityId:       r.ID,
			DocumentNumber: r.PaymentNumber,
			PartyName:      r.SupplierName,
			Amount:         -r.Amount,
			Currency:       r.Currency,
			Date:           r.PaymentDate,
		})
	}
	return out, nil
}

type journalLineProvider struct{}

func (journalLineProvider) Kind() EntityKind { return EntityKindJournalLine }

func (journalLineProvider) Candidates(ctx context.Context, businessId string, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	var rows []JournalLine
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ? AND reconciled_at IS NULL AND posting_date BETWEEN ? AND ?",
			businessId, accountId, periodStart, periodEnd).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MatchCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchCandidate{
			Kind:           EntityKindJournalLine,
			EntityId:       r.ID,
			DocumentNumber: r.JournalRef,
			PartyName:      r.Memo,
			Amount:         r.Amount,
			Currency:       r.Currency,
			Date:           r.PostingDate,
		})
	}
	return out, nil
}

// DefaultCandidateProviders returns the db-backed provider per entity kind.
func DefaultCandidateProviders() []CandidateProvider {
	return []CandidateProvider{
		salesInvoiceProvider{},
		billProvider{},
		customerPaymentProvider{},
		supplierPaymentProvider{},
		journalLineProvider{},
	}
}

// CandidatesForPeriod assembles the candidate union across all providers.
func CandidatesForPeriod(ctx context.Context, providers []CandidateProvider, accountId string, periodStart time.Time, periodEnd time.Time) ([]MatchCandidate, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("MissingBusiness", "business id is required")
	}
	var all []MatchCandidate
	for _, p := range providers {
		batch, err := p.Candidates(ctx, businessId, accountId, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

// MarkEntityReconciled stamps the matched entity when a match is confirmed.
// Runs on the caller's transaction so the stamp rolls back with the match.
// Unknown kinds are a Validation error so a bad union tag never writes.
func MarkEntityReconciled(tx *gorm.DB, ctx context.Context, kind EntityKind, entityId string, at time.Time) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("MissingBusiness", "business id is required")
	}
	var model interface{}
	switch kind {
	case EntityKindSalesInvoice:
		model = &SalesInvoice{}
	case EntityKindBill:
		model = &Bill{}
	case EntityKindCustomerPayment:
		model = &CustomerPayment{}
	case EntityKindSupplierPayment:
		model = &SupplierPayment{}
	case EntityKindJournalLine:
		model = &JournalLine{}
	default:
		return utils.NewValidationError("UnknownEntityKind", "unknown matched entity kind %s", kind)
	}
	return tx.WithContext(ctx).Model(model).
		Where("business_id = ? AND id = ?", businessId, entityId).
		Update("reconciled_at", at).Error
}
