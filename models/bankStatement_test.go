package models

import (
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

// A statement period can be superseded and reimported more than once, so the
// history holds several rows per (account, date). No unique index may span
// those columns; duplicate detection for live statements is the application
// check in ImportStatement on non-superseded rows.
func TestBankStatementPeriodIndexNotUnique(t *testing.T) {
	s, err := schema.Parse(&BankStatement{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parsing statement schema: %v", err)
	}
	indexes := s.ParseIndexes()

	idx, ok := indexes["idx_stmt_period"]
	if !ok {
		t.Fatal("expected the idx_stmt_period index")
	}
	if idx.Class == "UNIQUE" {
		t.Fatal("the period index must not be unique: superseded history repeats (account, date)")
	}

	for name, ix := range indexes {
		if ix.Class != "UNIQUE" {
			continue
		}
		for _, f := range ix.Fields {
			if f.DBName == "account_id" || f.DBName == "statement_date" || f.DBName == "is_superseded" {
				t.Fatalf("index %s would block reimporting a superseded period", name)
			}
		}
	}
}
