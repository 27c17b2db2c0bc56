package models

import (
	"log"

	"bitbucket.org/mmdatafocus/erp_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Currency{},
		&BankStatement{}, &BankStatementLine{},
		&ReconciliationSession{}, &ReconciliationMatch{}, &ReconciliationAccountConfig{},
		&SalesInvoice{}, &Bill{}, &CustomerPayment{}, &SupplierPayment{}, &JournalLine{},
		&WebhookEndpoint{}, &WebhookEvent{}, &WebhookDelivery{},
		&ProcessDefinition{}, &ProcessInstance{}, &ProcessEvent{}, &ProcessVariant{}, &ProcessReport{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
