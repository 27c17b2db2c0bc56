package models

// --- Bank reconciliation ---

type StatementStatus string

const (
	StatementStatusImported   StatementStatus = "Imported"
	StatementStatusProcessed  StatementStatus = "Processed"
	StatementStatusReconciled StatementStatus = "Reconciled"
	StatementStatusFailed     StatementStatus = "Failed"
)

type LineReconciliationStatus string

const (
	LineStatusUnmatched     LineReconciliationStatus = "Unmatched"
	LineStatusProposedMatch LineReconciliationStatus = "ProposedMatch"
	LineStatusMatched       LineReconciliationStatus = "Matched"
	LineStatusException     LineReconciliationStatus = "Exception"
)

type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "InProgress"
	SessionStatusCompleted  SessionStatus = "Completed"
	SessionStatusAbandoned  SessionStatus = "Abandoned"
)

type MatchStatus string

const (
	MatchStatusProposed  MatchStatus = "Proposed"
	MatchStatusConfirmed MatchStatus = "Confirmed"
	MatchStatusRejected  MatchStatus = "Rejected"
)

// MatchRule names the cascade rule that produced a match. Rules are ordered
// by descending specificity; the numeric rank drives the cascade.
type MatchRule string

const (
	MatchRuleExactReference       MatchRule = "ExactReference"
	MatchRuleExactAmountDate      MatchRule = "ExactAmountDate"
	MatchRuleAmountTolerancePayee MatchRule = "AmountTolerancePayee"
	MatchRuleApproximateAmount    MatchRule = "ApproximateAmount"
	MatchRuleManual               MatchRule = "Manual"
)

// EntityKind tags the matched-entity union. Each kind resolves against its
// own table through the candidate provider registry; never model this as
// inheritance.
type EntityKind string

const (
	EntityKindSalesInvoice    EntityKind = "SalesInvoice"
	EntityKindBill            EntityKind = "Bill"
	EntityKindCustomerPayment EntityKind = "CustomerPayment"
	EntityKindSupplierPayment EntityKind = "SupplierPayment"
	EntityKindJournalLine     EntityKind = "JournalLine"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindSalesInvoice, EntityKindBill, EntityKindCustomerPayment,
		EntityKindSupplierPayment, EntityKindJournalLine:
		return true
	}
	return false
}

// --- Webhook delivery ---

type EndpointStatus string

const (
	EndpointStatusActive   EndpointStatus = "Active"
	EndpointStatusInactive EndpointStatus = "Inactive"
	EndpointStatusDisabled EndpointStatus = "Disabled"
	EndpointStatusPending  EndpointStatus = "Pending"
)

type EndpointAuthMode string

const (
	EndpointAuthNone   EndpointAuthMode = "None"
	EndpointAuthBasic  EndpointAuthMode = "Basic"
	EndpointAuthBearer EndpointAuthMode = "Bearer"
	EndpointAuthApiKey EndpointAuthMode = "ApiKey"
)

func (m EndpointAuthMode) Valid() bool {
	switch m {
	case EndpointAuthNone, EndpointAuthBasic, EndpointAuthBearer, EndpointAuthApiKey:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "Pending"
	DeliveryStatusProcessing DeliveryStatus = "Processing"
	DeliveryStatusDelivered  DeliveryStatus = "Delivered"
	DeliveryStatusRetrying   DeliveryStatus = "Retrying"
	DeliveryStatusAbandoned  DeliveryStatus = "Abandoned"
)

// IsTerminal reports whether a delivery can never transition again.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusAbandoned
}

// --- Process mining ---

type ProcessStatus string

const (
	ProcessStatusActive   ProcessStatus = "Active"
	ProcessStatusInactive ProcessStatus = "Inactive"
	ProcessStatusArchived ProcessStatus = "Archived"
)

type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "Running"
	InstanceStatusCompleted InstanceStatus = "Completed"
)

type ProcessEventType string

const (
	ProcessEventTypeStart    ProcessEventType = "Start"
	ProcessEventTypeComplete ProcessEventType = "Complete"
	ProcessEventTypeAbort    ProcessEventType = "Abort"
)

type AnalysisType string

const (
	AnalysisTypeDiscovery   AnalysisType = "Discovery"
	AnalysisTypeBottleneck  AnalysisType = "Bottleneck"
	AnalysisTypeConformance AnalysisType = "Conformance"
)

type DeviationType string

const (
	DeviationMissingActivity       DeviationType = "MissingActivity"
	DeviationExtraActivity         DeviationType = "ExtraActivity"
	DeviationWrongOrder            DeviationType = "WrongOrder"
	DeviationDuplicateActivity     DeviationType = "DuplicateActivity"
	DeviationPrematureEnd          DeviationType = "PrematureEnd"
	DeviationLateStart             DeviationType = "LateStart"
	DeviationUnauthorizedPerformer DeviationType = "UnauthorizedPerformer"
)

// --- Shared ---

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
