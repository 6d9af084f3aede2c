package models

import "time"

type EventKind string

const (
	EventInstallmentPaid       EventKind = "installment_paid"
	EventSaleCompleted         EventKind = "sale_completed"
	EventSaleCancelled         EventKind = "sale_cancelled"
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventPlanChanged           EventKind = "plan_changed"
	EventTransactionCompleted  EventKind = "transaction_completed"
	EventTransactionFailed     EventKind = "transaction_failed"
)

// LedgerEvent notifies display collaborators of a committed ledger change.
type LedgerEvent struct {
	Kind           EventKind `json:"kind"`
	AgencyID       string    `json:"agency_id,omitempty"`
	SaleID         string    `json:"sale_id,omitempty"`
	InstallmentID  string    `json:"installment_id,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	At             time.Time `json:"at"`
}
