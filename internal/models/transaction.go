package models

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionRefunded
}

// Metadata keys stored on transactions.
const (
	MetaKind            = "kind"
	MetaPreviousPlanID  = "previous_plan_id"
	MetaPreviousCycle   = "previous_cycle"
	MetaCurrentCredit   = "current_plan_credit"
	MetaNewProrataCost  = "new_plan_prorata_cost"
	MetaRemainingDays   = "remaining_days"
	MetaTotalDays       = "total_days"
	MetaCreditAmount    = "credit_amount"
	MetaCorrespondent   = "correspondent"
	MetaCustomerPhone   = "customer_phone"
	MetaCountryCode     = "country_code"
	MetaProviderToken   = "provider_token"
	MetaPreservedEndsAt = "preserved_ends_at"
	MetaApplyError      = "apply_error"
)

// Transaction kinds.
const (
	KindSubscription    = "subscription"
	KindProratedUpgrade = "prorated_upgrade"
	KindDowngradeCredit = "downgrade_credit"
	KindInstallment     = "installment"
)

// Transaction is one payment attempt. It is immutable once terminal.
type Transaction struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	AgencyID       string            `gorm:"index;not null" json:"agency_id"`
	PlanID         *string           `gorm:"index" json:"plan_id,omitempty"`
	SubscriptionID *string           `gorm:"index" json:"subscription_id,omitempty"`
	InstallmentID  *string           `gorm:"index" json:"installment_id,omitempty"`
	BillingCycle   BillingCycle      `json:"billing_cycle,omitempty"`
	Amount         int64             `gorm:"not null" json:"amount"`
	Currency       string            `gorm:"size:3;not null" json:"currency"`
	PaymentMethod  string            `json:"payment_method"`
	Provider       string            `gorm:"index" json:"provider"`
	ProviderCode   string            `json:"provider_code,omitempty"`
	ProviderRef    *string           `gorm:"uniqueIndex" json:"provider_ref,omitempty"`
	Status         TransactionStatus `gorm:"index;not null" json:"status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	Version        int               `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Kind returns the metadata kind, defaulting to a plain subscription payment.
func (t Transaction) Kind() string {
	if k, ok := t.Metadata[MetaKind].(string); ok && k != "" {
		return k
	}
	if t.InstallmentID != nil {
		return KindInstallment
	}
	return KindSubscription
}
