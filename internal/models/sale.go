package models

import "time"

type PaymentType string

const (
	PaymentTypeCash        PaymentType = "cash"
	PaymentTypeInstallment PaymentType = "installment"
)

type SaleStatus string

const (
	SaleStatusInProgress SaleStatus = "in_progress"
	SaleStatusComplete   SaleStatus = "complete"
	SaleStatusCancelled  SaleStatus = "cancelled"
)

type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	// InstallmentStatusOverdue is never stored. It is derived at read time
	// from a pending installment whose due date has passed.
	InstallmentStatusOverdue InstallmentStatus = "overdue"
)

// Sale is a confirmed sale of a property unit or a land parcel.
// TotalInstallments and MonthlyAmount are fixed at origination.
type Sale struct {
	ID                string      `gorm:"primaryKey;size:36" json:"id"`
	AgencyID          string      `gorm:"index;not null" json:"agency_id"`
	AssetType         string      `gorm:"not null" json:"asset_type"`
	AssetID           string      `gorm:"index;not null" json:"asset_id"`
	BuyerID           string      `gorm:"index;not null" json:"buyer_id"`
	TotalPrice        int64       `gorm:"not null" json:"total_price"`
	PaymentType       PaymentType `gorm:"not null" json:"payment_type"`
	DownPayment       int64       `gorm:"not null;default:0" json:"down_payment"`
	MonthlyAmount     int64       `gorm:"not null;default:0" json:"monthly_amount"`
	TotalInstallments int         `gorm:"not null;default:0" json:"total_installments"`
	PaidInstallments  int         `gorm:"not null;default:0" json:"paid_installments"`
	Status            SaleStatus  `gorm:"index;not null" json:"status"`
	SaleDate          time.Time   `gorm:"not null" json:"sale_date"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`

	Installments []Installment `gorm:"foreignKey:SaleID;constraint:OnDelete:RESTRICT" json:"installments,omitempty"`
}

// Installment is one scheduled dated payment of a Sale (échéance).
type Installment struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	SaleID        string            `gorm:"index;not null;uniqueIndex:idx_installment_sale_number" json:"sale_id"`
	Number        int               `gorm:"not null;uniqueIndex:idx_installment_sale_number" json:"number"`
	DueDate       time.Time         `gorm:"index;not null" json:"due_date"`
	Amount        int64             `gorm:"not null" json:"amount"`
	Status        InstallmentStatus `gorm:"index;not null" json:"status"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	PaidAmount    *int64            `json:"paid_amount,omitempty"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsOverdue reports whether a pending installment's due date is before now.
func (i Installment) IsOverdue(now time.Time) bool {
	return i.Status == InstallmentStatusPending && i.DueDate.Before(now)
}

// EffectiveStatus returns the status surfaced to readers.
func (i Installment) EffectiveStatus(now time.Time) InstallmentStatus {
	if i.IsOverdue(now) {
		return InstallmentStatusOverdue
	}
	return i.Status
}
