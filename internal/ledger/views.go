package ledger

import (
	"context"
	"time"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
)

// InstallmentView is an installment as surfaced to display collaborators,
// with overdue derived from the read time.
type InstallmentView struct {
	models.Installment
	Status      models.InstallmentStatus `json:"status"`
	DaysOverdue int                      `json:"days_overdue,omitempty"`
}

// SaleView is a read-only sale snapshot.
type SaleView struct {
	Sale             models.Sale       `json:"sale"`
	Installments     []InstallmentView `json:"installments"`
	PaidAmount       int64             `json:"paid_amount"`
	OutstandingTotal int64             `json:"outstanding_total"`
	OverdueCount     int               `json:"overdue_count"`
	NextDue          *InstallmentView  `json:"next_due,omitempty"`
}

func viewOf(inst models.Installment, now time.Time) InstallmentView {
	v := InstallmentView{Installment: inst, Status: inst.EffectiveStatus(now)}
	if v.Status == models.InstallmentStatusOverdue {
		v.DaysOverdue = int(now.Sub(inst.DueDate).Hours() / 24)
	}
	return v
}

// BuildSaleView computes the derived figures of a sale at now.
func BuildSaleView(sale models.Sale, now time.Time) SaleView {
	view := SaleView{Sale: sale, PaidAmount: sale.DownPayment}
	if sale.PaymentType == models.PaymentTypeCash {
		view.PaidAmount = sale.TotalPrice
	}
	view.Installments = make([]InstallmentView, 0, len(sale.Installments))
	for _, inst := range sale.Installments {
		v := viewOf(inst, now)
		view.Installments = append(view.Installments, v)
		switch v.Status {
		case models.InstallmentStatusPaid:
			if inst.PaidAmount != nil {
				view.PaidAmount += *inst.PaidAmount
			} else {
				view.PaidAmount += inst.Amount
			}
		case models.InstallmentStatusOverdue:
			view.OverdueCount++
			view.OutstandingTotal += inst.Amount
		default:
			view.OutstandingTotal += inst.Amount
		}
		if v.Status != models.InstallmentStatusPaid && view.NextDue == nil {
			next := v
			view.NextDue = &next
		}
	}
	view.Sale.Installments = nil
	return view
}

// GetSale returns the sale view at now.
func (l *Ledger) GetSale(ctx context.Context, saleID string, now time.Time) (*SaleView, error) {
	sale, err := database.GetSaleWithInstallments(l.db.GetDB().WithContext(ctx), saleID)
	if err != nil {
		return nil, errs.Persistence("get sale", err)
	}
	view := BuildSaleView(*sale, now)
	return &view, nil
}

// ListOverdue returns an agency's overdue installments at now, oldest first.
func (l *Ledger) ListOverdue(ctx context.Context, agencyID string, now time.Time) ([]InstallmentView, error) {
	open, err := database.ListOpenInstallments(l.db.GetDB().WithContext(ctx), agencyID)
	if err != nil {
		return nil, errs.Persistence("list overdue", err)
	}
	overdue := make([]InstallmentView, 0)
	for _, inst := range open {
		if inst.IsOverdue(now) {
			overdue = append(overdue, viewOf(inst, now))
		}
	}
	return overdue, nil
}
