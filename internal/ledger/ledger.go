// Package ledger tracks sales and the lifecycle of their installments.
package ledger

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
	"immoledger/server/internal/queue"
	"immoledger/server/internal/schedule"
)

// SaleInput is the "create sale" fact handed over by the property/parcel
// collaborators.
type SaleInput struct {
	AgencyID         string             `json:"agency_id" binding:"required"`
	AssetType        string             `json:"asset_type" binding:"required"`
	AssetID          string             `json:"asset_id" binding:"required"`
	BuyerID          string             `json:"buyer_id" binding:"required"`
	TotalPrice       int64              `json:"total_price"`
	PaymentType      models.PaymentType `json:"payment_type" binding:"required"`
	DownPayment      int64              `json:"down_payment"`
	MonthlyAmount    int64              `json:"monthly_amount"`
	InstallmentCount int                `json:"installment_count"`
	SaleDate         time.Time          `json:"sale_date"`
}

// Payment records how an installment was settled.
type Payment struct {
	Amount int64     `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
	Method string    `json:"method"`
}

// Ledger owns every write to sales and installments.
type Ledger struct {
	db     *database.Database
	events *queue.EventQueue
	logger *logrus.Logger
	now    func() time.Time
}

func NewLedger(db *database.Database, events *queue.EventQueue, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Ledger{
		db:     db,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateSale stores a sale and its whole schedule in one transaction. A sale
// never exists with a missing or partial schedule.
func (l *Ledger) CreateSale(ctx context.Context, in SaleInput) (*models.Sale, []models.Installment, error) {
	if in.TotalPrice <= 0 {
		return nil, nil, errs.Invalid("total_price", "must be greater than zero")
	}
	if in.SaleDate.IsZero() {
		in.SaleDate = l.now()
	}
	in.SaleDate = in.SaleDate.UTC()

	sale := &models.Sale{
		ID:          uuid.NewString(),
		AgencyID:    in.AgencyID,
		AssetType:   in.AssetType,
		AssetID:     in.AssetID,
		BuyerID:     in.BuyerID,
		TotalPrice:  in.TotalPrice,
		PaymentType: in.PaymentType,
		SaleDate:    in.SaleDate,
	}

	var installments []models.Installment
	switch in.PaymentType {
	case models.PaymentTypeCash:
		sale.Status = models.SaleStatusComplete
	case models.PaymentTypeInstallment:
		lines, err := schedule.Generate(schedule.Params{
			SaleDate:      in.SaleDate,
			TotalPrice:    in.TotalPrice,
			DownPayment:   in.DownPayment,
			MonthlyAmount: in.MonthlyAmount,
			Count:         in.InstallmentCount,
		})
		if err != nil {
			return nil, nil, err
		}
		sale.Status = models.SaleStatusInProgress
		sale.DownPayment = in.DownPayment
		sale.MonthlyAmount = in.MonthlyAmount
		sale.TotalInstallments = len(lines)
		installments = make([]models.Installment, len(lines))
		for i, line := range lines {
			installments[i] = models.Installment{
				ID:      uuid.NewString(),
				SaleID:  sale.ID,
				Number:  line.Number,
				DueDate: line.DueDate,
				Amount:  line.Amount,
				Status:  models.InstallmentStatusPending,
			}
		}
	default:
		return nil, nil, errs.Invalid("payment_type", "must be cash or installment")
	}

	err := l.db.Transact(ctx, func(tx *gorm.DB) error {
		return database.InsertSale(tx, sale, installments)
	})
	if err != nil {
		l.logger.WithError(err).WithField("agency_id", in.AgencyID).Error("Failed to create sale")
		return nil, nil, errs.Persistence("create sale", err)
	}

	l.logger.WithFields(logrus.Fields{
		"sale_id":      sale.ID,
		"agency_id":    sale.AgencyID,
		"payment_type": sale.PaymentType,
		"installments": len(installments),
	}).Info("Sale created")

	if sale.Status == models.SaleStatusComplete {
		l.events.Publish(models.LedgerEvent{Kind: models.EventSaleCompleted, AgencyID: sale.AgencyID, SaleID: sale.ID, At: l.now()})
	}
	return sale, installments, nil
}

// PayInstallment settles an installment. Paying an installment that is
// already paid succeeds without changing anything.
func (l *Ledger) PayInstallment(ctx context.Context, installmentID string, p Payment) (*models.Installment, error) {
	var (
		inst    *models.Installment
		outcome PayOutcome
	)
	err := l.db.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		outcome, err = PayInstallmentTx(tx, installmentID, p, l.now())
		if err != nil {
			return err
		}
		inst, err = database.GetInstallment(tx, installmentID)
		return err
	})
	if err != nil {
		return nil, errs.Persistence("pay installment", err)
	}

	l.Announce(outcome)
	return inst, nil
}

// PayOutcome describes what a payment changed, for event publication after
// commit.
type PayOutcome struct {
	Applied       bool
	SaleCompleted bool
	AgencyID      string
	SaleID        string
	InstallmentID string
	TransactionID string
}

// PayInstallmentTx is the transactional core of PayInstallment, shared with
// the webhook reconciler so an installment and its gateway transaction
// commit together.
func PayInstallmentTx(tx *gorm.DB, installmentID string, p Payment, now time.Time) (PayOutcome, error) {
	inst, err := database.GetInstallment(tx, installmentID)
	if err != nil {
		return PayOutcome{}, err
	}
	sale, err := database.GetSale(tx, inst.SaleID)
	if err != nil {
		return PayOutcome{}, err
	}
	out := PayOutcome{AgencyID: sale.AgencyID, SaleID: sale.ID, InstallmentID: inst.ID}

	if inst.Status == models.InstallmentStatusPaid {
		return out, nil
	}
	if sale.Status == models.SaleStatusCancelled {
		return out, errs.Invalid("installment_id", "belongs to a cancelled sale")
	}
	if p.Amount <= 0 {
		p.Amount = inst.Amount
	}
	if p.PaidAt.IsZero() {
		p.PaidAt = now
	}

	applied, err := database.MarkInstallmentPaid(tx, inst.ID, p.Amount, p.PaidAt.UTC(), p.Method)
	if err != nil {
		return out, err
	}
	if !applied {
		return out, nil
	}
	out.Applied = true

	paid, err := database.CountPaidInstallments(tx, sale.ID)
	if err != nil {
		return out, err
	}
	if paid > sale.TotalInstallments {
		return out, errors.New("paid installment count exceeds schedule")
	}
	status := sale.Status
	if paid == sale.TotalInstallments {
		status = models.SaleStatusComplete
		out.SaleCompleted = true
	}
	if err := database.UpdateSaleProgress(tx, sale.ID, paid, status); err != nil {
		return out, err
	}
	return out, nil
}

// Announce publishes the events of a committed payment.
func (l *Ledger) Announce(out PayOutcome) {
	if !out.Applied {
		l.logger.WithField("installment_id", out.InstallmentID).Info("Installment already paid, nothing to apply")
		return
	}
	now := l.now()
	l.logger.WithFields(logrus.Fields{
		"installment_id": out.InstallmentID,
		"sale_id":        out.SaleID,
		"sale_completed": out.SaleCompleted,
	}).Info("Installment paid")
	l.events.Publish(models.LedgerEvent{
		Kind:          models.EventInstallmentPaid,
		AgencyID:      out.AgencyID,
		SaleID:        out.SaleID,
		InstallmentID: out.InstallmentID,
		TransactionID: out.TransactionID,
		At:            now,
	})
	if out.SaleCompleted {
		l.events.Publish(models.LedgerEvent{Kind: models.EventSaleCompleted, AgencyID: out.AgencyID, SaleID: out.SaleID, At: now})
	}
}

// CancelSale flags an in-progress sale as cancelled. Rows are kept.
func (l *Ledger) CancelSale(ctx context.Context, saleID string) (*models.Sale, error) {
	var sale *models.Sale
	err := l.db.Transact(ctx, func(tx *gorm.DB) error {
		current, err := database.GetSale(tx, saleID)
		if err != nil {
			return err
		}
		if current.Status == models.SaleStatusCancelled {
			sale = current
			return nil
		}
		ok, err := database.SetSaleStatus(tx, saleID, models.SaleStatusCancelled, models.SaleStatusInProgress)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Invalid("sale_id", "only in-progress sales can be cancelled")
		}
		sale, err = database.GetSale(tx, saleID)
		return err
	})
	if err != nil {
		return nil, errs.Persistence("cancel sale", err)
	}
	l.events.Publish(models.LedgerEvent{Kind: models.EventSaleCancelled, AgencyID: sale.AgencyID, SaleID: sale.ID, At: l.now()})
	return sale, nil
}

// GetInstallment returns a stored installment.
func (l *Ledger) GetInstallment(ctx context.Context, id string) (*models.Installment, error) {
	inst, err := database.GetInstallment(l.db.GetDB().WithContext(ctx), id)
	if err != nil {
		return nil, errs.Persistence("get installment", err)
	}
	return inst, nil
}
