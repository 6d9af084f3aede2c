package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/gateway"
	"immoledger/server/internal/models"
	"immoledger/server/internal/money"
)

// charge is a payment about to be handed to a gateway.
type charge struct {
	agencyID      string
	planID        *string
	installmentID *string
	cycle         models.BillingCycle
	amount        int64
	method        string
	provider      string
	phone         string
	country       string
	description   string
	meta          datatypes.JSONMap
}

// charge validates the corridor, persists a pending transaction and calls
// the gateway once. Nothing is persisted when the corridor or phone number
// is rejected.
func (o *Orchestrator) charge(ctx context.Context, c charge) (*Response, error) {
	if strings.TrimSpace(c.method) == "" {
		o.metrics.RecordCheckout("invalid")
		return nil, errs.Invalid("payment_method", "is required for a paid plan")
	}
	if strings.TrimSpace(c.country) == "" {
		o.metrics.RecordCheckout("invalid")
		return nil, errs.Invalid("country_code", "is required for a paid plan")
	}

	g, code, err := o.gateways.Resolve(c.provider, c.method, c.country)
	if err != nil {
		o.metrics.RecordCheckout("unsupported")
		return nil, err
	}
	currency, err := g.Currency(c.country)
	if err != nil {
		o.metrics.RecordCheckout("unsupported")
		return nil, err
	}

	phone := ""
	if c.phone != "" || g.Kind() == gateway.KindPush {
		phone = g.FormatCustomerPhone(c.country, c.phone)
		if phone == "" {
			o.metrics.RecordCheckout("invalid")
			return nil, errs.Invalid("customer_phone", "is not a valid number for "+strings.ToUpper(c.country))
		}
	}

	meta := datatypes.JSONMap{}
	for k, v := range c.meta {
		meta[k] = v
	}
	meta[models.MetaCorrespondent] = code
	meta[models.MetaCountryCode] = strings.ToUpper(c.country)
	if phone != "" {
		meta[models.MetaCustomerPhone] = phone
	}

	ref := uuid.NewString()
	t := &models.Transaction{
		ID:            uuid.NewString(),
		AgencyID:      c.agencyID,
		PlanID:        c.planID,
		InstallmentID: c.installmentID,
		BillingCycle:  c.cycle,
		Amount:        c.amount,
		Currency:      currency,
		PaymentMethod: strings.ToLower(c.method),
		Provider:      g.Name(),
		ProviderCode:  code,
		ProviderRef:   &ref,
		Status:        models.TransactionPending,
		Metadata:      meta,
	}
	err = o.db.Transact(ctx, func(tx *gorm.DB) error {
		return database.CreateTransaction(tx, t)
	})
	if err != nil {
		o.logger.WithError(err).WithField("agency_id", c.agencyID).Error("Failed to record pending transaction")
		return nil, errs.Persistence("create transaction", err)
	}

	log := o.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"agency_id":      c.agencyID,
		"provider":       g.Name(),
		"provider_code":  code,
		"amount":         c.amount,
		"currency":       currency,
	})
	log.Info("Dispatching payment")

	res, err := o.initiate(ctx, g, gateway.PaymentRequest{
		Reference:    ref,
		Amount:       c.amount,
		Currency:     currency,
		Country:      strings.ToUpper(c.country),
		Method:       strings.ToLower(c.method),
		ProviderCode: code,
		Phone:        phone,
		Description:  c.description,
		CustomerID:   c.agencyID,
	})
	if err != nil {
		log.WithError(err).Error("Gateway rejected payment")
		o.fail(t, err)
		o.metrics.RecordCheckout(StatusFailed)
		return &Response{
			Success:       false,
			TransactionID: t.ID,
			Status:        StatusFailed,
			Message:       err.Error(),
			Amount:        c.amount,
			Currency:      currency,
		}, err
	}

	extra := map[string]interface{}{}
	if res.ProviderToken != "" {
		extra[models.MetaProviderToken] = res.ProviderToken
	}
	if len(extra) > 0 {
		err := o.db.Transact(ctx, func(tx *gorm.DB) error {
			stored, err := database.MergeTransactionMetadata(tx, t.ID, extra, models.TransactionPending)
			if err == nil && !stored {
				// A webhook settled it first; terminal rows are not rewritten.
				log.Info("Transaction settled before the provider answered, token not stored")
			}
			return err
		})
		if err != nil {
			// The payment is in flight; the reference alone is enough to reconcile.
			log.WithError(err).Warn("Failed to store provider token")
		}
	}

	resp := &Response{
		Success:       true,
		TransactionID: t.ID,
		Amount:        c.amount,
		Currency:      currency,
	}
	if g.Kind() == gateway.KindRedirect {
		resp.Status = StatusRedirect
		resp.PaymentURL = res.PaymentURL
	} else {
		resp.Status = StatusAwaitingConfirmation
		resp.Message = fmt.Sprintf("Validez le paiement de %s sur votre telephone", money.Format(c.amount, currency))
	}
	o.metrics.RecordCheckout(resp.Status)
	log.WithField("status", resp.Status).Info("Payment dispatched")
	return resp, nil
}

// initiate calls the gateway once under the configured timeout. Every
// failure comes back as *errs.GatewayError.
func (o *Orchestrator) initiate(ctx context.Context, g gateway.Gateway, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	res, err := g.InitiatePayment(ctx, req)
	o.metrics.ObserveGateway(g.Name(), started)
	if err != nil {
		if !errs.IsGateway(err) {
			err = &errs.GatewayError{Provider: g.Name(), Message: err.Error(), Timeout: errors.Is(err, context.DeadlineExceeded)}
		}
		return nil, err
	}
	if res == nil {
		return nil, &errs.GatewayError{Provider: g.Name(), Message: "empty response"}
	}
	return res, nil
}

// fail records the gateway error on the pending transaction. A webhook
// that already settled it wins.
func (o *Orchestrator) fail(t *models.Transaction, cause error) {
	msg := cause.Error()
	var ge *errs.GatewayError
	if errors.As(cause, &ge) {
		msg = ge.Message
	}
	// The caller's context may be the one that timed out.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var applied bool
	err := o.db.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		applied, err = database.TransitionTransaction(tx, t.ID, models.TransactionFailed, msg, o.now())
		return err
	})
	if err != nil {
		o.logger.WithError(err).WithField("transaction_id", t.ID).Error("Failed to mark transaction failed")
		return
	}
	if applied {
		o.metrics.RecordTransaction(t.Provider, string(models.TransactionFailed))
		o.events.Publish(models.LedgerEvent{
			Kind:          models.EventTransactionFailed,
			AgencyID:      t.AgencyID,
			TransactionID: t.ID,
			At:            o.now(),
		})
	}
}

// PayInstallment charges one pending installment through a gateway. The
// installment is marked paid when the transaction completes.
func (o *Orchestrator) PayInstallment(ctx context.Context, req InstallmentRequest) (*Response, error) {
	if strings.TrimSpace(req.InstallmentID) == "" {
		return nil, errs.Invalid("installment_id", "is required")
	}
	rdb := o.db.GetDB().WithContext(ctx)

	inst, err := database.GetInstallment(rdb, req.InstallmentID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Invalid("installment_id", "unknown installment")
	}
	if err != nil {
		return nil, errs.Persistence("load installment", err)
	}
	if inst.Status == models.InstallmentStatusPaid {
		return nil, errs.Invalid("installment_id", "is already paid")
	}
	sale, err := database.GetSale(rdb, inst.SaleID)
	if err != nil {
		return nil, errs.Persistence("load sale", err)
	}
	if sale.Status == models.SaleStatusCancelled {
		return nil, errs.Invalid("installment_id", "belongs to a cancelled sale")
	}

	unlock := o.locks.Lock(sale.AgencyID)
	defer unlock()

	return o.charge(ctx, charge{
		agencyID:      sale.AgencyID,
		installmentID: &inst.ID,
		amount:        inst.Amount,
		method:        req.PaymentMethod,
		provider:      req.Provider,
		phone:         req.CustomerPhone,
		country:       req.CountryCode,
		description:   fmt.Sprintf("Echeance %d sur %d", inst.Number, sale.TotalInstallments),
		meta: datatypes.JSONMap{
			models.MetaKind: models.KindInstallment,
			"sale_id":       sale.ID,
			"number":        inst.Number,
		},
	})
}

// GetTransaction returns a stored transaction.
func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := database.GetTransaction(o.db.GetDB().WithContext(ctx), id)
	if err != nil {
		return nil, errs.Persistence("get transaction", err)
	}
	return t, nil
}

// RefreshTransaction polls the provider for a pending transaction and
// applies a terminal answer through the reconciler, so a concurrent
// webhook and poll settle it exactly once.
func (o *Orchestrator) RefreshTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := o.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() || t.ProviderRef == nil {
		return t, nil
	}

	g, err := o.gateways.Get(t.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh transaction %s: %w", id, err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, o.timeout)
	started := time.Now()
	st, err := g.FetchStatus(pollCtx, *t.ProviderRef)
	cancel()
	o.metrics.ObserveGateway(g.Name(), started)
	if err != nil {
		return nil, err
	}
	if st.Status == "" {
		return t, nil
	}

	if _, err := o.reconciler.Apply(ctx, t.Provider, *t.ProviderRef, st.Status, st.Message); err != nil && !errors.Is(err, errs.ErrReplayNoOp) {
		return nil, err
	}
	return o.GetTransaction(ctx, id)
}
