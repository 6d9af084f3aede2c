// Package checkout drives subscription and installment payments from the
// tenant's request to a pending provider transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/gateway"
	"immoledger/server/internal/metrics"
	"immoledger/server/internal/models"
	"immoledger/server/internal/proration"
	"immoledger/server/internal/queue"
	"immoledger/server/internal/webhook"
)

// Checkout statuses returned to the caller.
const (
	StatusActivated            = "activated"
	StatusPlanChanged          = "plan_changed"
	StatusRedirect             = "redirect"
	StatusAwaitingConfirmation = "awaiting_confirmation"
	StatusFailed               = "failed"
)

// Request is a tenant's plan purchase or change.
type Request struct {
	AgencyID      string              `json:"agency_id" binding:"required"`
	PlanID        string              `json:"plan_id" binding:"required"`
	BillingCycle  models.BillingCycle `json:"billing_cycle" binding:"required"`
	PaymentMethod string              `json:"payment_method"`
	Provider      string              `json:"provider,omitempty"`
	CustomerPhone string              `json:"customer_phone,omitempty"`
	CountryCode   string              `json:"country_code,omitempty"`
	// Prorate asks for a mid-term change to be billed on remaining days.
	Prorate bool `json:"proration,omitempty"`
}

// InstallmentRequest pays one installment through a gateway.
type InstallmentRequest struct {
	InstallmentID string `json:"installment_id"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	Provider      string `json:"provider,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CountryCode   string `json:"country_code" binding:"required"`
}

// Response is what the caller sees synchronously.
type Response struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentURL    string `json:"payment_url,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency,omitempty"`
}

// Orchestrator runs checkouts. Checkouts of one agency are serialized.
type Orchestrator struct {
	db         *database.Database
	gateways   *gateway.Registry
	reconciler *webhook.Reconciler
	events     *queue.EventQueue
	metrics    *metrics.Collector
	logger     *logrus.Logger
	timeout    time.Duration
	locks      *keyedMutex
	now        func() time.Time
}

func NewOrchestrator(db *database.Database, gateways *gateway.Registry, reconciler *webhook.Reconciler, events *queue.EventQueue, m *metrics.Collector, logger *logrus.Logger, timeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		db:         db,
		gateways:   gateways,
		reconciler: reconciler,
		events:     events,
		metrics:    m,
		logger:     logger,
		timeout:    timeout,
		locks:      newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Checkout resolves what the agency owes for the target plan and either
// applies the change at once (free plan, downgrade credit) or opens a
// pending transaction with a gateway.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		o.metrics.RecordCheckout("invalid")
		return nil, err
	}

	unlock := o.locks.Lock(req.AgencyID)
	defer unlock()

	now := o.now()
	rdb := o.db.GetDB().WithContext(ctx)

	current, err := database.GetSubscriptionByAgency(rdb, req.AgencyID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Persistence("load subscription", err)
	}
	if err != nil {
		current = nil
	}

	plan, err := database.GetPlan(rdb, req.PlanID)
	if errors.Is(err, errs.ErrNotFound) {
		o.metrics.RecordCheckout("invalid")
		return nil, errs.Invalid("plan_id", "unknown plan "+req.PlanID)
	}
	if err != nil {
		return nil, errs.Persistence("load plan", err)
	}
	if !plan.Active {
		o.metrics.RecordCheckout("invalid")
		return nil, errs.Invalid("plan_id", "plan "+plan.ID+" is no longer offered")
	}

	amount := plan.PriceFor(req.BillingCycle)
	meta := datatypes.JSONMap{models.MetaKind: models.KindSubscription}

	if req.Prorate && current != nil && current.IsCurrent(now) &&
		(current.PlanID != plan.ID || current.BillingCycle != req.BillingCycle) {
		currentPlan, err := database.GetPlan(rdb, current.PlanID)
		if err != nil {
			return nil, errs.Persistence("load current plan", err)
		}
		res, err := proration.Calculate(proration.Input{
			CurrentPlan:  *currentPlan,
			CurrentCycle: current.BillingCycle,
			EndsAt:       current.EndsAt,
			TargetPlan:   *plan,
			TargetCycle:  req.BillingCycle,
			Now:          now,
		})
		if err != nil {
			return nil, err
		}
		if res.IsCredit() {
			return o.applyCredit(ctx, req, current, plan, res)
		}
		if res.Prorated {
			amount = res.AmountDue
			for k, v := range res.Metadata() {
				meta[k] = v
			}
			meta[models.MetaKind] = models.KindProratedUpgrade
			meta[models.MetaPreviousPlanID] = current.PlanID
			meta[models.MetaPreviousCycle] = string(current.BillingCycle)
			meta[models.MetaPreservedEndsAt] = current.EndsAt.Format(time.RFC3339)
		}
	}

	if amount == 0 {
		return o.activateFree(ctx, req, plan)
	}

	return o.charge(ctx, charge{
		agencyID:    req.AgencyID,
		planID:      &plan.ID,
		cycle:       req.BillingCycle,
		amount:      amount,
		method:      req.PaymentMethod,
		provider:    req.Provider,
		phone:       req.CustomerPhone,
		country:     req.CountryCode,
		description: fmt.Sprintf("Abonnement %s %s", plan.Name, cycleLabel(req.BillingCycle)),
		meta:        meta,
	})
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.AgencyID) == "":
		return errs.Invalid("agency_id", "is required")
	case strings.TrimSpace(req.PlanID) == "":
		return errs.Invalid("plan_id", "is required")
	case !req.BillingCycle.Valid():
		return errs.Invalid("billing_cycle", "must be monthly, yearly or lifetime")
	}
	return nil
}

func cycleLabel(c models.BillingCycle) string {
	switch c {
	case models.CycleMonthly:
		return "mensuel"
	case models.CycleYearly:
		return "annuel"
	default:
		return "a vie"
	}
}

// applyCredit swaps the plan at once, keeps ends_at and records a zero
// amount transaction carrying the credit.
func (o *Orchestrator) applyCredit(ctx context.Context, req Request, current *models.Subscription, plan *models.Plan, res proration.Result) (*Response, error) {
	now := o.now()
	meta := datatypes.JSONMap{
		models.MetaKind:           models.KindDowngradeCredit,
		models.MetaPreviousPlanID: current.PlanID,
		models.MetaPreviousCycle:  string(current.BillingCycle),
	}
	for k, v := range res.Metadata() {
		meta[k] = v
	}
	if current.EndsAt != nil {
		meta[models.MetaPreservedEndsAt] = current.EndsAt.Format(time.RFC3339)
	}

	t := &models.Transaction{
		ID:             uuid.NewString(),
		AgencyID:       req.AgencyID,
		PlanID:         &plan.ID,
		SubscriptionID: &current.ID,
		BillingCycle:   req.BillingCycle,
		Amount:         0,
		Currency:       plan.Currency,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.TransactionCompleted,
		Metadata:       meta,
		CompletedAt:    &now,
	}

	err := o.db.Transact(ctx, func(tx *gorm.DB) error {
		if err := database.SwapPlan(tx, req.AgencyID, plan.ID, req.BillingCycle); err != nil {
			return err
		}
		return database.CreateTransaction(tx, t)
	})
	if err != nil {
		o.logger.WithError(err).WithField("agency_id", req.AgencyID).Error("Failed to apply plan credit")
		return nil, errs.Persistence("apply plan credit", err)
	}

	o.logger.WithFields(logrus.Fields{
		"agency_id":      req.AgencyID,
		"from_plan":      current.PlanID,
		"to_plan":        plan.ID,
		"credit_amount":  res.CreditAmount,
		"remaining_days": res.RemainingDays,
	}).Info("Plan changed with credit")

	o.metrics.RecordCheckout(StatusPlanChanged)
	o.events.Publish(models.LedgerEvent{
		Kind:           models.EventPlanChanged,
		AgencyID:       req.AgencyID,
		TransactionID:  t.ID,
		SubscriptionID: current.ID,
		At:             now,
	})
	return &Response{
		Success:       true,
		TransactionID: t.ID,
		Status:        StatusPlanChanged,
		Amount:        0,
		Currency:      plan.Currency,
	}, nil
}

// activateFree upserts an active subscription for a zero price plan.
func (o *Orchestrator) activateFree(ctx context.Context, req Request, plan *models.Plan) (*Response, error) {
	now := o.now()
	var sub *models.Subscription
	err := o.db.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		sub, err = database.UpsertSubscription(tx, &models.Subscription{
			ID:           uuid.NewString(),
			AgencyID:     req.AgencyID,
			PlanID:       plan.ID,
			BillingCycle: req.BillingCycle,
			Status:       models.SubscriptionActive,
			StartsAt:     now,
			EndsAt:       req.BillingCycle.PeriodEnd(now),
		})
		return err
	})
	if err != nil {
		o.logger.WithError(err).WithField("agency_id", req.AgencyID).Error("Failed to activate free plan")
		return nil, errs.Persistence("activate subscription", err)
	}

	o.logger.WithFields(logrus.Fields{
		"agency_id":       req.AgencyID,
		"plan_id":         plan.ID,
		"subscription_id": sub.ID,
	}).Info("Free plan activated")

	o.metrics.RecordCheckout(StatusActivated)
	o.events.Publish(models.LedgerEvent{
		Kind:           models.EventSubscriptionActivated,
		AgencyID:       req.AgencyID,
		SubscriptionID: sub.ID,
		At:             now,
	})
	return &Response{Success: true, Status: StatusActivated, Currency: plan.Currency}, nil
}
