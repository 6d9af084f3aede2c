// Package webhook applies provider callbacks and status polls to pending
// transactions. Deliveries are at-least-once and unordered, so every path
// funnels through one conditional transition that only a single caller
// can win.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immoledger/server/internal/database"
	"immoledger/server/internal/errs"
	"immoledger/server/internal/gateway"
	"immoledger/server/internal/ledger"
	"immoledger/server/internal/metrics"
	"immoledger/server/internal/models"
	"immoledger/server/internal/queue"
)

// Result labels for webhook metrics.
const (
	ResultApplied = "applied"
	ResultReplay  = "replay"
	ResultPending = "pending"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// ExpiredMessage is recorded on transactions failed by the expiry sweep.
const ExpiredMessage = "payment expired"

// Outcome reports what a callback or poll did.
type Outcome struct {
	TransactionID string
	Status        models.TransactionStatus
	Applied       bool
}

// Reconciler turns provider statuses into ledger state.
type Reconciler struct {
	db       *database.Database
	gateways *gateway.Registry
	ledger   *ledger.Ledger
	events   *queue.EventQueue
	metrics  *metrics.Collector
	logger   *logrus.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewReconciler(db *database.Database, gateways *gateway.Registry, l *ledger.Ledger, events *queue.EventQueue, m *metrics.Collector, logger *logrus.Logger, timeout time.Duration) *Reconciler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reconciler{
		db:       db,
		gateways: gateways,
		ledger:   l,
		events:   events,
		metrics:  m,
		logger:   logger,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle parses a callback for provider and applies it. Unknown references
// and already terminal transactions return errs.ErrReplayNoOp.
func (r *Reconciler) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error) {
	g, err := r.gateways.Get(provider)
	if err != nil {
		r.metrics.RecordWebhook(provider, ResultInvalid)
		return Outcome{}, err
	}

	ev, err := g.ParseWebhook(payload, headers)
	if err != nil {
		r.metrics.RecordWebhook(g.Name(), ResultInvalid)
		r.logger.WithError(err).WithField("provider", g.Name()).Warn("Rejected webhook payload")
		return Outcome{}, err
	}

	log := r.logger.WithFields(logrus.Fields{
		"provider":  g.Name(),
		"reference": ev.Reference,
	})

	status, message := ev.Status, ev.Message
	if ev.NeedsFetch {
		// Only poll the provider for references we issued.
		t, err := database.GetTransactionByProviderRef(r.db.GetDB().WithContext(ctx), g.Name(), ev.Reference)
		if errors.Is(err, errs.ErrNotFound) {
			r.metrics.RecordWebhook(g.Name(), ResultReplay)
			log.Info("Webhook for unknown reference acknowledged")
			return Outcome{}, errs.ErrReplayNoOp
		}
		if err != nil {
			r.metrics.RecordWebhook(g.Name(), ResultError)
			return Outcome{}, errs.Persistence("lookup transaction", err)
		}
		if t.Status.Terminal() {
			r.metrics.RecordWebhook(g.Name(), ResultReplay)
			log.WithField("status", t.Status).Info("Webhook for terminal transaction acknowledged")
			return Outcome{TransactionID: t.ID, Status: t.Status}, errs.ErrReplayNoOp
		}

		st, err := r.fetch(ctx, g, ev.Reference)
		if err != nil {
			r.metrics.RecordWebhook(g.Name(), ResultError)
			log.WithError(err).Error("Failed to fetch payment status")
			return Outcome{}, err
		}
		status, message = st.Status, st.Message
	}

	if status == "" {
		r.metrics.RecordWebhook(g.Name(), ResultPending)
		log.Info("Payment still in flight")
		return Outcome{Status: models.TransactionPending}, nil
	}

	out, err := r.Apply(ctx, g.Name(), ev.Reference, status, message)
	switch {
	case errors.Is(err, errs.ErrReplayNoOp):
		r.metrics.RecordWebhook(g.Name(), ResultReplay)
	case err != nil:
		r.metrics.RecordWebhook(g.Name(), ResultError)
	default:
		r.metrics.RecordWebhook(g.Name(), ResultApplied)
	}
	return out, err
}

func (r *Reconciler) fetch(ctx context.Context, g gateway.Gateway, reference string) (*gateway.StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	started := time.Now()
	defer r.metrics.ObserveGateway(g.Name(), started)
	return g.FetchStatus(ctx, reference)
}

// Apply moves the transaction identified by (provider, reference) from
// pending to status and runs its side effects in the same database
// transaction. Only the first caller for a transaction applies anything.
func (r *Reconciler) Apply(ctx context.Context, provider, reference string, status models.TransactionStatus, message string) (Outcome, error) {
	if !status.Terminal() {
		return Outcome{}, errs.Invalid("status", fmt.Sprintf("%q is not a terminal status", status))
	}

	log := r.logger.WithFields(logrus.Fields{
		"provider":  provider,
		"reference": reference,
		"status":    status,
	})

	var (
		out     Outcome
		t       *models.Transaction
		pay     ledger.PayOutcome
		changed []models.LedgerEvent
	)
	now := r.now()

	err := r.db.Transact(ctx, func(tx *gorm.DB) error {
		var err error
		pay = ledger.PayOutcome{}
		changed = nil

		t, err = database.GetTransactionByProviderRef(tx, provider, reference)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrReplayNoOp
		}
		if err != nil {
			return err
		}
		out = Outcome{TransactionID: t.ID, Status: t.Status}
		if t.Status.Terminal() {
			return errs.ErrReplayNoOp
		}

		ok, err := database.TransitionTransaction(tx, t.ID, status, message, now)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrReplayNoOp
		}
		out = Outcome{TransactionID: t.ID, Status: status, Applied: true}

		if status != models.TransactionCompleted {
			return nil
		}
		pay, changed, err = r.complete(tx, t, now)
		return err
	})

	if errors.Is(err, errs.ErrReplayNoOp) {
		log.WithField("current_status", out.Status).Info("Transition already applied, nothing to do")
		return out, errs.ErrReplayNoOp
	}
	if err != nil {
		log.WithError(err).Error("Failed to apply transaction status")
		return Outcome{}, errs.Persistence("apply transaction status", err)
	}

	log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"agency_id":      t.AgencyID,
		"kind":           t.Kind(),
	}).Info("Transaction status applied")

	r.metrics.RecordTransaction(provider, string(status))
	kind := models.EventTransactionFailed
	if status == models.TransactionCompleted {
		kind = models.EventTransactionCompleted
	}
	r.events.Publish(models.LedgerEvent{Kind: kind, AgencyID: t.AgencyID, TransactionID: t.ID, At: now})
	for _, ev := range changed {
		r.events.Publish(ev)
	}
	if pay.InstallmentID != "" && r.ledger != nil {
		r.ledger.Announce(pay)
	}
	return out, nil
}

// complete runs the side effect of a first completion.
func (r *Reconciler) complete(tx *gorm.DB, t *models.Transaction, now time.Time) (ledger.PayOutcome, []models.LedgerEvent, error) {
	switch t.Kind() {
	case models.KindInstallment:
		if t.InstallmentID == nil {
			return ledger.PayOutcome{}, nil, fmt.Errorf("installment transaction %s has no installment", t.ID)
		}
		pay, err := ledger.PayInstallmentTx(tx, *t.InstallmentID, ledger.Payment{
			Amount: t.Amount,
			PaidAt: now,
			Method: t.PaymentMethod,
		}, now)
		if errs.IsValidation(err) {
			// The money was collected; keep the completion and flag it.
			r.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Payment completed for an installment that cannot take it")
			_, err = database.MergeTransactionMetadata(tx, t.ID, map[string]interface{}{models.MetaApplyError: err.Error()})
			return ledger.PayOutcome{}, nil, err
		}
		pay.TransactionID = t.ID
		return pay, nil, err

	case models.KindProratedUpgrade:
		if t.PlanID == nil {
			return ledger.PayOutcome{}, nil, fmt.Errorf("upgrade transaction %s has no plan", t.ID)
		}
		current, err := database.GetSubscriptionByAgency(tx, t.AgencyID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return ledger.PayOutcome{}, nil, err
		}
		if err == nil {
			if moved := planMoved(t, current); moved != "" {
				// The amount was prorated against a plan the agency no longer
				// has. Keep the completion and flag it.
				r.logger.WithFields(logrus.Fields{
					"transaction_id": t.ID,
					"agency_id":      t.AgencyID,
				}).Warn(moved)
				_, err := database.MergeTransactionMetadata(tx, t.ID, map[string]interface{}{models.MetaApplyError: moved})
				return ledger.PayOutcome{}, nil, err
			}
			if err := database.SwapPlan(tx, t.AgencyID, *t.PlanID, t.BillingCycle); err != nil {
				return ledger.PayOutcome{}, nil, err
			}
			return ledger.PayOutcome{}, []models.LedgerEvent{{
				Kind:           models.EventPlanChanged,
				AgencyID:       t.AgencyID,
				TransactionID:  t.ID,
				SubscriptionID: current.ID,
				At:             now,
			}}, nil
		}
		// The subscription row is gone; start a fresh period instead.
		fallthrough

	default:
		if t.PlanID == nil {
			return ledger.PayOutcome{}, nil, fmt.Errorf("subscription transaction %s has no plan", t.ID)
		}
		sub, err := database.UpsertSubscription(tx, &models.Subscription{
			ID:           uuid.NewString(),
			AgencyID:     t.AgencyID,
			PlanID:       *t.PlanID,
			BillingCycle: t.BillingCycle,
			Status:       models.SubscriptionActive,
			StartsAt:     now,
			EndsAt:       t.BillingCycle.PeriodEnd(now),
		})
		if err != nil {
			return ledger.PayOutcome{}, nil, err
		}
		if err := database.LinkTransactionSubscription(tx, t.ID, sub.ID); err != nil {
			return ledger.PayOutcome{}, nil, err
		}
		return ledger.PayOutcome{}, []models.LedgerEvent{{
			Kind:           models.EventSubscriptionActivated,
			AgencyID:       t.AgencyID,
			TransactionID:  t.ID,
			SubscriptionID: sub.ID,
			At:             now,
		}}, nil
	}
}

// planMoved reports why an upgrade no longer applies, or "" when the
// subscription is still on the plan and cycle the proration was based on.
func planMoved(t *models.Transaction, current *models.Subscription) string {
	prevPlan, _ := t.Metadata[models.MetaPreviousPlanID].(string)
	prevCycle, _ := t.Metadata[models.MetaPreviousCycle].(string)
	if prevPlan == "" {
		return ""
	}
	if current.PlanID != prevPlan || (prevCycle != "" && string(current.BillingCycle) != prevCycle) {
		return fmt.Sprintf("subscription changed to %s/%s while the upgrade from %s/%s was pending",
			current.PlanID, current.BillingCycle, prevPlan, prevCycle)
	}
	return ""
}
