// Package proration computes what a tenant owes, or is credited, when a
// subscription changes plan or billing cycle before its term ends.
package proration

import (
	"time"

	"github.com/shopspring/decimal"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/models"
	"immoledger/server/internal/money"
)

// Input is a point-in-time snapshot: plan prices are read from the plan
// rows as they were when the change was requested.
type Input struct {
	CurrentPlan  models.Plan
	CurrentCycle models.BillingCycle
	EndsAt       *time.Time
	TargetPlan   models.Plan
	TargetCycle  models.BillingCycle
	Now          time.Time
}

// Result breaks the amount due down for audit metadata.
type Result struct {
	// Prorated is false when the change is billed as a plain purchase of the
	// target plan: lifetime sources and periods with no unused days.
	Prorated       bool
	TotalDays      int
	RemainingDays  int
	CurrentCredit  decimal.Decimal
	NewProrataCost decimal.Decimal
	// AmountDue is positive for an upgrade, zero or negative for a credit.
	AmountDue int64
	// CreditAmount is |AmountDue| when AmountDue <= 0.
	CreditAmount int64
}

// IsCredit reports whether the change applies immediately with no payment.
func (r Result) IsCredit() bool {
	return r.Prorated && r.AmountDue <= 0
}

// Metadata flattens the breakdown for a transaction row.
func (r Result) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		models.MetaTotalDays:      r.TotalDays,
		models.MetaRemainingDays:  r.RemainingDays,
		models.MetaCurrentCredit:  money.Cents(r.CurrentCredit),
		models.MetaNewProrataCost: money.Cents(r.NewProrataCost),
	}
	if r.AmountDue <= 0 {
		m[models.MetaCreditAmount] = r.CreditAmount
	}
	return m
}

// Calculate applies
//
//	amount_due = round(new_price * remaining/total - current_price * remaining/total)
//
// where total is the current cycle's length (30 or 365 days) and remaining
// the whole days left until EndsAt.
func Calculate(in Input) (Result, error) {
	if !in.CurrentCycle.Valid() {
		return Result{}, errs.Invalid("current_cycle", "is not a billing cycle")
	}
	if !in.TargetCycle.Valid() {
		return Result{}, errs.Invalid("billing_cycle", "is not a billing cycle")
	}

	targetPrice := in.TargetPlan.PriceFor(in.TargetCycle)

	// Leaving lifetime is an explicit, unprorated switch.
	if in.CurrentCycle == models.CycleLifetime || in.EndsAt == nil {
		return full(targetPrice), nil
	}

	total := in.CurrentCycle.Days()
	remaining := money.DaysBetween(in.Now, *in.EndsAt)
	if remaining > total {
		remaining = total
	}
	if remaining == 0 {
		return full(targetPrice), nil
	}

	credit := money.Prorate(in.CurrentPlan.PriceFor(in.CurrentCycle), remaining, total)
	cost := money.Prorate(targetPrice, remaining, total)
	due := money.RoundUnit(cost.Sub(credit))

	res := Result{
		Prorated:       true,
		TotalDays:      total,
		RemainingDays:  remaining,
		CurrentCredit:  credit,
		NewProrataCost: cost,
		AmountDue:      due,
	}
	if due <= 0 {
		res.CreditAmount = -due
	}
	return res, nil
}

func full(price int64) Result {
	return Result{
		CurrentCredit:  decimal.Zero,
		NewProrataCost: decimal.NewFromInt(price),
		AmountDue:      price,
	}
}
