// Package schedule turns a sale's financing terms into dated installment
// lines.
package schedule

import (
	"fmt"
	"time"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/money"
)

// Params are the financing terms of an installment sale.
type Params struct {
	SaleDate      time.Time
	TotalPrice    int64
	DownPayment   int64
	MonthlyAmount int64
	Count         int
}

// MaxInstallments bounds the schedule length (50 years of monthly dues).
const MaxInstallments = 600

// Line is one scheduled due amount.
type Line struct {
	Number  int       `json:"number"`
	DueDate time.Time `json:"due_date"`
	Amount  int64     `json:"amount"`
}

// Validate checks the financing terms without generating lines.
func (p Params) Validate() error {
	switch {
	case p.Count <= 0:
		return errs.Invalid("installment_count", "must be at least 1")
	case p.Count > MaxInstallments:
		return errs.Invalid("installment_count", fmt.Sprintf("must not exceed %d", MaxInstallments))
	case p.MonthlyAmount <= 0:
		return errs.Invalid("monthly_amount", "must be greater than zero")
	case p.DownPayment < 0:
		return errs.Invalid("down_payment", "must not be negative")
	case p.TotalPrice <= 0:
		return errs.Invalid("total_price", "must be greater than zero")
	case p.DownPayment >= p.TotalPrice:
		return errs.Invalid("down_payment", "must be lower than the total price")
	}
	// The first Count-1 lines must leave a positive last line. Compared by
	// division so MonthlyAmount*(Count-1) is never computed when it could
	// overflow.
	if p.Count > 1 && p.MonthlyAmount > (p.TotalPrice-p.DownPayment-1)/int64(p.Count-1) {
		return errs.Invalid("monthly_amount", "exceeds the financed amount for this installment count")
	}
	return nil
}

// lastAmount is what remains for the final line once the first Count-1
// lines carry MonthlyAmount.
func (p Params) lastAmount() int64 {
	return p.TotalPrice - p.DownPayment - p.MonthlyAmount*int64(p.Count-1)
}

// Generate returns Count lines due one calendar month apart, starting one
// month after the sale date. Every line carries MonthlyAmount except the
// last, which absorbs the rounding remainder so that
// DownPayment + sum(lines) == TotalPrice.
func Generate(p Params) ([]Line, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	lines := make([]Line, p.Count)
	for i := 0; i < p.Count; i++ {
		amount := p.MonthlyAmount
		if i == p.Count-1 {
			amount = p.lastAmount()
		}
		lines[i] = Line{
			Number:  i + 1,
			DueDate: money.AddMonths(p.SaleDate, i+1),
			Amount:  amount,
		}
	}
	return lines, nil
}

// SuggestMonthly floors the financed amount over count installments. Used
// when the caller has no precomputed monthly amount.
func SuggestMonthly(total, down int64, count int) int64 {
	if count <= 0 || total <= down {
		return 0
	}
	m := (total - down) / int64(count)
	if m == 0 {
		return 1
	}
	return m
}

// Sum adds up the line amounts.
func Sum(lines []Line) int64 {
	var s int64
	for _, l := range lines {
		s += l.Amount
	}
	return s
}
