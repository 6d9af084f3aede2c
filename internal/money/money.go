// Package money holds currency-safe arithmetic and calendar helpers used by
// the schedule generator and the proration calculator. Amounts are whole
// currency units (XOF and XAF have no minor unit).
package money

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Prorate returns price * remaining / total without intermediate rounding.
func Prorate(price int64, remaining, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(price).
		Mul(decimal.NewFromInt(int64(remaining))).
		Div(decimal.NewFromInt(int64(total)))
}

// RoundUnit rounds to the nearest whole unit, half away from zero.
func RoundUnit(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// Cents keeps two decimals for audit metadata.
func Cents(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

// Format renders an amount with thousands separators, e.g. "15 000 XOF".
func Format(amount int64, currency string) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := fmt.Sprintf("%d", amount)
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out) + " " + currency
	}
	return string(out) + " " + currency
}

// AddMonths steps n calendar months from t, clamping the day to the end of
// the target month. Steps are always taken from t itself so a schedule
// anchored on the 31st does not drift after a short month.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// DaysBetween returns the whole days from from to to, rounded up and never
// negative. A partially elapsed day counts as remaining.
func DaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}
