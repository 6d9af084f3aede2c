package schedule

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immoledger/server/internal/errs"
	"immoledger/server/internal/money"
)

var saleDate = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestGenerate_SumInvariant(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		lastAmt int64
	}{
		{
			name:    "exact division",
			params:  Params{SaleDate: saleDate, TotalPrice: 1200000, DownPayment: 200000, MonthlyAmount: 100000, Count: 10},
			lastAmt: 100000,
		},
		{
			name:    "remainder on last installment",
			params:  Params{SaleDate: saleDate, TotalPrice: 1000000, DownPayment: 0, MonthlyAmount: 333333, Count: 3},
			lastAmt: 333334,
		},
		{
			name:    "suggested monthly",
			params:  Params{SaleDate: saleDate, TotalPrice: 5000000, DownPayment: 1000000, MonthlyAmount: SuggestMonthly(5000000, 1000000, 7), Count: 7},
			lastAmt: 4000000 - 571428*6,
		},
		{
			name:    "single installment",
			params:  Params{SaleDate: saleDate, TotalPrice: 300000, DownPayment: 100000, MonthlyAmount: 150000, Count: 1},
			lastAmt: 200000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := Generate(tt.params)
			require.NoError(t, err)
			require.Len(t, lines, tt.params.Count)

			assert.Equal(t, tt.params.TotalPrice, tt.params.DownPayment+Sum(lines))
			assert.Equal(t, tt.lastAmt, lines[len(lines)-1].Amount)
			for _, l := range lines[:len(lines)-1] {
				assert.Equal(t, tt.params.MonthlyAmount, l.Amount)
			}
		})
	}
}

func TestGenerate_MonotonicDueDates(t *testing.T) {
	lines, err := Generate(Params{SaleDate: saleDate, TotalPrice: 2400000, DownPayment: 0, MonthlyAmount: 100000, Count: 24})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC), lines[0].DueDate)
	for i, l := range lines {
		assert.Equal(t, i+1, l.Number)
		assert.Equal(t, money.AddMonths(lines[0].DueDate, i), l.DueDate)
		if i > 0 {
			assert.True(t, l.DueDate.After(lines[i-1].DueDate))
		}
	}
	assert.Equal(t, time.Date(2028, 3, 10, 9, 0, 0, 0, time.UTC), lines[23].DueDate)
}

// Due dates step from the sale date, not from the previous due date, so a
// month-end sale keeps its day after a short month.
func TestGenerate_MonthEndAnchor(t *testing.T) {
	lines, err := Generate(Params{SaleDate: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), TotalPrice: 300, MonthlyAmount: 100, Count: 3})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), lines[0].DueDate)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), lines[1].DueDate)
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), lines[2].DueDate)

	lines, err = Generate(Params{SaleDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), TotalPrice: 300, MonthlyAmount: 100, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), lines[0].DueDate)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), lines[1].DueDate)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), lines[2].DueDate)
}

func TestGenerate_MaxInstallments(t *testing.T) {
	lines, err := Generate(Params{SaleDate: saleDate, TotalPrice: 60000000, MonthlyAmount: 100000, Count: MaxInstallments})
	require.NoError(t, err)
	require.Len(t, lines, MaxInstallments)
	assert.Equal(t, int64(60000000), Sum(lines))
}

func TestGenerate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		field  string
	}{
		{"zero count", Params{TotalPrice: 100, MonthlyAmount: 10, Count: 0}, "installment_count"},
		{"negative count", Params{TotalPrice: 100, MonthlyAmount: 10, Count: -2}, "installment_count"},
		{"zero monthly", Params{TotalPrice: 100, MonthlyAmount: 0, Count: 3}, "monthly_amount"},
		{"negative down payment", Params{TotalPrice: 100, DownPayment: -1, MonthlyAmount: 10, Count: 3}, "down_payment"},
		{"down payment covers price", Params{TotalPrice: 100, DownPayment: 100, MonthlyAmount: 10, Count: 3}, "down_payment"},
		{"monthly too large", Params{TotalPrice: 1000, DownPayment: 0, MonthlyAmount: 600, Count: 3}, "monthly_amount"},
		{"monthly leaves nothing for last line", Params{TotalPrice: 1000, DownPayment: 0, MonthlyAmount: 500, Count: 3}, "monthly_amount"},
		{"monthly overflows when multiplied", Params{TotalPrice: 100, MonthlyAmount: 1 << 62, Count: 5}, "monthly_amount"},
		{"monthly at int64 max", Params{TotalPrice: 100, MonthlyAmount: math.MaxInt64, Count: 2}, "monthly_amount"},
		{"too many installments", Params{TotalPrice: 1e12, MonthlyAmount: 1, Count: 1e9}, "installment_count"},
		{"one over the limit", Params{TotalPrice: 1e12, MonthlyAmount: 1, Count: MaxInstallments + 1}, "installment_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := Generate(tt.params)
			assert.Nil(t, lines)
			require.Error(t, err)

			var ve *errs.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSuggestMonthly(t *testing.T) {
	assert.Equal(t, int64(571428), SuggestMonthly(5000000, 1000000, 7))
	assert.Equal(t, int64(0), SuggestMonthly(100, 100, 3))
	assert.Equal(t, int64(0), SuggestMonthly(100, 0, 0))
	assert.Equal(t, int64(1), SuggestMonthly(2, 0, 5))
}
