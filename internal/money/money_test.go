package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProrate(t *testing.T) {
	assert.True(t, Prorate(10000, 15, 30).Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, int64(6667), RoundUnit(Prorate(20000, 10, 30)))
	assert.Equal(t, int64(1667), RoundUnit(Prorate(5000, 10, 30)))
	assert.True(t, Prorate(10000, 5, 0).IsZero())
}

func TestRoundUnit(t *testing.T) {
	assert.Equal(t, int64(3), RoundUnit(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(-3), RoundUnit(decimal.RequireFromString("-2.5")))
	assert.Equal(t, int64(-5000), RoundUnit(decimal.RequireFromString("-4999.67")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "15 000 XOF", Format(15000, "XOF"))
	assert.Equal(t, "999 XAF", Format(999, "XAF"))
	assert.Equal(t, "1 250 000 XOF", Format(1250000, "XOF"))
	assert.Equal(t, "-5 000 XOF", Format(-5000, "XOF"))
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		n    int
		want time.Time
	}{
		{"mid month", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"clamp february", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap year", time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"anchored after short month", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonths(tt.in, tt.n))
		})
	}
}

func TestDaysBetween(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 15, DaysBetween(now, now.AddDate(0, 0, 15)))
	assert.Equal(t, 1, DaysBetween(now, now.Add(2*time.Hour)))
	assert.Equal(t, 0, DaysBetween(now, now.Add(-time.Hour)))
	assert.Equal(t, 0, DaysBetween(now, now))
}
