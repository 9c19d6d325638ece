package lending

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOverdueFine(t *testing.T) {
	calc := NewFineCalculator(DefaultPolicy())
	due := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		days int64
		want string
	}{
		{"before due", due.Add(-time.Hour), 0, "0"},
		{"exactly at due", due, 0, "0"},
		{"one second late", due.Add(time.Second), 1, "0.5"},
		{"exactly one day late", due.Add(24 * time.Hour), 1, "0.5"},
		{"one day and a bit", due.Add(24*time.Hour + time.Minute), 2, "1"},
		{"six days late", due.AddDate(0, 0, 6), 6, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.days, calc.OverdueDays(due, tt.now))
			got := calc.OverdueFine(due, tt.now)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestOverdueFine_CustomRate(t *testing.T) {
	p := DefaultPolicy()
	p.FinePerDay = decimal.RequireFromString("1.25")
	calc := NewFineCalculator(p)
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got := calc.OverdueFine(due, due.Add(49*time.Hour))
	assert.Equal(t, "3.75", got.StringFixed(2))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxBorrowLimit = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p = DefaultPolicy()
	p.FinePerDay = decimal.NewFromInt(-1)
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	// fines are stored with two decimal places
	p = DefaultPolicy()
	p.FinePerDay = decimal.RequireFromString("0.333")
	assert.ErrorIs(t, p.Validate(), ErrInvalidPolicy)

	p.FinePerDay = decimal.RequireFromString("0.250")
	assert.NoError(t, p.Validate())
}

func TestPolicyDueDate(t *testing.T) {
	borrowed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), DefaultPolicy().DueDate(borrowed))
}
