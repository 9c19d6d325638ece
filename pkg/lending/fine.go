package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

type FineCalculator struct {
	perDay decimal.Decimal
}

func NewFineCalculator(p Policy) FineCalculator {
	return FineCalculator{perDay: p.FinePerDay}
}

// OverdueDays counts started days after due. A return one second late
// counts as a full day.
func (c FineCalculator) OverdueDays(due, now time.Time) int64 {
	if !now.After(due) {
		return 0
	}
	late := now.Sub(due)
	days := int64(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// OverdueFine is zero up to and including the due date.
func (c FineCalculator) OverdueFine(due, now time.Time) decimal.Decimal {
	days := c.OverdueDays(due, now)
	if days == 0 {
		return decimal.Zero
	}
	return c.perDay.Mul(decimal.NewFromInt(days))
}
