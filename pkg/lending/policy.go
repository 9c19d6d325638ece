package lending

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultMaxBorrowLimit   = 3
	DefaultLoanPeriodDays   = 14
	DefaultOverdueThreshold = 3
)

// DefaultFinePerDay is charged for every started day past the due date.
var DefaultFinePerDay = decimal.RequireFromString("0.50")

var ErrInvalidPolicy = errors.New("invalid lending policy")

// Policy is the immutable set of lending rules handed to the evaluator, the
// fine calculator and the orchestrator when they are built.
type Policy struct {
	MaxBorrowLimit   int
	LoanPeriodDays   int
	FinePerDay       decimal.Decimal
	OverdueThreshold int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxBorrowLimit:   DefaultMaxBorrowLimit,
		LoanPeriodDays:   DefaultLoanPeriodDays,
		FinePerDay:       DefaultFinePerDay,
		OverdueThreshold: DefaultOverdueThreshold,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.MaxBorrowLimit < 1:
		return fmt.Errorf("%w: max borrow limit must be at least 1, got %d", ErrInvalidPolicy, p.MaxBorrowLimit)
	case p.LoanPeriodDays < 1:
		return fmt.Errorf("%w: loan period must be at least 1 day, got %d", ErrInvalidPolicy, p.LoanPeriodDays)
	case p.FinePerDay.IsNegative():
		return fmt.Errorf("%w: fine per day must not be negative, got %s", ErrInvalidPolicy, p.FinePerDay)
	case !p.FinePerDay.Equal(p.FinePerDay.Round(2)):
		return fmt.Errorf("%w: fine per day must have at most 2 decimal places, got %s", ErrInvalidPolicy, p.FinePerDay)
	case p.OverdueThreshold < 1:
		return fmt.Errorf("%w: overdue threshold must be at least 1, got %d", ErrInvalidPolicy, p.OverdueThreshold)
	}
	return nil
}

// DueDate is borrowedAt plus the loan period.
func (p Policy) DueDate(borrowedAt time.Time) time.Time {
	return borrowedAt.AddDate(0, 0, p.LoanPeriodDays)
}
