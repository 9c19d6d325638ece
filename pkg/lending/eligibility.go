package lending

import (
	"context"
	"fmt"

	"library_lending/pkg/models"
)

// Evaluator derives whether a member may borrow from their current
// transaction and fine counts.
type Evaluator struct {
	policy Policy
}

func NewEvaluator(p Policy) Evaluator {
	return Evaluator{policy: p}
}

// CanBorrow only checks the active loan count. Fines and suspension are
// separate checks.
func (e Evaluator) CanBorrow(ctx context.Context, tx Tx, memberID string) error {
	active, err := tx.CountActiveTransactions(ctx, memberID)
	if err != nil {
		return err
	}
	if active >= int64(e.policy.MaxBorrowLimit) {
		return fmt.Errorf("%w: %d active loans, limit is %d", ErrBorrowLimitExceeded, active, e.policy.MaxBorrowLimit)
	}
	return nil
}

func (e Evaluator) HasUnpaidFines(ctx context.Context, tx Tx, memberID string) (bool, error) {
	unpaid, err := tx.CountUnpaidFines(ctx, memberID)
	if err != nil {
		return false, err
	}
	return unpaid > 0, nil
}

// RecomputeSuspension sets the member suspended once their overdue count
// reaches the threshold and active again below it. It is the only writer of
// member status and is safe to call repeatedly.
func (e Evaluator) RecomputeSuspension(ctx context.Context, tx Tx, memberID string) (models.MemberStatus, error) {
	member, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return "", notFound(err, ErrMemberNotFound)
	}
	overdue, err := tx.CountOverdueTransactions(ctx, memberID)
	if err != nil {
		return "", err
	}

	status := models.MemberActive
	if overdue >= int64(e.policy.OverdueThreshold) {
		status = models.MemberSuspended
	}
	if member.Status == status {
		return status, nil
	}
	if err := tx.UpdateMember(ctx, memberID, map[string]interface{}{"status": status}); err != nil {
		return "", err
	}
	return status, nil
}
