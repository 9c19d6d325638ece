package lending

import (
	"context"
	"errors"
	"time"

	"library_lending/pkg/models"
	"library_lending/pkg/statemachine"
)

const defaultSweepBatch = 500

// MarkOverdue moves every active transaction past its due date to overdue and
// recomputes the borrower's suspension. Each transaction gets its own unit so
// one failure does not hold back the rest; failures are joined into the
// returned error. Candidates are fetched in batches until none are left or a
// whole batch makes no progress.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	now := s.now().UTC()

	var (
		marked, seen int
		errs         []error
	)
	for {
		candidates, err := s.store.PastDue(ctx, now, s.sweepBatch)
		if err != nil {
			errs = append(errs, newError("mark_overdue", nil, err))
			break
		}
		seen += len(candidates)

		batchMarked, batchErrs := s.markBatch(ctx, now, candidates)
		marked += batchMarked
		errs = append(errs, batchErrs...)

		if len(candidates) < s.sweepBatch || batchMarked == 0 || ctx.Err() != nil {
			break
		}
	}

	s.logger.InfoContext(ctx, "overdue sweep finished", "candidates", seen, "marked", marked, "failed", len(errs))
	return marked, errors.Join(errs...)
}

func (s *Service) markBatch(ctx context.Context, now time.Time, candidates []models.Transaction) (int, []error) {
	var (
		marked int
		errs   []error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		changed := false
		err := s.atomically(ctx, "mark_overdue", map[string]string{"transaction_id": c.ID}, func(tx Tx) error {
			changed = false

			t, err := tx.TransactionForUpdate(ctx, c.ID)
			if err != nil {
				return notFound(err, ErrTransactionNotFound)
			}
			// returned or swept by someone else in the meantime
			if t.Status != models.TransactionActive || !t.DueDate.Before(now) {
				return nil
			}
			next, err := statemachine.TransitionTransaction(t.Status,
				statemachine.NextTransactionState(t.Status, statemachine.ActionMarkOverdue))
			if err != nil {
				return err
			}
			if err := tx.UpdateTransaction(ctx, t.ID, map[string]interface{}{"status": next}); err != nil {
				return err
			}
			if _, err := s.evaluator.RecomputeSuspension(ctx, tx, t.MemberID); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			marked++
		}
	}
	return marked, errs
}
