package lending

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"library_lending/pkg/models"
	"library_lending/pkg/statemachine"
)

// Service coordinates borrows, returns and fine payments. Each operation runs
// as one atomic unit on the Store; all checks happen before the first write.
type Service struct {
	store     Store
	policy    Policy
	fines     FineCalculator
	evaluator Evaluator
	now       func() time.Time
	logger    *slog.Logger
	retry     []RetryOption

	sweepBatch int
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRetryOptions tunes the retry of units that hit a serialization
// conflict.
func WithRetryOptions(opts ...RetryOption) Option {
	return func(s *Service) {
		s.retry = opts
	}
}

// WithSweepBatch sets how many past-due loans MarkOverdue loads at a time.
func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func NewService(store Store, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:     store,
		policy:    policy,
		fines:     NewFineCalculator(policy),
		evaluator: NewEvaluator(policy),
		now:       time.Now,
		logger:    slog.Default(),

		sweepBatch: defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

func (s *Service) Fines() FineCalculator { return s.fines }

func (s *Service) Evaluator() Evaluator { return s.evaluator }

// Borrow lends one copy of a book to a member.
func (s *Service) Borrow(ctx context.Context, bookID, memberID string) (*models.Transaction, error) {
	ids := map[string]string{"book_id": bookID, "member_id": memberID}

	var created *models.Transaction
	err := s.atomically(ctx, "borrow", ids, func(tx Tx) error {
		created = nil

		book, err := tx.BookForUpdate(ctx, bookID)
		if err != nil {
			return notFound(err, ErrBookNotFound)
		}
		if book.AvailableCopies <= 0 || book.Status != models.BookAvailable {
			return ErrBookUnavailable
		}

		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return notFound(err, ErrMemberNotFound)
		}
		if member.Status == models.MemberSuspended {
			return ErrMemberSuspended
		}
		if err := s.evaluator.CanBorrow(ctx, tx, memberID); err != nil {
			return err
		}
		unpaid, err := s.evaluator.HasUnpaidFines(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if unpaid {
			return ErrUnpaidFinesExist
		}

		remaining := book.AvailableCopies - 1
		status := book.Status
		if remaining == 0 {
			target, _ := statemachine.NextBookState(book.Status, statemachine.ActionBorrow)
			if status, err = settleBook(book.Status, target); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		t := &models.Transaction{
			ID:         uuid.NewString(),
			BookID:     book.ID,
			MemberID:   member.ID,
			BorrowedAt: now,
			DueDate:    s.policy.DueDate(now),
			Status:     models.TransactionActive,
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		if err := tx.UpdateBook(ctx, book.ID, map[string]interface{}{
			"available_copies": remaining,
			"status":           status,
		}); err != nil {
			return err
		}

		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book borrowed",
		"transaction_id", created.ID, "book_id", bookID, "member_id", memberID,
		"due_date", created.DueDate)
	return created, nil
}

// ReturnBook closes a transaction, gives the copy back, charges a fine when
// the return is late and recomputes the member's suspension. A transaction
// that is already returned is rejected with an invalid transition.
func (s *Service) ReturnBook(ctx context.Context, transactionID string) (*models.Transaction, error) {
	ids := map[string]string{"transaction_id": transactionID}

	var (
		returned *models.Transaction
		fine     *models.Fine
	)
	err := s.atomically(ctx, "return", ids, func(tx Tx) error {
		returned, fine = nil, nil

		t, err := tx.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return notFound(err, ErrTransactionNotFound)
		}
		next, err := statemachine.TransitionTransaction(t.Status,
			statemachine.NextTransactionState(t.Status, statemachine.ActionReturn))
		if err != nil {
			return err
		}

		book, err := tx.BookForUpdate(ctx, t.BookID)
		if err != nil {
			return notFound(err, ErrBookNotFound)
		}
		available := book.AvailableCopies + 1
		if available > book.TotalCopies {
			available = book.TotalCopies
		}
		target, _ := statemachine.NextBookState(book.Status, statemachine.ActionReturn)
		if available == 0 {
			target = models.BookBorrowed
		}
		status, err := settleBook(book.Status, target)
		if err != nil {
			return err
		}
		if err := tx.UpdateBook(ctx, book.ID, map[string]interface{}{
			"available_copies": available,
			"status":           status,
		}); err != nil {
			return err
		}

		now := s.now().UTC()
		if err := tx.UpdateTransaction(ctx, t.ID, map[string]interface{}{
			"status":      next,
			"returned_at": now,
		}); err != nil {
			return err
		}
		t.Status = next
		t.ReturnedAt = &now

		if now.After(t.DueDate) {
			if amount := s.fines.OverdueFine(t.DueDate, now); amount.IsPositive() {
				f := &models.Fine{
					ID:            uuid.NewString(),
					MemberID:      t.MemberID,
					TransactionID: t.ID,
					Amount:        amount,
					CreatedAt:     now,
				}
				if err := tx.InsertFine(ctx, f); err != nil {
					return err
				}
				fine = f
			}
		}

		if _, err := s.evaluator.RecomputeSuspension(ctx, tx, t.MemberID); err != nil {
			return err
		}

		returned = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{"transaction_id", returned.ID, "book_id", returned.BookID, "member_id", returned.MemberID}
	if fine != nil {
		attrs = append(attrs, "fine_id", fine.ID, "fine_amount", fine.Amount.StringFixed(2))
	}
	s.logger.InfoContext(ctx, "book returned", attrs...)
	return returned, nil
}

// PayFine marks a fine paid. Paying a paid fine returns it unchanged.
func (s *Service) PayFine(ctx context.Context, fineID string) (*models.Fine, error) {
	ids := map[string]string{"fine_id": fineID}

	var paid *models.Fine
	err := s.atomically(ctx, "pay_fine", ids, func(tx Tx) error {
		paid = nil

		f, err := tx.FineForUpdate(ctx, fineID)
		if err != nil {
			return notFound(err, ErrFineNotFound)
		}
		if f.PaidAt == nil {
			now := s.now().UTC()
			if err := tx.UpdateFine(ctx, f.ID, map[string]interface{}{"paid_at": now}); err != nil {
				return err
			}
			f.PaidAt = &now
		}

		paid = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "fine paid", "fine_id", paid.ID, "member_id", paid.MemberID)
	return paid, nil
}

// atomically runs fn in one unit of work and retries the whole unit on
// serialization conflicts.
func (s *Service) atomically(ctx context.Context, op string, ids map[string]string, fn func(tx Tx) error) error {
	attempts, err := retryOnConflict(ctx, func(ctx context.Context) error {
		return s.store.Atomic(ctx, fn)
	}, s.retry...)
	if err == nil {
		if attempts > 1 {
			s.logger.InfoContext(ctx, "unit committed after conflicts", "op", op, "attempts", attempts)
		}
		return nil
	}

	lerr := newError(op, ids, err)
	kind := KindOf(lerr)
	switch kind {
	case KindNotFound, KindPreconditionFailed:
		s.logger.InfoContext(ctx, "request rejected", "op", op, "kind", kind.String(), "error", lerr.Error())
	case KindConcurrencyConflict:
		s.logger.WarnContext(ctx, "giving up after conflicts", "op", op, "attempts", attempts, "error", lerr.Error())
	default:
		s.logger.ErrorContext(ctx, "unit failed", "op", op, "kind", kind.String(), "error", lerr.Error())
	}
	return lerr
}

// settleBook keeps the status when it already matches and otherwise runs the
// move through the book table.
func settleBook(current, target models.BookStatus) (models.BookStatus, error) {
	if current == target {
		return current, nil
	}
	return statemachine.TransitionBook(current, target)
}
