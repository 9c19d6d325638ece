package lending

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"library_lending/pkg/statemachine"
)

// Store-level failures. Persistence adapters wrap their driver errors with
// one of these so the orchestrator can classify them.
var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict, transaction could not be serialized")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Rejection reasons.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrFineNotFound        = errors.New("fine not found")

	ErrBookUnavailable     = errors.New("book is not available for borrowing")
	ErrBorrowLimitExceeded = errors.New("member has reached the borrow limit")
	ErrUnpaidFinesExist    = errors.New("member has unpaid fines")
	ErrMemberSuspended     = errors.New("member is suspended")
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindPreconditionFailed
	KindConcurrencyConflict
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "internal"
	}
}

// Retryable reports whether the whole operation may be attempted again.
func (k Kind) Retryable() bool {
	return k == KindConcurrencyConflict
}

// Error is returned by every Service operation that fails.
type Error struct {
	Kind   Kind
	Op     string
	Reason error
	IDs    map[string]string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Reason != nil {
		b.WriteString(e.Reason.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if len(e.IDs) > 0 {
		keys := make([]string, 0, len(e.IDs))
		for k := range e.IDs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.IDs[k])
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Reason }

// KindOf extracts the Kind of err. Bare store errors are classified too.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrBookNotFound),
		errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrFineNotFound),
		errors.Is(err, ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrBorrowLimitExceeded),
		errors.Is(err, ErrUnpaidFinesExist),
		errors.Is(err, ErrMemberSuspended),
		errors.Is(err, statemachine.ErrInvalidTransition):
		return KindPreconditionFailed
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindInternal
	}
}

func newError(op string, ids map[string]string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Reason: err, IDs: ids}
}

// notFound turns a store miss into the entity specific reason.
func notFound(err, reason error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return reason
	}
	return err
}
