// Package statemachine holds the legal status transitions for books and
// lending transactions. Everything here is pure.
package statemachine

import (
	"errors"
	"fmt"

	"library_lending/pkg/models"
)

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// Actions understood by NextBookState and NextTransactionState.
const (
	ActionBorrow      = "borrow"
	ActionReturn      = "return"
	ActionReserve     = "reserve"
	ActionMaintenance = "maintenance"
	ActionRestore     = "restore"
	ActionMarkOverdue = "markOverdue"
)

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %q to %q", e.Entity, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var bookTransitions = map[models.BookStatus][]models.BookStatus{
	models.BookAvailable:   {models.BookBorrowed, models.BookReserved, models.BookMaintenance},
	models.BookBorrowed:    {models.BookAvailable, models.BookMaintenance},
	models.BookReserved:    {models.BookBorrowed, models.BookAvailable, models.BookMaintenance},
	models.BookMaintenance: {models.BookAvailable},
}

var transactionTransitions = map[models.TransactionStatus][]models.TransactionStatus{
	models.TransactionActive:  {models.TransactionReturned, models.TransactionOverdue},
	models.TransactionOverdue: {models.TransactionReturned},
}

var bookActions = map[string]models.BookStatus{
	ActionBorrow:      models.BookBorrowed,
	ActionReturn:      models.BookAvailable,
	ActionReserve:     models.BookReserved,
	ActionMaintenance: models.BookMaintenance,
	ActionRestore:     models.BookAvailable,
}

func CanTransitionBook(from, to models.BookStatus) bool {
	return contains(bookTransitions[from], to)
}

func CanTransitionTransaction(from, to models.TransactionStatus) bool {
	return contains(transactionTransitions[from], to)
}

// TransitionBook returns to when the pair is in the book table.
func TransitionBook(from, to models.BookStatus) (models.BookStatus, error) {
	if !CanTransitionBook(from, to) {
		return from, &InvalidTransitionError{Entity: "book", From: string(from), To: string(to)}
	}
	return to, nil
}

// TransitionTransaction returns to when the pair is in the transaction table.
// returned is terminal.
func TransitionTransaction(from, to models.TransactionStatus) (models.TransactionStatus, error) {
	if !CanTransitionTransaction(from, to) {
		return from, &InvalidTransitionError{Entity: "transaction", From: string(from), To: string(to)}
	}
	return to, nil
}

// NextBookState maps an action to its target status without checking that the
// move is legal from current; run the result through TransitionBook.
func NextBookState(current models.BookStatus, action string) (models.BookStatus, bool) {
	target, ok := bookActions[action]
	return target, ok
}

// NextTransactionState returns current unchanged for actions that do not
// apply to it.
func NextTransactionState(current models.TransactionStatus, action string) models.TransactionStatus {
	switch current {
	case models.TransactionActive:
		switch action {
		case ActionReturn:
			return models.TransactionReturned
		case ActionMarkOverdue:
			return models.TransactionOverdue
		}
	case models.TransactionOverdue:
		if action == ActionReturn {
			return models.TransactionReturned
		}
	}
	return current
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
