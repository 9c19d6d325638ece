package lending

import (
	"context"
	"time"

	"library_lending/pkg/models"
)

// Tx is the view of the store inside one atomic unit. Every read and write of
// a borrow, a return or a payment goes through the same Tx.
type Tx interface {
	// BookForUpdate and TransactionForUpdate lock the row until the unit ends.
	BookForUpdate(ctx context.Context, id string) (*models.Book, error)
	TransactionForUpdate(ctx context.Context, id string) (*models.Transaction, error)
	FineForUpdate(ctx context.Context, id string) (*models.Fine, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	InsertFine(ctx context.Context, f *models.Fine) error

	UpdateBook(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateMember(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateTransaction(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateFine(ctx context.Context, id string, fields map[string]interface{}) error

	CountActiveTransactions(ctx context.Context, memberID string) (int64, error)
	CountOverdueTransactions(ctx context.Context, memberID string) (int64, error)
	CountUnpaidFines(ctx context.Context, memberID string) (int64, error)
}

// Store opens atomic units. Atomic commits when fn returns nil and rolls back
// otherwise; a serialization failure surfaces as ErrConcurrencyConflict.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// PastDue lists active transactions whose due date is before now.
	PastDue(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
}
