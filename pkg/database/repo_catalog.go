package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library_lending/pkg/models"
	"library_lending/pkg/statemachine"
)

var ErrCopiesOnLoan = errors.New("total copies cannot drop below copies on loan")

// Page selects a slice of a listing. A zero Size returns everything.
type Page struct {
	Number int
	Size   int
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	if p.Size <= 0 {
		return q
	}
	number := p.Number
	if number < 1 {
		number = 1
	}
	return q.Offset((number - 1) * p.Size).Limit(p.Size)
}

// BookDetails holds the catalog fields an update may change. Nil means keep.
type BookDetails struct {
	Title       *string
	Author      *string
	Category    *string
	TotalCopies *int
}

type MemberProfile struct {
	Name  *string
	Email *string
}

// Books

func (r *Repo) ListBooks(ctx context.Context, availableOnly bool, page Page) ([]models.Book, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Book{})
	if availableOnly {
		q = q.Where("status = ? AND available_copies > 0", models.BookAvailable)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var books []models.Book
	if err := page.apply(q.Order("created_at, id")).Find(&books).Error; err != nil {
		return nil, 0, classify(err)
	}
	return books, total, nil
}

func (r *Repo) Book(ctx context.Context, id string) (*models.Book, error) {
	var b models.Book
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &b, nil
}

// CreateBook stores a new title with every copy on the shelf.
func (r *Repo) CreateBook(ctx context.Context, b *models.Book) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.AvailableCopies = b.TotalCopies
	b.Status = models.BookAvailable
	return classify(r.db.WithContext(ctx).Create(b).Error)
}

// UpdateBookDetails changes catalog fields. A new total keeps the number of
// copies on loan and moves the difference onto the shelf.
func (r *Repo) UpdateBookDetails(ctx context.Context, id string, d BookDetails) (*models.Book, error) {
	var updated models.Book
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Book
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error; err != nil {
			return err
		}

		fields := map[string]interface{}{}
		if d.Title != nil {
			fields["title"] = *d.Title
		}
		if d.Author != nil {
			fields["author"] = *d.Author
		}
		if d.Category != nil {
			fields["category"] = *d.Category
		}
		if d.TotalCopies != nil && *d.TotalCopies != b.TotalCopies {
			onLoan := b.TotalCopies - b.AvailableCopies
			if *d.TotalCopies < onLoan {
				return fmt.Errorf("%w: %d on loan", ErrCopiesOnLoan, onLoan)
			}
			available := *d.TotalCopies - onLoan
			status, err := shelfStatus(b.Status, available)
			if err != nil {
				return err
			}
			fields["total_copies"] = *d.TotalCopies
			fields["available_copies"] = available
			fields["status"] = status
		}
		if len(fields) > 0 {
			if err := tx.Model(&models.Book{}).Where("id = ?", id).Updates(fields).Error; err != nil {
				return err
			}
		}
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, classify(err)
	}
	return &updated, nil
}

// DeleteBook refuses while any copy is still out.
func (r *Repo) DeleteBook(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Transaction{}).
			Where("book_id = ? AND status <> ?", id, models.TransactionReturned).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: %d open transactions", ErrInUse, open)
		}
		res := tx.Delete(&models.Book{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return classify(err)
}

// Members

func (r *Repo) ListMembers(ctx context.Context, page Page) ([]models.Member, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Member{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var members []models.Member
	if err := page.apply(q.Order("created_at, id")).Find(&members).Error; err != nil {
		return nil, 0, classify(err)
	}
	return members, total, nil
}

func (r *Repo) CreateMember(ctx context.Context, m *models.Member) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = models.MemberActive
	return classify(r.db.WithContext(ctx).Create(m).Error)
}

func (r *Repo) UpdateMemberProfile(ctx context.Context, id string, p MemberProfile) (*models.Member, error) {
	fields := map[string]interface{}{}
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Email != nil {
		fields["email"] = *p.Email
	}
	if len(fields) > 0 {
		if err := r.update(ctx, &models.Member{}, id, fields); err != nil {
			return nil, err
		}
	}
	return r.GetMember(ctx, id)
}

// DeleteMember refuses while the member holds books or owes money.
func (r *Repo) DeleteMember(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open, unpaid int64
		if err := tx.Model(&models.Transaction{}).
			Where("member_id = ? AND status <> ?", id, models.TransactionReturned).
			Count(&open).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Fine{}).
			Where("member_id = ? AND paid_at IS NULL", id).
			Count(&unpaid).Error; err != nil {
			return err
		}
		if open > 0 || unpaid > 0 {
			return fmt.Errorf("%w: %d open transactions, %d unpaid fines", ErrInUse, open, unpaid)
		}
		res := tx.Delete(&models.Member{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return classify(err)
}

// MemberLoans lists the member's books that are still out, with the book
// preloaded.
func (r *Repo) MemberLoans(ctx context.Context, memberID string) ([]models.Transaction, error) {
	if _, err := r.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	var ts []models.Transaction
	err := r.db.WithContext(ctx).Preload("Book").
		Where("member_id = ? AND status <> ?", memberID, models.TransactionReturned).
		Order("due_date").
		Find(&ts).Error
	if err != nil {
		return nil, classify(err)
	}
	return ts, nil
}

// Transactions

func (r *Repo) ListTransactions(ctx context.Context, page Page) ([]models.Transaction, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var ts []models.Transaction
	if err := page.apply(q.Order("borrowed_at DESC, id")).Find(&ts).Error; err != nil {
		return nil, 0, classify(err)
	}
	return ts, total, nil
}

// OverdueTransactions lists overdue loans oldest first with book and member
// preloaded.
func (r *Repo) OverdueTransactions(ctx context.Context) ([]models.Transaction, error) {
	var ts []models.Transaction
	err := r.db.WithContext(ctx).Preload("Book").Preload("Member").
		Where("status = ?", models.TransactionOverdue).
		Order("due_date ASC").
		Find(&ts).Error
	if err != nil {
		return nil, classify(err)
	}
	return ts, nil
}

func (r *Repo) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// Fines

func (r *Repo) ListFines(ctx context.Context, unpaidOnly bool, page Page) ([]models.Fine, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Fine{})
	if unpaidOnly {
		q = q.Where("paid_at IS NULL")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}
	var fines []models.Fine
	if err := page.apply(q.Preload("Member").Order("created_at, id")).Find(&fines).Error; err != nil {
		return nil, 0, classify(err)
	}
	return fines, total, nil
}

func (r *Repo) Fine(ctx context.Context, id string) (*models.Fine, error) {
	var f models.Fine
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &f, nil
}

func (r *Repo) MemberFines(ctx context.Context, memberID string) ([]models.Fine, error) {
	var fines []models.Fine
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at, id").
		Find(&fines).Error
	if err != nil {
		return nil, classify(err)
	}
	return fines, nil
}

// shelfStatus settles a book's status after its shelf count changed outside
// a borrow or a return.
func shelfStatus(current models.BookStatus, available int) (models.BookStatus, error) {
	var target models.BookStatus
	switch {
	case current == models.BookAvailable && available == 0:
		target, _ = statemachine.NextBookState(current, statemachine.ActionBorrow)
	case current == models.BookBorrowed && available > 0:
		target, _ = statemachine.NextBookState(current, statemachine.ActionReturn)
	default:
		return current, nil
	}
	return statemachine.TransitionBook(current, target)
}
