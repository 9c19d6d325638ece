package database

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library_lending/pkg/lending"
	"library_lending/pkg/models"
)

// Repo is the gorm backed lending store. Outside Atomic it runs against the
// connection pool; inside, the same type wraps the open transaction.
type Repo struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

type RepoOption func(*Repo)

// WithIsolation overrides the isolation level of atomic units. Defaults to
// serializable.
func WithIsolation(level sql.IsolationLevel) RepoOption {
	return func(r *Repo) {
		r.isolation = level
	}
}

func NewRepo(db *gorm.DB, opts ...RepoOption) *Repo {
	r := &Repo{db: db, isolation: sql.LevelSerializable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

// Atomic runs fn in one database transaction. Errors returned by fn roll the
// transaction back and come out unchanged unless they are driver errors.
func (r *Repo) Atomic(ctx context.Context, fn func(tx lending.Tx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx, isolation: r.isolation})
	}, &sql.TxOptions{Isolation: r.isolation})
	return classify(err)
}

func (r *Repo) PastDue(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var ts []models.Transaction
	q := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", models.TransactionActive, now).
		Order("due_date")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ts).Error; err != nil {
		return nil, classify(err)
	}
	return ts, nil
}

func (r *Repo) BookForUpdate(ctx context.Context, id string) (*models.Book, error) {
	var b models.Book
	if err := r.locked(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &b, nil
}

func (r *Repo) TransactionForUpdate(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.locked(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func (r *Repo) FineForUpdate(ctx context.Context, id string) (*models.Fine, error) {
	var f models.Fine
	if err := r.locked(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &f, nil
}

func (r *Repo) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (r *Repo) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	return classify(r.db.WithContext(ctx).Omit(clause.Associations).Create(t).Error)
}

func (r *Repo) InsertFine(ctx context.Context, f *models.Fine) error {
	return classify(r.db.WithContext(ctx).Omit(clause.Associations).Create(f).Error)
}

func (r *Repo) UpdateBook(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.update(ctx, &models.Book{}, id, fields)
}

func (r *Repo) UpdateMember(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.update(ctx, &models.Member{}, id, fields)
}

func (r *Repo) UpdateTransaction(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.update(ctx, &models.Transaction{}, id, fields)
}

func (r *Repo) UpdateFine(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.update(ctx, &models.Fine{}, id, fields)
}

func (r *Repo) CountActiveTransactions(ctx context.Context, memberID string) (int64, error) {
	return r.countTransactions(ctx, memberID, models.TransactionActive)
}

func (r *Repo) CountOverdueTransactions(ctx context.Context, memberID string) (int64, error) {
	return r.countTransactions(ctx, memberID, models.TransactionOverdue)
}

func (r *Repo) CountUnpaidFines(ctx context.Context, memberID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Fine{}).
		Where("member_id = ? AND paid_at IS NULL", memberID).
		Count(&n).Error
	return n, classify(err)
}

func (r *Repo) countTransactions(ctx context.Context, memberID string, status models.TransactionStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("member_id = ? AND status = ?", memberID, status).
		Count(&n).Error
	return n, classify(err)
}

// locked adds FOR UPDATE. The sqlite dialect drops the clause, which is fine
// because sqlite serializes writers anyway.
func (r *Repo) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *Repo) update(ctx context.Context, model interface{}, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return classify(gorm.ErrRecordNotFound)
	}
	return nil
}

var _ lending.Store = (*Repo)(nil)
var _ lending.Tx = (*Repo)(nil)
