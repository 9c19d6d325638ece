package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookBorrowed    BookStatus = "borrowed"
	BookReserved    BookStatus = "reserved"
	BookMaintenance BookStatus = "maintenance"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
)

type TransactionStatus string

const (
	TransactionActive   TransactionStatus = "active"
	TransactionOverdue  TransactionStatus = "overdue"
	TransactionReturned TransactionStatus = "returned"
)

type Book struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	ISBN            string     `gorm:"size:20;uniqueIndex;not null" json:"isbn"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Author          string     `gorm:"size:255;not null" json:"author"`
	Category        string     `gorm:"size:80" json:"category"`
	TotalCopies     int        `gorm:"not null;check:total_copies >= 0" json:"total_copies"`
	AvailableCopies int        `gorm:"not null;check:available_copies >= 0 AND available_copies <= total_copies" json:"available_copies"`
	Status          BookStatus `gorm:"size:20;not null;default:'available'" json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Member struct {
	ID               string       `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string       `gorm:"size:120;not null" json:"name"`
	Email            string       `gorm:"size:255;uniqueIndex;not null" json:"email"`
	MembershipNumber string       `gorm:"size:40;uniqueIndex;not null" json:"membership_number"`
	Status           MemberStatus `gorm:"size:20;not null;default:'active'" json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type Transaction struct {
	ID         string            `gorm:"type:uuid;primaryKey" json:"id"`
	BookID     string            `gorm:"type:uuid;index;not null" json:"book_id"`
	MemberID   string            `gorm:"type:uuid;index:idx_transactions_member_status;not null" json:"member_id"`
	BorrowedAt time.Time         `gorm:"not null" json:"borrowed_at"`
	DueDate    time.Time         `gorm:"index;not null" json:"due_date"`
	ReturnedAt *time.Time        `json:"returned_at"`
	Status     TransactionStatus `gorm:"size:20;index:idx_transactions_member_status;not null" json:"status"`

	Book   Book   `gorm:"foreignKey:BookID;constraint:OnDelete:RESTRICT" json:"-"`
	Member Member `gorm:"foreignKey:MemberID;constraint:OnDelete:RESTRICT" json:"-"`
}

type Fine struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID      string          `gorm:"type:uuid;index;not null" json:"member_id"`
	TransactionID string          `gorm:"type:uuid;uniqueIndex;not null" json:"transaction_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	PaidAt        *time.Time      `json:"paid_at"`
	CreatedAt     time.Time       `json:"created_at"`

	Member      Member      `gorm:"foreignKey:MemberID;constraint:OnDelete:RESTRICT" json:"-"`
	Transaction Transaction `gorm:"foreignKey:TransactionID;constraint:OnDelete:RESTRICT" json:"-"`
}

// All lists every record type in migration order.
func All() []interface{} {
	return []interface{}{&Book{}, &Member{}, &Transaction{}, &Fine{}}
}
