package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"library_lending/pkg/database"
	"library_lending/pkg/lending"
	"library_lending/pkg/models"
)

type borrowRequest struct {
	BookID   string `json:"book_id" binding:"required,uuid"`
	MemberID string `json:"member_id" binding:"required,uuid"`
}

type createBookRequest struct {
	ISBN        string `json:"isbn" binding:"required,max=20"`
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author" binding:"required"`
	Category    string `json:"category" binding:"required"`
	TotalCopies int    `json:"total_copies" binding:"required,min=1"`
}

type updateBookRequest struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	Category    *string `json:"category"`
	TotalCopies *int    `json:"total_copies" binding:"omitempty,min=0"`
}

type createMemberRequest struct {
	Name             string `json:"name" binding:"required"`
	Email            string `json:"email" binding:"required,email"`
	MembershipNumber string `json:"membership_number" binding:"required"`
}

type updateMemberRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email" binding:"omitempty,email"`
}

const maxPageSize = 100

func pageFromQuery(c *gin.Context) database.Page {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil || size < 1 {
		size = 10
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return database.Page{Number: page, Size: size}
}

func paged(page database.Page, total int64, items interface{}) gin.H {
	return gin.H{
		"page":      page.Number,
		"page_size": page.Size,
		"total":     total,
		"items":     items,
	}
}

func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, fmt.Errorf("%w: %s must be a uuid", errBadRequest, name))
		return "", false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func fineView(f models.Fine) gin.H {
	view := gin.H{
		"id":             f.ID,
		"member_id":      f.MemberID,
		"transaction_id": f.TransactionID,
		"amount":         f.Amount.StringFixed(2),
		"paid_at":        f.PaidAt,
		"created_at":     f.CreatedAt,
	}
	if f.Member.ID != "" {
		view["member_name"] = f.Member.Name
	}
	return view
}

func fineViews(fines []models.Fine) []gin.H {
	items := make([]gin.H, len(fines))
	for i, f := range fines {
		items[i] = fineView(f)
	}
	return items
}

// Books

func getBooks(c *gin.Context) {
	listBooks(c, false)
}

func getAvailableBooks(c *gin.Context) {
	listBooks(c, true)
}

func listBooks(c *gin.Context, availableOnly bool) {
	page := pageFromQuery(c)
	books, total, err := repo.ListBooks(c.Request.Context(), availableOnly, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page, total, books))
}

func getBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	book, err := repo.Book(c.Request.Context(), id)
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrBookNotFound))
		return
	}
	c.JSON(http.StatusOK, book)
}

func createBook(c *gin.Context) {
	var req createBookRequest
	if !bindJSON(c, &req) {
		return
	}
	book := &models.Book{
		ISBN:        req.ISBN,
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		TotalCopies: req.TotalCopies,
	}
	if err := repo.CreateBook(c.Request.Context(), book); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func updateBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateBookRequest
	if !bindJSON(c, &req) {
		return
	}
	book, err := repo.UpdateBookDetails(c.Request.Context(), id, database.BookDetails{
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrBookNotFound))
		return
	}
	c.JSON(http.StatusOK, book)
}

func deleteBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := repo.DeleteBook(c.Request.Context(), id); err != nil {
		respondError(c, entityNotFound(err, lending.ErrBookNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "book deleted"})
}

// Members

func getMembers(c *gin.Context) {
	page := pageFromQuery(c)
	members, total, err := repo.ListMembers(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page, total, members))
}

func getMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	member, err := repo.GetMember(c.Request.Context(), id)
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrMemberNotFound))
		return
	}
	c.JSON(http.StatusOK, member)
}

func getMemberBorrowed(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	loans, err := repo.MemberLoans(c.Request.Context(), id)
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrMemberNotFound))
		return
	}

	items := make([]gin.H, len(loans))
	for i, t := range loans {
		items[i] = gin.H{
			"transaction_id": t.ID,
			"book_id":        t.Book.ID,
			"isbn":           t.Book.ISBN,
			"title":          t.Book.Title,
			"author":         t.Book.Author,
			"borrowed_at":    t.BorrowedAt,
			"due_date":       t.DueDate,
			"status":         t.Status,
		}
	}
	c.JSON(http.StatusOK, items)
}

func createMember(c *gin.Context) {
	var req createMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	member := &models.Member{
		Name:             req.Name,
		Email:            req.Email,
		MembershipNumber: req.MembershipNumber,
	}
	if err := repo.CreateMember(c.Request.Context(), member); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func updateMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	member, err := repo.UpdateMemberProfile(c.Request.Context(), id, database.MemberProfile{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrMemberNotFound))
		return
	}
	c.JSON(http.StatusOK, member)
}

func deleteMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := repo.DeleteMember(c.Request.Context(), id); err != nil {
		respondError(c, entityNotFound(err, lending.ErrMemberNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "member deleted"})
}

// Transactions

func getTransactions(c *gin.Context) {
	page := pageFromQuery(c)
	transactions, total, err := repo.ListTransactions(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page, total, transactions))
}

// getOverdueTransactions also reports what each loan would be fined if it
// came back now.
func getOverdueTransactions(c *gin.Context) {
	transactions, err := repo.OverdueTransactions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	now := clock().UTC()
	fines := service.Fines()
	items := make([]gin.H, len(transactions))
	for i, t := range transactions {
		items[i] = gin.H{
			"id":           t.ID,
			"book_id":      t.BookID,
			"member_id":    t.MemberID,
			"borrowed_at":  t.BorrowedAt,
			"due_date":     t.DueDate,
			"status":       t.Status,
			"title":        t.Book.Title,
			"name":         t.Member.Name,
			"days_overdue": fines.OverdueDays(t.DueDate, now),
			"accrued_fine": fines.OverdueFine(t.DueDate, now).StringFixed(2),
		}
	}
	c.JSON(http.StatusOK, items)
}

func getTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := repo.Transaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrTransactionNotFound))
		return
	}
	c.JSON(http.StatusOK, t)
}

func borrowBook(c *gin.Context) {
	var req borrowRequest
	if !bindJSON(c, &req) {
		return
	}
	t, err := service.Borrow(c.Request.Context(), req.BookID, req.MemberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func returnBook(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	t, err := service.ReturnBook(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Fines

func getFines(c *gin.Context) {
	listFines(c, false)
}

func getUnpaidFines(c *gin.Context) {
	listFines(c, true)
}

func listFines(c *gin.Context, unpaidOnly bool) {
	page := pageFromQuery(c)
	fines, total, err := repo.ListFines(c.Request.Context(), unpaidOnly, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page, total, fineViews(fines)))
}

func getFine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, err := repo.Fine(c.Request.Context(), id)
	if err != nil {
		respondError(c, entityNotFound(err, lending.ErrFineNotFound))
		return
	}
	c.JSON(http.StatusOK, fineView(*f))
}

func getMemberFines(c *gin.Context) {
	memberID, ok := pathID(c, "member_id")
	if !ok {
		return
	}
	fines, err := repo.MemberFines(c.Request.Context(), memberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fineViews(fines))
}

func payFine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	f, err := service.PayFine(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fineView(*f))
}
