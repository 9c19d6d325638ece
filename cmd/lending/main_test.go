package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"library_lending/pkg/database"
	"library_lending/pkg/lending"
	"library_lending/pkg/models"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), database.GormConfig())
	if err != nil {
		panic("failed to connect test database")
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// setupTestServer wires the package globals the handlers use. The clock
// starts at testNow and moves with *now.
func setupTestServer(t *testing.T) (*gin.Engine, *time.Time) {
	gin.SetMode(gin.TestMode)
	now := testNow
	clock = func() time.Time { return now }
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	repo = database.NewRepo(setupTestDB(t))
	service = lending.NewService(repo, lending.DefaultPolicy(), lending.WithClock(clock), lending.WithLogger(logger))
	redisStore = nil
	return setupRouter([]string{"*"}, nil), &now
}

func request(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	e, ok := decode(t, w)["error"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return e
}

func createTestBook(t *testing.T, r *gin.Engine, copies int) string {
	w := request(r, http.MethodPost, "/books", gin.H{
		"isbn":         uuid.NewString()[:13],
		"title":        "A Wizard of Earthsea",
		"author":       "Ursula K. Le Guin",
		"category":     "Fantasy",
		"total_copies": copies,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func createTestMember(t *testing.T, r *gin.Engine) string {
	id := uuid.NewString()
	w := request(r, http.MethodPost, "/members", gin.H{
		"name":              "Ged",
		"email":             id[:8] + "@roke.example",
		"membership_number": "M-" + id[:8],
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	setupTestServer(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	healthCheck(c)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "up", response["database"])
	assert.Equal(t, "disabled", response["redis"])
}

func TestGetBook(t *testing.T) {
	setupTestServer(t)
	book := &models.Book{ISBN: "9780553383041", Title: "The Dispossessed", Author: "Ursula K. Le Guin", Category: "Fiction", TotalCopies: 2}
	require.NoError(t, repo.CreateBook(context.Background(), book))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/books/"+book.ID, nil)
	c.Params = gin.Params{gin.Param{Key: "id", Value: book.ID}}

	getBook(c)

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, "The Dispossessed", response["title"])
	assert.Equal(t, float64(2), response["available_copies"])
	assert.Equal(t, "available", response["status"])
}

func TestGetBook_Errors(t *testing.T) {
	r, _ := setupTestServer(t)

	w := request(r, http.MethodGet, "/books/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "not_found", e["kind"])
	assert.Equal(t, "book not found", e["message"])

	w = request(r, http.MethodGet, "/books/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", errorOf(t, w)["kind"])
}

func TestCreateBook(t *testing.T) {
	r, _ := setupTestServer(t)

	w := request(r, http.MethodPost, "/books", gin.H{"title": "missing fields"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := gin.H{"isbn": "9780441013593", "title": "Dune", "author": "Frank Herbert", "category": "Fiction", "total_copies": 3}
	w = request(r, http.MethodPost, "/books", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["available_copies"])

	w = request(r, http.MethodPost, "/books", body)
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate isbn")

	w = request(r, http.MethodGet, "/books?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(1), response["total"])
	assert.Len(t, response["items"], 1)
}

func TestGetBooks_Paging(t *testing.T) {
	r, _ := setupTestServer(t)
	for i := 0; i < 3; i++ {
		createTestBook(t, r, 1)
	}

	w := request(r, http.MethodGet, "/books?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.Equal(t, float64(2), response["page_size"])
	assert.Equal(t, float64(3), response["total"])
	assert.Len(t, response["items"], 2)

	w = request(r, http.MethodGet, "/books?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = request(r, http.MethodGet, "/books?page_size=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(100), decode(t, w)["page_size"])
}

func TestUpdateBook_TotalCopies(t *testing.T) {
	r, _ := setupTestServer(t)
	bookID := createTestBook(t, r, 2)
	memberID := createTestMember(t, r)

	w := request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": memberID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = request(r, http.MethodPut, "/books/"+bookID, gin.H{"total_copies": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	response := decode(t, w)
	assert.Equal(t, float64(0), response["available_copies"])
	assert.Equal(t, "borrowed", response["status"])

	w = request(r, http.MethodPut, "/books/"+bookID, gin.H{"total_copies": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = request(r, http.MethodPut, "/books/"+bookID, gin.H{"title": "Tehanu"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Tehanu", decode(t, w)["title"])
}

func TestDeleteBook(t *testing.T) {
	r, _ := setupTestServer(t)
	bookID := createTestBook(t, r, 1)
	memberID := createTestMember(t, r)

	w := request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": memberID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = request(r, http.MethodDelete, "/books/"+bookID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = request(r, http.MethodDelete, "/members/"+memberID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	spare := createTestBook(t, r, 1)
	w = request(r, http.MethodDelete, "/books/"+spare, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = request(r, http.MethodDelete, "/books/"+spare, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBorrowAndReturn(t *testing.T) {
	r, now := setupTestServer(t)
	bookID := createTestBook(t, r, 1)
	alice := createTestMember(t, r)
	bob := createTestMember(t, r)

	w := request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": alice})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tx := decode(t, w)
	txID := tx["id"].(string)
	assert.Equal(t, "active", tx["status"])

	w = request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": bob})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "precondition_failed", e["kind"])
	assert.Equal(t, lending.ErrBookUnavailable.Error(), e["message"])
	assert.Equal(t, bookID, e["ids"].(map[string]interface{})["book_id"])

	w = request(r, http.MethodGet, "/members/"+alice+"/borrowed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var loans []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loans))
	require.Len(t, loans, 1)
	assert.Equal(t, txID, loans[0]["transaction_id"])
	assert.Equal(t, "A Wizard of Earthsea", loans[0]["title"])

	*now = now.Add(20 * 24 * time.Hour)
	w = request(r, http.MethodPost, "/transactions/"+txID+"/return", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "returned", decode(t, w)["status"])

	w = request(r, http.MethodPost, "/transactions/"+txID+"/return", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = request(r, http.MethodGet, "/fines/member/"+alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fines []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fines))
	require.Len(t, fines, 1)
	assert.Equal(t, "3.00", fines[0]["amount"])

	w = request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": alice})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, lending.ErrUnpaidFinesExist.Error(), errorOf(t, w)["message"])

	fineID := fines[0]["id"].(string)
	w = request(r, http.MethodPost, "/fines/"+fineID+"/pay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode(t, w)["paid_at"])

	w = request(r, http.MethodGet, "/fines/unpaid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])

	w = request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": alice})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBorrow_BadRequest(t *testing.T) {
	r, _ := setupTestServer(t)

	w := request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": uuid.NewString(), "member_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, lending.ErrBookNotFound.Error(), errorOf(t, w)["message"])
}

func TestOverdueTransactions(t *testing.T) {
	r, now := setupTestServer(t)
	bookID := createTestBook(t, r, 1)
	memberID := createTestMember(t, r)

	w := request(r, http.MethodPost, "/transactions/borrow", gin.H{"book_id": bookID, "member_id": memberID})
	require.Equal(t, http.StatusCreated, w.Code)

	*now = now.Add(17 * 24 * time.Hour)
	marked, err := service.MarkOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	w = request(r, http.MethodGet, "/transactions/overdue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "overdue", items[0]["status"])
	assert.Equal(t, "A Wizard of Earthsea", items[0]["title"])
	assert.Equal(t, "Ged", items[0]["name"])
	assert.Equal(t, float64(3), items[0]["days_overdue"])
	assert.Equal(t, "1.50", items[0]["accrued_fine"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{lending.ErrMemberNotFound, http.StatusNotFound},
		{lending.ErrBorrowLimitExceeded, http.StatusUnprocessableEntity},
		{lending.ErrConcurrencyConflict, http.StatusConflict},
		{lending.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{database.ErrDuplicate, http.StatusConflict},
		{database.ErrInUse, http.StatusConflict},
		{errBadRequest, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
