package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"library_lending/pkg/database"
	"library_lending/pkg/lending"
)

var errBadRequest = errors.New("bad request")

// respondError writes the single error shape every endpoint uses:
// {"error": {"kind", "message", "ids"}}.
func respondError(c *gin.Context, err error) {
	status, kind := statusFor(err)

	body := gin.H{"kind": kind, "message": err.Error()}
	var lerr *lending.Error
	if errors.As(err, &lerr) {
		if lerr.Reason != nil {
			body["message"] = lerr.Reason.Error()
		}
		if len(lerr.IDs) > 0 {
			body["ids"] = lerr.IDs
		}
	}

	if status == http.StatusInternalServerError {
		body["message"] = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": body})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, database.ErrDuplicate), errors.Is(err, database.ErrInUse):
		return http.StatusConflict, "conflict"
	case errors.Is(err, database.ErrCopiesOnLoan):
		return http.StatusUnprocessableEntity, lending.KindPreconditionFailed.String()
	}

	kind := lending.KindOf(err)
	switch kind {
	case lending.KindNotFound:
		return http.StatusNotFound, kind.String()
	case lending.KindPreconditionFailed:
		return http.StatusUnprocessableEntity, kind.String()
	case lending.KindConcurrencyConflict:
		return http.StatusConflict, kind.String()
	case lending.KindStoreUnavailable:
		return http.StatusServiceUnavailable, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

// entityNotFound swaps a bare store miss for the entity specific reason.
func entityNotFound(err, reason error) error {
	if errors.Is(err, lending.ErrRecordNotFound) {
		return reason
	}
	return err
}
