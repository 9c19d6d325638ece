package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"
)

// fingerprint ties a key to the request it was first used with, so reusing
// a key for a different body is not answered with a stale response.
func fingerprint(key, method, path string, body []byte) string {
	h := sha256.New()
	for _, field := range [][]byte{[]byte(key), []byte(method), []byte(path), body} {
		// length prefix keeps field boundaries out of reach of the content
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write(field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// cacheable leaves out responses a client is expected to retry.
func cacheable(status int) bool {
	return status < http.StatusInternalServerError && status != http.StatusConflict
}

// Middleware replays the stored response of POST requests that repeat an
// Idempotency-Key. When the store is unreachable requests go through
// unprotected.
func Middleware(store Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if c.Request.Method != http.MethodPost || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "bad_request", "message": "cannot read request body"}})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		id := fingerprint(key, c.Request.Method, c.Request.URL.Path, body)

		cached, err := store.Begin(ctx, id)
		switch {
		case errors.Is(err, ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": gin.H{"kind": "concurrency_conflict", "message": err.Error()}})
			return
		case err != nil:
			logger.WarnContext(ctx, "idempotency store unavailable", "error", err)
			c.Next()
			return
		case cached != nil:
			c.Header(HeaderReplayed, "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// the client may be gone; the outcome still has to be recorded
		ctx = context.WithoutCancel(ctx)
		status := rec.Status()
		if !cacheable(status) {
			if err := store.Abandon(ctx, id); err != nil {
				logger.WarnContext(ctx, "release idempotency key", "error", err)
			}
			return
		}
		resp := Response{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if err := store.Complete(ctx, id, resp); err != nil {
			logger.WarnContext(ctx, "store idempotent response", "error", err)
		}
	}
}
