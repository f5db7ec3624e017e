// Package idempotency replays cached responses for retried mutating
// requests. Clients send an Idempotency-Key header; the first completed
// 2xx response under a key is stored in Redis and returned verbatim for
// every retry within the TTL.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/starpay-service/starpay_service/pkg/logger"
)

const (
	// HeaderIdempotencyKey is the header clients retry with
	HeaderIdempotencyKey = "Idempotency-Key"

	// DefaultTTL bounds how long a stored response can be replayed
	DefaultTTL = 24 * time.Hour

	maxBodySize = 1 << 20
)

// Store is the response cache surface
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

type captureWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware returns the gin handler. Requests without the header pass
// through untouched, and a broken cache never blocks a request.
func Middleware(store Store, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > 255 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_IDEMPOTENCY_KEY",
				"message": "Idempotency-Key must be at most 255 characters",
			})
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		hash := sha256.Sum256(body)
		requestHash := hex.EncodeToString(hash[:])
		cacheKey := "idem:" + c.Request.Method + ":" + c.FullPath() + ":" + key

		var stored storedResponse
		if err := store.Get(c.Request.Context(), cacheKey, &stored); err == nil {
			if stored.RequestHash != requestHash {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"code":    "IDEMPOTENCY_KEY_REUSED",
					"message": "Idempotency-Key was already used with a different request body",
				})
				return
			}
			log.Debug("Replaying idempotent response",
				"key", key,
				"path", c.Request.URL.Path,
				"status", stored.Status,
			)
			c.Header("X-Idempotent-Replay", "true")
			c.Data(stored.Status, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}, status: http.StatusOK}
		c.Writer = writer
		c.Next()

		if writer.status < 200 || writer.status >= 300 {
			return
		}

		record := storedResponse{
			Status:      writer.status,
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.body.Bytes(),
			RequestHash: requestHash,
		}
		if err := store.Set(c.Request.Context(), cacheKey, record, DefaultTTL); err != nil {
			log.Warn("Failed to store idempotent response",
				"key", key,
				"error", err,
			)
		}
	}
}
