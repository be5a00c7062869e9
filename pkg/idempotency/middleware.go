package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey is the HTTP header for idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// MaxBodySize is the maximum request body size for idempotency (1MB)
	MaxBodySize = 1 << 20

	// DefaultTTL is how long a stored response is replayed
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
)

// ErrMiss is returned by a Store that has no entry for a key
var ErrMiss = errors.New("idempotency key not found")

// Store keeps responses by key. Get must return an error wrapping ErrMiss
// (or one recognised by isMiss) for absent keys.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// Record is a stored response
type Record struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// responseWriter wraps gin.ResponseWriter to capture response
type responseWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// isMiss reports whether a Store error means the key is absent.
func Middleware(store Store, isMiss func(error) bool, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			c.Next()
			return
		}
		if len(idempotencyKey) > maxKeyLength {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Invalid idempotency key",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodySize))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Failed to read request body",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		requestHash := HashRequest(c.Request.Method, c.FullPath(), bodyBytes)
		storeKey := fmt.Sprintf("idempotency:%s:%s", c.FullPath(), idempotencyKey)

		var existing Record
		err = store.Get(c.Request.Context(), storeKey, &existing)
		switch {
		case err == nil:
			if existing.RequestHash != requestHash {
				logger.Warn("Idempotency key conflict", zap.String("idempotency_key", idempotencyKey))
				c.JSON(http.StatusConflict, gin.H{
					"error":      "Idempotency key conflict",
					"message":    "key was used with a different request",
					"request_id": c.GetString("request_id"),
				})
				c.Abort()
				return
			}
			logger.Info("Returning cached response",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int("status", existing.Status))
			c.Data(existing.Status, "application/json; charset=utf-8", existing.Body)
			c.Abort()
			return
		case errors.Is(err, ErrMiss) || (isMiss != nil && isMiss(err)):
		default:
			// fail open
			logger.Error("Failed to check idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.Next()
			return
		}

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
			status:         http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		// server errors stay retryable
		if writer.status >= http.StatusInternalServerError {
			return
		}
		record := Record{RequestHash: requestHash, Status: writer.status, Body: writer.body.Bytes()}
		if err := store.Set(c.Request.Context(), storeKey, record, DefaultTTL); err != nil {
			logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
		}
	}
}

// HashRequest fingerprints a request so a reused key with a different body is detected
func HashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
