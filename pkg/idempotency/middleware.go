package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
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

	// ReservationTTL bounds how long a key stays reserved if its request
	// never completes
	ReservationTTL = 5 * time.Minute
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{8,128}$`)

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

// ValidateKey checks the client supplied key format
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("idempotency key must be 8-128 characters of [A-Za-z0-9_-:.]")
	}
	return nil
}

// ReadBody reads at most limit bytes of body
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return data, nil
}

// HashRequest fingerprints a request body
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Middleware replays the stored response of a request carrying an already
// seen Idempotency-Key. The first request reserves the key, so a concurrent
// retry is answered with 409 instead of running twice. Reusing a key with a
// different body or route is a conflict. Requests without the header pass
// through.
func Middleware(store Store, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			c.Next()
			return
		}

		if err := ValidateKey(idempotencyKey); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_IDEMPOTENCY_KEY",
				"message": err.Error(),
			})
			return
		}

		bodyBytes, err := ReadBody(c.Request.Body, MaxBodySize)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		requestHash := HashRequest(bodyBytes)
		route := c.Request.Method + " " + c.Request.URL.Path

		ctx := c.Request.Context()
		existing, err := store.Get(ctx, idempotencyKey)
		if err != nil {
			// fail open
			logger.Error("Failed to check idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.Next()
			return
		}

		if existing != nil {
			respondExisting(c, existing, requestHash, route, logger)
			return
		}

		reserved, err := store.Reserve(ctx, &Record{
			Key:         idempotencyKey,
			Route:       route,
			RequestHash: requestHash,
			ExpiresAt:   time.Now().Add(ReservationTTL),
		})
		if err != nil {
			// fail open
			logger.Error("Failed to reserve idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			// another request claimed the key between Get and Reserve
			existing, err := store.Get(ctx, idempotencyKey)
			if err != nil || existing == nil {
				abortInProgress(c)
				return
			}
			respondExisting(c, existing, requestHash, route, logger)
			return
		}

		stored := false
		defer func() {
			if stored {
				return
			}
			if err := store.Release(ctx, idempotencyKey); err != nil {
				logger.Error("Failed to release idempotency key",
					zap.String("idempotency_key", idempotencyKey),
					zap.Error(err))
			}
		}()

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
			status:         http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		// server errors may be transient, let the client retry them
		if writer.status >= http.StatusInternalServerError || !json.Valid(writer.body.Bytes()) {
			return
		}

		record := &Record{
			Key:            idempotencyKey,
			Route:          route,
			RequestHash:    requestHash,
			ResponseStatus: writer.status,
			ResponseBody:   writer.body.Bytes(),
			ExpiresAt:      time.Now().Add(ttl),
		}
		if err := store.Create(ctx, record); err != nil {
			logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			return
		}
		stored = true
	}
}

// respondExisting answers a request whose key is already known: a mismatched
// request conflicts, a pending one is still running, a completed one replays.
func respondExisting(c *gin.Context, existing *Record, requestHash, route string, logger *zap.Logger) {
	if existing.RequestHash != requestHash || existing.Route != route {
		logger.Warn("Idempotency key reused with a different request",
			zap.String("idempotency_key", existing.Key),
			zap.String("route", route))
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"code":    "IDEMPOTENCY_KEY_CONFLICT",
			"message": "idempotency key was used with a different request",
		})
		return
	}
	if existing.Pending {
		abortInProgress(c)
		return
	}

	logger.Debug("Replaying stored response",
		zap.String("idempotency_key", existing.Key),
		zap.Int("status", existing.ResponseStatus))
	c.Header("Idempotent-Replayed", "true")
	c.Data(existing.ResponseStatus, "application/json; charset=utf-8", existing.ResponseBody)
	c.Abort()
}

func abortInProgress(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{
		"code":    "IDEMPOTENCY_KEY_IN_PROGRESS",
		"message": "a request with this idempotency key is still being processed",
	})
}
