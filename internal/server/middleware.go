package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/orblabs/keygate/internal/observability"
)

// requestIDHeader carries the request ID in both directions.
const requestIDHeader = "X-Request-ID"

// RequestID assigns every request an ID, honoring one supplied by the
// client, and propagates it through the context and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		c.Next()
	}
}

// Logging logs one line per request.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Int("size", c.Writer.Size()),
			observability.Duration("duration", time.Since(start)),
			observability.String("remote_addr", c.ClientIP()),
			observability.String("request_id", observability.RequestIDFromContext(c.Request.Context())),
		)
	}
}

// Recovery converts panics into a 500 response instead of tearing the
// connection down, logging the panic value.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					observability.Any("panic", r),
					observability.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    http.StatusInternalServerError,
					"success": false,
					"message": "[AAM500] internal error",
				})
			}
		}()
		c.Next()
	}
}

// clientLimiter tracks one token bucket per client IP. This is a
// transport-level guard against a single misbehaving client, separate
// from the per-key windows the lifecycle service enforces.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (cl *clientLimiter) limiterFor(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	l, ok := cl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(cl.rps, cl.burst)
		cl.limiters[ip] = l
	}
	return l
}

// ClientRateLimit rejects clients that exceed rps requests per second
// with the given burst. Zero or negative rps disables the guard.
func ClientRateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}

	cl := newClientLimiter(rps, burst)

	return func(c *gin.Context) {
		if !cl.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"success": false,
				"message": "[AAM300] rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
