// Package ratelimit implements per-key sliding-window rate limiting
// over atomic counter buckets.
//
// Each key gets two independent windows, per-minute and per-day. A
// window bucket is identified by {key_id}#{minute|day}#{bucket
// timestamp} and self-deletes via TTL shortly after the window closes.
//
// Counter-store failures fail OPEN: an unreachable backend degrades to
// "no rate limiting", never to denied traffic. This asymmetry with the
// fail-closed key checks is deliberate; see the lifecycle service.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/ratelimit/store"
)

// Window identifies one of the two rate limit windows.
type Window string

// Windows.
const (
	WindowMinute Window = "minute"
	WindowDay    Window = "day"
)

// Bucket timestamp layouts and TTL slack. Buckets live slightly longer
// than their window so in-flight requests near the boundary still see
// them.
const (
	minuteBucketLayout = "200601021504"
	dayBucketLayout    = "20060102"

	minuteBucketTTL = 2 * time.Minute
	dayBucketTTL    = 25 * time.Hour
)

// Limits holds the per-window request limits for a key.
type Limits struct {
	PerMinute int
	PerDay    int
}

// DefaultLimits returns the default per-key limits.
func DefaultLimits() Limits {
	return Limits{
		PerMinute: 60,
		PerDay:    10000,
	}
}

// WindowResult describes one window's state after a check. It is
// returned on allowed and denied requests alike so callers can
// self-throttle proactively.
type WindowResult struct {
	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests left, floored at zero.
	Remaining int

	// Reset is the epoch second at which the window resets.
	Reset int64
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is within both limits.
	Allowed bool

	// Exceeded names the window that rejected the request, if any.
	Exceeded Window

	// Minute and Day are the per-window states.
	Minute WindowResult
	Day    WindowResult
}

// Headers renders the standard rate limit response headers.
func (r *Result) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit-Minute":     strconv.Itoa(r.Minute.Limit),
		"X-RateLimit-Remaining-Minute": strconv.Itoa(r.Minute.Remaining),
		"X-RateLimit-Reset-Minute":     strconv.FormatInt(r.Minute.Reset, 10),
		"X-RateLimit-Limit-Day":        strconv.Itoa(r.Day.Limit),
		"X-RateLimit-Remaining-Day":    strconv.Itoa(r.Day.Remaining),
		"X-RateLimit-Reset-Day":        strconv.FormatInt(r.Day.Reset, 10),
	}
	if !r.Allowed {
		headers["Retry-After"] = strconv.FormatInt(r.retryAfterSeconds(), 10)
	}
	return headers
}

// retryAfterSeconds is the wait until the exceeded window resets.
func (r *Result) retryAfterSeconds() int64 {
	var reset int64
	switch r.Exceeded {
	case WindowDay:
		reset = r.Day.Reset
	default:
		reset = r.Minute.Reset
	}
	wait := reset - time.Now().UTC().Unix()
	if wait < 1 {
		wait = 1
	}
	return wait
}

// Limiter checks per-key request counts against the two windows.
type Limiter struct {
	store  store.Store
	logger observability.Logger
	now    func() time.Time
}

// Option is a functional option for the limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a new limiter over the given counter store.
func NewLimiter(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// BucketKey builds the composite counter key for a window.
func BucketKey(keyID string, window Window, at time.Time) string {
	at = at.UTC()
	switch window {
	case WindowDay:
		return keyID + "#day#" + at.Format(dayBucketLayout)
	default:
		return keyID + "#minute#" + at.Format(minuteBucketLayout)
	}
}

// Allow counts one request against both windows for the key and
// reports whether it is within limits. Zero or negative limits fall
// back to the defaults. Counter-store errors are logged and treated as
// count zero (fail open).
func (l *Limiter) Allow(ctx context.Context, keyID string, limits Limits) *Result {
	defaults := DefaultLimits()
	if limits.PerMinute <= 0 {
		limits.PerMinute = defaults.PerMinute
	}
	if limits.PerDay <= 0 {
		limits.PerDay = defaults.PerDay
	}

	now := l.now().UTC()

	minuteCount := l.incrementWindow(ctx, keyID, WindowMinute, now)
	dayCount := l.incrementWindow(ctx, keyID, WindowDay, now)

	result := &Result{
		Allowed: true,
		Minute:  windowResult(limits.PerMinute, minuteCount, minuteReset(now)),
		Day:     windowResult(limits.PerDay, dayCount, dayReset(now)),
	}

	// Post-increment count exceeding the limit rejects the request. The
	// minute window is reported first when both are exceeded.
	switch {
	case minuteCount > int64(limits.PerMinute):
		result.Allowed = false
		result.Exceeded = WindowMinute
	case dayCount > int64(limits.PerDay):
		result.Allowed = false
		result.Exceeded = WindowDay
	}

	return result
}

// incrementWindow bumps one window's bucket. Errors fail open as count
// zero: availability wins over strict denial for counter failures.
func (l *Limiter) incrementWindow(ctx context.Context, keyID string, window Window, now time.Time) int64 {
	ttl := minuteBucketTTL
	if window == WindowDay {
		ttl = dayBucketTTL
	}

	count, err := l.store.IncrementWithExpiry(ctx, BucketKey(keyID, window, now), 1, ttl)
	if err != nil {
		l.logger.Warn("rate limit counter increment failed, failing open",
			observability.String("key_id", keyID),
			observability.String("window", string(window)),
			observability.Error(err),
		)
		return 0
	}
	return count
}

func windowResult(limit int, count int64, reset int64) WindowResult {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return WindowResult{
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// minuteReset is the epoch second at which the current minute bucket
// closes.
func minuteReset(now time.Time) int64 {
	return now.Truncate(time.Minute).Add(time.Minute).Unix()
}

// dayReset is the epoch second at which the current day bucket closes.
func dayReset(now time.Time) int64 {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1).Unix()
}
