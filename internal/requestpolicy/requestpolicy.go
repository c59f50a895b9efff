// Package requestpolicy wraps every outbound venue call with a token-bucket
// rate limit, a circuit breaker, and jittered retry with Retry-After
// honoring (spec.md §4.A). It is the one place in the core that decides
// whether and how to retry a failing network call.
package requestpolicy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fundingarb/internal/model"
	"fundingarb/internal/venue"
)

// Category buckets outbound calls so each gets its own rate limit and
// circuit breaker, matching the teacher's per-connection usage tracking
// generalized from one shared limiter to one per endpoint class.
type Category string

const (
	CategoryPublic  Category = "public"
	CategoryPrivate Category = "private"
	CategoryOrders  Category = "orders"
)

// RateConfig configures one category's token bucket.
type RateConfig struct {
	RatePerSec float64
	Burst      int
}

// BackoffConfig configures jittered exponential backoff.
type BackoffConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64 // 0..1, fraction of the computed delay randomized
}

// Config is the full request-policy configuration, normally loaded via
// internal/config.
type Config struct {
	Rates             map[Category]RateConfig
	DefaultTimeout     time.Duration
	FailureThreshold   int           // consecutive failures before OPEN
	ResetTimeout       time.Duration // OPEN -> HALF_OPEN delay
	Backoff            BackoffConfig
	AggressiveBackoff  BackoffConfig // used for 429 / rate-limited responses
	MaxRetries         int
}

// DefaultConfig returns reasonable defaults grounded on the teacher's own
// gateway pool defaults (failure threshold 3, circuit timeout ~30s).
func DefaultConfig() Config {
	return Config{
		Rates: map[Category]RateConfig{
			CategoryPublic:  {RatePerSec: 10, Burst: 20},
			CategoryPrivate: {RatePerSec: 5, Burst: 10},
			CategoryOrders:  {RatePerSec: 5, Burst: 5},
		},
		DefaultTimeout:   5 * time.Second,
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		Backoff: BackoffConfig{
			BaseDelay:      100 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			JitterFraction: 0.25,
		},
		AggressiveBackoff: BackoffConfig{
			BaseDelay:      1 * time.Second,
			MaxDelay:       30 * time.Second,
			JitterFraction: 0.5,
		},
		MaxRetries: 3,
	}
}

// Options tune one call through the policy.
type Options struct {
	Endpoint           string
	Category           Category
	Weight             int // token cost, default 1
	TimeoutMs          int // overrides Config.DefaultTimeout when > 0
	Retryable          bool
	MaxRetries         int // overrides Config.MaxRetries when > 0
	SkipRateLimit      bool
	SkipCircuitBreaker bool
}

// retryableError is implemented by failures that know whether they should
// be retried (e.g. venue.Error).
type retryableError interface {
	error
	IsRetryable() bool
}

// retryAfterError is implemented by failures carrying a server-specified
// backoff hint (e.g. a 429's Retry-After header).
type retryAfterError interface {
	error
	RetryAfterHint() (time.Duration, bool)
}

// Failure-mode sentinel errors surfaced to callers.
var (
	ErrRequestTimeout    = errors.New("requestpolicy: request timeout")
	ErrCircuitOpen       = errors.New("requestpolicy: circuit open")
	ErrRateLimitExceeded = errors.New("requestpolicy: rate limit exceeded")
)

// MaxRetriesExceededError reports how many attempts were made before giving up.
type MaxRetriesExceededError struct {
	Attempts  int
	LastError error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("requestpolicy: max retries exceeded after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.LastError }

// Metrics accumulates counters across all calls through a Policy.
type Metrics struct {
	mu               sync.Mutex
	Total            uint64
	Successful       uint64
	Failed           uint64
	Retries          uint64
	RateLimitWaits    uint64
	RateLimitWaitTime time.Duration
	BreakerTrips      uint64
}

func (m *Metrics) snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m
	cp.mu = sync.Mutex{}
	return cp
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Metrics { return m.snapshot() }

// Policy is the shared rate limiter + circuit breaker + retry wrapper.
type Policy struct {
	cfg      Config
	clock    model.Clock
	mu       sync.Mutex
	limiters map[Category]*rate.Limiter
	breakers map[Category]*breaker
	metrics  map[Category]*Metrics
}

// New constructs a Policy. clock defaults to the system clock if nil.
func New(cfg Config, clock model.Clock) *Policy {
	if clock == nil {
		clock = model.SystemClock{}
	}
	p := &Policy{
		cfg:      cfg,
		clock:    clock,
		limiters: map[Category]*rate.Limiter{},
		breakers: map[Category]*breaker{},
		metrics:  map[Category]*Metrics{},
	}
	for cat, rc := range cfg.Rates {
		p.limiters[cat] = rate.NewLimiter(rate.Limit(rc.RatePerSec), maxInt(rc.Burst, 1))
		p.breakers[cat] = newBreaker(cfg, clock)
		p.metrics[cat] = &Metrics{}
	}
	return p
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (p *Policy) limiterFor(cat Category) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[cat]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 5)
		p.limiters[cat] = l
	}
	return l
}

func (p *Policy) breakerFor(cat Category) *breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[cat]
	if !ok {
		b = newBreaker(p.cfg, p.clock)
		p.breakers[cat] = b
	}
	return b
}

func (p *Policy) metricsFor(cat Category) *Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.metrics[cat]
	if !ok {
		m = &Metrics{}
		p.metrics[cat] = m
	}
	return m
}

// Snapshot returns a copy of the accumulated metrics for one category.
func (p *Policy) Snapshot(cat Category) Metrics {
	return p.metricsFor(cat).Snapshot()
}

// Do executes fn under the full policy: rate limit, circuit breaker,
// timeout, and retry-with-backoff. Do is generic so any venue call signature
// can be wrapped without boilerplate result-boxing at each call site.
func Do[T any](ctx context.Context, p *Policy, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	weight := opts.Weight
	if weight <= 0 {
		weight = 1
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = p.cfg.MaxRetries
	}
	timeout := p.cfg.DefaultTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}

	metrics := p.metricsFor(opts.Category)
	metrics.mu.Lock()
	metrics.Total++
	metrics.mu.Unlock()

	if !opts.SkipRateLimit {
		limiter := p.limiterFor(opts.Category)
		waitStart := p.clock.Now()
		if err := limiter.WaitN(ctx, weight); err != nil {
			metrics.mu.Lock()
			metrics.Failed++
			metrics.mu.Unlock()
			return zero, ErrRateLimitExceeded
		}
		waited := p.clock.Now().Sub(waitStart)
		if waited > 0 {
			metrics.mu.Lock()
			metrics.RateLimitWaits++
			metrics.RateLimitWaitTime += waited
			metrics.mu.Unlock()
		}
	}

	brk := p.breakerFor(opts.Category)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			delay := backoffDelay(p.cfg, attempt, lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			metrics.mu.Lock()
			metrics.Retries++
			metrics.mu.Unlock()
		}

		if !opts.SkipCircuitBreaker {
			if !brk.Allow() {
				metrics.mu.Lock()
				metrics.Failed++
				metrics.mu.Unlock()
				return zero, ErrCircuitOpen
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(callCtx)
		cancel()

		if err == nil {
			if !opts.SkipCircuitBreaker {
				brk.RecordSuccess()
			}
			metrics.mu.Lock()
			metrics.Successful++
			metrics.mu.Unlock()
			return result, nil
		}

		if !opts.SkipCircuitBreaker {
			brk.RecordFailure()
			if brk.justTripped() {
				metrics.mu.Lock()
				metrics.BreakerTrips++
				metrics.mu.Unlock()
			}
		}

		lastErr = timeoutOrErr(callCtx, err)

		if !(opts.Retryable || isRetryable(lastErr)) || attempt == maxRetries {
			break
		}
	}

	metrics.mu.Lock()
	metrics.Failed++
	metrics.mu.Unlock()

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return zero, ErrRequestTimeout
	}
	return zero, &MaxRetriesExceededError{Attempts: attempts, LastError: lastErr}
}

func timeoutOrErr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return context.DeadlineExceeded
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return false
}

func backoffDelay(cfg Config, attempt int, lastErr error) time.Duration {
	bo := cfg.Backoff
	var ra retryAfterError
	if errors.As(lastErr, &ra) {
		if d, ok := ra.RetryAfterHint(); ok {
			return d
		}
	}
	var ve *venue.Error
	if errors.As(lastErr, &ve) && ve.Code == venue.ErrRateLimited {
		bo = cfg.AggressiveBackoff
	}
	base := bo.BaseDelay * time.Duration(1<<uint(attempt-1))
	if base > bo.MaxDelay || base <= 0 {
		base = bo.MaxDelay
	}
	jitter := time.Duration(float64(base) * bo.JitterFraction * (rand.Float64()*2 - 1))
	d := base + jitter
	if d < 0 {
		d = base
	}
	return d
}
