package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"datascout/internal/domain"
)

// defaultUsageWindow is the sliding window over which token usage is summed
// for display.
const defaultUsageWindow = time.Minute

// usageSample is one transport call's token usage with its timestamp.
type usageSample struct {
	usage domain.Usage
	at    time.Time
}

// UsageStatus is a read-only snapshot of the limiter.
type UsageStatus struct {
	WindowTokens int           `json:"window_tokens"` // non-cached tokens in the window
	CachedTokens int           `json:"cached_tokens"` // informational, not counted against quota
	Window       time.Duration `json:"window"`
	Waiting      bool          `json:"waiting"`
}

// UsageLimiterConfig configures the usage limiter.
type UsageLimiterConfig struct {
	// Window is the sliding window for usage display sums.
	Window time.Duration `yaml:"window"`
	// RequestsPerMinute paces transport calls; 0 disables pacing.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// UsageLimiter tracks a sliding window of token usage for display and
// mediates retry sleeps when the transport reports rate limiting. It does
// not enforce a hard token cap; the authoritative signal is the transport's
// own rate-limit response with its server-provided delay.
type UsageLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	samples []usageSample
	waiting bool
	pacer   *rate.Limiter // nil = no request pacing
	bus     domain.EventBus
	now     func() time.Time // for testing
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewUsageLimiter creates a usage limiter. bus may be nil, in which case
// rate-limit events are not published.
func NewUsageLimiter(cfg UsageLimiterConfig, bus domain.EventBus) *UsageLimiter {
	window := cfg.Window
	if window <= 0 {
		window = defaultUsageWindow
	}
	var pacer *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		pacer = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return &UsageLimiter{
		window: window,
		pacer:  pacer,
		bus:    bus,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record adds a usage sample to the sliding window.
func (l *UsageLimiter) Record(u domain.Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	l.samples = append(l.samples, usageSample{usage: u, at: l.now()})
}

// prune drops samples outside the window. Caller must hold mu.
func (l *UsageLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	n := 0
	for _, s := range l.samples {
		if s.at.After(cutoff) {
			l.samples[n] = s
			n++
		}
	}
	l.samples = l.samples[:n]
}

// Status returns a snapshot of window usage, pruned on read.
func (l *UsageLimiter) Status() UsageStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())

	var total, cached int
	for _, s := range l.samples {
		total += s.usage.Total()
		cached += s.usage.Cached()
	}
	return UsageStatus{
		WindowTokens: total,
		CachedTokens: cached,
		Window:       l.window,
		Waiting:      l.waiting,
	}
}

// Wait applies request pacing before a transport call. It blocks until the
// pacer admits the call or ctx is canceled.
func (l *UsageLimiter) Wait(ctx context.Context) error {
	if l.pacer == nil {
		return nil
	}
	return l.pacer.Wait(ctx)
}

// WaitForRetry sleeps for the exact server-provided delay after a rate-limit
// response, emitting a waiting event before the sleep and a resumed event
// after it. The engine makes no transport calls while blocked here.
func (l *UsageLimiter) WaitForRetry(ctx context.Context, delay time.Duration) error {
	l.setWaiting(true)
	l.publish(ctx, domain.RateLimitPayload{
		Waiting: true,
		Delay:   delay,
		Message: fmt.Sprintf("rate limited, waiting %s before retrying", delay),
	})

	err := l.sleep(ctx, delay)

	l.setWaiting(false)
	l.publish(ctx, domain.RateLimitPayload{Waiting: false, Message: "resumed after rate limit"})
	return err
}

func (l *UsageLimiter) setWaiting(w bool) {
	l.mu.Lock()
	l.waiting = w
	l.mu.Unlock()
}

func (l *UsageLimiter) publish(ctx context.Context, payload domain.RateLimitPayload) {
	if l.bus == nil {
		return
	}
	publishEvent(l.bus, ctx, domain.EventRateLimit, payload)
}
