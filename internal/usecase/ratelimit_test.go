package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/domain"
)

func TestUsageLimiterWindowPruning(t *testing.T) {
	l := NewUsageLimiter(UsageLimiterConfig{Window: time.Minute}, nil)

	now := time.Now()
	l.now = func() time.Time { return now }

	l.Record(domain.Usage{InputTokens: 100, OutputTokens: 50})
	l.Record(domain.Usage{InputTokens: 20, OutputTokens: 10, CacheReadTokens: 500})

	st := l.Status()
	assert.Equal(t, 180, st.WindowTokens)
	assert.Equal(t, 500, st.CachedTokens)
	assert.False(t, st.Waiting)

	// Advance past the window; old samples fall out.
	now = now.Add(2 * time.Minute)
	l.Record(domain.Usage{InputTokens: 5, OutputTokens: 5})

	st = l.Status()
	assert.Equal(t, 10, st.WindowTokens)
	assert.Equal(t, 0, st.CachedTokens)
}

func TestUsageLimiterWaitWithoutPacer(t *testing.T) {
	l := NewUsageLimiter(UsageLimiterConfig{}, nil)
	// No pacing configured: Wait returns immediately.
	require.NoError(t, l.Wait(context.Background()))
}

func TestUsageLimiterWaitForRetryEmitsEvents(t *testing.T) {
	bus := &recordingBus{}
	l := NewUsageLimiter(UsageLimiterConfig{Window: time.Minute}, bus)

	var slept time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		// Waiting must be visible while blocked.
		assert.True(t, l.Status().Waiting)
		return nil
	}

	require.NoError(t, l.WaitForRetry(context.Background(), 12*time.Second))
	assert.Equal(t, 12*time.Second, slept)
	assert.False(t, l.Status().Waiting)

	events := bus.ofType(domain.EventRateLimit)
	require.Len(t, events, 2)

	var first, second domain.RateLimitPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	require.NoError(t, json.Unmarshal(events[1].Payload, &second))
	assert.True(t, first.Waiting)
	assert.Equal(t, 12*time.Second, first.Delay)
	assert.False(t, second.Waiting)
}

func TestUsageLimiterWaitForRetryCanceled(t *testing.T) {
	l := NewUsageLimiter(UsageLimiterConfig{Window: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.WaitForRetry(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	// Waiting flag is cleared even on cancellation.
	assert.False(t, l.Status().Waiting)
}

func TestUsageLimiterPacing(t *testing.T) {
	l := NewUsageLimiter(UsageLimiterConfig{RequestsPerMinute: 60000}, nil)
	// Generous rate: several waits should all pass quickly.
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}
