package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBusTypedSubscription(t *testing.T) {
	bus := newTestBus()

	var got []domain.Event
	bus.Subscribe(domain.EventDiscovery, func(_ context.Context, ev domain.Event) {
		got = append(got, ev)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventDiscovery, RunID: "r1"})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventThinking, RunID: "r1"})

	require.Len(t, got, 1)
	assert.Equal(t, domain.EventDiscovery, got[0].Type)
}

func TestBusSubscribeAllPreservesEmissionOrder(t *testing.T) {
	bus := newTestBus()

	var types []domain.EventType
	bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		types = append(types, ev.Type)
	})

	emit := []domain.EventType{
		domain.EventStatusChange,
		domain.EventThinking,
		domain.EventToolCall,
		domain.EventToolResult,
		domain.EventComplete,
	}
	for _, et := range emit {
		bus.Publish(context.Background(), domain.Event{Type: et})
	}

	assert.Equal(t, emit, types)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := newTestBus()

	count := 0
	unsub := bus.Subscribe(domain.EventError, func(context.Context, domain.Event) { count++ })

	bus.Publish(context.Background(), domain.Event{Type: domain.EventError})
	unsub()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventError})

	assert.Equal(t, 1, count)
}

func TestBusPanickingHandlerDoesNotAbortPublish(t *testing.T) {
	bus := newTestBus()

	bus.SubscribeAll(func(context.Context, domain.Event) { panic("handler bug") })

	reached := false
	bus.SubscribeAll(func(context.Context, domain.Event) { reached = true })

	bus.Publish(context.Background(), domain.Event{Type: domain.EventComplete})
	assert.True(t, reached)
}

func TestBusClosedDropsPublishes(t *testing.T) {
	bus := newTestBus()

	count := 0
	bus.SubscribeAll(func(context.Context, domain.Event) { count++ })

	bus.Close()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventComplete})
	assert.Equal(t, 0, count)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(context.Context, domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), domain.Event{Type: domain.EventThinking})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, count)
}
