package usecase

import (
	"context"
	"encoding/json"
	"time"

	"datascout/internal/domain"
)

// publishEvent marshals payload and publishes it on the bus. If the bus is
// nil this is a no-op; a payload that fails to marshal is published with an
// empty payload rather than dropped.
func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     domain.RunIDFromContext(ctx),
		Payload:   raw,
	})
}
