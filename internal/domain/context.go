package domain

import "context"

type ctxKey int

const runIDKey ctxKey = iota

// ContextWithRunID attaches a run ID to the context for event attribution.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run ID attached to ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}
