package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"datascout/internal/domain"
	"datascout/internal/usecase/eventbus"
)

// attachConsole subscribes a human-readable printer to the event stream.
// Returns the unsubscribe function.
func attachConsole(bus *eventbus.Bus) func() {
	return bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		printEvent(os.Stdout, ev)
	})
}

func printEvent(w *os.File, ev domain.Event) {
	switch ev.Type {
	case domain.EventStatusChange:
		var p domain.StatusChangePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(w, "[%s] %s -> %s\n", ev.Agent, p.From, p.To)
		}
	case domain.EventThinking:
		var p domain.ThinkingPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(w, "\n[%s #%d]\n%s\n", ev.Agent, p.Iteration, strings.TrimSpace(p.Text))
		}
	case domain.EventToolCall:
		var p domain.ToolCallPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(w, "  -> %s %s\n", p.Name, compactJSON(p.Input))
		}
	case domain.EventToolResult:
		var p domain.ToolResultPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			status := "ok"
			if !p.Success {
				status = "failed"
			}
			fmt.Fprintf(w, "  <- %s %s: %s\n", p.Name, status, firstLine(p.Output))
		}
	case domain.EventDiscovery:
		var d domain.Discovery
		if json.Unmarshal(ev.Payload, &d) == nil {
			fmt.Fprintf(w, "  * discovered %s: %s\n", d.Type, d.Description)
		}
	case domain.EventRateLimit:
		var p domain.RateLimitPayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.Message != "" {
			fmt.Fprintf(w, "  ~ %s\n", p.Message)
		}
	case domain.EventError:
		var p domain.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(w, "\n[%s] error: %s\n", ev.Agent, p.Error)
		}
	case domain.EventComplete:
		var p domain.CompletePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Fprintf(w, "\n[%s] done in %d iterations (%d tokens)\n",
				ev.Agent, p.Iterations, p.Usage.Total())
		}
	}
}

// firstLine truncates tool output to one terminal-friendly line.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	s := string(raw)
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
