package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mocks ---

// chatStep is one scripted transport outcome.
type chatStep struct {
	resp *domain.ChatResponse
	err  error
}

// scriptedProvider replays a fixed sequence of responses and errors.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []chatStep
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.requests) > len(p.steps) {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(p.steps))
	}
	step := p.steps[len(p.requests)-1]
	return step.resp, step.err
}

func (p *scriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// stubTool records invocations and returns a configured result.
type stubTool struct {
	name   string
	result *domain.ToolResult
	err    error
	panics bool

	mu    sync.Mutex
	calls []json.RawMessage
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return t.name + " tool" }
func (t *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}
}

func (t *stubTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()
	if t.panics {
		panic("boom")
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

func (t *stubTool) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// funcTool runs an arbitrary function as a tool.
type funcTool struct {
	name string
	fn   func(context.Context, json.RawMessage) (*domain.ToolResult, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.name + " tool" }
func (t *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.fn(ctx, params)
}

// toolSet is a minimal ToolExecutor over a fixed tool map.
type toolSet struct {
	tools map[string]domain.Tool
}

func (s *toolSet) Get(name string) (domain.Tool, error) {
	if t, ok := s.tools[name]; ok {
		return t, nil
	}
	return nil, domain.ErrToolNotFound
}

func (s *toolSet) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for _, t := range s.tools {
		out = append(out, t.Schema())
	}
	return out
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// --- response constructors ---

func textResponse(text string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Content:    []domain.ContentBlock{domain.TextBlock(text)},
		StopReason: domain.StopEndTurn,
		Usage:      domain.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolResponse(uses ...domain.ContentBlock) *domain.ChatResponse {
	return &domain.ChatResponse{
		Content:    uses,
		StopReason: domain.StopToolUse,
		Usage:      domain.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// newTestEngine builds an engine with instant sleeps and a recording bus.
func newTestEngine(cfg domain.AgentConfig, provider *scriptedProvider, tools map[string]domain.Tool) (*Engine, *recordingBus, *[]time.Duration) {
	bus := &recordingBus{}
	var sleeps []time.Duration
	eng := NewEngine(cfg, EngineDeps{
		Provider: provider,
		Tools:    &toolSet{tools: tools},
		Bus:      bus,
		Logger:   newTestLogger(),
	})
	eng.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return eng, bus, &sleeps
}

// --- completion ---

func TestEngineCompletesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{
		{resp: textResponse("all done")},
	}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	result, err := eng.Run(context.Background(), "look around")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, "all done", result.Summary)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 15, result.Usage.Total())
	assert.NotEmpty(t, eng.RunID())

	// Exactly one terminal event, and it is a completion.
	assert.Len(t, bus.ofType(domain.EventComplete), 1)
	assert.Empty(t, bus.ofType(domain.EventError))

	// Status walked idle -> running -> complete.
	changes := bus.ofType(domain.EventStatusChange)
	require.Len(t, changes, 2)
	var last domain.StatusChangePayload
	require.NoError(t, json.Unmarshal(changes[1].Payload, &last))
	assert.Equal(t, domain.StatusComplete, last.To)
}

func TestEngineSingleUse(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{{resp: textResponse("ok")}}}
	eng, _, _ := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	_, err := eng.Run(context.Background(), "first")
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "second")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
}

// --- tool dispatch ---

func TestEngineToolLoopOrderingAndErrorIsolation(t *testing.T) {
	toolA := &stubTool{name: "alpha", result: &domain.ToolResult{Success: true, Output: "a-out"}}
	toolB := &stubTool{name: "beta", err: errors.New("disk on fire")}
	toolC := &stubTool{name: "gamma", result: &domain.ToolResult{Success: true, Output: "c-out"}}

	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(
			domain.ToolUseBlock("u1", "alpha", json.RawMessage(`{}`)),
			domain.ToolUseBlock("u2", "beta", json.RawMessage(`{}`)),
			domain.ToolUseBlock("u3", "gamma", json.RawMessage(`{}`)),
		)},
		{resp: textResponse("done")},
	}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "coder"}, provider,
		map[string]domain.Tool{"alpha": toolA, "beta": toolB, "gamma": toolC})

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Iterations)

	// Each tool ran exactly once; a failing sibling never short-circuits.
	assert.Equal(t, 1, toolA.CallCount())
	assert.Equal(t, 1, toolB.CallCount())
	assert.Equal(t, 1, toolC.CallCount())

	// All results aggregated into one user message, in request order.
	require.Equal(t, 2, provider.CallCount())
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, domain.RoleUser, last.Role)
	require.Len(t, last.Content, 3)
	assert.Equal(t, "u1", last.Content[0].ToolUseID)
	assert.False(t, last.Content[0].IsError)
	assert.Equal(t, "u2", last.Content[1].ToolUseID)
	assert.True(t, last.Content[1].IsError)
	assert.Equal(t, "u3", last.Content[2].ToolUseID)
	assert.False(t, last.Content[2].IsError)

	// tool_call and tool_result events paired per invocation.
	assert.Len(t, bus.ofType(domain.EventToolCall), 3)
	assert.Len(t, bus.ofType(domain.EventToolResult), 3)
}

func TestEngineToolPanicBecomesFailedResult(t *testing.T) {
	angry := &stubTool{name: "angry", panics: true}
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "angry", nil))},
		{resp: textResponse("recovered")},
	}}
	eng, _, _ := newTestEngine(domain.AgentConfig{Name: "coder"}, provider,
		map[string]domain.Tool{"angry": angry})

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, result.Success)

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.Content, 1)
	assert.True(t, last.Content[0].IsError)
	assert.Contains(t, last.Content[0].Content[0].Text, "panicked")
}

func TestEngineUnknownToolBecomesFailedResult(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "ghost", nil))},
		{resp: textResponse("moved on")},
	}}
	eng, _, _ := newTestEngine(domain.AgentConfig{Name: "coder"}, provider, map[string]domain.Tool{})

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, result.Success)

	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	require.Len(t, last.Content, 1)
	assert.True(t, last.Content[0].IsError)
	assert.Contains(t, last.Content[0].Content[0].Text, "unknown tool")
}

func TestEngineImageToolResult(t *testing.T) {
	render := &stubTool{name: "render_html", result: &domain.ToolResult{
		Success: true,
		Output:  "rendered page.html",
		Data: &domain.ToolData{
			IncludeImage: true,
			Image:        "data:image/jpeg;base64,aGVsbG8=",
		},
	}}
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "render_html", json.RawMessage(`{"path":"page.html"}`)))},
		{resp: textResponse("looks good")},
	}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "designer"}, provider,
		map[string]domain.Tool{"render_html": render})

	_, err := eng.Run(context.Background(), "render it")
	require.NoError(t, err)

	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	require.Len(t, last.Content, 1)
	block := last.Content[0]
	require.Len(t, block.Content, 2)
	assert.Equal(t, domain.BlockText, block.Content[0].Type)
	assert.Equal(t, domain.BlockImage, block.Content[1].Type)
	require.NotNil(t, block.Content[1].Source)
	assert.Equal(t, "image/jpeg", block.Content[1].Source.MediaType)
	assert.Equal(t, "aGVsbG8=", block.Content[1].Source.Data)

	results := bus.ofType(domain.EventToolResult)
	require.Len(t, results, 1)
	var p domain.ToolResultPayload
	require.NoError(t, json.Unmarshal(results[0].Payload, &p))
	assert.True(t, p.HasImage)
}

// --- error taxonomy ---

func TestEngineRetryableErrorBudget(t *testing.T) {
	overload := fmt.Errorf("chat: %w", domain.ErrOverloaded)
	provider := &scriptedProvider{steps: []chatStep{
		{err: overload}, {err: overload}, {err: overload},
	}}
	eng, bus, sleeps := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	result, err := eng.Run(context.Background(), "go")
	assert.ErrorIs(t, err, domain.ErrOverloaded)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Iterations)

	// Exactly three attempts, with exponential backoff between them.
	assert.Equal(t, 3, provider.CallCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)

	errs := bus.ofType(domain.EventError)
	require.Len(t, errs, 1)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
	assert.Equal(t, domain.CodeOverloaded, p.Code)
	assert.Empty(t, bus.ofType(domain.EventComplete))
}

func TestEngineRetryableErrorThenSuccess(t *testing.T) {
	overload := fmt.Errorf("API error 529: overloaded")
	provider := &scriptedProvider{steps: []chatStep{
		{err: overload}, {err: overload}, {resp: textResponse("made it")},
	}}
	eng, _, sleeps := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "made it", result.Summary)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestEngineRateLimitHonorsServerDelay(t *testing.T) {
	rle := &domain.RateLimitError{RetryAfter: 7 * time.Second, Detail: "tokens exhausted"}
	// More rate-limit rounds than the consecutive-error budget allows, to
	// prove they don't consume it.
	provider := &scriptedProvider{steps: []chatStep{
		{err: rle}, {err: rle}, {err: rle}, {err: rle}, {resp: textResponse("through")},
	}}
	eng, bus, sleeps := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 5, provider.CallCount())

	// Every wait is the server's exact delay, never exponential.
	assert.Equal(t, []time.Duration{
		7 * time.Second, 7 * time.Second, 7 * time.Second, 7 * time.Second,
	}, *sleeps)

	// Waiting and resumed notifications around each sleep.
	limits := bus.ofType(domain.EventRateLimit)
	assert.Len(t, limits, 8)
}

func TestEnginePermanentErrorFailsFast(t *testing.T) {
	provider := &scriptedProvider{steps: []chatStep{
		{err: fmt.Errorf("chat: %w", domain.ErrAuthInvalid)},
	}}
	eng, bus, sleeps := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)

	result, err := eng.Run(context.Background(), "go")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.False(t, result.Success)
	assert.Equal(t, 1, provider.CallCount())
	assert.Empty(t, *sleeps)

	errs := bus.ofType(domain.EventError)
	require.Len(t, errs, 1)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
	assert.Equal(t, domain.CodeAuthInvalid, p.Code)
}

// --- budgets and stopping ---

func TestEngineMaxIterations(t *testing.T) {
	echo := &stubTool{name: "echo", result: &domain.ToolResult{Success: true, Output: "hi"}}
	loop := func() chatStep {
		return chatStep{resp: toolResponse(domain.ToolUseBlock("u", "echo", nil))}
	}
	provider := &scriptedProvider{steps: []chatStep{loop(), loop()}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "explorer", MaxIterations: 2}, provider,
		map[string]domain.Tool{"echo": echo})

	result, err := eng.Run(context.Background(), "never stop")
	assert.ErrorIs(t, err, domain.ErrMaxIterations)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 2, provider.CallCount())
	assert.Contains(t, result.Summary, "maximum iterations")

	errs := bus.ofType(domain.EventError)
	require.Len(t, errs, 1)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
	assert.Equal(t, domain.CodeMaxIterations, p.Code)
}

func TestEngineStopBeforeFirstIteration(t *testing.T) {
	provider := &scriptedProvider{steps: nil}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider, nil)
	eng.Stop()

	result, err := eng.Run(context.Background(), "go")
	assert.ErrorIs(t, err, domain.ErrStopped)
	assert.False(t, result.Success)
	assert.Equal(t, 0, provider.CallCount())
	assert.Len(t, bus.ofType(domain.EventError), 1)
}

func TestEngineStopHonoredAtIterationBoundary(t *testing.T) {
	// The tool itself requests a stop mid-iteration. The in-flight iteration
	// must run to completion, including the sibling tool call, before the
	// stop takes effect at the next boundary.
	calls := 0
	var eng *Engine
	stopper := &funcTool{name: "stopper", fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		calls++
		eng.Stop()
		return &domain.ToolResult{Success: true, Output: "ok"}, nil
	}}
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(
			domain.ToolUseBlock("u1", "stopper", nil),
			domain.ToolUseBlock("u2", "stopper", nil),
		)},
	}}
	bus := &recordingBus{}
	eng = NewEngine(domain.AgentConfig{Name: "explorer"}, EngineDeps{
		Provider: provider,
		Tools:    &toolSet{tools: map[string]domain.Tool{"stopper": stopper}},
		Bus:      bus,
		Logger:   newTestLogger(),
	})

	result, err := eng.Run(context.Background(), "go")
	assert.ErrorIs(t, err, domain.ErrStopped)
	assert.False(t, result.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, provider.CallCount())
	assert.Equal(t, 1, result.Iterations)
}

// --- discoveries ---

func TestEngineDiscoveryDedup(t *testing.T) {
	lister := &stubTool{name: "list_files", result: &domain.ToolResult{
		Success: true,
		Output:  "sales.csv\nreports/\n",
	}}
	// Same listing twice; discoveries must be recorded and announced once.
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "list_files", json.RawMessage(`{"path":"data"}`)))},
		{resp: toolResponse(domain.ToolUseBlock("u2", "list_files", json.RawMessage(`{"path":"data"}`)))},
		{resp: textResponse("explored")},
	}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider,
		map[string]domain.Tool{"list_files": lister})

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)

	require.Len(t, result.Discoveries, 2)
	assert.Equal(t, domain.DiscoveryFile, result.Discoveries[0].Type)
	assert.Equal(t, "data/sales.csv", result.Discoveries[0].Path)
	assert.Equal(t, domain.DiscoveryDirectory, result.Discoveries[1].Type)
	assert.Equal(t, "data/reports", result.Discoveries[1].Path)

	assert.Len(t, bus.ofType(domain.EventDiscovery), 2)
}

func TestEngineFailedToolYieldsNoDiscoveries(t *testing.T) {
	lister := &stubTool{name: "list_files", err: errors.New("permission denied")}
	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "list_files", json.RawMessage(`{"path":"data"}`)))},
		{resp: textResponse("oh well")},
	}}
	eng, bus, _ := newTestEngine(domain.AgentConfig{Name: "explorer"}, provider,
		map[string]domain.Tool{"list_files": lister})

	result, err := eng.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Empty(t, result.Discoveries)
	assert.Empty(t, bus.ofType(domain.EventDiscovery))
}

// --- checkpointing and resume ---

func TestEngineCheckpointsAndResumes(t *testing.T) {
	lister := &stubTool{name: "list_files", result: &domain.ToolResult{
		Success: true,
		Output:  "a.csv\n",
	}}
	var cps []domain.CheckpointData
	bus := &recordingBus{}

	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "list_files", json.RawMessage(`{"path":"."}`)))},
		// Transport dies after the first iteration completed.
		{err: fmt.Errorf("chat: %w", domain.ErrAuthInvalid)},
	}}
	eng := NewEngine(domain.AgentConfig{Name: "explorer", CheckpointEvery: 1}, EngineDeps{
		Provider:   provider,
		Tools:      &toolSet{tools: map[string]domain.Tool{"list_files": lister}},
		Bus:        bus,
		Checkpoint: func(cp domain.CheckpointData) { cps = append(cps, cp) },
		Logger:     newTestLogger(),
	})

	_, err := eng.Run(context.Background(), "go")
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	require.NotEmpty(t, cps)

	last := cps[len(cps)-1]
	assert.Equal(t, eng.RunID(), last.RunID)
	assert.Equal(t, "explorer", last.Agent)
	assert.Equal(t, 1, last.Iteration)
	require.Len(t, last.Discoveries, 1)
	// The completed iteration's messages are all present: initial prompt,
	// assistant tool use, aggregated results.
	require.Len(t, last.Messages, 3)

	// Resume with a healthy transport; the interrupted turn is re-issued.
	provider2 := &scriptedProvider{steps: []chatStep{
		{resp: textResponse("finished after resume")},
	}}
	bus2 := &recordingBus{}
	eng2 := NewEngine(domain.AgentConfig{Name: "explorer"}, EngineDeps{
		Provider: provider2,
		Tools:    &toolSet{tools: map[string]domain.Tool{"list_files": lister}},
		Bus:      bus2,
		Logger:   newTestLogger(),
	})

	result, err := eng2.Resume(context.Background(), last)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "finished after resume", result.Summary)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, last.RunID, eng2.RunID())

	// History was rehydrated: the resumed transport call saw all prior turns.
	require.Equal(t, 1, provider2.CallCount())
	assert.Len(t, provider2.requests[0].Messages, 3)

	// Known discoveries are replayed for fresh observers, and not duplicated
	// in the result.
	assert.Len(t, bus2.ofType(domain.EventDiscovery), 1)
	assert.Len(t, result.Discoveries, 1)
}

func TestEngineResumeDedupsAgainstCheckpoint(t *testing.T) {
	lister := &stubTool{name: "list_files", result: &domain.ToolResult{
		Success: true,
		Output:  "a.csv\nb.csv\n",
	}}
	cp := domain.CheckpointData{
		RunID: "01TESTRUN",
		Agent: "explorer",
		Messages: []domain.Message{
			domain.UserText("go"),
		},
		Discoveries: []domain.Discovery{{
			ID:   domain.DiscoveryID("list_files", "a.csv"),
			Type: domain.DiscoveryFile,
			Path: "a.csv",
		}},
		Iteration: 0,
	}

	provider := &scriptedProvider{steps: []chatStep{
		{resp: toolResponse(domain.ToolUseBlock("u1", "list_files", json.RawMessage(`{"path":""}`)))},
		{resp: textResponse("done")},
	}}
	bus := &recordingBus{}
	eng := NewEngine(domain.AgentConfig{Name: "explorer"}, EngineDeps{
		Provider: provider,
		Tools:    &toolSet{tools: map[string]domain.Tool{"list_files": lister}},
		Bus:      bus,
		Logger:   newTestLogger(),
	})

	result, err := eng.Resume(context.Background(), cp)
	require.NoError(t, err)

	// a.csv came from the checkpoint; only b.csv is new.
	require.Len(t, result.Discoveries, 2)
	// One replayed event for a.csv plus one fresh event for b.csv.
	assert.Len(t, bus.ofType(domain.EventDiscovery), 2)
}

// --- helpers ---

func TestParseImageDataURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantMedia string
		wantData  string
		wantOK    bool
	}{
		{"jpeg", "data:image/jpeg;base64,abc123", "image/jpeg", "abc123", true},
		{"png", "data:image/png;base64,xyz", "image/png", "xyz", true},
		{"not a data url", "https://example.com/x.png", "", "", false},
		{"not an image", "data:text/plain;base64,abc", "", "", false},
		{"no payload", "data:image/png;base64,", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media, data, ok := parseImageDataURL(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantMedia, media)
				assert.Equal(t, tt.wantData, data)
			}
		})
	}
}
