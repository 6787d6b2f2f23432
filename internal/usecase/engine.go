package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"datascout/internal/domain"
	"datascout/internal/infra/tracer"
)

// Recovery loop constants.
const (
	// maxConsecutiveErrors is the number of attempts made for a single
	// iteration before a retryable failure becomes fatal.
	maxConsecutiveErrors = 3
	// maxRateLimitWaits bounds server-delay rate-limit retries within one
	// iteration. Rate limiting is an expected condition and does not consume
	// the consecutive-error budget, but it must not loop forever either.
	maxRateLimitWaits = 10
	// backoffBase is the exponential backoff base for overload retries.
	backoffBase = 2 * time.Second
	// defaultMaxIterations applies when the persona does not set a budget.
	defaultMaxIterations = 10
)

// EngineDeps holds injected dependencies for the execution engine.
type EngineDeps struct {
	Provider   domain.LLMProvider
	Tools      domain.ToolExecutor
	Limiter    *UsageLimiter        // optional, nil = no pacing or retry mediation events
	Classifier *ErrorClassifier     // optional, defaulted
	Extractor  *DiscoveryExtractor  // optional, defaulted
	Bus        domain.EventBus      // optional, nil = no events
	Checkpoint domain.CheckpointFunc // optional, nil = no checkpoints
	Counter    domain.TokenCounter  // optional, estimate logging only
	Logger     *slog.Logger
}

// ExecutionState is the engine's mutable state, owned exclusively by one
// engine instance for its lifetime. No other component writes to it.
type ExecutionState struct {
	Status       domain.ExecutionStatus
	Messages     []domain.Message
	Discoveries  []domain.Discovery
	Usage        domain.Usage
	Iteration    int // last fully completed iteration
	LastResponse *domain.ChatResponse
	Err          error

	seen map[string]struct{} // discovery IDs already recorded
}

// Engine runs the call-model/dispatch-tools loop for one agent persona.
// It is single-use: one Run or Resume per instance, strictly sequential
// iterations, at most one transport call or tool execution in flight.
type Engine struct {
	cfg     domain.AgentConfig
	deps    EngineDeps
	runID   string
	state   *ExecutionState
	stop    atomic.Bool
	started atomic.Bool

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine bound to one persona configuration.
func NewEngine(cfg domain.AgentConfig, deps EngineDeps) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier()
	}
	if deps.Extractor == nil {
		deps.Extractor = NewDiscoveryExtractor()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, deps: deps, sleep: sleepCtx}
}

func generateRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Stop requests cooperative cancellation. It takes effect at the next
// iteration boundary; an in-flight transport call or tool execution runs to
// completion first.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// RunID returns the engine's run identifier. Empty until Run or Resume.
func (e *Engine) RunID() string { return e.runID }

// Run starts a fresh run from an initial instruction and blocks until a
// terminal state. The returned AgentResult is produced exactly once per run;
// err is nil only on successful completion.
func (e *Engine) Run(ctx context.Context, prompt string) (*domain.AgentResult, error) {
	if e.started.Swap(true) {
		return nil, domain.ErrAlreadyRunning
	}
	e.runID = generateRunID(time.Now())
	e.state = &ExecutionState{
		Status:   domain.StatusIdle,
		Messages: []domain.Message{domain.UserText(prompt)},
		seen:     make(map[string]struct{}),
	}
	return e.run(ctx, false)
}

// Resume rehydrates state from a checkpoint and continues the loop from the
// recorded iteration. It does not re-issue any transport call whose results
// the checkpoint already contains; a turn interrupted mid-flight (error
// before any assistant content was appended) is re-issued.
func (e *Engine) Resume(ctx context.Context, cp domain.CheckpointData) (*domain.AgentResult, error) {
	if e.started.Swap(true) {
		return nil, domain.ErrAlreadyRunning
	}
	e.runID = cp.RunID
	if e.runID == "" {
		e.runID = generateRunID(time.Now())
	}

	st := &ExecutionState{
		Status:      domain.StatusIdle,
		Messages:    append([]domain.Message(nil), cp.Messages...),
		Discoveries: append([]domain.Discovery(nil), cp.Discoveries...),
		Usage:       cp.Usage,
		Iteration:   cp.Iteration,
		seen:        make(map[string]struct{}),
	}
	for _, d := range st.Discoveries {
		st.seen[d.ID] = struct{}{}
	}
	e.state = st
	return e.run(ctx, true)
}

// run is the shared loop for fresh and resumed runs.
func (e *Engine) run(ctx context.Context, resumed bool) (*domain.AgentResult, error) {
	ctx = domain.ContextWithRunID(ctx, e.runID)
	ctx, span := tracer.StartSpan(ctx, "engine.run",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", e.cfg.Name),
			tracer.StringAttr("agent.run_id", e.runID),
		),
	)
	defer span.End()

	st := e.state
	e.setStatus(ctx, domain.StatusRunning)

	if resumed {
		// Replay known discoveries so freshly attached observers reconstruct
		// history without any transport call.
		for _, d := range st.Discoveries {
			e.publish(ctx, domain.EventDiscovery, d)
		}
	}

	for {
		// Stop requests are honored only here, at the iteration boundary.
		if e.stop.Load() {
			e.checkpoint()
			return e.finish(ctx, span, "stopped by request", domain.ErrStopped)
		}

		next := st.Iteration + 1
		if next > e.cfg.MaxIterations {
			e.checkpoint()
			return e.finish(ctx, span,
				fmt.Sprintf("maximum iterations reached (%d)", e.cfg.MaxIterations),
				domain.ErrMaxIterations)
		}

		if every := e.cfg.CheckpointEvery; every > 0 && st.Iteration > 0 && st.Iteration%every == 0 {
			e.checkpoint()
		}

		span.AddEvent("engine.iteration", trace.WithAttributes(tracer.IntAttr("iteration", next)))

		resp, err := e.callWithRetry(ctx, next)
		if err != nil {
			e.checkpoint()
			tracer.RecordError(span, err)
			return e.finish(ctx, span, "transport failure: "+err.Error(), err)
		}

		st.Usage.Add(resp.Usage)
		st.LastResponse = resp
		if e.deps.Limiter != nil {
			e.deps.Limiter.Record(resp.Usage)
		}

		assistant := domain.Message{Role: domain.RoleAssistant, Content: resp.Content}
		st.Messages = append(st.Messages, assistant)

		if text := resp.Text(); text != "" {
			e.publish(ctx, domain.EventThinking, domain.ThinkingPayload{Text: text, Iteration: next})
		}
		e.publish(ctx, domain.EventConversation, domain.ConversationPayload{Messages: st.Messages})

		uses := assistant.ToolUses()
		e.deps.Logger.Debug("llm response",
			"agent", e.cfg.Name,
			"iteration", next,
			"stop_reason", resp.StopReason,
			"tool_calls", len(uses),
			"tokens", resp.Usage.Total(),
		)

		// No tool use requested = final answer.
		if !resp.RequestsTools() || len(uses) == 0 {
			st.Iteration = next
			e.checkpoint()
			tracer.SetOK(span)
			return e.finish(ctx, span, strings.TrimSpace(resp.Text()), nil)
		}

		// Execute requested tools strictly in request order; a failing tool
		// never short-circuits its siblings.
		results := make([]domain.ContentBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, e.dispatchTool(ctx, use))
		}
		st.Messages = append(st.Messages, domain.Message{Role: domain.RoleUser, Content: results})
		e.publish(ctx, domain.EventConversation, domain.ConversationPayload{Messages: st.Messages})

		st.Iteration = next
	}
}

// callWithRetry performs the transport call for one iteration. Retryable
// failures are retried in place up to maxConsecutiveErrors attempts;
// server-delay rate limits sleep the exact given delay without consuming
// that budget.
func (e *Engine) callWithRetry(ctx context.Context, iteration int) (*domain.ChatResponse, error) {
	st := e.state
	req := domain.ChatRequest{
		System:    e.cfg.SystemPrompt,
		Messages:  st.Messages,
		MaxTokens: e.cfg.MaxTokens,
	}
	if e.deps.Tools != nil {
		req.Tools = e.deps.Tools.Schemas()
	}

	if e.deps.Counter != nil {
		e.deps.Logger.Debug("prompt estimate",
			"agent", e.cfg.Name,
			"iteration", iteration,
			"est_tokens", e.deps.Counter.CountMessages(st.Messages),
		)
	}

	consecutive := 0
	rateWaits := 0
	for {
		if e.deps.Limiter != nil {
			if err := e.deps.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := e.deps.Provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}

		classified := e.deps.Classifier.Classify(err)
		switch classified.Category {
		case ErrorCategoryRateLimited:
			rateWaits++
			if rateWaits > maxRateLimitWaits {
				return nil, err
			}
			if waitErr := e.waitForRetry(ctx, classified.RetryAfter); waitErr != nil {
				return nil, waitErr
			}

		case ErrorCategoryPermanent:
			return nil, err

		default:
			// Overload and unknown transient failures share the
			// consecutive-error budget.
			consecutive++
			if consecutive >= maxConsecutiveErrors {
				return nil, err
			}
			delay := backoffBase << (consecutive - 1)
			e.deps.Logger.Warn("retrying transport call after error",
				"agent", e.cfg.Name,
				"iteration", iteration,
				"attempt", consecutive,
				"delay", delay,
				"error", err,
			)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
}

// waitForRetry sleeps the server-provided delay, delegating to the limiter
// when present so observers see rate_limit waiting/resumed events.
func (e *Engine) waitForRetry(ctx context.Context, delay time.Duration) error {
	if e.deps.Limiter != nil {
		return e.deps.Limiter.WaitForRetry(ctx, delay)
	}
	e.publish(ctx, domain.EventRateLimit, domain.RateLimitPayload{
		Waiting: true,
		Delay:   delay,
		Message: fmt.Sprintf("rate limited, waiting %s before retrying", delay),
	})
	err := e.sleep(ctx, delay)
	e.publish(ctx, domain.EventRateLimit, domain.RateLimitPayload{Waiting: false, Message: "resumed after rate limit"})
	return err
}

// dispatchTool executes one requested tool invocation inside a failure
// boundary and returns the tool_result block for the aggregated reply.
func (e *Engine) dispatchTool(ctx context.Context, use domain.ContentBlock) domain.ContentBlock {
	e.publish(ctx, domain.EventToolCall, domain.ToolCallPayload{
		ID:    use.ID,
		Name:  use.Name,
		Input: use.Input,
	})

	result := e.executeTool(ctx, use)

	block := domain.ToolResultBlock(use.ID, result.Output, !result.Success)
	hasImage := false
	if result.Success && result.Data != nil && result.Data.IncludeImage {
		if mediaType, data, ok := parseImageDataURL(result.Data.Image); ok {
			block.Content = append(block.Content, domain.ImageBlock(mediaType, data))
			hasImage = true
		}
	}

	e.publish(ctx, domain.EventToolResult, domain.ToolResultPayload{
		ID:       use.ID,
		Name:     use.Name,
		Success:  result.Success,
		Output:   result.Output,
		HasImage: hasImage,
	})

	if result.Success {
		e.recordDiscoveries(ctx, use, result)
	}

	return block
}

// executeTool looks up and runs the tool. Unknown names and panics are
// converted into error results; they never reach the engine's error path.
func (e *Engine) executeTool(ctx context.Context, use domain.ContentBlock) (result *domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.deps.Logger.Error("tool panicked", "tool", use.Name, "panic", r)
			result = &domain.ToolResult{Success: false, Output: fmt.Sprintf("tool %s panicked: %v", use.Name, r)}
		}
	}()

	ctx, span := tracer.StartSpan(ctx, "engine.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", use.Name)),
	)
	defer span.End()

	tool, err := e.deps.Tools.Get(use.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{Success: false, Output: fmt.Sprintf("unknown tool %q", use.Name)}
	}

	res, err := tool.Execute(ctx, use.Input)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.ToolResult{Success: false, Output: err.Error()}
	}
	if res == nil {
		res = &domain.ToolResult{Success: false, Output: "tool returned no result"}
	}
	tracer.SetOK(span)
	return res
}

// recordDiscoveries runs extraction on a successful tool result, dropping
// duplicates by ID and emitting one event per new discovery.
func (e *Engine) recordDiscoveries(ctx context.Context, use domain.ContentBlock, result *domain.ToolResult) {
	st := e.state
	for _, d := range e.deps.Extractor.Extract(use.Name, use.Input, result) {
		if _, dup := st.seen[d.ID]; dup {
			continue
		}
		st.seen[d.ID] = struct{}{}
		st.Discoveries = append(st.Discoveries, d)
		e.publish(ctx, domain.EventDiscovery, d)
	}
}

// finish produces the run's single terminal AgentResult and emits exactly
// one complete or error event.
func (e *Engine) finish(ctx context.Context, span trace.Span, summary string, terminalErr error) (*domain.AgentResult, error) {
	st := e.state
	st.Err = terminalErr

	result := &domain.AgentResult{
		Success:     terminalErr == nil,
		Summary:     summary,
		Discoveries: append([]domain.Discovery(nil), st.Discoveries...),
		Messages:    append([]domain.Message(nil), st.Messages...),
		Usage:       st.Usage,
		Iterations:  st.Iteration,
	}

	if terminalErr == nil {
		e.setStatus(ctx, domain.StatusComplete)
		e.publish(ctx, domain.EventComplete, domain.CompletePayload{
			Summary:    summary,
			Iterations: st.Iteration,
			Usage:      st.Usage,
		})
		return result, nil
	}

	e.setStatus(ctx, domain.StatusError)
	e.publish(ctx, domain.EventError, domain.ErrorPayload{
		Error: terminalErr.Error(),
		Code:  domain.ErrorCodeOf(terminalErr),
	})
	_ = span
	return result, terminalErr
}

// checkpoint snapshots the current state and hands it to the injected sink.
// Best-effort: the engine does not block on or react to persistence failing.
func (e *Engine) checkpoint() {
	if e.deps.Checkpoint == nil {
		return
	}
	st := e.state
	e.deps.Checkpoint(domain.CheckpointData{
		RunID:       e.runID,
		Agent:       e.cfg.Name,
		Messages:    append([]domain.Message(nil), st.Messages...),
		Discoveries: append([]domain.Discovery(nil), st.Discoveries...),
		Usage:       st.Usage,
		Iteration:   st.Iteration,
	})
}

func (e *Engine) setStatus(ctx context.Context, to domain.ExecutionStatus) {
	st := e.state
	from := st.Status
	if from == to {
		return
	}
	st.Status = to
	e.publish(ctx, domain.EventStatusChange, domain.StatusChangePayload{From: from, To: to})
}

func (e *Engine) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if e.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	e.deps.Bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Agent:     e.cfg.Name,
		Payload:   raw,
	})
}

// parseImageDataURL splits a "data:<media type>;base64,<data>" URL into its
// media type and base64 payload.
func parseImageDataURL(url string) (mediaType, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := url[len(prefix):]
	sep := strings.Index(rest, ";base64,")
	if sep <= 0 {
		return "", "", false
	}
	mediaType = rest[:sep]
	data = rest[sep+len(";base64,"):]
	if !strings.HasPrefix(mediaType, "image/") || data == "" {
		return "", "", false
	}
	return mediaType, data, true
}
