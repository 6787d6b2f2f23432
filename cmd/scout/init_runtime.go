package main

import (
	"context"
	"fmt"
	"log/slog"

	"datascout/internal/adapter/llm"
	"datascout/internal/adapter/store"
	"datascout/internal/adapter/tool"
	"datascout/internal/domain"
	"datascout/internal/infra/config"
	"datascout/internal/usecase"
	"datascout/internal/usecase/eventbus"
)

// appContext carries the pieces every command needs.
type appContext struct {
	Config *config.Config
	Logger *slog.Logger
}

// runtime holds the fully wired components for executing runs.
type runtime struct {
	Provider domain.LLMProvider
	Tools    *tool.Registry
	Limiter  *usecase.UsageLimiter
	Bus      *eventbus.Bus
	Counter  domain.TokenCounter
	Store    *store.SQLiteCheckpointStore // nil when checkpointing is disabled

	closers []func()
}

// initRuntime wires the provider, event bus, limiter, tool registry, and
// checkpoint store from config.
func initRuntime(app *appContext) (*runtime, error) {
	cfg, log := app.Config, app.Logger

	provider, err := llm.NewProvider(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	bus := eventbus.New(log)

	limiter := usecase.NewUsageLimiter(usecase.UsageLimiterConfig{
		Window:            cfg.Limiter.Window,
		RequestsPerMinute: cfg.Limiter.RequestsPerMinute,
	}, bus)

	var counter domain.TokenCounter
	if c, err := usecase.NewTokenCounter(cfg.LLM.TokenEncoding); err != nil {
		log.Warn("token counter unavailable, prompt estimates disabled", "error", err)
	} else {
		counter = c
	}

	rt := &runtime{
		Provider: provider,
		Limiter:  limiter,
		Bus:      bus,
		Counter:  counter,
	}
	rt.closers = append(rt.closers, bus.Close)

	rt.Tools, err = initTools(cfg.Tools, log, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tools: %w", err)
	}

	if cfg.Checkpoint.Enabled {
		st, err := store.NewSQLiteCheckpointStore(cfg.Checkpoint.Path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("checkpoint store: %w", err)
		}
		rt.Store = st
		rt.closers = append(rt.closers, func() { _ = st.Close() })
	}

	return rt, nil
}

// Close releases runtime resources in reverse acquisition order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// checkpointFunc returns the engine's checkpoint sink, or nil when
// persistence is disabled. Saves are best-effort; failures are logged and
// swallowed so a broken disk never stops a run.
func (rt *runtime) checkpointFunc(log *slog.Logger) domain.CheckpointFunc {
	if rt.Store == nil {
		return nil
	}
	return func(cp domain.CheckpointData) {
		if err := rt.Store.Save(context.Background(), cp); err != nil {
			log.Warn("checkpoint save failed", "run_id", cp.RunID, "error", err)
		}
	}
}

// engineDeps assembles EngineDeps for one persona, restricting the tool
// registry to the persona's allowed tools when a list is set.
func (rt *runtime) engineDeps(persona domain.AgentConfig, log *slog.Logger) usecase.EngineDeps {
	var tools domain.ToolExecutor = rt.Tools
	if len(persona.Tools) > 0 {
		tools = rt.Tools.Subset(persona.Tools)
	}
	return usecase.EngineDeps{
		Provider:   rt.Provider,
		Tools:      tools,
		Limiter:    rt.Limiter,
		Bus:        rt.Bus,
		Checkpoint: rt.checkpointFunc(log),
		Counter:    rt.Counter,
		Logger:     log.With("agent", persona.Name),
	}
}
