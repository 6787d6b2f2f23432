package main

import (
	"fmt"
	"log/slog"

	"datascout/internal/adapter/tool"
	"datascout/internal/domain"
	"datascout/internal/infra/config"
	"datascout/internal/security"
)

// initTools builds the sandbox and registers every configured tool.
func initTools(cfg config.ToolsConfig, log *slog.Logger, rt *runtime) (*tool.Registry, error) {
	sandbox, err := security.NewSandbox(cfg.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	registry := tool.NewRegistry(log)

	base := []domain.Tool{
		tool.NewListFilesTool(sandbox, log),
		tool.NewReadFileTool(sandbox, cfg.ReadFileMax, log),
		tool.NewWriteFileTool(sandbox, log),
		tool.NewRunCodeTool(sandbox, cfg.AllowedCommands, cfg.RunTimeout, cfg.RunOutputMax, log),
	}
	for _, t := range base {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}

	if cfg.BrowserEnabled {
		renderTool := tool.NewRenderTool(tool.RenderConfig{
			RemoteURL: cfg.BrowserCDPURL,
			Headless:  cfg.BrowserHeadless,
			Timeout:   cfg.BrowserTimeout,
		}, sandbox, log)
		if err := registry.Register(renderTool); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, renderTool.Close)
	}

	log.Info("tools registered", "count", len(registry.List()), "sandbox", sandbox.Root())
	return registry, nil
}
