package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"datascout/internal/domain"
	"datascout/internal/security"
)

// Default run_code limits.
const (
	defaultRunTimeout   = 30 * time.Second
	defaultRunOutputMax = 256 * 1024
)

// RunCodeTool executes an allowlisted interpreter on a script file inside
// the workspace sandbox. Output is captured with a size cap and the process
// is killed on timeout; a non-zero exit is reported as a failed result, not
// an engine error.
type RunCodeTool struct {
	sandbox   *security.Sandbox
	allowed   map[string]bool
	timeout   time.Duration
	outputMax int
	logger    *slog.Logger
}

// NewRunCodeTool creates a sandboxed code execution tool.
func NewRunCodeTool(sandbox *security.Sandbox, allowedCommands []string, timeout time.Duration, outputMax int, logger *slog.Logger) *RunCodeTool {
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	if outputMax <= 0 {
		outputMax = defaultRunOutputMax
	}
	allowed := make(map[string]bool, len(allowedCommands))
	for _, c := range allowedCommands {
		allowed[c] = true
	}
	return &RunCodeTool{
		sandbox:   sandbox,
		allowed:   allowed,
		timeout:   timeout,
		outputMax: outputMax,
		logger:    logger,
	}
}

func (t *RunCodeTool) Name() string { return "run_code" }
func (t *RunCodeTool) Description() string {
	return "Run a script file with an allowed interpreter inside the workspace"
}

func (t *RunCodeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Interpreter to run, e.g. python3"},
				"path": {"type": "string", "description": "Script path, relative to the workspace root"},
				"args": {"type": "array", "items": {"type": "string"}, "description": "Extra arguments passed after the script path"}
			},
			"required": ["command", "path"]
		}`),
	}
}

type runCodeParams struct {
	Command string   `json:"command"`
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
}

func (t *RunCodeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.run_code", t.logger, params, t.run)
}

func (t *RunCodeTool) run(ctx context.Context, span trace.Span, p runCodeParams) (any, error) {
	if !t.allowed[p.Command] {
		return ErrResult("command %q is not allowed", p.Command)
	}
	resolved, err := t.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := append([]string{resolved}, p.Args...)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Dir = t.sandbox.Root()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	output := t.combineOutput(stdout.String(), stderr.String())
	t.logger.Debug("run_code",
		"command", p.Command,
		"path", resolved,
		"elapsed", elapsed,
		"error", runErr,
	)

	if ctx.Err() == context.DeadlineExceeded {
		return ErrResult("execution timed out after %s\n%s", t.timeout, output)
	}
	if runErr != nil {
		return ErrResult("execution failed: %v\n%s", runErr, output)
	}
	return TextResult(output), nil
}

// combineOutput merges stdout and stderr with a size cap.
func (t *RunCodeTool) combineOutput(stdout, stderr string) string {
	var sb strings.Builder
	sb.WriteString(stdout)
	if stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
	}
	out := sb.String()
	if len(out) > t.outputMax {
		return fmt.Sprintf("%s\n[truncated: %d of %d bytes shown]", out[:t.outputMax], t.outputMax, len(out))
	}
	return out
}
