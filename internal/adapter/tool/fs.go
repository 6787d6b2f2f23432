package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"datascout/internal/domain"
	"datascout/internal/security"
)

// defaultReadFileMax bounds read_file output when no limit is configured.
const defaultReadFileMax = 512 * 1024

type pathParams struct {
	Path string `json:"path"`
}

// ListFilesTool lists directory entries within the workspace sandbox.
// Directories are suffixed with "/" so listings stay unambiguous in plain
// text; downstream discovery extraction relies on that convention.
type ListFilesTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewListFilesTool creates a sandboxed directory listing tool.
func NewListFilesTool(sandbox *security.Sandbox, logger *slog.Logger) *ListFilesTool {
	return &ListFilesTool{sandbox: sandbox, logger: logger}
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "List files and directories at a path within the workspace"
}

func (t *ListFilesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory path, relative to the workspace root"}
			}
		}`),
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_files", t.logger, params,
		func(_ context.Context, _ trace.Span, p pathParams) (any, error) {
			resolved, err := t.sandbox.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("list dir: %w", err)
			}

			var sb strings.Builder
			for _, entry := range entries {
				if entry.IsDir() {
					fmt.Fprintf(&sb, "%s/\n", entry.Name())
				} else {
					fmt.Fprintf(&sb, "%s\n", entry.Name())
				}
			}

			t.logger.Debug("list_files", "path", resolved, "entries", len(entries))
			return TextResult(sb.String()), nil
		})
}

// ReadFileTool reads a file within the workspace sandbox, truncating very
// large files rather than flooding the conversation.
type ReadFileTool struct {
	sandbox  *security.Sandbox
	maxBytes int
	logger   *slog.Logger
}

// NewReadFileTool creates a sandboxed file reading tool. maxBytes <= 0 uses
// the default cap.
func NewReadFileTool(sandbox *security.Sandbox, maxBytes int, logger *slog.Logger) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = defaultReadFileMax
	}
	return &ReadFileTool{sandbox: sandbox, maxBytes: maxBytes, logger: logger}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file within the workspace"
}

func (t *ReadFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root"}
			},
			"required": ["path"]
		}`),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.read_file", t.logger, params,
		func(_ context.Context, _ trace.Span, p pathParams) (any, error) {
			if p.Path == "" {
				return ErrResult("path is required")
			}
			resolved, err := t.sandbox.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}

			t.logger.Debug("read_file", "path", resolved, "size", len(data))
			if len(data) > t.maxBytes {
				return TextResult(fmt.Sprintf("%s\n[truncated: %d of %d bytes shown]",
					data[:t.maxBytes], t.maxBytes, len(data))), nil
			}
			return TextResult(string(data)), nil
		})
}

// WriteFileTool writes a file within the workspace sandbox, creating parent
// directories as needed.
type WriteFileTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewWriteFileTool creates a sandboxed file writing tool.
func NewWriteFileTool(sandbox *security.Sandbox, logger *slog.Logger) *WriteFileTool {
	return &WriteFileTool{sandbox: sandbox, logger: logger}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file within the workspace"
}

func (t *WriteFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root"},
				"content": {"type": "string", "description": "Content to write"}
			},
			"required": ["path", "content"]
		}`),
	}
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.write_file", t.logger, params,
		func(_ context.Context, _ trace.Span, p writeFileParams) (any, error) {
			if p.Path == "" {
				return ErrResult("path is required")
			}
			resolved, err := t.sandbox.Resolve(p.Path)
			if err != nil {
				return nil, err
			}

			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return nil, fmt.Errorf("create parent dir: %w", err)
			}
			if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}

			t.logger.Debug("write_file", "path", resolved, "size", len(p.Content))
			return TextResult(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path)), nil
		})
}
