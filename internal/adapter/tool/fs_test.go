package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/security"
)

func newTestSandbox(t *testing.T) *security.Sandbox {
	t.Helper()
	sb, err := security.NewSandbox(t.TempDir())
	require.NoError(t, err)
	return sb
}

func writeWorkspaceFile(t *testing.T, sb *security.Sandbox, rel, content string) {
	t.Helper()
	full := filepath.Join(sb.Root(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestListFilesMarksDirectories(t *testing.T) {
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "data/sales.csv", "id,amount\n1,2\n")
	require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "data", "archive"), 0o755))

	lt := NewListFilesTool(sb, newTestLogger())
	res, err := lt.Execute(context.Background(), json.RawMessage(`{"path":"data"}`))
	require.NoError(t, err)
	require.True(t, res.Success)

	lines := strings.Split(strings.TrimSpace(res.Output), "\n")
	assert.Contains(t, lines, "archive/")
	assert.Contains(t, lines, "sales.csv")
}

func TestListFilesOutsideSandbox(t *testing.T) {
	sb := newTestSandbox(t)
	lt := NewListFilesTool(sb, newTestLogger())

	res, err := lt.Execute(context.Background(), json.RawMessage(`{"path":"../../etc"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "sandbox")
}

func TestReadFile(t *testing.T) {
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "notes.txt", "hello workspace")

	rt := NewReadFileTool(sb, 0, newTestLogger())
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"path":"notes.txt"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "hello workspace", res.Output)
}

func TestReadFileTruncatesLargeFiles(t *testing.T) {
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "big.txt", strings.Repeat("x", 100))

	rt := NewReadFileTool(sb, 10, newTestLogger())
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"path":"big.txt"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "[truncated: 10 of 100 bytes shown]")
	assert.True(t, strings.HasPrefix(res.Output, strings.Repeat("x", 10)))
}

func TestReadFileMissingPath(t *testing.T) {
	sb := newTestSandbox(t)
	rt := NewReadFileTool(sb, 0, newTestLogger())

	res, err := rt.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestWriteFileCreatesParents(t *testing.T) {
	sb := newTestSandbox(t)
	wt := NewWriteFileTool(sb, newTestLogger())

	res, err := wt.Execute(context.Background(),
		json.RawMessage(`{"path":"reports/out/index.html","content":"<html></html>"}`))
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(sb.Root(), "reports", "out", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
}

func TestWriteFileOutsideSandbox(t *testing.T) {
	sb := newTestSandbox(t)
	wt := NewWriteFileTool(sb, newTestLogger())

	res, err := wt.Execute(context.Background(),
		json.RawMessage(`{"path":"../escape.txt","content":"nope"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
}
