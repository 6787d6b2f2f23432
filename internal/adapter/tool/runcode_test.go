package tool

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunCodeDisallowedCommand(t *testing.T) {
	sb := newTestSandbox(t)
	rc := NewRunCodeTool(sb, []string{"python3"}, 0, 0, newTestLogger())

	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"rm","path":"script.sh"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "not allowed")
}

func TestRunCodeExecutesScript(t *testing.T) {
	skipOnWindows(t)
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "hello.sh", "echo hello from script\n")

	rc := NewRunCodeTool(sb, []string{"sh"}, 0, 0, newTestLogger())
	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"sh","path":"hello.sh"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "hello from script")
}

func TestRunCodeCapturesStderrOnFailure(t *testing.T) {
	skipOnWindows(t)
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "fail.sh", "echo oops >&2\nexit 3\n")

	rc := NewRunCodeTool(sb, []string{"sh"}, 0, 0, newTestLogger())
	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"sh","path":"fail.sh"}`))
	require.NoError(t, err)
	// Non-zero exit is a failed tool result, never a transport-style error.
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "execution failed")
	assert.Contains(t, res.Output, "oops")
}

func TestRunCodeTimeout(t *testing.T) {
	skipOnWindows(t)
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "slow.sh", "sleep 30\n")

	rc := NewRunCodeTool(sb, []string{"sh"}, 100*time.Millisecond, 0, newTestLogger())
	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"sh","path":"slow.sh"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "timed out")
}

func TestRunCodeOutputCap(t *testing.T) {
	skipOnWindows(t)
	sb := newTestSandbox(t)
	writeWorkspaceFile(t, sb, "noisy.sh", "i=0; while [ $i -lt 200 ]; do echo line $i; i=$((i+1)); done\n")

	rc := NewRunCodeTool(sb, []string{"sh"}, 0, 64, newTestLogger())
	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"sh","path":"noisy.sh"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "[truncated: 64 of")
}

func TestRunCodeScriptOutsideSandbox(t *testing.T) {
	sb := newTestSandbox(t)
	rc := NewRunCodeTool(sb, []string{"sh"}, 0, 0, newTestLogger())

	res, err := rc.Execute(context.Background(),
		json.RawMessage(`{"command":"sh","path":"../../etc/passwd"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
}
