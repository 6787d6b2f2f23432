package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datascout/internal/domain"
)

func writeConfig(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	// os.WriteFile is subject to the process umask; chmod so the
	// requested mode actually applies.
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.NotEmpty(t, cfg.LLM.Model)
	assert.True(t, cfg.Checkpoint.Enabled)
	assert.NotEmpty(t, cfg.Checkpoint.Path)
	assert.Contains(t, cfg.Tools.AllowedCommands, "python3")
	assert.Equal(t, time.Minute, cfg.Limiter.Window)
	require.NoError(t, Validate(cfg))
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: bedrock
  model: claude-sonnet-4-20250514
  region: us-west-2
limiter:
  requests_per_minute: 30
personas:
  - name: explorer
    system_prompt: "explore"
    tools: [list_files, read_file]
    max_iterations: 5
    checkpoint_every: 2
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bedrock", cfg.LLM.Provider)
	assert.Equal(t, "us-west-2", cfg.LLM.Region)
	assert.Equal(t, 30, cfg.Limiter.RequestsPerMinute)

	p, ok := cfg.Persona("explorer")
	require.True(t, ok)
	assert.Equal(t, []string{"list_files", "read_file"}, p.Tools)
	assert.Equal(t, 5, p.MaxIterations)
	assert.Equal(t, 2, p.CheckpointEvery)

	_, ok = cfg.Persona("ghost")
	assert.False(t, ok)
}

func TestLoadRejectsLoosePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission semantics")
	}
	path := writeConfig(t, "llm:\n  provider: anthropic\n", 0o666)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATASCOUT_LLM_PROVIDER", "bedrock")
	t.Setenv("DATASCOUT_LLM_MODEL", "other-model")
	t.Setenv("DATASCOUT_SANDBOX_ROOT", "/tmp/workspace")
	t.Setenv("DATASCOUT_ALLOWED_COMMANDS", "python3, node")
	t.Setenv("DATASCOUT_CHECKPOINT_ENABLED", "false")
	t.Setenv("DATASCOUT_LIMITER_RPM", "12")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "bedrock", cfg.LLM.Provider)
	assert.Equal(t, "other-model", cfg.LLM.Model)
	assert.Equal(t, "/tmp/workspace", cfg.Tools.SandboxRoot)
	assert.Equal(t, []string{"python3", "node"}, cfg.Tools.AllowedCommands)
	assert.False(t, cfg.Checkpoint.Enabled)
	assert.Equal(t, 12, cfg.Limiter.RequestsPerMinute)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Provider = "carrier-pigeon"
	assert.ErrorIs(t, Validate(cfg), domain.ErrConfigLoad)

	cfg = Defaults()
	cfg.Personas = []domain.AgentConfig{{Name: ""}}
	assert.ErrorIs(t, Validate(cfg), domain.ErrConfigLoad)

	cfg = Defaults()
	cfg.Personas = []domain.AgentConfig{{Name: "a"}, {Name: "a"}}
	assert.ErrorIs(t, Validate(cfg), domain.ErrConfigLoad)

	cfg = Defaults()
	cfg.Personas = []domain.AgentConfig{{Name: "a", MaxIterations: -1}}
	assert.ErrorIs(t, Validate(cfg), domain.ErrConfigLoad)
}

func TestSecretsRoundTrip(t *testing.T) {
	encrypted, err := EncryptValue("sk-very-secret", "passphrase123")
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "sk-very-secret")

	decrypted, err := DecryptValue(encrypted, "passphrase123")
	require.NoError(t, err)
	assert.Equal(t, "sk-very-secret", decrypted)

	_, err = DecryptValue(encrypted, "wrong-passphrase")
	assert.Error(t, err)
}

func TestLoadDecryptsAPIKey(t *testing.T) {
	encrypted, err := EncryptValue("sk-live-key", "hunter2")
	require.NoError(t, err)

	path := writeConfig(t, "llm:\n  api_key: enc:"+encrypted+"\n", 0o600)
	t.Setenv("DATASCOUT_CONFIG_KEY", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-key", cfg.LLM.APIKey)
}

func TestLoadWrongKeyFails(t *testing.T) {
	encrypted, err := EncryptValue("sk-live-key", "hunter2")
	require.NoError(t, err)

	path := writeConfig(t, "llm:\n  api_key: enc:"+encrypted+"\n", 0o600)
	t.Setenv("DATASCOUT_CONFIG_KEY", "not-hunter2")

	_, err = Load(path)
	assert.Error(t, err)
}
