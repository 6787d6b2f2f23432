package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"datascout/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	LLM        LLMConfig            `yaml:"llm"`
	Personas   []domain.AgentConfig `yaml:"personas"`
	Limiter    LimiterConfig        `yaml:"limiter"`
	Checkpoint CheckpointConfig     `yaml:"checkpoint"`
	Tools      ToolsConfig          `yaml:"tools"`
	Logger     LoggerConfig         `yaml:"logger"`
	Tracer     TracerConfig         `yaml:"tracer"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Provider       string               `yaml:"provider"` // "anthropic" or "bedrock"
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Region         string               `yaml:"region,omitempty"` // bedrock only
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	TokenEncoding  string               `yaml:"token_encoding"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for the provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LimiterConfig holds usage tracking and request pacing settings.
type LimiterConfig struct {
	Window            time.Duration `yaml:"window"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// CheckpointConfig holds run persistence settings.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite database file
}

// ToolsConfig holds tool backend settings.
type ToolsConfig struct {
	SandboxRoot     string        `yaml:"sandbox_root"`
	AllowedCommands []string      `yaml:"allowed_commands"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	RunOutputMax    int           `yaml:"run_output_max"`
	BrowserEnabled  bool          `yaml:"browser_enabled"`
	BrowserCDPURL   string        `yaml:"browser_cdp_url"`
	BrowserHeadless bool          `yaml:"browser_headless"`
	BrowserTimeout  time.Duration `yaml:"browser_timeout"`
	ReadFileMax     int           `yaml:"read_file_max"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.datascout. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".datascout")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		LLM: LLMConfig{
			Provider:      "anthropic",
			BaseURL:       "https://api.anthropic.com",
			Model:         "claude-sonnet-4-20250514",
			ConnTimeout:   10 * time.Second,
			RespTimeout:   120 * time.Second,
			TokenEncoding: "cl100k_base",
			Pool: PoolConfig{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Limiter: LimiterConfig{
			Window: time.Minute,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "checkpoints.db"),
		},
		Tools: ToolsConfig{
			SandboxRoot: ".",
			AllowedCommands: []string{
				"python", "python3", "node",
			},
			RunTimeout:      30 * time.Second,
			RunOutputMax:    256 * 1024,
			BrowserEnabled:  false,
			BrowserHeadless: true,
			BrowserTimeout:  30 * time.Second,
			ReadFileMax:     512 * 1024,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("DATASCOUT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps DATASCOUT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATASCOUT_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("DATASCOUT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("DATASCOUT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DATASCOUT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DATASCOUT_LLM_REGION"); v != "" {
		cfg.LLM.Region = v
	}
	if v := os.Getenv("DATASCOUT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DATASCOUT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DATASCOUT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DATASCOUT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("DATASCOUT_SANDBOX_ROOT"); v != "" {
		cfg.Tools.SandboxRoot = v
	}
	if v := os.Getenv("DATASCOUT_ALLOWED_COMMANDS"); v != "" {
		cfg.Tools.AllowedCommands = splitAndTrim(v, ",")
	}
	if v := os.Getenv("DATASCOUT_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.RunTimeout = d
		}
	}
	if v := os.Getenv("DATASCOUT_BROWSER_ENABLED"); v == "true" {
		cfg.Tools.BrowserEnabled = true
	}
	if v := os.Getenv("DATASCOUT_BROWSER_CDP_URL"); v != "" {
		cfg.Tools.BrowserCDPURL = v
	}
	if v := os.Getenv("DATASCOUT_BROWSER_HEADLESS"); v == "false" {
		cfg.Tools.BrowserHeadless = false
	}
	if v := os.Getenv("DATASCOUT_CHECKPOINT_ENABLED"); v == "false" {
		cfg.Checkpoint.Enabled = false
	}
	if v := os.Getenv("DATASCOUT_CHECKPOINT_PATH"); v != "" {
		cfg.Checkpoint.Path = v
	}
	if v := os.Getenv("DATASCOUT_LIMITER_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Limiter.RequestsPerMinute = n
		}
	}
}

// Validate checks cross-field consistency.
func Validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "anthropic", "bedrock", "":
	default:
		return fmt.Errorf("%w: unknown llm provider %q", domain.ErrConfigLoad, cfg.LLM.Provider)
	}

	names := make(map[string]bool, len(cfg.Personas))
	for i := range cfg.Personas {
		p := &cfg.Personas[i]
		if p.Name == "" {
			return fmt.Errorf("%w: persona %d has no name", domain.ErrConfigLoad, i)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate persona %q", domain.ErrConfigLoad, p.Name)
		}
		names[p.Name] = true
		if p.MaxIterations < 0 {
			return fmt.Errorf("%w: persona %q: negative max_iterations", domain.ErrConfigLoad, p.Name)
		}
	}
	return nil
}

// Persona returns the named persona config, or false if absent.
func (c *Config) Persona(name string) (domain.AgentConfig, bool) {
	for _, p := range c.Personas {
		if p.Name == name {
			return p, true
		}
	}
	return domain.AgentConfig{}, false
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.LLM.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.LLM.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("llm api_key: %w", err)
		}
		cfg.LLM.APIKey = decrypted
	}
	return nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable).
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
