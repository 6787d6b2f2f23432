package llm

import (
	"fmt"
	"log/slog"

	"datascout/internal/domain"
	"datascout/internal/infra/config"
)

// NewProvider builds the configured LLM provider, wrapped in a circuit
// breaker when enabled. The "bedrock" provider is only available in binaries
// built with the bedrock build tag.
func NewProvider(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var provider domain.LLMProvider
	switch cfg.Provider {
	case "anthropic", "":
		provider = NewAnthropicProvider(cfg, logger)
	case "bedrock":
		p, err := newBedrockProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	if cfg.CircuitBreaker.Enabled {
		provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
	}
	return provider, nil
}
