//go:build !bedrock

package llm

import (
	"fmt"
	"log/slog"

	"datascout/internal/domain"
	"datascout/internal/infra/config"
)

// newBedrockProvider is unavailable without the bedrock build tag.
func newBedrockProvider(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	return nil, fmt.Errorf("bedrock provider requires a binary built with -tags bedrock")
}
