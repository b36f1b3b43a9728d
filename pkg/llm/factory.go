package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/config"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClientFromConfig builds the configured provider client wrapped in a
// circuit breaker. A missing API key is a hard error: the translation path
// that needs a model cannot run without one.
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	if !cfg.HasCredential() {
		return nil, apperrors.ErrMissingLLMCredential
	}

	clientCfg := &Config{
		Endpoint:  cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var (
		inner LLMClient
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI, "":
		inner, err = NewClient(clientCfg, logger)
	case ProviderAnthropic:
		inner, err = NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}

	return NewGuardedClient(inner, NewCircuitBreaker(DefaultCircuitBreakerConfig()), logger), nil
}
