package llm

import (
	"context"

	"go.uber.org/zap"
)

// GuardedClient wraps an LLMClient with a circuit breaker. Only retryable
// provider failures count against the breaker; auth and model errors are
// configuration problems that a pause will not fix.
type GuardedClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedClient wraps inner with breaker.
func NewGuardedClient(inner LLMClient, breaker *CircuitBreaker, logger *zap.Logger) *GuardedClient {
	return &GuardedClient{
		inner:   inner,
		breaker: breaker,
		logger:  logger.Named("llm-guard"),
	}
}

// GenerateResponse implements LLMClient.
func (g *GuardedClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		g.logger.Warn("LLM request rejected by circuit breaker",
			zap.String("state", g.breaker.State().String()),
			zap.Int("consecutive_failures", g.breaker.ConsecutiveFailures()))
		return nil, err
	}

	result, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	if err != nil {
		if IsRetryable(err) {
			g.breaker.RecordFailure()
		}
		return nil, err
	}

	g.breaker.RecordSuccess()
	return result, nil
}

// GetModel implements LLMClient.
func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}

// GetEndpoint implements LLMClient.
func (g *GuardedClient) GetEndpoint() string {
	return g.inner.GetEndpoint()
}
