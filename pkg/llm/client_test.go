package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/config"
)

func TestClient_GenerateResponse(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "SELECT 1"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{Endpoint: server.URL + "/", Model: "gpt-4o-mini", APIKey: "sk-test"}, zap.NewNop())
	require.NoError(t, err)

	result, err := client.GenerateResponse(context.Background(), "how many customers", "system rules", 0.1)
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", result.Content)
	assert.Equal(t, 15, result.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "system rules", got.Messages[0].Content)
	assert.Equal(t, "how many customers", got.Messages[1].Content)
}

func TestClient_GenerateResponse_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{Endpoint: server.URL, Model: "gpt-4o-mini", APIKey: "bad"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), "q", "s", 0)
	require.Error(t, err)

	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorTypeAuth, llmErr.Type)
	assert.False(t, llmErr.Retryable)
	assert.Equal(t, "gpt-4o-mini", llmErr.Model)
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(&Config{APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewAnthropicClient(&Config{APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewClientFromConfig(t *testing.T) {
	_, err := NewClientFromConfig(&config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrMissingLLMCredential)

	client, err := NewClientFromConfig(&config.LLMConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", client.GetModel())
	assert.IsType(t, &GuardedClient{}, client)

	client, err = NewClientFromConfig(&config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIEndpoint, client.GetEndpoint())

	_, err = NewClientFromConfig(&config.LLMConfig{Provider: "watson", Model: "m", APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)
}

func TestGuardedClient_TripsOnRetryableFailures(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeEndpoint, "server error", true, nil)
	}
	guarded := NewGuardedClient(mock, NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour}), zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := guarded.GenerateResponse(context.Background(), "q", "s", 0)
		assert.Equal(t, ErrorTypeEndpoint, GetErrorType(err))
	}

	_, err := guarded.GenerateResponse(context.Background(), "q", "s", 0)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
	assert.Equal(t, 2, mock.GenerateResponseCalls(), "open circuit must not reach the provider")
}

func TestGuardedClient_AuthErrorsDoNotTrip(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeAuth, "authentication failed", false, nil)
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: time.Hour})
	guarded := NewGuardedClient(mock, breaker, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, _ = guarded.GenerateResponse(context.Background(), "q", "s", 0)
	}
	assert.Equal(t, CircuitClosed, breaker.State())
	assert.Equal(t, 3, mock.GenerateResponseCalls())
}
