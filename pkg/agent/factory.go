package agent

import (
	"fmt"

	"devloop/pkg/agent/llm"
	"devloop/pkg/agent/llmimpl/anthropic"
	"devloop/pkg/agent/llmimpl/google"
	"devloop/pkg/agent/llmimpl/ollama"
	"devloop/pkg/agent/llmimpl/openai"
	"devloop/pkg/config"
)

// NewClientForProvider builds a completion client for the configured
// provider, resolving API keys through the secrets store.
func NewClientForProvider(cfg config.Backend) (llm.Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		key, err := config.GetSecret(config.SecretAnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic API key: %w", err)
		}
		return anthropic.NewClient(key, cfg.Model), nil

	case config.ProviderOpenAI:
		key, err := config.GetSecret(config.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("openai API key: %w", err)
		}
		return openai.NewClient(key, cfg.Model), nil

	case config.ProviderOllama:
		host := cfg.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		return ollama.NewClient(host, cfg.Model), nil

	case config.ProviderGoogle:
		key, err := config.GetSecret(config.SecretGeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini API key: %w", err)
		}
		return google.NewClient(key, cfg.Model), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewAPIBackendFromConfig builds the API backend for the configured provider.
func NewAPIBackendFromConfig(cfg config.Backend, limits config.Limits) (Backend, error) {
	client, err := NewClientForProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewAPIBackend(client, limits.MaxPromptTokens), nil
}
