package client

import (
	"fmt"

	"chat-relay/internal/config"
	"chat-relay/internal/llm"
	"chat-relay/internal/types"
)

// NewLLM creates the configured backend.
// IMPORTANT: The returned client is safe for concurrent use from multiple goroutines;
// its configuration (API key, endpoint, model) is fixed at creation.
func NewLLM(cfg config.LLMConfig) (llm.Client, error) {
	opts := Options{
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		Endpoint:       cfg.Endpoint,
		Timeout:        cfg.Timeout,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	var (
		client llm.Client
		err    error
	)
	switch cfg.Backend {
	case config.BackendOpenAI, "":
		client, err = NewOpenAIClient(opts)
	case config.BackendLangChain:
		client, err = NewLangChainClient(opts)
	default:
		err = types.NewConfigurationError("backend", fmt.Sprintf("unknown value %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
