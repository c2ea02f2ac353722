// Package llm provides the language-model clients behind the dispatch
// loop. Providers receive the full conversation plus the registered tool
// definitions on every call and keep no state of their own.
package llm

import (
	"fmt"
	"time"

	"analyst/internal/types"
)

// Config selects and configures a provider.
type Config struct {
	Provider  string // "openai" (and compatibles via BaseURL) or "anthropic"
	APIKey    string
	Model     string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg Config) (types.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	switch cfg.Provider {
	case "openai", "":
		return newOpenAIClient(cfg), nil
	case "anthropic":
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use 'openai' or 'anthropic')", cfg.Provider)
	}
}
