package agent

import (
	"context"
	"fmt"

	"github.com/mihulabs/mihu/internal/config"
	"github.com/mihulabs/mihu/pkg/tools"
)

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []tools.Schema
	Temperature  float64
	MaxTokens    int
}

// Response is the model's reply: either final text, or one or more tool
// call requests (possibly alongside partial text).
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// LLMProvider abstracts the model API. Tests substitute a fake.
type LLMProvider interface {
	Call(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// NewProvider builds the provider named by the configuration.
func NewProvider(cfg config.AIConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "groq":
		return NewGroqProvider(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
