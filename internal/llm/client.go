package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role tags a chat message with its speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one provider-neutral chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Client produces an assistant reply from an ordered message list.
// onDelta, when non-nil, is invoked for each streamed fragment; the
// returned string is always the full reply.
type Client interface {
	Complete(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error)
}

// Config controls client construction.
type Config struct {
	Provider        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	Temperature     float64
	MaxTokens       int
}

func NewClient(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		return newAutoClient(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("openai api key is required for openai provider")
		}
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic api key is required for anthropic provider")
		}
		return NewAnthropicClient(cfg), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoClient(cfg Config) Client {
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return NewOpenAIClient(cfg)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		return NewAnthropicClient(cfg)
	}
	return NewMockClient()
}
