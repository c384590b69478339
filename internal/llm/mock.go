package llm

import (
	"context"
	"fmt"
	"strings"
)

const mockContextPrefix = "Context from previous conversation: "

// MockClient provides deterministic local replies when no provider is
// configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	text := buildMockReply(messages)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func buildMockReply(messages []Message) string {
	var base, remembered string
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if base == "" && m.Role == RoleUser {
			base = strings.TrimSpace(m.Content)
		}
		if remembered == "" && m.Role == RoleAssistant && strings.HasPrefix(m.Content, mockContextPrefix) {
			remembered = strings.TrimSpace(strings.TrimPrefix(m.Content, mockContextPrefix))
		}
	}

	if base == "" {
		base = "I am listening."
	}
	if remembered == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	if len(remembered) > 80 {
		remembered = remembered[:80] + "..."
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, remembered)
}
