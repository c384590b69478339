package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient drives the Anthropic Messages API.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewAnthropicClient(cfg Config) *AnthropicClient {
	c := anthropic.NewClient(option.WithAPIKey(strings.TrimSpace(cfg.AnthropicAPIKey)))

	model := strings.TrimSpace(cfg.AnthropicModel)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicClient{
		client:      &c,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (a *AnthropicClient) Complete(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	params, err := a.buildParams(messages)
	if err != nil {
		return "", err
	}

	if onDelta == nil {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return "", classify("anthropic", err)
		}
		return messageText(msg), nil
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				out.WriteString(delta.Text)
				if err := onDelta(delta.Text); err != nil {
					return "", err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", classify("anthropic", err)
	}

	return out.String(), nil
}

// buildParams splits system messages out of the turn list; the Messages
// API carries them in a dedicated field.
func (a *AnthropicClient) buildParams(messages []Message) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	turns := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.maxTokens),
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = system
	}
	if a.temperature > 0 {
		params.Temperature = anthropic.Float(a.temperature)
	}
	return params, nil
}

func messageText(msg *anthropic.Message) string {
	var out strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.WriteString(v.Text)
		}
	}
	return out.String()
}
