package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Gemini's OpenAI-compatible endpoint is the default target; any
	// chat-completions server works with an explicit base URL.
	defaultOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultOpenAIModel   = "gemini-2.5-flash"

	openAIRequestTimeout = 60 * time.Second
)

// OpenAIClient speaks the OpenAI chat completions wire format, streaming
// replies over SSE when a delta handler is supplied.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	baseURL := strings.TrimSpace(cfg.OpenAIBaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		apiKey:      strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: openAIRequestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      onDelta != nil,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", classify("openai", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		msg := strings.TrimSpace(string(raw))
		var errRes chatResponse
		if json.Unmarshal(raw, &errRes) == nil && errRes.Error != nil {
			msg = errRes.Error.Message
		}
		return "", providerError("openai", res.StatusCode, msg)
	}

	if body.Stream {
		return c.consumeSSE(res.Body, onDelta)
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", classify("openai", fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", providerError("openai", res.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", providerError("openai", res.StatusCode, "no choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// consumeSSE reads "data: {chunk}" frames until the [DONE] sentinel.
func (c *OpenAIClient) consumeSSE(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", classify("openai", fmt.Errorf("stream read: %w", err))
	}

	return out.String(), nil
}
