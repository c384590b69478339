package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mnemolabs/mnemo/internal/llm"
)

const (
	summaryPromptFormat = "Please provide a concise summary of this conversation:\n\n%s\n\nSummary:"
	summaryPrefix       = "Previous conversation summary: "

	compactPromptFormat = "Please condense the following conversation summary, keeping every important fact:\n\n%s\n\nCondensed summary:"

	progressivePromptFormat = "Progressively summarize the conversation, folding the new lines into the current summary and returning one updated summary.\n\nCurrent summary:\n%s\n\nNew lines:\n%s\nUpdated summary:"
)

var errEmptySummary = errors.New("summarizer returned an empty reply")

// LLMSummarizer condenses evicted turns with a chat completion. Each
// fragment stands alone; the prior summary is left untouched because the
// merge policy accumulates fragments rather than rewriting them.
type LLMSummarizer struct {
	client llm.Client
}

var (
	_ Summarizer       = (*LLMSummarizer)(nil)
	_ SummaryCompactor = (*LLMSummarizer)(nil)
)

func NewLLMSummarizer(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, _ string, evicted []Turn) (string, error) {
	prompt := fmt.Sprintf(summaryPromptFormat, Transcript(evicted))
	reply, err := s.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return summaryPrefix + reply, nil
}

// Compact rewrites an overgrown rolling summary into a shorter one.
func (s *LLMSummarizer) Compact(ctx context.Context, summary string) (string, error) {
	prompt := fmt.Sprintf(compactPromptFormat, summary)
	reply, err := s.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return summaryPrefix + reply, nil
}

func (s *LLMSummarizer) complete(ctx context.Context, prompt string) (string, error) {
	reply, err := s.client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errEmptySummary
	}
	return reply, nil
}

// ProgressiveSummarizer folds new turns into the prior summary, returning
// a replacement rather than a standalone fragment. Used by the summary-only
// strategy.
type ProgressiveSummarizer struct {
	client llm.Client
}

var _ Summarizer = (*ProgressiveSummarizer)(nil)

func NewProgressiveSummarizer(client llm.Client) *ProgressiveSummarizer {
	return &ProgressiveSummarizer{client: client}
}

func (s *ProgressiveSummarizer) Summarize(ctx context.Context, priorSummary string, evicted []Turn) (string, error) {
	prompt := fmt.Sprintf(progressivePromptFormat, priorSummary, Transcript(evicted))
	reply, err := s.client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errEmptySummary
	}
	return reply, nil
}
