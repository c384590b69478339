package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemolabs/mnemo/internal/llm"
)

const (
	StrategyHybrid  = "hybrid"
	StrategyBuffer  = "buffer"
	StrategySummary = "summary"
)

// ConversationMemory is the strategy-neutral surface the chat layer uses.
// RecordTurn always succeeds and returns the turn it recorded.
type ConversationMemory interface {
	RecordTurn(ctx context.Context, userText, assistantText string) Turn
	Context() []ContextEntry
	Snapshot() Snapshot
	Clear()
}

// EvictionNotifier is implemented by strategies that fold turns into a
// summary and can report each eviction event.
type EvictionNotifier interface {
	SetEvictionHook(func(EvictionEvent))
}

// NewConversationMemory builds the configured strategy around one LLM
// client. Hybrid keeps a bounded window plus a rolling summary, buffer
// keeps everything, summary keeps only a progressively updated summary.
func NewConversationMemory(strategy string, cfg Config, client llm.Client) (ConversationMemory, error) {
	switch normalizeStrategy(strategy) {
	case StrategyHybrid:
		return NewEngine(cfg, NewLLMSummarizer(client))
	case StrategyBuffer:
		return NewBufferMemory(), nil
	case StrategySummary:
		return NewSummaryMemory(NewProgressiveSummarizer(client), cfg.SummaryTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported memory strategy %q", strategy)
	}
}

func normalizeStrategy(strategy string) string {
	s := strings.ToLower(strings.TrimSpace(strategy))
	if s == "" {
		return StrategyHybrid
	}
	return s
}
