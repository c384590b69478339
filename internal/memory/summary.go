package memory

import (
	"context"
	"sync"
	"time"
)

// SummaryMemory keeps no turn window at all: every recorded turn is folded
// straight into the rolling summary. A successful summarization replaces
// the summary (the summarizer already saw the prior one); a failure appends
// the fallback fragment instead, since the fallback carries only the new
// turn's text.
type SummaryMemory struct {
	mu         sync.Mutex
	summarizer Summarizer
	timeout    time.Duration
	summary    string
	seq        int64
	onEvict    func(EvictionEvent)
}

var _ ConversationMemory = (*SummaryMemory)(nil)

func NewSummaryMemory(summarizer Summarizer, summaryTimeout time.Duration) *SummaryMemory {
	return &SummaryMemory{summarizer: summarizer, timeout: summaryTimeout}
}

func (m *SummaryMemory) SetEvictionHook(hook func(EvictionEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = hook
}

func (m *SummaryMemory) RecordTurn(ctx context.Context, userText, assistantText string) Turn {
	m.mu.Lock()

	m.seq++
	turn := Turn{Sequence: m.seq, UserText: userText, AssistantText: assistantText}
	folded := []Turn{turn}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if m.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
	}
	updated, err := m.summarizer.Summarize(callCtx, m.summary, folded)
	cancel()

	fellBack := false
	if err != nil {
		m.summary = mergeSummary(m.summary, FallbackFragment(folded))
		fellBack = true
	} else {
		m.summary = updated
	}

	hook := m.onEvict
	m.mu.Unlock()

	if hook != nil {
		hook(EvictionEvent{Turns: folded, Fallback: fellBack})
	}
	return turn
}

func (m *SummaryMemory) Context() []ContextEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.summary == "" {
		return nil
	}
	return []ContextEntry{{Kind: EntrySummary, Text: m.summary}}
}

func (m *SummaryMemory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Summary: m.summary}
}

func (m *SummaryMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = ""
}
