package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Engine is the hybrid conversation memory: a bounded window of recent
// turns plus a rolling summary of everything evicted from it. Recording a
// turn that overflows the window evicts the oldest batch, summarizes it,
// and folds the result into the summary. Summarizer failures never surface;
// a deterministic fallback fragment keeps the summary honest instead.
//
// One exclusive lock guards the whole state, held across the summarizer
// call as well, so every operation observes a fully settled window.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	summarizer Summarizer
	turns      []Turn
	summary    string
	seq        int64
	onEvict    func(EvictionEvent)
}

var _ ConversationMemory = (*Engine)(nil)

func NewEngine(cfg Config, summarizer Summarizer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if summarizer == nil {
		return nil, fmt.Errorf("%w: summarizer is required", ErrInvalidConfig)
	}
	return &Engine{cfg: cfg, summarizer: summarizer}, nil
}

// SetEvictionHook registers a callback fired after each eviction event,
// outside the state lock.
func (e *Engine) SetEvictionHook(hook func(EvictionEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvict = hook
}

// RecordTurn appends the exchange and brings the window back under
// capacity before returning. It never fails: summarizer errors are
// absorbed into the fallback path.
func (e *Engine) RecordTurn(ctx context.Context, userText, assistantText string) Turn {
	e.mu.Lock()

	e.seq++
	turn := Turn{Sequence: e.seq, UserText: userText, AssistantText: assistantText}
	e.turns = append(e.turns, turn)

	var events []EvictionEvent
	for len(e.turns) > e.cfg.MaxPairs {
		n := e.cfg.EvictionBatch
		if n > len(e.turns) {
			n = len(e.turns)
		}
		evicted := make([]Turn, n)
		copy(evicted, e.turns[:n])
		e.turns = append(e.turns[:0], e.turns[n:]...)

		fragment, fellBack := e.summarizeEvicted(ctx, evicted)
		e.summary = mergeSummary(e.summary, fragment)
		e.compactIfOvergrown(ctx)

		events = append(events, EvictionEvent{Turns: evicted, Fallback: fellBack})
	}

	hook := e.onEvict
	e.mu.Unlock()

	if hook != nil {
		for _, ev := range events {
			hook(ev)
		}
	}
	return turn
}

// summarizeEvicted makes a single summarizer attempt, no retry. Any error
// yields the fallback fragment.
func (e *Engine) summarizeEvicted(ctx context.Context, evicted []Turn) (string, bool) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	fragment, err := e.summarizer.Summarize(callCtx, e.summary, evicted)
	if err != nil {
		return FallbackFragment(evicted), true
	}
	return fragment, false
}

// compactIfOvergrown re-summarizes the rolling summary itself once it
// exceeds the configured threshold. Off by default; failures keep the
// accumulated summary as-is.
func (e *Engine) compactIfOvergrown(ctx context.Context) {
	if e.cfg.ResummarizeThreshold <= 0 || len(e.summary) <= e.cfg.ResummarizeThreshold {
		return
	}
	compactor, ok := e.summarizer.(SummaryCompactor)
	if !ok {
		return
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	compacted, err := compactor.Compact(callCtx, e.summary)
	if err != nil || strings.TrimSpace(compacted) == "" {
		return
	}
	e.summary = compacted
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.SummaryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.SummaryTimeout)
}

// Context returns prompt-assembly entries: the summary first when present,
// then retained turns in ascending sequence order.
func (e *Engine) Context() []ContextEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := make([]ContextEntry, 0, len(e.turns)*2+1)
	if e.summary != "" {
		entries = append(entries, ContextEntry{Kind: EntrySummary, Text: e.summary})
	}
	for _, t := range e.turns {
		entries = append(entries,
			ContextEntry{Kind: EntryUser, Text: t.UserText},
			ContextEntry{Kind: EntryAssistant, Text: t.AssistantText},
		)
	}
	return entries
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return Snapshot{Summary: e.summary, Turns: turns}
}

// Clear drops the retained turns and the rolling summary. Idempotent.
// Sequence numbers keep increasing across Clear so archived turns stay
// unambiguous.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = nil
	e.summary = ""
}
