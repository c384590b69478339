package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Turn is one completed user/assistant exchange. Immutable once recorded.
type Turn struct {
	Sequence      int64  `json:"sequence"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
}

// EntryKind tags a context entry with its origin.
type EntryKind string

const (
	EntrySummary   EntryKind = "summary"
	EntryUser      EntryKind = "user"
	EntryAssistant EntryKind = "assistant"
)

// ContextEntry is one prompt-assembly item. Summary entries carry the raw
// rolling summary; user/assistant entries carry one side of a retained turn.
type ContextEntry struct {
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
}

// Snapshot is a point-in-time copy of a memory's state.
type Snapshot struct {
	Summary string `json:"summary"`
	Turns   []Turn `json:"turns"`
}

// ErrInvalidConfig rejects memory construction with out-of-range settings.
var ErrInvalidConfig = errors.New("invalid memory config")

// Config controls the hybrid window. MaxPairs caps the retained turn
// buffer; EvictionBatch is how many oldest turns leave per eviction event.
type Config struct {
	MaxPairs             int
	EvictionBatch        int
	SummaryTimeout       time.Duration
	ResummarizeThreshold int
}

func (c Config) Validate() error {
	if c.MaxPairs <= 0 {
		return fmt.Errorf("%w: max pairs must be positive, got %d", ErrInvalidConfig, c.MaxPairs)
	}
	if c.EvictionBatch < 1 || c.EvictionBatch > c.MaxPairs {
		return fmt.Errorf("%w: eviction batch must be within [1, %d], got %d", ErrInvalidConfig, c.MaxPairs, c.EvictionBatch)
	}
	if c.SummaryTimeout < 0 {
		return fmt.Errorf("%w: summary timeout must not be negative", ErrInvalidConfig)
	}
	if c.ResummarizeThreshold < 0 {
		return fmt.Errorf("%w: resummarize threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Summarizer condenses evicted turns into a short prose fragment. It may
// fail; the caller absorbs failures via the fallback fragment.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, evicted []Turn) (string, error)
}

// SummaryCompactor optionally re-compresses an overgrown rolling summary.
type SummaryCompactor interface {
	Compact(ctx context.Context, summary string) (string, error)
}

// EvictionEvent reports one completed eviction. Fallback is true when the
// merged fragment came from the deterministic fallback path.
type EvictionEvent struct {
	Turns    []Turn
	Fallback bool
}
