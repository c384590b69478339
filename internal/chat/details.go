package chat

import (
	"fmt"

	"github.com/mnemolabs/mnemo/internal/memory"
)

const (
	noSummaryPlaceholder = "No summary yet"
	previewMaxRunes      = 100
	memoryApproach       = "Custom implementation without token counting"
)

// TurnPreview is a truncated view of one retained pair.
type TurnPreview struct {
	User string `json:"user"`
	AI   string `json:"ai"`
}

// MemoryDetails describes a session's memory alongside a chat reply.
type MemoryDetails struct {
	Summary            string        `json:"summary"`
	RecentMessagePairs int           `json:"recent_message_pairs"`
	RecentMessages     []TurnPreview `json:"recent_messages"`
	HasSummary         bool          `json:"has_summary"`
	MaxMessagePairs    int           `json:"max_message_pairs"`
}

// Stats is the compact memory report served by the stats endpoint.
type Stats struct {
	CurrentSummary      string `json:"current_summary"`
	RecentMessagesCount int    `json:"recent_messages_count"`
	MemoryStructure     string `json:"memory_structure"`
}

// RawMemory exposes the untruncated memory state for debugging.
type RawMemory struct {
	Summary         string        `json:"summary"`
	RecentMessages  []memory.Turn `json:"recent_messages"`
	MaxMessagePairs int           `json:"max_message_pairs"`
	MemoryApproach  string        `json:"memory_approach"`
}

// MemoryDetails reports the session's memory state with message previews
// capped at previewMaxRunes characters.
func (s *Service) MemoryDetails(sessionID string) (MemoryDetails, error) {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return MemoryDetails{}, err
	}
	previews := make([]TurnPreview, 0, len(snap.Turns))
	for _, t := range snap.Turns {
		previews = append(previews, TurnPreview{
			User: preview(t.UserText),
			AI:   preview(t.AssistantText),
		})
	}
	return MemoryDetails{
		Summary:            summaryOrPlaceholder(snap.Summary),
		RecentMessagePairs: len(snap.Turns),
		RecentMessages:     previews,
		HasSummary:         snap.Summary != "",
		MaxMessagePairs:    s.maxPairs,
	}, nil
}

// Stats reports the session's memory shape.
func (s *Service) Stats(sessionID string) (Stats, error) {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return Stats{}, err
	}
	structure := fmt.Sprintf("%d recent message pairs", len(snap.Turns))
	if snap.Summary != "" {
		structure = "Summary + " + structure
	}
	return Stats{
		CurrentSummary:      summaryOrPlaceholder(snap.Summary),
		RecentMessagesCount: len(snap.Turns) * 2,
		MemoryStructure:     structure,
	}, nil
}

// Raw returns the session's memory without truncation or placeholders.
func (s *Service) Raw(sessionID string) (RawMemory, error) {
	snap, err := s.snapshot(sessionID)
	if err != nil {
		return RawMemory{}, err
	}
	turns := snap.Turns
	if turns == nil {
		turns = []memory.Turn{}
	}
	return RawMemory{
		Summary:         snap.Summary,
		RecentMessages:  turns,
		MaxMessagePairs: s.maxPairs,
		MemoryApproach:  memoryApproach,
	}, nil
}

func (s *Service) snapshot(sessionID string) (memory.Snapshot, error) {
	mem, _, err := s.registry.Session(sessionID)
	if err != nil {
		return memory.Snapshot{}, err
	}
	return mem.Snapshot(), nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxRunes {
		return text
	}
	return string(runes[:previewMaxRunes]) + "..."
}

func summaryOrPlaceholder(summary string) string {
	if summary == "" {
		return noSummaryPlaceholder
	}
	return summary
}
