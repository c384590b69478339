package memory

import (
	"context"
	"sync"
)

// BufferMemory retains every turn with no summarization. Unbounded.
type BufferMemory struct {
	mu    sync.Mutex
	turns []Turn
	seq   int64
}

var _ ConversationMemory = (*BufferMemory)(nil)

func NewBufferMemory() *BufferMemory {
	return &BufferMemory{}
}

func (b *BufferMemory) RecordTurn(_ context.Context, userText, assistantText string) Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	turn := Turn{Sequence: b.seq, UserText: userText, AssistantText: assistantText}
	b.turns = append(b.turns, turn)
	return turn
}

func (b *BufferMemory) Context() []ContextEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]ContextEntry, 0, len(b.turns)*2)
	for _, t := range b.turns {
		entries = append(entries,
			ContextEntry{Kind: EntryUser, Text: t.UserText},
			ContextEntry{Kind: EntryAssistant, Text: t.AssistantText},
		)
	}
	return entries
}

func (b *BufferMemory) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	turns := make([]Turn, len(b.turns))
	copy(turns, b.turns)
	return Snapshot{Turns: turns}
}

func (b *BufferMemory) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}
