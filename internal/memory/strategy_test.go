package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mnemolabs/mnemo/internal/llm"
)

func TestNewConversationMemoryStrategies(t *testing.T) {
	cfg := Config{MaxPairs: 3, EvictionBatch: 2}
	client := llm.NewMockClient()

	tests := []struct {
		strategy string
		want     string
		wantErr  bool
	}{
		{strategy: "hybrid", want: "engine"},
		{strategy: "", want: "engine"},
		{strategy: "BUFFER", want: "buffer"},
		{strategy: "summary", want: "summary"},
		{strategy: "window", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("strategy "+tt.strategy, func(t *testing.T) {
			mem, err := NewConversationMemory(tt.strategy, cfg, client)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewConversationMemory(%q) expected error", tt.strategy)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConversationMemory(%q) error = %v", tt.strategy, err)
			}

			var got string
			switch mem.(type) {
			case *Engine:
				got = "engine"
			case *BufferMemory:
				got = "buffer"
			case *SummaryMemory:
				got = "summary"
			}
			if got != tt.want {
				t.Fatalf("memory type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBufferMemoryKeepsEverything(t *testing.T) {
	mem := NewBufferMemory()

	recordN(t, mem, 10)

	entries := mem.Context()
	if len(entries) != 20 {
		t.Fatalf("len(entries) = %d, want 20", len(entries))
	}
	if entries[0].Kind != EntryUser || entries[0].Text != "u1" {
		t.Fatalf("entries[0] = %+v, want first user turn", entries[0])
	}
	if entries[19].Kind != EntryAssistant || entries[19].Text != "a10" {
		t.Fatalf("entries[19] = %+v, want last assistant turn", entries[19])
	}

	snap := mem.Snapshot()
	if len(snap.Turns) != 10 || snap.Summary != "" {
		t.Fatalf("snapshot = %+v, want 10 turns and no summary", snap)
	}

	mem.Clear()
	if got := mem.Context(); len(got) != 0 {
		t.Fatalf("Context() after clear = %+v, want empty", got)
	}
}

func TestSummaryMemoryReplacesOnSuccess(t *testing.T) {
	var n int
	fake := &fakeSummarizer{reply: func(string, []Turn) (string, error) {
		n++
		return fmt.Sprintf("S%d", n), nil
	}}
	mem := NewSummaryMemory(fake, 0)

	recordN(t, mem, 2)

	snap := mem.Snapshot()
	if snap.Summary != "S2" {
		t.Fatalf("summary = %q, want %q (replaced, not appended)", snap.Summary, "S2")
	}
	if len(snap.Turns) != 0 {
		t.Fatalf("turns = %+v, want none retained", snap.Turns)
	}
	if fake.calls[1].prior != "S1" {
		t.Fatalf("second call prior = %q, want %q", fake.calls[1].prior, "S1")
	}

	entries := mem.Context()
	if len(entries) != 1 || entries[0].Kind != EntrySummary || entries[0].Text != "S2" {
		t.Fatalf("entries = %+v, want single summary entry", entries)
	}
}

func TestSummaryMemoryFallsBackOnError(t *testing.T) {
	var n int
	fake := &fakeSummarizer{reply: func(string, []Turn) (string, error) {
		n++
		if n == 1 {
			return "S1", nil
		}
		return "", errors.New("down")
	}}
	mem := NewSummaryMemory(fake, 0)

	recordN(t, mem, 2)

	summary := mem.Snapshot().Summary
	if !strings.HasPrefix(summary, "S1\n\nPrevious conversation included discussion about: ") {
		t.Fatalf("summary = %q, want prior kept and fallback appended", summary)
	}
}

func TestSummaryMemorySequencesAndClear(t *testing.T) {
	mem := NewSummaryMemory(&fakeSummarizer{}, 0)

	turn := mem.RecordTurn(context.Background(), "u1", "a1")
	if turn.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", turn.Sequence)
	}

	mem.Clear()
	mem.Clear()
	if got := mem.Context(); len(got) != 0 {
		t.Fatalf("Context() after clear = %+v, want empty", got)
	}

	turn = mem.RecordTurn(context.Background(), "u2", "a2")
	if turn.Sequence != 2 {
		t.Fatalf("sequence after clear = %d, want 2", turn.Sequence)
	}
}
