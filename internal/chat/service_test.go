package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/llm"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/semantic"
)

const testSystemPrompt = "You are terse."

// scriptedClient serves both the chat path and the summarizer path, the
// way the real wiring shares one provider client. Summarization prompts
// are recognized by their fixed preamble.
type scriptedClient struct {
	mu           sync.Mutex
	calls        [][]llm.Message
	reply        string
	summaryReply string
	deltas       []string
	err          error
}

func (c *scriptedClient) Complete(_ context.Context, messages []llm.Message, onDelta llm.DeltaHandler) (string, error) {
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	c.mu.Lock()
	c.calls = append(c.calls, copied)
	c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}
	last := messages[len(messages)-1].Content
	if strings.HasPrefix(last, "Please provide a concise summary") {
		return c.summaryReply, nil
	}
	for _, d := range c.deltas {
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return "", err
			}
		}
	}
	return c.reply, nil
}

func (c *scriptedClient) snapshotCalls() [][]llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]llm.Message, len(c.calls))
	copy(out, c.calls)
	return out
}

func newTestService(t *testing.T, client llm.Client, store archive.Store, index *semantic.Index, maxPairs, batch int) *Service {
	t.Helper()
	registry, err := memory.NewRegistry(memory.StrategyHybrid, memory.Config{
		MaxPairs:       maxPairs,
		EvictionBatch:  batch,
		SummaryTimeout: time.Second,
	}, client, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	metrics := observability.NewMetrics("test_chat_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	return NewService(registry, client, store, index, metrics, testSystemPrompt, maxPairs, time.Second)
}

func TestRespondBuildsProviderMessages(t *testing.T) {
	client := &scriptedClient{reply: "hi there"}
	svc := newTestService(t, client, nil, nil, 3, 2)

	if _, err := svc.Respond(context.Background(), "s1", "first message", nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	reply, err := svc.Respond(context.Background(), "s1", "second message", nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.SessionID != "s1" {
		t.Fatalf("reply.SessionID = %q, want %q", reply.SessionID, "s1")
	}
	if reply.Text != "hi there" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "hi there")
	}
	if reply.Turn.Sequence != 2 {
		t.Fatalf("reply.Turn.Sequence = %d, want 2", reply.Turn.Sequence)
	}

	calls := client.snapshotCalls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: testSystemPrompt},
		{Role: llm.RoleUser, Content: "first message"},
		{Role: llm.RoleAssistant, Content: "hi there"},
		{Role: llm.RoleUser, Content: "second message"},
	}
	if !reflect.DeepEqual(calls[1], want) {
		t.Fatalf("second call messages = %+v, want %+v", calls[1], want)
	}
}

func TestRespondFramesSummaryAsAssistantContext(t *testing.T) {
	client := &scriptedClient{reply: "ok", summaryReply: "earlier banter"}
	svc := newTestService(t, client, nil, nil, 1, 1)

	for _, msg := range []string{"one", "two"} {
		if _, err := svc.Respond(context.Background(), "s1", msg, nil); err != nil {
			t.Fatalf("Respond(%q) error = %v", msg, err)
		}
	}
	if _, err := svc.Respond(context.Background(), "s1", "three", nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	// Calls: turn one, turn two, the summarization of the evicted pair,
	// then turn three which replays the summary.
	calls := client.snapshotCalls()
	if len(calls) != 4 {
		t.Fatalf("provider calls = %d, want 4", len(calls))
	}
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: testSystemPrompt},
		{Role: llm.RoleAssistant, Content: "Context from previous conversation: Previous conversation summary: earlier banter"},
		{Role: llm.RoleUser, Content: "two"},
		{Role: llm.RoleAssistant, Content: "ok"},
		{Role: llm.RoleUser, Content: "three"},
	}
	if !reflect.DeepEqual(calls[3], want) {
		t.Fatalf("third turn messages = %+v, want %+v", calls[3], want)
	}
}

func TestRespondStreamsDeltas(t *testing.T) {
	client := &scriptedClient{reply: "hello", deltas: []string{"he", "llo"}}
	svc := newTestService(t, client, nil, nil, 3, 2)

	var streamed strings.Builder
	reply, err := svc.Respond(context.Background(), "s1", "hi", func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if streamed.String() != "hello" {
		t.Fatalf("streamed = %q, want %q", streamed.String(), "hello")
	}
	if reply.Text != "hello" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "hello")
	}
}

func TestRespondRejectsEmptyMessage(t *testing.T) {
	client := &scriptedClient{reply: "unused"}
	svc := newTestService(t, client, nil, nil, 3, 2)

	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Respond(context.Background(), "s1", msg, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Respond(%q) error = %v, want ErrEmptyMessage", msg, err)
		}
	}
	if calls := client.snapshotCalls(); len(calls) != 0 {
		t.Fatalf("provider calls = %d, want 0", len(calls))
	}
}

func TestRespondProviderErrorLeavesMemoryUntouched(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream down")}
	svc := newTestService(t, client, nil, nil, 3, 2)

	if _, err := svc.Respond(context.Background(), "s1", "hi", nil); err == nil {
		t.Fatalf("Respond() error = nil, want provider error")
	}

	raw, err := svc.Raw("s1")
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if len(raw.RecentMessages) != 0 || raw.Summary != "" {
		t.Fatalf("memory after failed turn = %+v, want empty", raw)
	}
}

func TestRespondArchivesAndIndexesTurn(t *testing.T) {
	client := &scriptedClient{reply: "they are called gophers"}
	store := archive.NewInMemoryStore()
	index := semantic.NewIndex(semantic.NewMockEmbedder())
	svc := newTestService(t, client, store, index, 3, 2)

	if _, err := svc.Respond(context.Background(), "s1", "what are go mascots called", nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	var turns []archive.ArchivedTurn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		turns, err = store.RecentTurns(context.Background(), "s1", 10)
		if err != nil {
			t.Fatalf("RecentTurns() error = %v", err)
		}
		if len(turns) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(turns) != 1 {
		t.Fatalf("archived turns = %d, want 1", len(turns))
	}
	got := turns[0]
	if got.ID == "" {
		t.Fatalf("archived turn ID empty")
	}
	if got.SessionID != "s1" || got.Sequence != 1 {
		t.Fatalf("archived turn = %+v, want session s1 sequence 1", got)
	}
	if got.UserText != "what are go mascots called" || got.AssistantText != "they are called gophers" {
		t.Fatalf("archived turn text = %+v", got)
	}

	var matches []semantic.Match
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		matches, err = svc.Search(context.Background(), "s1", "mascots", 3)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(matches) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(matches) == 0 {
		t.Fatalf("no semantic matches after indexing")
	}
	if matches[0].Sequence != 1 {
		t.Fatalf("match.Sequence = %d, want 1", matches[0].Sequence)
	}
	if !strings.Contains(matches[0].Text, "gophers") {
		t.Fatalf("match.Text = %q, want indexed turn text", matches[0].Text)
	}
}

func TestClearResetsMemoryAndIndex(t *testing.T) {
	client := &scriptedClient{reply: "noted"}
	index := semantic.NewIndex(semantic.NewMockEmbedder())
	svc := newTestService(t, client, nil, index, 3, 2)

	if _, err := svc.Respond(context.Background(), "s1", "remember the blue door", nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		matches, err := svc.Search(context.Background(), "s1", "door", 3)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(matches) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svc.Clear("s1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	raw, err := svc.Raw("s1")
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if len(raw.RecentMessages) != 0 || raw.Summary != "" {
		t.Fatalf("memory after clear = %+v, want empty", raw)
	}
	matches, err := svc.Search(context.Background(), "s1", "door", 3)
	if err != nil {
		t.Fatalf("Search() after clear error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("matches after clear = %d, want 0", len(matches))
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	svc := newTestService(t, client, nil, nil, 3, 2)

	if _, err := svc.Search(context.Background(), "s1", "anything", 3); !errors.Is(err, ErrSemanticDisabled) {
		t.Fatalf("Search() error = %v, want ErrSemanticDisabled", err)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	index := semantic.NewIndex(semantic.NewMockEmbedder())
	svc := newTestService(t, client, nil, index, 3, 2)

	if _, err := svc.Search(context.Background(), "s1", "  ", 3); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Search() error = %v, want ErrEmptyQuery", err)
	}
}

func TestArchivedTurnsWithoutStore(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	svc := newTestService(t, client, nil, nil, 3, 2)

	if _, err := svc.ArchivedTurns(context.Background(), "s1", 10); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("ArchivedTurns() error = %v, want ErrArchiveDisabled", err)
	}
}

func TestRespondDefaultsSessionID(t *testing.T) {
	client := &scriptedClient{reply: "ok"}
	svc := newTestService(t, client, nil, nil, 3, 2)

	reply, err := svc.Respond(context.Background(), "", "hello", nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.SessionID != memory.DefaultSessionID {
		t.Fatalf("reply.SessionID = %q, want %q", reply.SessionID, memory.DefaultSessionID)
	}
}
