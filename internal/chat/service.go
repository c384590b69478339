package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/llm"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/semantic"
)

// contextFramingPrefix labels the rolling summary when it is replayed to
// the model. The memory layer stores the summary unframed; framing is a
// prompt concern only.
const contextFramingPrefix = "Context from previous conversation: "

const defaultArchiveSaveTimeout = 2 * time.Second

var (
	ErrEmptyMessage     = errors.New("message is required")
	ErrEmptyQuery       = errors.New("query is required")
	ErrSemanticDisabled = errors.New("semantic recall is disabled")
	ErrArchiveDisabled  = errors.New("archive store is disabled")
)

// Reply is the outcome of one completed chat turn.
type Reply struct {
	SessionID string
	Text      string
	Turn      memory.Turn
}

// Service runs chat turns end to end: context assembly, model call,
// memory record, and best-effort archival.
type Service struct {
	registry       *memory.Registry
	client         llm.Client
	store          archive.Store
	index          *semantic.Index
	metrics        *observability.Metrics
	systemPrompt   string
	maxPairs       int
	archiveTimeout time.Duration
}

// NewService wires a chat service. store and index may be nil; archival
// and semantic recall are then disabled.
func NewService(
	registry *memory.Registry,
	client llm.Client,
	store archive.Store,
	index *semantic.Index,
	metrics *observability.Metrics,
	systemPrompt string,
	maxPairs int,
	archiveTimeout time.Duration,
) *Service {
	if archiveTimeout <= 0 {
		archiveTimeout = defaultArchiveSaveTimeout
	}
	return &Service{
		registry:       registry,
		client:         client,
		store:          store,
		index:          index,
		metrics:        metrics,
		systemPrompt:   systemPrompt,
		maxPairs:       maxPairs,
		archiveTimeout: archiveTimeout,
	}
}

// Respond runs one exchange for sessionID. onDelta, when non-nil, streams
// reply fragments as the provider emits them; the full reply is returned
// either way. The turn is recorded in the session's memory before this
// returns, archival happens in the background.
func (s *Service) Respond(ctx context.Context, sessionID, userText string, onDelta llm.DeltaHandler) (Reply, error) {
	if strings.TrimSpace(userText) == "" {
		return Reply{}, ErrEmptyMessage
	}

	start := time.Now()
	mem, canonicalID, err := s.registry.Session(sessionID)
	if err != nil {
		return Reply{}, err
	}

	messages := s.buildMessages(mem.Context(), userText)
	s.metrics.ObserveTurnStage("message_to_context_ready", time.Since(start))

	handler := onDelta
	if onDelta != nil {
		var sawDelta bool
		handler = func(delta string) error {
			if !sawDelta {
				sawDelta = true
				s.metrics.ObserveTurnStage("message_to_first_delta", time.Since(start))
			}
			return onDelta(delta)
		}
	}

	reply, err := s.client.Complete(ctx, messages, handler)
	if err != nil {
		s.metrics.Turns.WithLabelValues("error").Inc()
		s.metrics.ProviderErrors.WithLabelValues(llm.ProviderOf(err), string(llm.KindOf(err))).Inc()
		return Reply{}, err
	}
	s.metrics.ObserveTurnStage("message_to_llm_complete", time.Since(start))

	turn := mem.RecordTurn(ctx, userText, reply)
	s.metrics.ObserveTurnStage("message_to_record_complete", time.Since(start))

	s.archiveTurnBestEffort(canonicalID, turn)

	s.metrics.Turns.WithLabelValues("ok").Inc()
	total := time.Since(start)
	s.metrics.ObserveTurnLatency(total)
	s.metrics.ObserveTurnStage("turn_total", total)

	return Reply{SessionID: canonicalID, Text: reply, Turn: turn}, nil
}

// buildMessages flattens memory context into the provider message list.
// The summary entry is replayed as an assistant turn so the model treats
// it as something it already said.
func (s *Service) buildMessages(entries []memory.ContextEntry, userText string) []llm.Message {
	messages := make([]llm.Message, 0, len(entries)+2)
	if s.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt})
	}
	for _, entry := range entries {
		switch entry.Kind {
		case memory.EntrySummary:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: contextFramingPrefix + entry.Text})
		case memory.EntryUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: entry.Text})
		case memory.EntryAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: entry.Text})
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
}

func (s *Service) archiveTurnBestEffort(sessionID string, turn memory.Turn) {
	if s.store == nil && s.index == nil {
		return
	}
	go func(t memory.Turn) {
		saveCtx, cancel := context.WithTimeout(context.Background(), s.archiveTimeout)
		defer cancel()
		if s.store != nil {
			err := s.store.SaveTurn(saveCtx, archive.ArchivedTurn{
				ID:            uuid.NewString(),
				SessionID:     sessionID,
				Sequence:      t.Sequence,
				UserText:      t.UserText,
				AssistantText: t.AssistantText,
				CreatedAt:     time.Now().UTC(),
			})
			if err != nil {
				s.metrics.ArchiveFailures.Inc()
			}
		}
		if s.index != nil {
			if err := s.index.IndexTurn(saveCtx, sessionID, t.Sequence, t.UserText, t.AssistantText); err != nil {
				s.metrics.SessionEvents.WithLabelValues("semantic_index_failed").Inc()
			}
		}
	}(turn)
}

// Clear wipes the session's live window and summary and drops its
// semantic index. Archived turns are kept.
func (s *Service) Clear(sessionID string) error {
	mem, canonicalID, err := s.registry.Session(sessionID)
	if err != nil {
		return err
	}
	mem.Clear()
	if s.index != nil {
		s.index.DropSession(canonicalID)
	}
	s.metrics.SessionEvents.WithLabelValues("memory_cleared").Inc()
	return nil
}

// Search answers semantic recall queries over the session's indexed turns.
func (s *Service) Search(ctx context.Context, sessionID, query string, limit int) ([]semantic.Match, error) {
	if s.index == nil {
		return nil, ErrSemanticDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	_, canonicalID, err := s.registry.Session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.index.Search(ctx, canonicalID, query, limit)
}

// ArchivedTurns returns the most recent archived turns for the session
// in ascending sequence order.
func (s *Service) ArchivedTurns(ctx context.Context, sessionID string, limit int) ([]archive.ArchivedTurn, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	_, canonicalID, err := s.registry.Session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.RecentTurns(ctx, canonicalID, limit)
}
