package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mnemolabs/mnemo/internal/llm"
	"github.com/mnemolabs/mnemo/internal/protocol"
)

// handleChatWS binds one memory session to the connection: the session_id
// query parameter resumes an existing session, otherwise a fresh one is
// minted and announced in the session_ready event.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	outbound <- protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
				s.metrics.SessionEvents.WithLabelValues("ws_outbound_dropped").Inc()
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// runConnection serves one websocket's message stream. Turns run
// sequentially; a slow model call delays later messages on the same
// connection only.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.ClientChat:
				s.runTurn(ctx, sessionID, m, outbound)
			case protocol.ClientControl:
				s.runControl(ctx, sessionID, m, outbound)
			}
		}
	}
}

func (s *Server) runTurn(ctx context.Context, sessionID string, msg protocol.ClientChat, outbound chan<- any) {
	turnID := uuid.NewString()

	reply, err := s.chat.Respond(ctx, sessionID, msg.Message, func(delta string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outbound <- protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: sessionID,
			TurnID:    turnID,
			TextDelta: delta,
		}:
			return nil
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "chat_failed",
			Source:    "llm",
			Retryable: llm.KindOf(err) != llm.ErrProvider,
			Detail:    err.Error(),
		})
		s.send(ctx, outbound, protocol.AssistantTurnEnd{
			Type:      protocol.TypeAssistantTurnEnd,
			SessionID: sessionID,
			TurnID:    turnID,
			Reason:    "error",
		})
		return
	}

	s.send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: sessionID,
		TurnID:    turnID,
		Reason:    "completed",
		Sequence:  reply.Turn.Sequence,
	})
}

func (s *Server) runControl(ctx context.Context, sessionID string, msg protocol.ClientControl, outbound chan<- any) {
	switch msg.Action {
	case protocol.ActionClearMemory:
		if err := s.chat.Clear(sessionID); err != nil {
			s.sendControlError(ctx, sessionID, outbound, err)
			return
		}
		s.send(ctx, outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "memory_cleared",
		})
	case protocol.ActionGetMemory:
		details, err := s.chat.MemoryDetails(sessionID)
		if err != nil {
			s.sendControlError(ctx, sessionID, outbound, err)
			return
		}
		s.send(ctx, outbound, protocol.MemoryState{
			Type:               protocol.TypeMemoryState,
			SessionID:          sessionID,
			Summary:            details.Summary,
			RecentMessagePairs: details.RecentMessagePairs,
			MaxMessagePairs:    details.MaxMessagePairs,
			HasSummary:         details.HasSummary,
		})
	default:
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unsupported_action",
			Source:    "gateway",
			Retryable: false,
			Detail:    "unknown control action: " + msg.Action,
		})
	}
}

func (s *Server) sendControlError(ctx context.Context, sessionID string, outbound chan<- any, err error) {
	s.send(ctx, outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "control_failed",
		Source:    "gateway",
		Retryable: true,
		Detail:    err.Error(),
	})
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}
