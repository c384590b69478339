package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mnemolabs/mnemo/internal/chat"
	"github.com/mnemolabs/mnemo/internal/llm"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type chatResponse struct {
	Response      string             `json:"response"`
	SessionID     string             `json:"session_id"`
	MemoryDetails chat.MemoryDetails `json:"memory_details"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.chat.Respond(r.Context(), req.SessionID, req.Query, nil)
	if err != nil {
		respondChatError(w, err)
		return
	}

	details, err := s.chat.MemoryDetails(reply.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		Response:      reply.Text,
		SessionID:     reply.SessionID,
		MemoryDetails: details,
	})
}

// handleChatStream answers with Server-Sent Events: one
// data: {"content": ...} frame per delta and a data: [DONE] terminator.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "query must not be empty")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, err := s.chat.Respond(r.Context(), req.SessionID, req.Query, func(delta string) error {
		frame, err := json.Marshal(map[string]string{"content": delta})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; report the failure in-band.
		frame, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func respondChatError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrEmptyMessage) {
		respondError(w, http.StatusBadRequest, "empty_message", "query must not be empty")
		return
	}
	switch llm.KindOf(err) {
	case llm.ErrTimeout:
		respondError(w, http.StatusGatewayTimeout, "llm_timeout", err.Error())
	case llm.ErrProvider:
		respondError(w, http.StatusBadGateway, "llm_provider_error", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "llm_unreachable", err.Error())
	}
}
