package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mnemolabs/mnemo/internal/chat"
)

type clearRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleMemoryDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.chat.MemoryDetails(r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, details)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.chat.Stats(r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMemoryRaw(w http.ResponseWriter, r *http.Request) {
	raw, err := s.chat.Raw(r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, raw)
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.chat.Clear(req.SessionID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Memory cleared successfully"})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	matches, err := s.chat.Search(r.Context(), q.Get("session_id"), q.Get("q"), limit)
	switch {
	case errors.Is(err, chat.ErrSemanticDisabled):
		respondError(w, http.StatusServiceUnavailable, "semantic_disabled", "semantic recall is not enabled")
		return
	case errors.Is(err, chat.ErrEmptyQuery):
		respondError(w, http.StatusBadRequest, "empty_query", "query parameter q is required")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   q.Get("q"),
		"matches": matches,
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	turns, err := s.chat.ArchivedTurns(r.Context(), q.Get("session_id"), limit)
	switch {
	case errors.Is(err, chat.ErrArchiveDisabled):
		respondError(w, http.StatusServiceUnavailable, "archive_disabled", "turn archive is not enabled")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "archive_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"turns": turns,
	})
}
