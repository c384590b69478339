package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/chat"
	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/protocol"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	registry *memory.Registry
	store    archive.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chatSvc *chat.Service, registry *memory.Registry, store archive.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		chat:     chatSvc,
		registry: registry,
		store:    store,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a user's session
				// if mnemo is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/stream", s.handleChatStream)
	r.Get("/v1/chat/ws", s.handleChatWS)

	r.Get("/v1/memory", s.handleMemoryDetails)
	r.Get("/v1/memory/stats", s.handleMemoryStats)
	r.Get("/v1/memory/raw", s.handleMemoryRaw)
	r.Post("/v1/memory/clear", s.handleMemoryClear)
	r.Get("/v1/memory/search", s.handleMemorySearch)
	r.Get("/v1/archive", s.handleArchive)

	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

// requestID honors an inbound X-Request-ID or mints one, and echoes it on
// the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"memory_strategy": s.cfg.MemoryStrategy,
		"semantic_recall": s.cfg.SemanticRecall,
		"archive_mode":    s.archiveMode(),
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "archive_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"archive_mode": s.archiveMode(),
	})
}

func (s *Server) archiveMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientChat:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.MemoryState:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
