package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnemolabs/mnemo/internal/archive"
	"github.com/mnemolabs/mnemo/internal/chat"
	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/llm"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/semantic"
)

type fakeLLM struct {
	reply        string
	summaryReply string
	deltas       []string
	err          error
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, onDelta llm.DeltaHandler) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	last := messages[len(messages)-1].Content
	if strings.HasPrefix(last, "Please provide a concise summary") {
		if f.summaryReply != "" {
			return f.summaryReply, nil
		}
		return "condensed history", nil
	}
	for _, d := range f.deltas {
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return "", err
			}
		}
	}
	return f.reply, nil
}

func newTestServer(t *testing.T, client llm.Client, index *semantic.Index) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		MemoryStrategy:      memory.StrategyHybrid,
		MemoryMaxPairs:      3,
		MemoryEvictionBatch: 2,
		SemanticRecall:      index != nil,
	}
	registry, err := memory.NewRegistry(cfg.MemoryStrategy, memory.Config{
		MaxPairs:       cfg.MemoryMaxPairs,
		EvictionBatch:  cfg.MemoryEvictionBatch,
		SummaryTimeout: time.Second,
	}, client, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	store := archive.NewInMemoryStore()
	svc := chat.NewService(registry, client, store, index, metrics, "You are terse.", cfg.MemoryMaxPairs, time.Second)

	ts := httptest.NewServer(New(cfg, svc, registry, store, metrics).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "nice to meet you"}, nil)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"query": "hi, I'm Ada"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	payload := decodeBody(t, res)

	if payload["response"] != "nice to meet you" {
		t.Fatalf("response = %v, want %q", payload["response"], "nice to meet you")
	}
	if payload["session_id"] != memory.DefaultSessionID {
		t.Fatalf("session_id = %v, want %q", payload["session_id"], memory.DefaultSessionID)
	}

	details, ok := payload["memory_details"].(map[string]any)
	if !ok {
		t.Fatalf("memory_details missing: %+v", payload)
	}
	if details["recent_message_pairs"] != float64(1) {
		t.Fatalf("recent_message_pairs = %v, want 1", details["recent_message_pairs"])
	}
	if details["summary"] != "No summary yet" {
		t.Fatalf("summary = %v, want %q", details["summary"], "No summary yet")
	}
	if details["has_summary"] != false {
		t.Fatalf("has_summary = %v, want false", details["has_summary"])
	}
	if details["max_message_pairs"] != float64(3) {
		t.Fatalf("max_message_pairs = %v, want 3", details["max_message_pairs"])
	}
	previews, ok := details["recent_messages"].([]any)
	if !ok || len(previews) != 1 {
		t.Fatalf("recent_messages = %v, want one preview", details["recent_messages"])
	}
	first, _ := previews[0].(map[string]any)
	if first["user"] != "hi, I'm Ada" || first["ai"] != "nice to meet you" {
		t.Fatalf("preview = %+v", first)
	}
}

func TestChatEndpointRejectsEmptyQuery(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "unused"}, nil)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"query": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	payload := decodeBody(t, res)
	if payload["code"] != "empty_message" {
		t.Fatalf("code = %v, want empty_message", payload["code"])
	}
}

func TestChatEndpointProviderError(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{err: errors.New("connection refused")}, nil)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"query": "hi"})
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
	payload := decodeBody(t, res)
	if payload["code"] != "llm_unreachable" {
		t.Fatalf("code = %v, want llm_unreachable", payload["code"])
	}
}

func TestChatStreamEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "Hello", deltas: []string{"Hel", "lo"}}, nil)

	res := postJSON(t, ts.URL+"/v1/chat/stream", map[string]string{"query": "hi"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read stream body: %v", err)
	}
	want := "data: {\"content\":\"Hel\"}\n\n" +
		"data: {\"content\":\"lo\"}\n\n" +
		"data: [DONE]\n\n"
	if string(body) != want {
		t.Fatalf("stream body = %q, want %q", body, want)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "noted"}, nil)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s1", "query": "my cat is Otto"})
	res.Body.Close()

	stats := decodeBody(t, mustGet(t, ts.URL+"/v1/memory/stats?session_id=s1"))
	if stats["current_summary"] != "No summary yet" {
		t.Fatalf("current_summary = %v", stats["current_summary"])
	}
	if stats["recent_messages_count"] != float64(2) {
		t.Fatalf("recent_messages_count = %v, want 2", stats["recent_messages_count"])
	}
	if stats["memory_structure"] != "1 recent message pairs" {
		t.Fatalf("memory_structure = %v", stats["memory_structure"])
	}

	raw := decodeBody(t, mustGet(t, ts.URL+"/v1/memory/raw?session_id=s1"))
	if raw["memory_approach"] != "Custom implementation without token counting" {
		t.Fatalf("memory_approach = %v", raw["memory_approach"])
	}
	turns, ok := raw["recent_messages"].([]any)
	if !ok || len(turns) != 1 {
		t.Fatalf("recent_messages = %v, want one turn", raw["recent_messages"])
	}
	turn, _ := turns[0].(map[string]any)
	if turn["user_text"] != "my cat is Otto" || turn["sequence"] != float64(1) {
		t.Fatalf("raw turn = %+v", turn)
	}

	details := decodeBody(t, mustGet(t, ts.URL+"/v1/memory?session_id=s1"))
	if details["recent_message_pairs"] != float64(1) {
		t.Fatalf("recent_message_pairs = %v, want 1", details["recent_message_pairs"])
	}

	cleared := decodeBody(t, postJSON(t, ts.URL+"/v1/memory/clear", map[string]string{"session_id": "s1"}))
	if cleared["message"] != "Memory cleared successfully" {
		t.Fatalf("clear message = %v", cleared["message"])
	}

	stats = decodeBody(t, mustGet(t, ts.URL+"/v1/memory/stats?session_id=s1"))
	if stats["recent_messages_count"] != float64(0) {
		t.Fatalf("recent_messages_count after clear = %v, want 0", stats["recent_messages_count"])
	}
}

func TestMemoryClearWithoutBody(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "ok"}, nil)

	res, err := http.Post(ts.URL+"/v1/memory/clear", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("POST clear error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	payload := decodeBody(t, res)
	if payload["message"] != "Memory cleared successfully" {
		t.Fatalf("message = %v", payload["message"])
	}
}

func TestMemorySearchDisabled(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "ok"}, nil)

	res := mustGet(t, ts.URL+"/v1/memory/search?q=otto")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
	payload := decodeBody(t, res)
	if payload["code"] != "semantic_disabled" {
		t.Fatalf("code = %v, want semantic_disabled", payload["code"])
	}
}

func TestMemorySearch(t *testing.T) {
	index := semantic.NewIndex(semantic.NewMockEmbedder())
	ts := newTestServer(t, &fakeLLM{reply: "Otto is a fine cat name"}, index)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s1", "query": "my cat is Otto"})
	res.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res := mustGet(t, ts.URL+"/v1/memory/search?session_id=s1&q=cat&limit=3")
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
		}
		payload := decodeBody(t, res)
		if matches, ok := payload["matches"].([]any); ok && len(matches) > 0 {
			match, _ := matches[0].(map[string]any)
			if match["sequence"] != float64(1) {
				t.Fatalf("match sequence = %v, want 1", match["sequence"])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no search matches before deadline")
}

func TestArchiveEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "ok"}, nil)

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s1", "query": "hello"})
	res.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		payload := decodeBody(t, mustGet(t, ts.URL+"/v1/archive?session_id=s1&limit=5"))
		if turns, ok := payload["turns"].([]any); ok && len(turns) == 1 {
			turn, _ := turns[0].(map[string]any)
			if turn["user_text"] != "hello" || turn["sequence"] != float64(1) {
				t.Fatalf("archived turn = %+v", turn)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("archived turn not visible before deadline")
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "ok"}, nil)

	health := decodeBody(t, mustGet(t, ts.URL+"/healthz"))
	if health["status"] != "ok" {
		t.Fatalf("health status = %v", health["status"])
	}
	if health["archive_mode"] != "in-memory" {
		t.Fatalf("archive_mode = %v, want in-memory", health["archive_mode"])
	}
	if health["memory_strategy"] != "hybrid" {
		t.Fatalf("memory_strategy = %v, want hybrid", health["memory_strategy"])
	}

	ready := decodeBody(t, mustGet(t, ts.URL+"/readyz"))
	if ready["status"] != "ready" {
		t.Fatalf("ready status = %v", ready["status"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, &fakeLLM{reply: "ok"}, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q, want %q", got, "req-42")
	}

	res = mustGet(t, ts.URL+"/healthz")
	res.Body.Close()
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("generated request id missing")
	}
}

func mustGet(t *testing.T, url string) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	return res
}
