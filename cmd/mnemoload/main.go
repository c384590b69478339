package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mnemolabs/mnemo/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	transport      string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	clearFirst     bool
	verbose        bool
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	TextDelta string `json:"text_delta,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type turnResult struct {
	total      time.Duration
	firstDelta time.Duration // zero when the transport sends no deltas
}

type stats struct {
	samples int
	p50MS   float64
	p95MS   float64
	maxMS   float64
}

// Default replay script seeds facts first, then asks the model to recall
// them, so longer runs exercise eviction and summarization.
var defaultUtterances = []string{
	"My name is Ada and I build compilers.",
	"I live in Turin and my cat is called Otto.",
	"My favourite language for services is Go.",
	"What is my name?",
	"Where do I live?",
	"What is my cat called?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mnemoload: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "mnemoload: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "mnemo base URL")
	flag.StringVar(&cfg.sessionID, "session-id", "perf-replay", "session_id used for the synthetic conversation")
	flag.StringVar(&cfg.transport, "transport", "rest", "chat transport: rest|sse|ws")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "per-turn timeout in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.clearFirst, "clear", true, "clear session memory before the replay")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	switch cfg.transport {
	case "rest", "sse", "ws":
	default:
		return options{}, fmt.Errorf("invalid transport %q (expected rest|sse|ws)", cfg.transport)
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.turnTimeout}

	if cfg.clearFirst {
		if err := clearMemory(ctx, httpClient, cfg); err != nil {
			return fmt.Errorf("clear memory: %w", err)
		}
	}

	if cfg.verbose {
		fmt.Printf("mnemoload: transport=%s session=%s turns=%d\n", cfg.transport, cfg.sessionID, cfg.turns)
	}

	var results []turnResult
	var err error
	switch cfg.transport {
	case "rest":
		results, err = replayREST(ctx, httpClient, cfg)
	case "sse":
		results, err = replaySSE(ctx, httpClient, cfg)
	case "ws":
		results, err = replayWS(ctx, cfg)
	}
	if err != nil {
		return err
	}

	report(results)
	return printMemoryStructure(ctx, httpClient, cfg)
}

func replayREST(ctx context.Context, client *http.Client, cfg options) ([]turnResult, error) {
	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()

		payload, err := json.Marshal(chatRequest{SessionID: cfg.sessionID, Query: text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("turn %d read body: %w", i+1, err)
		}
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("turn %d HTTP %d: %s", i+1, res.StatusCode, strings.TrimSpace(string(body)))
		}
		var out chatResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("turn %d decode: %w", i+1, err)
		}

		elapsed := time.Since(start)
		results = append(results, turnResult{total: elapsed})
		if cfg.verbose {
			fmt.Printf("mnemoload: turn %d/%d %s %q -> %d chars\n", i+1, cfg.turns, elapsed.Round(time.Millisecond), text, len(out.Response))
		}
		pause(cfg, i)
	}
	return results, nil
}

func replaySSE(ctx context.Context, client *http.Client, cfg options) ([]turnResult, error) {
	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()

		payload, err := json.Marshal(chatRequest{SessionID: cfg.sessionID, Query: text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/chat/stream", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		if res.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
			res.Body.Close()
			return nil, fmt.Errorf("turn %d HTTP %d: %s", i+1, res.StatusCode, strings.TrimSpace(string(body)))
		}

		var firstDelta time.Duration
		var chars int
		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			data, ok := parseSSEData(scanner.Text())
			if !ok {
				continue
			}
			if data == "[DONE]" {
				break
			}
			var frame struct {
				Content string `json:"content"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			if frame.Error != "" {
				res.Body.Close()
				return nil, fmt.Errorf("turn %d stream error: %s", i+1, frame.Error)
			}
			if firstDelta == 0 && frame.Content != "" {
				firstDelta = time.Since(start)
			}
			chars += len(frame.Content)
		}
		res.Body.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("turn %d stream read: %w", i+1, err)
		}

		elapsed := time.Since(start)
		results = append(results, turnResult{total: elapsed, firstDelta: firstDelta})
		if cfg.verbose {
			fmt.Printf("mnemoload: turn %d/%d %s (first delta %s) %q -> %d chars\n",
				i+1, cfg.turns, elapsed.Round(time.Millisecond), firstDelta.Round(time.Millisecond), text, chars)
		}
		pause(cfg, i)
	}
	return results, nil
}

func replayWS(ctx context.Context, cfg options) ([]turnResult, error) {
	wsURL, err := wsURLFor(cfg.baseURL, cfg.sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	// First frame is the session_ready greeting.
	if _, _, err := conn.ReadMessage(); err != nil {
		return nil, fmt.Errorf("read greeting: %w", err)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()

		msg := protocol.ClientChat{
			Type:    protocol.TypeClientChat,
			Message: text,
			TSMs:    time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("turn %d send: %w", i+1, err)
		}

		var firstDelta time.Duration
		var chars int
		for {
			if err := conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout)); err != nil {
				return nil, err
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil, fmt.Errorf("turn %d read: %w", i+1, err)
			}
			var env wsEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if env.Type == string(protocol.TypeAssistantTextDelta) {
				if firstDelta == 0 {
					firstDelta = time.Since(start)
				}
				chars += len(env.TextDelta)
				continue
			}
			if env.Type == string(protocol.TypeErrorEvent) {
				return nil, fmt.Errorf("turn %d error_event code=%s detail=%s", i+1, env.Code, env.Detail)
			}
			if env.Type == string(protocol.TypeAssistantTurnEnd) {
				if env.Reason != "completed" {
					return nil, fmt.Errorf("turn %d ended with reason %q", i+1, env.Reason)
				}
				break
			}
		}

		elapsed := time.Since(start)
		results = append(results, turnResult{total: elapsed, firstDelta: firstDelta})
		if cfg.verbose {
			fmt.Printf("mnemoload: turn %d/%d %s (first delta %s) %q -> %d chars\n",
				i+1, cfg.turns, elapsed.Round(time.Millisecond), firstDelta.Round(time.Millisecond), text, chars)
		}
		pause(cfg, i)
	}
	return results, nil
}

func pause(cfg options, turn int) {
	if cfg.interTurnDelay > 0 && turn < cfg.turns-1 {
		time.Sleep(cfg.interTurnDelay)
	}
}

func clearMemory(ctx context.Context, client *http.Client, cfg options) error {
	payload, err := json.Marshal(map[string]string{"session_id": cfg.sessionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/memory/clear", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return nil
}

func printMemoryStructure(ctx context.Context, client *http.Client, cfg options) error {
	u := cfg.baseURL + "/v1/memory/stats?session_id=" + url.QueryEscape(cfg.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("memory stats HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		MemoryStructure string `json:"memory_structure"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	fmt.Printf("mnemoload: memory after replay: %s\n", out.MemoryStructure)
	return nil
}

// parseSSEData returns the payload of a "data: ..." line.
func parseSSEData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func report(results []turnResult) {
	totals := make([]float64, 0, len(results))
	deltas := make([]float64, 0, len(results))
	for _, r := range results {
		totals = append(totals, float64(r.total.Microseconds())/1000.0)
		if r.firstDelta > 0 {
			deltas = append(deltas, float64(r.firstDelta.Microseconds())/1000.0)
		}
	}

	if s, ok := summarize(totals); ok {
		fmt.Printf("mnemoload: turn_total samples=%d p50=%.1fms p95=%.1fms max=%.1fms\n",
			s.samples, s.p50MS, s.p95MS, s.maxMS)
	}
	if s, ok := summarize(deltas); ok {
		fmt.Printf("mnemoload: first_delta samples=%d p50=%.1fms p95=%.1fms max=%.1fms\n",
			s.samples, s.p50MS, s.p95MS, s.maxMS)
	}
}

// summarize computes percentile stats over latency samples in milliseconds.
func summarize(samples []float64) (stats, bool) {
	if len(samples) == 0 {
		return stats{}, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stats{
		samples: len(sorted),
		p50MS:   percentileMS(sorted, 0.50),
		p95MS:   percentileMS(sorted, 0.95),
		maxMS:   sorted[len(sorted)-1],
	}, true
}

func percentileMS(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func wsURLFor(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
