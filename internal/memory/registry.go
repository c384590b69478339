package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mnemolabs/mnemo/internal/llm"
)

// DefaultSessionID names the session used when callers omit one. It is
// never expired, so a client that ignores sessions entirely keeps one
// process-lifetime memory.
const DefaultSessionID = "default"

const (
	SessionCreated = "created"
	SessionExpired = "expired"
)

// SessionEvent reports a registry lifecycle change.
type SessionEvent struct {
	SessionID string
	Kind      string
}

type sessionEntry struct {
	mem      ConversationMemory
	lastSeen time.Time
}

// Registry keys conversation memories by session identifier. Each session
// owns its own memory and lock, so summarization in one session never
// stalls another. Idle sessions are dropped by the janitor.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	strategy string
	client   llm.Client
	ttl      time.Duration
	sessions map[string]*sessionEntry

	onSession  func(SessionEvent)
	onEviction func(sessionID string, ev EvictionEvent)
}

func NewRegistry(strategy string, cfg Config, client llm.Client, ttl time.Duration) (*Registry, error) {
	if _, err := NewConversationMemory(strategy, cfg, client); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		strategy: strategy,
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*sessionEntry),
	}, nil
}

// SetSessionHook registers a callback fired outside the registry lock for
// every session created or expired.
func (r *Registry) SetSessionHook(hook func(SessionEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSession = hook
}

// SetEvictionHook registers a callback fired for every eviction event in
// sessions created after this call.
func (r *Registry) SetEvictionHook(hook func(sessionID string, ev EvictionEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEviction = hook
}

// Session returns the memory for sessionID, creating it on first use.
// An empty sessionID maps to DefaultSessionID. The returned identifier is
// the canonical one.
func (r *Registry) Session(sessionID string) (ConversationMemory, string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		id = DefaultSessionID
	}

	r.mu.Lock()
	if entry, ok := r.sessions[id]; ok {
		entry.lastSeen = time.Now().UTC()
		r.mu.Unlock()
		return entry.mem, id, nil
	}

	mem, err := NewConversationMemory(r.strategy, r.cfg, r.client)
	if err != nil {
		r.mu.Unlock()
		return nil, "", err
	}
	if notifier, ok := mem.(EvictionNotifier); ok && r.onEviction != nil {
		evictHook := r.onEviction
		sid := id
		notifier.SetEvictionHook(func(ev EvictionEvent) { evictHook(sid, ev) })
	}
	r.sessions[id] = &sessionEntry{mem: mem, lastSeen: time.Now().UTC()}
	hook := r.onSession
	r.mu.Unlock()

	if hook != nil {
		hook(SessionEvent{SessionID: id, Kind: SessionCreated})
	}
	return mem, id, nil
}

// ActiveCount reports how many sessions currently hold a memory.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartJanitor expires idle sessions until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()
	var expired []string

	r.mu.Lock()
	for id, entry := range r.sessions {
		if id == DefaultSessionID {
			continue
		}
		if now.Sub(entry.lastSeen) < r.ttl {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, id)
	}
	hook := r.onSession
	r.mu.Unlock()

	if hook != nil {
		for _, id := range expired {
			hook(SessionEvent{SessionID: id, Kind: SessionExpired})
		}
	}
}
