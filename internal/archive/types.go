package archive

import (
	"context"
	"time"
)

// ArchivedTurn stores one completed user/assistant exchange. The archive
// is an append-only audit log; the live conversation window never reads
// from it.
type ArchivedTurn struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Sequence      int64     `json:"sequence"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists and retrieves archived turns. RecentTurns returns the
// latest turns in ascending sequence order.
type Store interface {
	SaveTurn(ctx context.Context, turn ArchivedTurn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]ArchivedTurn, error)
	Ping(ctx context.Context) error
	Mode() string
	Close() error
}
