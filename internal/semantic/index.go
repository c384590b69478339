package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Match is one recalled turn with its cosine similarity to the query.
type Match struct {
	Sequence   int64   `json:"sequence"`
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
}

// Index keeps an embedded vector collection per session so evicted and
// archived turns stay searchable after they leave the live window.
type Index struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewIndex(embedder Embedder) *Index {
	return &Index{
		db:          chromem.NewDB(),
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}
}

func (ix *Index) collection(sessionID string) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[sessionID]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[sessionID]; ok {
		return col, nil
	}

	col, err := ix.db.CreateCollection(collectionName(sessionID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.collections[sessionID] = col
	return col, nil
}

// IndexTurn embeds and stores one completed exchange.
func (ix *Index) IndexTurn(ctx context.Context, sessionID string, sequence int64, userText, assistantText string) error {
	col, err := ix.collection(sessionID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("User: %s\nAssistant: %s", userText, assistantText)
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed turn: %w", err)
	}

	doc := chromem.Document{
		ID:        fmt.Sprintf("%s-%d", sessionID, sequence),
		Content:   text,
		Embedding: vec,
		Metadata: map[string]string{
			"session_id": sessionID,
			"sequence":   strconv.FormatInt(sequence, 10),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns up to limit turns most similar to the query, best first.
func (ix *Index) Search(ctx context.Context, sessionID, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	col, err := ix.collection(sessionID)
	if err != nil {
		return nil, err
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// chromem rejects nResults above the collection size; shrink until it
	// accepts or the collection turns out to be empty.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, vec, n, nil, nil)
		if err == nil {
			break
		}
		if isTooFewDocsError(err) {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("query collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		seq, _ := strconv.ParseInt(r.Metadata["sequence"], 10, 64)
		matches = append(matches, Match{
			Sequence:   seq,
			Text:       r.Content,
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

// DropSession discards a session's collection, if any.
func (ix *Index) DropSession(sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.collections[sessionID]; !ok {
		return
	}
	delete(ix.collections, sessionID)
	_ = ix.db.DeleteCollection(collectionName(sessionID))
}

func collectionName(sessionID string) string {
	return "session_" + sessionID
}

func isTooFewDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
