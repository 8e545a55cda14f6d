// In-memory run storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interfaces
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/richinex/relay/internal/dsa"
	"github.com/richinex/relay/model"
)

type retentionKey struct {
	runID    string
	category string
}

// InMemoryStorage implements CheckpointStore, RetentionRecorder and
// DocumentStore using maps. Data is lost when the process terminates.
type InMemoryStorage struct {
	mu          sync.RWMutex
	opts        options
	checkpoints map[string]model.Checkpoint
	retention   map[retentionKey]model.RetentionRecord
	documents   map[string]model.Document
	index       *dsa.SubstringIndex
	// digests holds the content hash each indexed document was built from.
	digests map[string]uint64
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage(opts ...Option) *InMemoryStorage {
	return &InMemoryStorage{
		opts:        buildOptions(opts),
		checkpoints: make(map[string]model.Checkpoint),
		retention:   make(map[retentionKey]model.RetentionRecord),
		documents:   make(map[string]model.Document),
		index:       dsa.NewSubstringIndex(),
		digests:     make(map[string]uint64),
	}
}

// Initialize is a no-op; maps are ready at construction.
func (s *InMemoryStorage) Initialize(ctx context.Context) error {
	return nil
}

// PutCheckpoint upserts a checkpoint.
func (s *InMemoryStorage) PutCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint run id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.opts.now()
	}
	cp.StateJSON = append([]byte(nil), cp.StateJSON...)
	if prev, ok := s.checkpoints[cp.RunID]; ok {
		cp.CreatedAt = prev.CreatedAt
		if prev.UserID != "" {
			cp.UserID = prev.UserID
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.checkpoints[cp.RunID] = cp
	return nil
}

// GetCheckpoint returns nil, nil if not found.
func (s *InMemoryStorage) GetCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid external mutations
	cp.StateJSON = append([]byte(nil), cp.StateJSON...)
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint.
func (s *InMemoryStorage) DeleteCheckpoint(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, runID)
	return nil
}

// ListCheckpoints lists checkpoints, most recently updated first.
func (s *InMemoryStorage) ListCheckpoints(ctx context.Context, limit int) ([]model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		cp.StateJSON = append([]byte(nil), cp.StateJSON...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Register records retention for (runID, category) once.
func (s *InMemoryStorage) Register(ctx context.Context, runID, userID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := retentionKey{runID: runID, category: category}
	if _, ok := s.retention[key]; ok {
		return nil
	}
	created := s.opts.now()
	s.retention[key] = model.RetentionRecord{
		RunID:        runID,
		UserID:       userID,
		DataCategory: category,
		CreatedAt:    created,
		ExpiresAt:    s.opts.policy.ExpiresAt(category, created),
	}
	return nil
}

// RetentionRecords returns the records for a run.
func (s *InMemoryStorage) RetentionRecords(ctx context.Context, runID string) ([]model.RetentionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []model.RetentionRecord{}
	for key, r := range s.retention {
		if key.runID == runID {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DataCategory < records[j].DataCategory })
	return records, nil
}

// PurgeExpired mirrors SqliteStorage.PurgeExpired.
func (s *InMemoryStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, r := range s.retention {
		if r.ExpiresAt.After(now) {
			continue
		}
		if key.category == model.CategoryChatHistory {
			delete(s.checkpoints, key.runID)
		}
		delete(s.retention, key)
		n++
	}
	return n, nil
}

// StoreDocument inserts or replaces a document. A missing ID is generated.
func (s *InMemoryStorage) StoreDocument(ctx context.Context, doc model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.Score = 0
	s.documents[doc.ID] = doc
	digest := xxhash.Sum64String(doc.Content)
	if d, ok := s.digests[doc.ID]; !ok || d != digest {
		s.index.Add(doc.ID, contentWords(doc.Content))
		s.digests[doc.ID] = digest
	}
	return nil
}

// SearchDocuments ranks the documents containing any word of query.
func (s *InMemoryStorage) SearchDocuments(ctx context.Context, query string, limit int) ([]model.Document, error) {
	terms := searchTerms(query)

	s.mu.RLock()
	seen := make(map[string]bool)
	var docs []model.Document
	for _, t := range terms {
		for _, id := range s.index.Lookup(t) {
			if !seen[id] {
				seen[id] = true
				docs = append(docs, s.documents[id])
			}
		}
	}
	s.mu.RUnlock()

	return rankDocuments(docs, terms, limit), nil
}

// Verify InMemoryStorage implements all interfaces
var _ CheckpointStore = (*InMemoryStorage)(nil)
var _ RetentionRecorder = (*InMemoryStorage)(nil)
var _ DocumentStore = (*InMemoryStorage)(nil)
