// Package storage provides run persistence: checkpoints, retention records and
// the document corpus used for context retrieval.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each implementation serializes its own writes

package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/richinex/relay/model"
)

// CheckpointStore persists one full-state snapshot per run.
type CheckpointStore interface {
	// Initialize prepares the store. It is idempotent and must be called
	// before any other method.
	Initialize(ctx context.Context) error

	// PutCheckpoint upserts the checkpoint for cp.RunID atomically. The
	// original CreatedAt and a previously recorded UserID are preserved.
	PutCheckpoint(ctx context.Context, cp model.Checkpoint) error

	// GetCheckpoint returns nil, nil when no checkpoint exists for runID.
	GetCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint for runID, if any.
	DeleteCheckpoint(ctx context.Context, runID string) error

	// ListCheckpoints returns the most recently updated checkpoints first.
	ListCheckpoints(ctx context.Context, limit int) ([]model.Checkpoint, error)
}

// RetentionRecorder notes which data categories exist for a run.
type RetentionRecorder interface {
	// Initialize prepares the recorder. It is idempotent.
	Initialize(ctx context.Context) error

	// Register records (runID, category) once; repeated calls are no-ops.
	Register(ctx context.Context, runID, userID, category string) error
}

// DocumentStore holds the corpus searched when a run asks for extra context.
type DocumentStore interface {
	StoreDocument(ctx context.Context, doc model.Document) error
	SearchDocuments(ctx context.Context, query string, limit int) ([]model.Document, error)
}

// RetentionPolicy maps data categories to how long their records live.
type RetentionPolicy struct {
	TTL     map[string]time.Duration
	Default time.Duration
}

// DefaultRetentionPolicy keeps every category for 30 days.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		TTL:     map[string]time.Duration{model.CategoryChatHistory: 30 * 24 * time.Hour},
		Default: 30 * 24 * time.Hour,
	}
}

// ExpiresAt returns when a record of category created at created expires.
func (p RetentionPolicy) ExpiresAt(category string, created time.Time) time.Time {
	ttl, ok := p.TTL[category]
	if !ok {
		ttl = p.Default
	}
	return created.Add(ttl)
}

// Option configures a store.
type Option func(*options)

type options struct {
	policy RetentionPolicy
	now    func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{policy: DefaultRetentionPolicy(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetentionPolicy sets the policy used to compute ExpiresAt.
func WithRetentionPolicy(p RetentionPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

const maxSearchTerms = 8

// contentWords splits text into lowercase words. A search term can only
// match inside a single word.
func contentWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || r == '-' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > 127)
	})
}

// searchTerms splits a query into distinct lowercase words of three or more runes.
func searchTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range contentWords(query) {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}

// rankDocuments scores docs by the share of terms each contains, drops
// non-matches and returns at most limit results, best first.
func rankDocuments(docs []model.Document, terms []string, limit int) []model.Document {
	if len(terms) == 0 || limit <= 0 {
		return []model.Document{}
	}
	ranked := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		content := strings.ToLower(d.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		d.Score = float64(hits) / float64(len(terms))
		ranked = append(ranked, d)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
