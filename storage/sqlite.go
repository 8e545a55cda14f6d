// SQLite run storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interfaces
// - Schema details encapsulated and created on Initialize
// - Timestamps stored as unix milliseconds

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/relay/model"
)

// SqliteStorage implements CheckpointStore, RetentionRecorder and DocumentStore.
// Thread-safe: sql.DB handles connection pooling and each write is a single
// statement or transaction.
type SqliteStorage struct {
	db    *sql.DB
	opts  options
	ready atomic.Bool
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist. Call Initialize before use.
func OpenSqlite(path string, opts ...Option) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SqliteStorage{db: db, opts: buildOptions(opts)}, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory(opts ...Option) (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	return &SqliteStorage{db: db, opts: buildOptions(opts)}, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

// Initialize creates the schema. Safe to call any number of times.
func (s *SqliteStorage) Initialize(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	if err := s.createSchema(ctx); err != nil {
		return err
	}
	s.ready.Store(true)
	return nil
}

func (s *SqliteStorage) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT PRIMARY KEY,
			user_id TEXT,
			step TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_updated
		ON checkpoints(updated_at DESC);

		CREATE TABLE IF NOT EXISTS retention (
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			data_category TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, data_category)
		);

		CREATE INDEX IF NOT EXISTS idx_retention_expires
		ON retention(expires_at);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PutCheckpoint upserts a checkpoint in one statement.
func (s *SqliteStorage) PutCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint run id is empty")
	}
	now := s.opts.now()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}

	var userID any
	if cp.UserID != "" {
		userID = cp.UserID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, user_id, step, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			user_id = COALESCE(checkpoints.user_id, excluded.user_id),
			step = excluded.step,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		cp.RunID, userID, cp.Step, string(cp.StateJSON), cp.CreatedAt.UnixMilli(), cp.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns nil, nil if not found.
func (s *SqliteStorage) GetCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, user_id, step, state, created_at, updated_at
		FROM checkpoints WHERE run_id = ?`, runID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes a checkpoint.
func (s *SqliteStorage) DeleteCheckpoint(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints lists checkpoints, most recently updated first.
func (s *SqliteStorage) ListCheckpoints(ctx context.Context, limit int) ([]model.Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, user_id, step, state, created_at, updated_at
		FROM checkpoints
		ORDER BY updated_at DESC, run_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []model.Checkpoint{} // Start with empty slice, not nil
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (model.Checkpoint, error) {
	var cp model.Checkpoint
	var userID sql.NullString
	var state string
	var created, updated int64
	if err := row.Scan(&cp.RunID, &userID, &cp.Step, &state, &created, &updated); err != nil {
		return model.Checkpoint{}, err
	}
	cp.UserID = userID.String
	cp.StateJSON = []byte(state)
	cp.CreatedAt = time.UnixMilli(created)
	cp.UpdatedAt = time.UnixMilli(updated)
	return cp, nil
}

// Register records retention for (runID, category) once.
func (s *SqliteStorage) Register(ctx context.Context, runID, userID, category string) error {
	created := s.opts.now()
	expires := s.opts.policy.ExpiresAt(category, created)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO retention (run_id, user_id, data_category, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, userID, category, created.UnixMilli(), expires.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to register retention: %w", err)
	}
	return nil
}

// RetentionRecords returns the records for a run.
func (s *SqliteStorage) RetentionRecords(ctx context.Context, runID string) ([]model.RetentionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, user_id, data_category, created_at, expires_at
		FROM retention WHERE run_id = ?
		ORDER BY data_category`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query retention: %w", err)
	}
	defer rows.Close()

	records := []model.RetentionRecord{}
	for rows.Next() {
		var r model.RetentionRecord
		var created, expires int64
		if err := rows.Scan(&r.RunID, &r.UserID, &r.DataCategory, &created, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan retention record: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		r.ExpiresAt = time.UnixMilli(expires)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retention records: %w", err)
	}
	return records, nil
}

// PurgeExpired deletes retention records that expired at or before now,
// together with the checkpoints of runs whose chat history expired.
// Returns the number of retention records removed.
func (s *SqliteStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	cutoff := now.UnixMilli()
	_, err = tx.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE run_id IN (
			SELECT run_id FROM retention WHERE data_category = ? AND expires_at <= ?
		)`, model.CategoryChatHistory, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge checkpoints: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM retention WHERE expires_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge retention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

// StoreDocument inserts or replaces a document. A missing ID is generated.
func (s *SqliteStorage) StoreDocument(ctx context.Context, doc model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, source, content, created_at)
		VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Source, doc.Content, s.opts.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// SearchDocuments returns up to limit documents matching words of query,
// ranked by the share of words they contain.
func (s *SqliteStorage) SearchDocuments(ctx context.Context, query string, limit int) ([]model.Document, error) {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return []model.Document{}, nil
	}

	clauses := make([]string, len(terms))
	args := make([]any, len(terms))
	for i, t := range terms {
		clauses[i] = "content LIKE ?"
		args[i] = "%" + t + "%"
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source, content FROM documents WHERE "+strings.Join(clauses, " OR "),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var candidates []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Source, &d.Content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		candidates = append(candidates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return rankDocuments(candidates, terms, limit), nil
}

// Verify SqliteStorage implements all interfaces
var _ CheckpointStore = (*SqliteStorage)(nil)
var _ RetentionRecorder = (*SqliteStorage)(nil)
var _ DocumentStore = (*SqliteStorage)(nil)
