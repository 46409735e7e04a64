// Package eventlog persists marketplace events to an append-only SQLite table
// so indexers can page through them by sequence.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"nftmarket/core/events"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Record is a stored event.
type Record struct {
	Sequence   int64             `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Store is an events.Emitter backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates or opens the event log at path. ":memory:" is accepted for
// tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps sequence assignment ordered and lets
	// ":memory:" databases survive across calls.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS marketplace_events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS marketplace_events_type ON marketplace_events(type);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed the state change the event describes.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt); err != nil {
		s.logger.Error("event log append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt and returns the assigned record.
func (s *Store) Append(ctx context.Context, evt events.Event) (Record, error) {
	payload := events.ToTypes(evt)
	if payload == nil {
		return Record{}, errors.New("eventlog: nil event")
	}
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: encode attributes: %w", err)
	}
	rec := Record{
		ID:         uuid.NewString(),
		Type:       payload.Type,
		Attributes: attrs,
		CreatedAt:  s.now(),
	}
	const stmt = `INSERT INTO marketplace_events(id, type, attributes, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, rec.ID, rec.Type, string(encoded), rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Sequence, err = res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns up to limit records with a sequence greater than after, in
// sequence order. A non-positive limit uses the default page size.
func (s *Store) List(ctx context.Context, after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	const query = `SELECT sequence, id, type, attributes, created_at FROM marketplace_events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec   Record
			attrs string
		)
		if err := rows.Scan(&rec.Sequence, &rec.ID, &rec.Type, &attrs, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode attributes of %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastSequence returns the highest stored sequence, or zero for an empty log.
func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(sequence), 0) FROM marketplace_events`
	var seq int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return seq, nil
}
