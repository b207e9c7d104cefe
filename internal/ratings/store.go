package ratings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Store persists the full ratings table. Save replaces the stored table
// with the given one.
type Store interface {
	Load(ctx context.Context) (map[string]*Entry, error)
	Save(ctx context.Context, entries map[string]*Entry) error
}

// MemoryStore keeps the table in process memory; used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*Entry{}}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Entry, len(s.entries))
	for id, e := range s.entries {
		copied := *e
		copied.WinReasons = copyCounts(e.WinReasons)
		copied.LossReasons = copyCounts(e.LossReasons)
		out[id] = &copied
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, entries map[string]*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Entry, len(entries))
	for id, e := range entries {
		copied := *e
		copied.WinReasons = copyCounts(e.WinReasons)
		copied.LossReasons = copyCounts(e.LossReasons)
		out[id] = &copied
	}
	s.entries = out
	return nil
}

// PGStore persists one row per identity in postgres.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS arena_ratings (
//	    player_id  TEXT PRIMARY KEY,
//	    entry      JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PGStore struct {
	db *sql.DB
}

func NewPGStore(databaseURL string) (*PGStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGStore) Load(ctx context.Context) (map[string]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_id, entry FROM arena_ratings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := map[string]*Entry{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode entry for %s: %w", id, err)
		}
		entries[id] = &e
	}
	return entries, rows.Err()
}

func (s *PGStore) Save(ctx context.Context, entries map[string]*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := `INSERT INTO arena_ratings (player_id, entry, updated_at)
	      VALUES ($1, $2, now())
	      ON CONFLICT (player_id) DO UPDATE SET entry=EXCLUDED.entry, updated_at=now()`
	for id, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, id, raw); err != nil {
			return err
		}
	}
	return tx.Commit()
}
