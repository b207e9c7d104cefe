package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/llm-chess-arena/internal/arena"
)

// PGArchive upserts finished matches into postgres.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS arena_matches (
//	    match_id    TEXT PRIMARY KEY,
//	    white_id    TEXT NOT NULL,
//	    black_id    TEXT NOT NULL,
//	    result      TEXT NOT NULL,
//	    termination TEXT NOT NULL,
//	    moves_uci   JSONB NOT NULL,
//	    moves_san   JSONB NOT NULL,
//	    pgn         TEXT NOT NULL,
//	    started_at  TIMESTAMPTZ NOT NULL,
//	    ended_at    TIMESTAMPTZ NOT NULL,
//	    duration_ms BIGINT NOT NULL
//	);
type PGArchive struct {
	db *sql.DB
}

func NewPGArchive(databaseURL string) (*PGArchive, error) {
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
	return &PGArchive{db: db}, nil
}

func (a *PGArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *PGArchive) AppendMatch(ctx context.Context, rec *arena.ArchiveRecord) error {
	if rec == nil {
		return nil
	}
	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_matches (
	        match_id, white_id, black_id, result, termination,
	        moves_uci, moves_san, pgn, started_at, ended_at, duration_ms
	      ) VALUES (
	        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	      ) ON CONFLICT (match_id) DO UPDATE SET
	        result=EXCLUDED.result,
	        termination=EXCLUDED.termination,
	        moves_uci=EXCLUDED.moves_uci,
	        moves_san=EXCLUDED.moves_san,
	        pgn=EXCLUDED.pgn,
	        ended_at=EXCLUDED.ended_at,
	        duration_ms=EXCLUDED.duration_ms`

	_, err := a.db.ExecContext(ctx, q,
		rec.ID, rec.White, rec.Black, string(rec.Result), rec.Termination,
		string(movesUCIRaw), string(movesSANRaw), BuildPGN(rec),
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}
