package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/obslog"
)

// FSArchive writes one timestamped PGN file per completed match.
type FSArchive struct {
	dir string
}

func NewFSArchive(dir string) (*FSArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgn dir: %w", err)
	}
	return &FSArchive{dir: dir}, nil
}

func (a *FSArchive) AppendMatch(ctx context.Context, rec *arena.ArchiveRecord) error {
	if rec == nil {
		return nil
	}
	name := fmt.Sprintf("%d_%s_vs_%s.pgn", time.Now().UnixNano(), safeName(rec.White), safeName(rec.Black))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, []byte(BuildPGN(rec)), 0o644); err != nil {
		return fmt.Errorf("write pgn: %w", err)
	}
	obslog.L().Info("archive_pgn_write",
		zap.String("match_id", rec.ID),
		zap.String("path", path),
	)
	return nil
}
