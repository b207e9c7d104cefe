package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kapu/llm-chess-arena/internal/arena"
)

func foolsMateRecord() *arena.ArchiveRecord {
	return &arena.ArchiveRecord{
		ID:          "match-test",
		Round:       3,
		White:       "vendor/model-a",
		Black:       "vendor/model-b",
		Result:      arena.ResultBlackWin,
		Termination: "checkmate",
		MovesUCI:    []string{"f2f3", "e7e5", "g2g4", "d8h4"},
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		StartedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		EndedAt:     time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC),
	}
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(foolsMateRecord())

	for _, want := range []string{
		`[Event "LLM Chess Arena"]`,
		`[Site "Local"]`,
		`[Round "3"]`,
		`[Date "2026.03.14"]`,
		`[White "vendor/model-a"]`,
		`[Black "vendor/model-b"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5 2. g4 Qh4#",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(pgn), "0-1") {
		t.Fatalf("pgn should end with the result token:\n%s", pgn)
	}
}

func TestBuildPGNOmitsEmptyTermination(t *testing.T) {
	rec := foolsMateRecord()
	rec.Termination = ""
	if strings.Contains(BuildPGN(rec), "[Termination") {
		t.Fatal("empty termination should not emit a header")
	}
}

func TestBuildPGNEscapesQuotes(t *testing.T) {
	rec := foolsMateRecord()
	rec.White = `evil"name`
	pgn := BuildPGN(rec)
	if !strings.Contains(pgn, `[White "evil'name"]`) {
		t.Fatalf("quote not sanitized:\n%s", pgn)
	}
}

func TestBuildPGNDefaultsRound(t *testing.T) {
	rec := foolsMateRecord()
	rec.Round = 0
	if !strings.Contains(BuildPGN(rec), `[Round "1"]`) {
		t.Fatal("unset round should default to 1")
	}
}

func TestBuildPGNNil(t *testing.T) {
	if BuildPGN(nil) != "" {
		t.Fatal("nil record should render empty")
	}
}

func TestFSArchiveWritesFile(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFSArchive(dir)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	if err := a.AppendMatch(context.Background(), foolsMateRecord()); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("file count = %d, want 1", len(entries))
	}

	name := entries[0].Name()
	if !strings.HasSuffix(name, ".pgn") {
		t.Fatalf("file name = %q, want .pgn suffix", name)
	}
	// slashes in model ids must not become path separators
	if !strings.Contains(name, "vendor-model-a_vs_vendor-model-b") {
		t.Fatalf("file name = %q", name)
	}

	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(raw), `[Event "LLM Chess Arena"]`) {
		t.Fatalf("file content:\n%s", raw)
	}
}
