// Package archive persists completed matches: a PGN rendering plus the
// structured summary, either to a local directory or to postgres.
package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/kapu/llm-chess-arena/internal/arena"
)

// BuildPGN renders the archive record as a PGN document with the arena
// headers.
func BuildPGN(rec *arena.ArchiveRecord) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	round := rec.Round
	if round < 1 {
		round = 1
	}
	b.WriteString("[Event \"LLM Chess Arena\"]\n")
	b.WriteString("[Site \"Local\"]\n")
	fmt.Fprintf(&b, "[Round \"%d\"]\n", round)
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(rec.White))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(rec.Black))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	if strings.TrimSpace(rec.Termination) != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(rec.Termination))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", rec.Result)

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(rec.MovesSAN[i]))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(string(rec.Result))
	b.WriteString("\n")
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func safeName(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
}
