// Package ratings maintains Elo-style skill estimates and aggregate stats
// keyed by actor identity, applying one match result transactionally and
// persisting the full table after every applied result.
package ratings

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/obslog"
)

// TransportFailureTag guards the rating pool against matches where the
// losing actor never participated at all.
const TransportFailureTag = "EMPTY_RESPONSE"

// DefaultRating seeds identities on first reference.
const DefaultRating = 1200

// Entry is one identity's rating and aggregate bookkeeping.
type Entry struct {
	Rating      float64        `json:"rating"`
	Wins        int            `json:"wins"`
	Draws       int            `json:"draws"`
	Losses      int            `json:"losses"`
	Moves       int            `json:"moves"`
	Time        float64        `json:"time"`
	Cost        float64        `json:"cost"`
	WinReasons  map[string]int `json:"win_reasons"`
	LossReasons map[string]int `json:"loss_reasons"`
}

func (e *Entry) totalGames() int { return e.Wins + e.Draws + e.Losses }

func newEntry(rating float64) *Entry {
	return &Entry{
		Rating:      rating,
		WinReasons:  map[string]int{},
		LossReasons: map[string]int{},
	}
}

// MatchResult is one completed match as reported by the orchestrator.
// Result is a PGN token: "1-0", "0-1" or "1/2-1/2".
type MatchResult struct {
	White       string
	Black       string
	Result      string
	WhitePlies  int
	BlackPlies  int
	WhiteTime   float64
	BlackTime   float64
	WhiteCost   float64
	BlackCost   float64
	Termination string
}

// Table keeps ratings in memory and writes the whole table through the
// store synchronously after each applied result.
type Table struct {
	mu            sync.Mutex
	entries       map[string]*Entry
	store         Store
	defaultRating float64
}

// NewTable loads the persisted table from the store.
func NewTable(ctx context.Context, store Store, defaultRating float64) (*Table, error) {
	if store == nil {
		return nil, fmt.Errorf("ratings store is required")
	}
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	if entries == nil {
		entries = map[string]*Entry{}
	}
	for _, e := range entries {
		if e.WinReasons == nil {
			e.WinReasons = map[string]int{}
		}
		if e.LossReasons == nil {
			e.LossReasons = map[string]int{}
		}
	}
	return &Table{entries: entries, store: store, defaultRating: defaultRating}, nil
}

// Get returns the identity's current rating, seeding lazily is not needed
// for a pure read: unknown identities report the default.
func (t *Table) Get(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return e.Rating
	}
	return t.defaultRating
}

// Snapshot deep-copies the table for read-side serving.
func (t *Table) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.entries))
	for id, e := range t.entries {
		copied := *e
		copied.WinReasons = copyCounts(e.WinReasons)
		copied.LossReasons = copyCounts(e.LossReasons)
		out[id] = copied
	}
	return out
}

// ApplyResult applies one match result. Degenerate matches are guarded into
// no-ops: a transport failure with zero participation, or a total of at most
// one ply. K-factors are evaluated on each side's own prior completed-match
// count, before this match's counters are incremented.
func (t *Table) ApplyResult(ctx context.Context, in MatchResult) error {
	if in.Termination == TransportFailureTag {
		obslog.L().Info("ratings_skip",
			zap.String("white", in.White),
			zap.String("black", in.Black),
			zap.String("reason", "transport failure"),
		)
		return nil
	}
	if in.WhitePlies+in.BlackPlies <= 1 {
		obslog.L().Info("ratings_skip",
			zap.String("white", in.White),
			zap.String("black", in.Black),
			zap.String("reason", "aborted or too short"),
		)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	white := t.ensure(in.White)
	black := t.ensure(in.Black)

	// prior state, read before any counter moves
	whiteGames := white.totalGames()
	blackGames := black.totalGames()
	whiteRating := white.Rating
	blackRating := black.Rating

	var scoreWhite float64
	switch in.Result {
	case "1-0":
		scoreWhite = 1
		white.Wins++
		black.Losses++
		if in.Termination != "" {
			white.WinReasons[in.Termination]++
			black.LossReasons[in.Termination]++
		}
	case "0-1":
		scoreWhite = 0
		black.Wins++
		white.Losses++
		if in.Termination != "" {
			black.WinReasons[in.Termination]++
			white.LossReasons[in.Termination]++
		}
	default:
		scoreWhite = 0.5
		white.Draws++
		black.Draws++
	}

	white.Moves += in.WhitePlies
	white.Time += in.WhiteTime
	white.Cost += in.WhiteCost
	black.Moves += in.BlackPlies
	black.Time += in.BlackTime
	black.Cost += in.BlackCost

	kWhite := kFactor(whiteGames)
	kBlack := kFactor(blackGames)
	white.Rating = whiteRating + kWhite*(scoreWhite-expectedScore(whiteRating, blackRating))
	black.Rating = blackRating + kBlack*((1-scoreWhite)-expectedScore(blackRating, whiteRating))

	if err := t.store.Save(ctx, t.entries); err != nil {
		return fmt.Errorf("save ratings: %w", err)
	}

	obslog.L().Info("ratings_apply",
		zap.String("white", in.White),
		zap.String("black", in.Black),
		zap.String("result", in.Result),
		zap.String("termination", in.Termination),
		zap.Float64("k_white", kWhite),
		zap.Float64("k_black", kBlack),
		zap.Float64("white_rating", white.Rating),
		zap.Float64("black_rating", black.Rating),
	)
	return nil
}

// ensure seeds a missing identity at the default rating. Caller holds t.mu.
func (t *Table) ensure(id string) *Entry {
	if e, ok := t.entries[id]; ok {
		return e
	}
	e := newEntry(t.defaultRating)
	t.entries[id] = e
	return e
}

// kFactor steps the Elo sensitivity down as an identity accumulates
// completed matches.
func kFactor(totalGames int) float64 {
	switch {
	case totalGames < 2:
		return 128
	case totalGames < 5:
		return 64
	case totalGames < 10:
		return 32
	default:
		return 16
	}
}

// expectedScore is the classic Elo expectation of A against B.
func expectedScore(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Pow(10, (ratingB-ratingA)/400))
}

func copyCounts(src map[string]int) map[string]int {
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
