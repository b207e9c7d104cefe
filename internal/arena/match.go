// Package arena drives adversarial matches between two fallible actors: the
// per-ply move negotiation protocol and the turn-driven match state machine
// with exactly-once persistence and rating side effects.
package arena

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/ratings"
	"github.com/kapu/llm-chess-arena/internal/rules"
	"github.com/kapu/llm-chess-arena/pkg/arenadto"
)

// ArchiveRecord is the structured summary handed to the persistence
// collaborator when a match completes.
type ArchiveRecord struct {
	ID          string
	Round       int
	White       string
	Black       string
	Result      Result
	Termination string
	MovesUCI    []string
	MovesSAN    []string
	StartedAt   time.Time
	EndedAt     time.Time
}

// MatchArchiver persists completed matches.
type MatchArchiver interface {
	AppendMatch(ctx context.Context, rec *ArchiveRecord) error
}

// RatingsApplier forwards one completed match to the ratings engine.
type RatingsApplier interface {
	ApplyResult(ctx context.Context, in ratings.MatchResult) error
}

// Config bounds one match.
type Config struct {
	Retries      int // negotiation retry budget per ply
	MaxFullmoves int // forced-draw adjudication limit
	Round        int // PGN round number
}

func (c Config) withDefaults() Config {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.MaxFullmoves <= 0 {
		c.MaxFullmoves = 200
	}
	if c.Round <= 0 {
		c.Round = 1
	}
	return c
}

// Match is the per-game state machine. It is not safe for concurrent use;
// the serving layer serializes writers.
type Match struct {
	ID  string
	cfg Config

	game  *rules.Game
	white *seat
	black *seat
	neg   *negotiator

	records     []MoveRecord
	status      Status
	result      Result
	termination string
	startedAt   time.Time
	endedAt     time.Time

	finalized bool
	archive   MatchArchiver
	ratings   RatingsApplier
}

// NewMatch seeds both transcripts with the system prompt and starts in
// ACTIVE. archive and ratingsApplier may be nil.
func NewMatch(whiteID string, whiteActor actor.Actor, blackID string, blackActor actor.Actor, prompts *prompt.Catalog, archive MatchArchiver, ratingsApplier RatingsApplier, cfg Config) (*Match, error) {
	whiteID = strings.TrimSpace(whiteID)
	blackID = strings.TrimSpace(blackID)
	if whiteID == "" || blackID == "" {
		return nil, fmt.Errorf("both actor identities are required")
	}
	if whiteActor == nil || blackActor == nil {
		return nil, fmt.Errorf("both actors are required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt catalog is required")
	}
	cfg = cfg.withDefaults()

	system, err := prompts.Render("system", nil)
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	m := &Match{
		ID:        "match-" + uuid.NewString(),
		cfg:       cfg,
		game:      rules.NewGame(),
		neg:       &negotiator{retries: cfg.Retries, prompts: prompts},
		status:    StatusActive,
		result:    ResultUndetermined,
		startedAt: time.Now(),
		archive:   archive,
		ratings:   ratingsApplier,
	}
	m.white = &seat{
		identity:   whiteID,
		actor:      whiteActor,
		color:      rules.White,
		transcript: []actor.Message{{Role: actor.RoleSystem, Content: system}},
	}
	m.black = &seat{
		identity:   blackID,
		actor:      blackActor,
		color:      rules.Black,
		transcript: []actor.Message{{Role: actor.RoleSystem, Content: system}},
	}

	obslog.L().Info("match_start",
		zap.String("match_id", m.ID),
		zap.String("white", whiteID),
		zap.String("black", blackID),
		zap.Int("retries", cfg.Retries),
		zap.Int("max_fullmoves", cfg.MaxFullmoves),
	)
	return m, nil
}

// Step advances the match by exactly one ply. Once terminal, further calls
// are pure reads returning the same terminal summary.
func (m *Match) Step(ctx context.Context) (*PlyOutcome, error) {
	if m.status.Terminal() {
		return m.terminalOutcome(), nil
	}

	side := m.game.Turn()
	s := m.seatFor(side)

	prop, fail := m.neg.nextMove(ctx, m.game, s)
	if fail != nil {
		s.spent += fail.Latency
		s.cost += fail.Cost
		m.terminate(ctx, StatusResigned, winFor(side.Opponent()), string(fail.Reason))
		return m.terminalOutcome(), nil
	}

	s.spent += prop.Latency
	s.cost += prop.Cost

	switch prop.Sentinel {
	case SentinelResign:
		m.appendRecord(side, "", "", prop)
		m.terminate(ctx, StatusResigned, winFor(side.Opponent()), TerminationResignation)
		return m.terminalOutcome(), nil
	case SentinelPass:
		// negotiation only admits pass under a confirmed stalemate
		m.appendRecord(side, "", "", prop)
		m.terminate(ctx, StatusStalemate, ResultDraw, "stalemate")
		return m.terminalOutcome(), nil
	}

	fenBefore := m.game.FEN()
	san, err := m.game.Push(prop.MoveUCI)
	if err != nil {
		// negotiation validated legality against this same position, so a
		// rejection here is an infrastructure fault, not a game outcome
		return nil, fmt.Errorf("apply negotiated move: %w", err)
	}
	s.plies++
	rec := m.appendRecordFEN(side, fenBefore, prop.MoveUCI, san, prop)

	obslog.L().Info("match_move",
		zap.String("match_id", m.ID),
		zap.String("side", string(side)),
		zap.Int("ply", rec.Ply),
		zap.String("uci", prop.MoveUCI),
		zap.String("san", san),
		zap.Float64("cost", prop.Cost),
		zap.Duration("latency", prop.Latency),
	)

	if result, reason, over := m.game.Terminal(); over {
		m.terminate(ctx, statusForReason(reason), Result(result), reason)
		return m.stepOutcome(rec), nil
	}
	if m.game.PlyCount()%2 == 0 && m.game.FullmoveNumber() > m.cfg.MaxFullmoves {
		m.terminate(ctx, StatusMoveLimit, ResultDraw, TerminationMoveLimit)
		return m.stepOutcome(rec), nil
	}
	return m.stepOutcome(rec), nil
}

// Play runs the match to completion. An unexpected orchestration error
// marks the match FAILED without rating side effects.
func (m *Match) Play(ctx context.Context) (*PlyOutcome, error) {
	for !m.status.Terminal() {
		if _, err := m.Step(ctx); err != nil {
			m.MarkFailed(err.Error())
			return m.terminalOutcome(), err
		}
	}
	return m.terminalOutcome(), nil
}

// MarkFailed records an infrastructure fault: terminal, undetermined result,
// never forwarded to the ratings engine.
func (m *Match) MarkFailed(detail string) {
	if m.status.Terminal() {
		return
	}
	m.status = StatusFailed
	m.result = ResultUndetermined
	m.termination = detail
	m.endedAt = time.Now()
	m.finalized = true // no side effects for failed matches
	obslog.L().Error("match_failed",
		zap.String("match_id", m.ID),
		zap.String("detail", detail),
	)
}

// Status returns the current lifecycle state.
func (m *Match) Status() Status { return m.status }

// Summary returns the terminal summary, or the current state when active.
func (m *Match) Summary() *PlyOutcome { return m.terminalOutcome() }

func (m *Match) seatFor(c rules.Color) *seat {
	if c == rules.White {
		return m.white
	}
	return m.black
}

func winFor(c rules.Color) Result {
	if c == rules.White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

func statusForReason(reason string) Status {
	switch reason {
	case "checkmate":
		return StatusCheckmate
	case "stalemate":
		return StatusStalemate
	default:
		return StatusDrawnByRule
	}
}

func (m *Match) appendRecord(side rules.Color, uci, san string, prop *Proposal) *MoveRecord {
	return m.appendRecordFEN(side, m.game.FEN(), uci, san, prop)
}

func (m *Match) appendRecordFEN(side rules.Color, fenBefore, uci, san string, prop *Proposal) *MoveRecord {
	m.records = append(m.records, MoveRecord{
		Ply:       len(m.records) + 1,
		Side:      side,
		FENBefore: fenBefore,
		MoveUCI:   uci,
		MoveSAN:   san,
		Sentinel:  prop.Sentinel,
		Rationale: prop.Rationale,
		Cost:      prop.Cost,
		Latency:   prop.Latency,
	})
	return &m.records[len(m.records)-1]
}

// terminate moves the state machine into a terminal state and fires the
// persistence and rating side effects exactly once.
func (m *Match) terminate(ctx context.Context, status Status, result Result, reason string) {
	if m.status.Terminal() {
		return
	}
	m.status = status
	m.result = result
	m.termination = reason
	m.endedAt = time.Now()
	m.finalize(ctx)
}

func (m *Match) finalize(ctx context.Context) {
	if m.finalized {
		return
	}
	m.finalized = true

	if m.archive != nil {
		rec := &ArchiveRecord{
			ID:          m.ID,
			Round:       m.cfg.Round,
			White:       m.white.identity,
			Black:       m.black.identity,
			Result:      m.result,
			Termination: m.termination,
			MovesUCI:    m.game.MovesUCI(),
			MovesSAN:    m.game.MovesSAN(),
			StartedAt:   m.startedAt,
			EndedAt:     m.endedAt,
		}
		if err := m.archive.AppendMatch(ctx, rec); err != nil {
			obslog.L().Error("match_archive_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}

	if m.ratings != nil {
		err := m.ratings.ApplyResult(ctx, ratings.MatchResult{
			White:       m.white.identity,
			Black:       m.black.identity,
			Result:      string(m.result),
			WhitePlies:  m.white.plies,
			BlackPlies:  m.black.plies,
			WhiteTime:   m.white.spent.Seconds(),
			BlackTime:   m.black.spent.Seconds(),
			WhiteCost:   m.white.cost,
			BlackCost:   m.black.cost,
			Termination: m.termination,
		})
		if err != nil {
			obslog.L().Error("match_ratings_error", zap.String("match_id", m.ID), zap.Error(err))
		}
	}

	obslog.L().Info("match_final",
		zap.String("match_id", m.ID),
		zap.String("status", string(m.status)),
		zap.String("result", string(m.result)),
		zap.String("termination", m.termination),
		zap.Int("plies", m.game.PlyCount()),
	)
}

func (m *Match) terminalOutcome() *PlyOutcome {
	return &PlyOutcome{
		Terminal:    m.status.Terminal(),
		Status:      m.status,
		Result:      m.result,
		Termination: m.termination,
	}
}

func (m *Match) stepOutcome(rec *MoveRecord) *PlyOutcome {
	out := m.terminalOutcome()
	copied := *rec
	out.Record = &copied
	return out
}

// Snapshot builds an immutable read-side copy of the whole match state.
// Must be called by the (single) writer only; readers consume published
// snapshots.
func (m *Match) Snapshot() *arenadto.MatchSnapshot {
	records := make([]arenadto.MoveRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, arenadto.MoveRecord{
			Ply:       r.Ply,
			Side:      string(r.Side),
			FENBefore: r.FENBefore,
			MoveUCI:   r.MoveUCI,
			MoveSAN:   r.MoveSAN,
			Sentinel:  r.Sentinel,
			Rationale: r.Rationale,
			Cost:      r.Cost,
			TimeSec:   r.Latency.Seconds(),
		})
	}
	updated := m.endedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return &arenadto.MatchSnapshot{
		ID: m.ID,
		White: arenadto.SideStats{
			Identity: m.white.identity,
			Plies:    m.white.plies,
			TimeSec:  m.white.spent.Seconds(),
			Cost:     m.white.cost,
		},
		Black: arenadto.SideStats{
			Identity: m.black.identity,
			Plies:    m.black.plies,
			TimeSec:  m.black.spent.Seconds(),
			Cost:     m.black.cost,
		},
		FEN:         m.game.FEN(),
		Board:       m.game.ASCII(),
		Turn:        string(m.game.Turn()),
		MovesUCI:    m.game.MovesUCI(),
		MovesSAN:    m.game.MovesSAN(),
		LastMove:    m.game.LastMoveUCI(),
		PlyCount:    m.game.PlyCount(),
		Status:      string(m.status),
		Result:      string(m.result),
		Termination: m.termination,
		Records:     records,
		StartedAt:   m.startedAt,
		UpdatedAt:   updated,
	}
}
