package arena

import (
	"time"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/rules"
)

// Status is the match lifecycle state. Every state except ACTIVE is terminal.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusResigned    Status = "RESIGNED"
	StatusCheckmate   Status = "CHECKMATE"
	StatusStalemate   Status = "STALEMATE"
	StatusDrawnByRule Status = "DRAWN_BY_RULE"
	StatusMoveLimit   Status = "MOVE_LIMIT_EXCEEDED"
	StatusFailed      Status = "FAILED"
)

func (s Status) Terminal() bool { return s != StatusActive }

// Result is the PGN result token of a match.
type Result string

const (
	ResultWhiteWin     Result = rules.ResultWhiteWin
	ResultBlackWin     Result = rules.ResultBlackWin
	ResultDraw         Result = rules.ResultDraw
	ResultUndetermined Result = rules.ResultUndetermined
)

// FailReason tags one failed negotiation attempt, or the definitive failure
// after the retry budget is exhausted.
type FailReason string

const (
	ReasonEmptyResponse     FailReason = "EMPTY_RESPONSE"
	ReasonInvalidEncoding   FailReason = "INVALID_ENCODING"
	ReasonMissingMoveField  FailReason = "MISSING_MOVE_FIELD"
	ReasonInvalidMoveFormat FailReason = "INVALID_MOVE_FORMAT"
	ReasonIllegalMove       FailReason = "ILLEGAL_MOVE"
)

// Sentinel moves the actor may reply instead of a coordinate move.
const (
	SentinelResign = "resign"
	SentinelPass   = "pass"
)

// TerminationResignation marks an explicit resign sentinel, as opposed to a
// negotiation failure whose termination carries the FailReason tag.
const TerminationResignation = "resignation"

// TerminationMoveLimit is the forced-draw adjudication tag.
const TerminationMoveLimit = "adjudication: move limit"

// MoveRecord is one applied ply with its negotiation bookkeeping.
type MoveRecord struct {
	Ply       int
	Side      rules.Color
	FENBefore string
	MoveUCI   string
	MoveSAN   string
	Sentinel  string
	Rationale string
	Cost      float64
	Latency   time.Duration
}

// seat is one side of a match: the actor, its running transcript and its
// cumulative accounting.
type seat struct {
	identity   string
	actor      actor.Actor
	color      rules.Color
	transcript []actor.Message
	plies      int
	spent      time.Duration
	cost       float64
}

// Proposal is a successful negotiation outcome: either a coordinate move or
// a sentinel, plus the cost and latency accrued across all attempts.
type Proposal struct {
	MoveUCI   string
	Sentinel  string
	Rationale string
	Cost      float64
	Latency   time.Duration
}

// Failure is a definitive negotiation failure after the retry budget.
type Failure struct {
	Reason  FailReason
	Cost    float64
	Latency time.Duration
}

// PlyOutcome is what one Step returns: the applied move record, or the
// terminal summary once the match is over.
type PlyOutcome struct {
	Terminal    bool
	Status      Status
	Result      Result
	Termination string
	Record      *MoveRecord
}
