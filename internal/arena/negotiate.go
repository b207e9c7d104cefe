package arena

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/rules"
)

// uciPattern is the exact move shape named in corrective prompts.
const uciPatternText = "^[a-h][1-8][a-h][1-8][qrbn]?$"

var uciPattern = regexp.MustCompile(uciPatternText)

// negotiator turns one actor turn into a validated move or a definitive
// failure, within a bounded retry budget. A rejected attempt never mutates
// the position; corrective instructions are appended to the seat transcript
// so the actor sees its own mistakes.
type negotiator struct {
	retries int
	prompts *prompt.Catalog
}

// nextMove appends the turn context to the seat transcript and runs up to
// retries+1 attempts against the actor.
func (n *negotiator) nextMove(ctx context.Context, g *rules.Game, s *seat) (*Proposal, *Failure) {
	s.transcript = append(s.transcript, actor.Message{
		Role:    actor.RoleUser,
		Content: n.render("turn", turnData(g)),
	})

	var (
		accCost    float64
		accLatency time.Duration
		lastReason = ReasonEmptyResponse
	)

	for attempt := 0; attempt <= n.retries; attempt++ {
		reply, err := s.actor.Send(ctx, s.transcript)
		if err != nil || reply == nil {
			if err != nil {
				obslog.L().Warn("negotiate_transport_error",
					zap.String("actor", s.identity),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
			}
			lastReason = ReasonEmptyResponse
			if attempt < n.retries {
				s.transcript = append(s.transcript, actor.Message{Role: actor.RoleUser, Content: n.render("retry.empty", nil)})
			}
			continue
		}

		accCost += reply.Cost
		accLatency += reply.Latency
		s.transcript = append(s.transcript, actor.Message{Role: actor.RoleAssistant, Content: reply.Text})

		move, rationale, reason, rejected := parseReply(reply.Text)
		if reason == "" {
			switch move {
			case SentinelResign:
				return &Proposal{Sentinel: SentinelResign, Rationale: rationale, Cost: accCost, Latency: accLatency}, nil
			case SentinelPass:
				if g.Stalemate() {
					return &Proposal{Sentinel: SentinelPass, Rationale: rationale, Cost: accCost, Latency: accLatency}, nil
				}
				reason = ReasonIllegalMove
				rejected = SentinelPass
			default:
				if g.IsLegal(move) {
					return &Proposal{MoveUCI: move, Rationale: rationale, Cost: accCost, Latency: accLatency}, nil
				}
				reason = ReasonIllegalMove
				rejected = move
			}
		}

		lastReason = reason
		obslog.L().Debug("negotiate_reject",
			zap.String("actor", s.identity),
			zap.Int("attempt", attempt+1),
			zap.String("reason", string(reason)),
			zap.String("rejected", rejected),
		)
		// no corrective after the last attempt: there is nothing left to retry
		if attempt < n.retries {
			s.transcript = append(s.transcript, actor.Message{Role: actor.RoleUser, Content: n.corrective(g, reason, rejected)})
		}
	}

	return nil, &Failure{Reason: lastReason, Cost: accCost, Latency: accLatency}
}

func (n *negotiator) corrective(g *rules.Game, reason FailReason, rejected string) string {
	data := map[string]string{"Value": rejected, "Pattern": uciPatternText}
	switch reason {
	case ReasonInvalidEncoding:
		return n.render("retry.encoding", nil)
	case ReasonMissingMoveField:
		return n.render("retry.missing_move", nil)
	case ReasonInvalidMoveFormat:
		return n.render("retry.move_format", data)
	case ReasonIllegalMove:
		if rejected == SentinelPass {
			return n.render("retry.pass", nil)
		}
		data["LegalMoves"] = strings.Join(g.LegalMovesUCI(), " ")
		if g.InCheck() {
			return n.render("retry.illegal_check", data)
		}
		return n.render("retry.illegal", data)
	default:
		return n.render("retry.empty", nil)
	}
}

func (n *negotiator) render(key string, data any) string {
	out, err := n.prompts.Render(key, data)
	if err != nil {
		obslog.L().Error("prompt_render_error", zap.String("key", key), zap.Error(err))
		return "Respond with exactly one JSON object following the schema: {\"rationale\": string, \"move\": string}."
	}
	return out
}

func turnData(g *rules.Game) map[string]string {
	last := g.LastMoveUCI()
	if last == "" {
		last = "-"
	}
	return map[string]string{
		"FEN":        g.FEN(),
		"SANHistory": g.SANHistory(),
		"LastMove":   last,
		"Inventory":  g.Inventory(),
		"Board":      g.ASCII(),
	}
}

// parseReply decodes the structured reply. It returns the normalized move
// (coordinate or sentinel) and rationale on success, otherwise the reason
// plus the rejected value when one exists.
func parseReply(text string) (move, rationale string, reason FailReason, rejected string) {
	body := stripFences(text)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return "", "", ReasonInvalidEncoding, ""
	}

	if raw, ok := fields["rationale"]; ok {
		_ = json.Unmarshal(raw, &rationale)
	}

	raw, ok := fields["move"]
	if !ok {
		return "", rationale, ReasonMissingMoveField, ""
	}
	var moveStr string
	if err := json.Unmarshal(raw, &moveStr); err != nil {
		return "", rationale, ReasonInvalidMoveFormat, strings.TrimSpace(string(raw))
	}
	moveStr = strings.ToLower(strings.TrimSpace(moveStr))
	if moveStr == "" {
		return "", rationale, ReasonMissingMoveField, ""
	}
	if moveStr == SentinelResign || moveStr == SentinelPass {
		return moveStr, rationale, "", ""
	}
	if !uciPattern.MatchString(moveStr) {
		return "", rationale, ReasonInvalidMoveFormat, moveStr
	}
	return moveStr, rationale, "", ""
}

// stripFences tolerates replies wrapped in markdown code fences or prose by
// extracting the outermost JSON object.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
