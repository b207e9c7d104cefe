// Package rules owns board legality, terminal detection and notation
// rendering on top of corentings/chess. Everything above it treats the
// position as opaque.
package rules

import (
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Result is a PGN result token.
const (
	ResultWhiteWin     = "1-0"
	ResultBlackWin     = "0-1"
	ResultDraw         = "1/2-1/2"
	ResultUndetermined = "*"
)

// Game wraps a single chess game and keeps parallel UCI/SAN move logs.
type Game struct {
	g        *nchess.Game
	movesUCI []string
	movesSAN []string
}

func NewGame() *Game {
	return &Game{g: nchess.NewGame()}
}

func (b *Game) FEN() string { return b.g.FEN() }

func (b *Game) Turn() Color { return colorFrom(b.g.Position().Turn()) }

func (b *Game) PlyCount() int { return len(b.movesUCI) }

// FullmoveNumber is the number of the fullmove about to be played (1-based).
func (b *Game) FullmoveNumber() int { return len(b.movesUCI)/2 + 1 }

func (b *Game) MovesUCI() []string { return append([]string(nil), b.movesUCI...) }

func (b *Game) MovesSAN() []string { return append([]string(nil), b.movesSAN...) }

func (b *Game) LastMoveUCI() string {
	if n := len(b.movesUCI); n > 0 {
		return b.movesUCI[n-1]
	}
	return ""
}

// IsLegal reports whether the UCI move is playable in the current position.
// Decode only parses the string, so the decoded move must also be a member
// of the valid-move set. The position is never mutated by a legality probe.
func (b *Game) IsLegal(uci string) bool {
	pos := b.g.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(strings.TrimSpace(uci)))
	if err != nil {
		return false
	}
	for _, valid := range b.g.ValidMoves() {
		if valid.String() == mv.String() {
			return true
		}
	}
	return false
}

// Push applies a UCI move and returns its SAN rendering.
func (b *Game) Push(uci string) (string, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	pos := b.g.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return "", fmt.Errorf("illegal move %q: %w", uci, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := b.g.Move(mv, nil); err != nil {
		return "", fmt.Errorf("apply move %q: %w", uci, err)
	}
	b.movesUCI = append(b.movesUCI, uci)
	b.movesSAN = append(b.movesSAN, san)
	return san, nil
}

// InCheck reports whether the side to move is currently in check. SAN marks
// a checking move with "+" (or "#" on mate), so the last applied move carries
// the answer.
func (b *Game) InCheck() bool {
	if n := len(b.movesSAN); n > 0 {
		last := b.movesSAN[n-1]
		return strings.HasSuffix(last, "+") || strings.HasSuffix(last, "#")
	}
	return false
}

// Stalemate reports whether the game has ended in stalemate.
func (b *Game) Stalemate() bool {
	return b.g.Outcome() == nchess.Draw && b.g.Method() == nchess.Stalemate
}

// Terminal inspects the position for game over. Claimable draws are claimed
// here, in a fixed priority order: checkmate, stalemate, fifty-move rule,
// threefold repetition, then any remaining automatic draw.
func (b *Game) Terminal() (result string, reason string, over bool) {
	if b.g.Outcome() == nchess.NoOutcome {
		for _, method := range []nchess.Method{nchess.FiftyMoveRule, nchess.ThreefoldRepetition} {
			if !b.drawEligible(method) {
				continue
			}
			if err := b.g.Draw(method); err == nil {
				break
			}
		}
	}
	switch b.g.Outcome() {
	case nchess.WhiteWon:
		return ResultWhiteWin, "checkmate", true
	case nchess.BlackWon:
		return ResultBlackWin, "checkmate", true
	case nchess.Draw:
		return ResultDraw, drawReason(b.g.Method()), true
	default:
		return ResultUndetermined, "", false
	}
}

func (b *Game) drawEligible(method nchess.Method) bool {
	for _, m := range b.g.EligibleDraws() {
		if m == method {
			return true
		}
	}
	return false
}

func drawReason(method nchess.Method) string {
	switch method {
	case nchess.Stalemate:
		return "stalemate"
	case nchess.FiftyMoveRule:
		return "50-move rule"
	case nchess.ThreefoldRepetition:
		return "threefold repetition"
	default:
		return "draw"
	}
}

// SANHistory renders the move log as numbered SAN, e.g. "1. e4 e5 2. Nf3".
func (b *Game) SANHistory() string {
	if len(b.movesSAN) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, san := range b.movesSAN {
		if i%2 == 0 {
			if i > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%d. %s", i/2+1, san)
		} else {
			sb.WriteString(" " + san)
		}
	}
	return sb.String()
}

var pieceLetters = map[nchess.PieceType]string{
	nchess.Pawn:   "p",
	nchess.Knight: "n",
	nchess.Bishop: "b",
	nchess.Rook:   "r",
	nchess.Queen:  "q",
	nchess.King:   "k",
}

// ASCII renders the board from White's perspective, uppercase for White,
// lowercase for Black, dots for empty squares.
func (b *Game) ASCII() string {
	grid := [8][8]string{}
	for r := 0; r < 8; r++ {
		for f := 0; f < 8; f++ {
			grid[r][f] = "."
		}
	}
	for sq, piece := range b.g.Position().Board().SquareMap() {
		letter := pieceLetters[piece.Type()]
		if piece.Color() == nchess.White {
			letter = strings.ToUpper(letter)
		}
		grid[int(sq.Rank())][int(sq.File())] = letter
	}
	var rows []string
	for r := 7; r >= 0; r-- {
		rows = append(rows, fmt.Sprintf("%d  %s", r+1, strings.Join(grid[r][:], " ")))
	}
	rows = append(rows, "   a b c d e f g h")
	return strings.Join(rows, "\n")
}

// Inventory summarizes remaining pieces per side, e.g.
// "White: P:8 N:2 B:2 R:2 Q:1 K:1 | Black: ...".
func (b *Game) Inventory() string {
	counts := map[nchess.Color]map[nchess.PieceType]int{
		nchess.White: {},
		nchess.Black: {},
	}
	for _, piece := range b.g.Position().Board().SquareMap() {
		counts[piece.Color()][piece.Type()]++
	}
	return fmt.Sprintf("White: %s | Black: %s",
		inventorySide(counts[nchess.White]), inventorySide(counts[nchess.Black]))
}

var inventoryOrder = []nchess.PieceType{
	nchess.Pawn, nchess.Knight, nchess.Bishop, nchess.Rook, nchess.Queen, nchess.King,
}

func inventorySide(counts map[nchess.PieceType]int) string {
	var parts []string
	for _, pt := range inventoryOrder {
		if n := counts[pt]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", strings.ToUpper(pieceLetters[pt]), n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// LegalMovesUCI lists every legal move in the current position, sorted for
// deterministic output.
func (b *Game) LegalMovesUCI() []string {
	moves := b.g.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mv.String())
	}
	sort.Strings(out)
	return out
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}
