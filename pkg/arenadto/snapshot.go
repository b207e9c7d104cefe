// Package arenadto carries the read-side representations of a match served
// to external callers. Snapshots are immutable once published.
package arenadto

import "time"

// SideStats is one side's cumulative accounting.
type SideStats struct {
	Identity string  `json:"identity"`
	Plies    int     `json:"plies"`
	TimeSec  float64 `json:"time_sec"`
	Cost     float64 `json:"cost"`
}

// MoveRecord is one applied ply.
type MoveRecord struct {
	Ply       int     `json:"ply"`
	Side      string  `json:"side"`
	FENBefore string  `json:"fen_before"`
	MoveUCI   string  `json:"move_uci,omitempty"`
	MoveSAN   string  `json:"move_san,omitempty"`
	Sentinel  string  `json:"sentinel,omitempty"`
	Rationale string  `json:"rationale,omitempty"`
	Cost      float64 `json:"cost"`
	TimeSec   float64 `json:"time_sec"`
}

// MatchSnapshot is the full externally visible state of a match after some
// number of fully applied plies.
type MatchSnapshot struct {
	ID          string       `json:"id"`
	White       SideStats    `json:"white"`
	Black       SideStats    `json:"black"`
	FEN         string       `json:"fen"`
	Board       string       `json:"board"`
	Turn        string       `json:"turn"`
	MovesUCI    []string     `json:"moves_uci"`
	MovesSAN    []string     `json:"moves_san"`
	LastMove    string       `json:"last_move,omitempty"`
	PlyCount    int          `json:"ply_count"`
	Status      string       `json:"status"`
	Result      string       `json:"result"`
	Termination string       `json:"termination,omitempty"`
	Records     []MoveRecord `json:"records"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Over reports whether the snapshot is terminal.
func (s *MatchSnapshot) Over() bool { return s.Status != "ACTIVE" }
