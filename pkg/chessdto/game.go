package chessdto

import (
	"time"

	"github.com/park285/chess-live/internal/domain"
)

// PlayerView is the outward shape of a seated player.
type PlayerView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// GameView is a read-only snapshot of a game and its clock.
type GameView struct {
	ID               string     `json:"id"`
	White            PlayerView `json:"white"`
	Black            PlayerView `json:"black"`
	Type             string     `json:"type"`
	TimeControl      string     `json:"time_control"`
	FEN              string     `json:"fen"`
	Ply              int        `json:"ply"`
	Turn             string     `json:"turn"`
	MovesUCI         []string   `json:"moves_uci"`
	MovesSAN         []string   `json:"moves_san"`
	Status           string     `json:"status"`
	Result           string     `json:"result,omitempty"`
	EndReason        string     `json:"end_reason,omitempty"`
	WhiteRemainingMs int64      `json:"white_remaining_ms"`
	BlackRemainingMs int64      `json:"black_remaining_ms"`
	ClockPaused      bool       `json:"clock_paused"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewGameView flattens a game and its clock for callers outside the core.
func NewGameView(g *domain.Game, clk domain.ClockState) GameView {
	v := GameView{
		ID:               g.ID,
		White:            playerView(g.White),
		Black:            playerView(g.Black),
		Type:             string(g.Type),
		TimeControl:      g.TimeControl,
		FEN:              g.Position.FEN,
		Ply:              g.Position.Ply,
		Turn:             string(g.Position.Turn),
		MovesUCI:         make([]string, 0, len(g.Moves)),
		MovesSAN:         make([]string, 0, len(g.Moves)),
		Status:           string(g.Status),
		Result:           string(g.Result),
		EndReason:        g.EndReason,
		WhiteRemainingMs: clk.WhiteRemainingMs,
		BlackRemainingMs: clk.BlackRemainingMs,
		ClockPaused:      clk.Paused,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	}
	for _, m := range g.Moves {
		v.MovesUCI = append(v.MovesUCI, m.UCI)
		v.MovesSAN = append(v.MovesSAN, m.Notation)
	}
	return v
}

func playerView(p domain.Player) PlayerView {
	return PlayerView{ID: p.ID, Name: p.Name, Kind: string(p.Kind)}
}
