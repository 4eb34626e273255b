package chessdto

import "time"

// MoveEvent is published after every committed move.
type MoveEvent struct {
	GameID      string    `json:"game_id"`
	Ply         int       `json:"ply"`
	Color       string    `json:"color"`
	UCI         string    `json:"uci"`
	Notation    string    `json:"notation"`
	FEN         string    `json:"fen"`
	IsCheck     bool      `json:"is_check"`
	IsCheckmate bool      `json:"is_checkmate"`
	IsStalemate bool      `json:"is_stalemate"`
	PlayedAt    time.Time `json:"played_at"`
}

// ClockEvent is published on every clock tick.
type ClockEvent struct {
	GameID           string `json:"game_id"`
	WhiteRemainingMs int64  `json:"white_remaining_ms"`
	BlackRemainingMs int64  `json:"black_remaining_ms"`
	Turn             string `json:"turn"`
}

// GameEndEvent is published once when a game finishes.
type GameEndEvent struct {
	GameID    string    `json:"game_id"`
	Result    string    `json:"result"`
	EndReason string    `json:"end_reason"`
	EndedAt   time.Time `json:"ended_at"`
}
