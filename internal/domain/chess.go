package domain

import (
	"strings"
	"time"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// DefaultRating is assigned to profiles that have never played a rated game.
const DefaultRating = 1200

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// ParseColor accepts "white"/"black" in any case and "w"/"b".
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	}
	return "", false
}

// PlayerKind tags who is behind a seat.
type PlayerKind string

const (
	KindHuman    PlayerKind = "human"
	KindGuest    PlayerKind = "guest"
	KindComputer PlayerKind = "computer"
)

type Player struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Kind PlayerKind `json:"kind"`
}

func (p Player) IsComputer() bool { return p.Kind == KindComputer }

// GameType records how a game was created.
type GameType string

const (
	GameGuest    GameType = "guest"
	GameComputer GameType = "computer"
	GameRanked   GameType = "ranked"
	GameCasual   GameType = "casual"
)

// Status represents a game lifecycle state.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

type Result string

const (
	ResultNone     Result = ""
	ResultWhiteWin Result = "WHITE_WIN"
	ResultBlackWin Result = "BLACK_WIN"
	ResultDraw     Result = "DRAW"
)

// WinFor returns the result that awards the game to c.
func WinFor(c Color) Result {
	if c == White {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

// PGN renders the result token used in PGN headers.
func (r Result) PGN() string {
	switch r {
	case ResultWhiteWin:
		return "1-0"
	case ResultBlackWin:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

const (
	EndCheckmate   = "checkmate"
	EndStalemate   = "stalemate"
	EndResignation = "resignation"
	EndTimeout     = "timeout"
	EndThreefold   = "threefold_repetition"
	EndFiftyMove   = "fifty_move_rule"
)

// Position is an immutable board snapshot. FEN carries the full state; Ply
// and Turn are derived from it and kept alongside for cheap access.
type Position struct {
	FEN  string `json:"fen"`
	Ply  int    `json:"ply"`
	Turn Color  `json:"turn"`
}

// MoveRecord is one entry of a game's move log.
type MoveRecord struct {
	Ply       int       `json:"ply"`
	Color     Color     `json:"color"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion string    `json:"promotion,omitempty"`
	UCI       string    `json:"uci"`
	Notation  string    `json:"notation"`
	Position  Position  `json:"position"`
	PlayedAt  time.Time `json:"played_at"`
}

type Game struct {
	ID            string       `json:"id"`
	White         Player       `json:"white"`
	Black         Player       `json:"black"`
	Type          GameType     `json:"type"`
	TimeControl   string       `json:"time_control"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Initial       Position     `json:"initial"`
	Position      Position     `json:"position"`
	Moves         []MoveRecord `json:"moves"`
	Status        Status       `json:"status"`
	Result        Result       `json:"result,omitempty"`
	EndReason     string       `json:"end_reason,omitempty"`
	RatingApplied bool         `json:"rating_applied"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	EndedAt       time.Time    `json:"ended_at,omitempty"`
}

// Clone returns a deep copy; the move log is not shared.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Moves = append([]MoveRecord(nil), g.Moves...)
	return &cp
}

func (g *Game) Finished() bool { return g.Status == StatusFinished }

// Seat returns the colour played by userID.
func (g *Game) Seat(userID string) (Color, bool) {
	switch userID {
	case g.White.ID:
		return White, true
	case g.Black.ID:
		return Black, true
	}
	return "", false
}

func (g *Game) PlayerOf(c Color) Player {
	if c == White {
		return g.White
	}
	return g.Black
}

// NextMover is the colour of the next log entry, derived from the log length.
func (g *Game) NextMover() Color {
	if len(g.Moves)%2 == 0 {
		return White
	}
	return Black
}

// Finish moves the game to its terminal state.
func (g *Game) Finish(result Result, reason string, at time.Time) {
	g.Status = StatusFinished
	g.Result = result
	g.EndReason = reason
	g.EndedAt = at
	g.UpdatedAt = at
}

// Validate checks FINISHED <=> result set <=> end reason set.
func (g *Game) Validate() error {
	finished := g.Status == StatusFinished
	if finished != (g.Result != ResultNone) || finished != (g.EndReason != "") {
		return ErrInconsistentGame
	}
	return nil
}

// ClockState is the countdown state of one game.
type ClockState struct {
	GameID           string    `json:"game_id"`
	WhiteRemainingMs int64     `json:"white_remaining_ms"`
	BlackRemainingMs int64     `json:"black_remaining_ms"`
	IncrementMs      int64     `json:"increment_ms"`
	DelayMs          int64     `json:"delay_ms"`
	DelayRemainingMs int64     `json:"delay_remaining_ms"`
	Turn             Color     `json:"turn"`
	Paused           bool      `json:"paused"`
	Finished         bool      `json:"finished"`
	LastTickAt       time.Time `json:"last_tick_at"`
}

func (c ClockState) Remaining(side Color) int64 {
	if side == White {
		return c.WhiteRemainingMs
	}
	return c.BlackRemainingMs
}

type QueueEntry struct {
	UserID      string    `json:"user_id"`
	Rating      int       `json:"rating"`
	TimeControl string    `json:"time_control"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// RatingRecord is an append-only history row.
type RatingRecord struct {
	UserID         string    `json:"user_id"`
	GameID         string    `json:"game_id"`
	OldRating      int       `json:"old_rating"`
	NewRating      int       `json:"new_rating"`
	Delta          int       `json:"delta"`
	OpponentRating int       `json:"opponent_rating"`
	Result         string    `json:"result"`
	CreatedAt      time.Time `json:"created_at"`
}

type PlayerProfile struct {
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Kind        PlayerKind `json:"kind"`
	Rating      int        `json:"rating"`
	GamesPlayed int        `json:"games_played"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	Draws       int        `json:"draws"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewProfile returns a fresh profile at the default rating.
func NewProfile(p Player, now time.Time) PlayerProfile {
	return PlayerProfile{
		UserID:    p.ID,
		Name:      p.Name,
		Kind:      p.Kind,
		Rating:    DefaultRating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
