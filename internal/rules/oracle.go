// Package rules adapts github.com/corentings/chess/v2 to the position tokens
// used by game sessions. Every call rebuilds a game from the FEN it is given,
// so the oracle holds no state and never mutates its input.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-live/internal/domain"
)

// Status is the oracle's view of a position for the side to move.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusCheck     Status = "check"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
)

// Outcome is everything a single move produces.
type Outcome struct {
	Position domain.Position
	Notation string
	UCI      string
	Status   Status
	// Halfmoves is the fifty-move counter after the move.
	Halfmoves int
}

type Oracle struct{}

func New() *Oracle { return &Oracle{} }

// Initial returns the standard starting position.
func (o *Oracle) Initial() domain.Position {
	p, _ := PositionFromFEN(domain.StartFEN)
	return p
}

// IsLegal reports whether from->to (with optional promotion) is legal in pos.
func (o *Oracle) IsLegal(pos domain.Position, from, to, promotion string) bool {
	_, err := o.Play(pos, from, to, promotion)
	return err == nil
}

// Apply returns the position after the move.
func (o *Oracle) Apply(pos domain.Position, from, to, promotion string) (domain.Position, error) {
	out, err := o.Play(pos, from, to, promotion)
	if err != nil {
		return domain.Position{}, err
	}
	return out.Position, nil
}

// Notation renders the move in SAN relative to pos.
func (o *Oracle) Notation(pos domain.Position, from, to, promotion string) (string, error) {
	out, err := o.Play(pos, from, to, promotion)
	if err != nil {
		return "", err
	}
	return out.Notation, nil
}

// Status classifies pos for the side to move.
func (o *Oracle) Status(pos domain.Position) (Status, error) {
	game, err := load(pos.FEN)
	if err != nil {
		return "", err
	}
	p := game.Position()
	return statusOf(p, inCheck(p.Board(), p.Turn())), nil
}

// Play applies one move and returns the resulting position, SAN and status.
func (o *Oracle) Play(pos domain.Position, from, to, promotion string) (Outcome, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if !ValidSquare(from) || !ValidSquare(to) {
		return Outcome{}, domain.ErrInvalidSquare
	}
	if !ValidPromotion(promotion) {
		return Outcome{}, domain.ErrInvalidPromotion
	}

	game, err := load(pos.FEN)
	if err != nil {
		return Outcome{}, err
	}
	before := game.Position()
	if promotion == "" && needsPromotion(before, from, to) {
		promotion = "q"
	}
	uci := from + to + promotion

	mv, err := nchess.UCINotation{}.Decode(before, uci)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrIllegalMove, uci)
	}
	if err := game.Move(mv, nil); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrIllegalMove, uci)
	}

	// encode from the validated move so check and mate suffixes are present
	played := mv
	if moves := game.Moves(); len(moves) > 0 {
		played = moves[len(moves)-1]
	}
	san := nchess.AlgebraicNotation{}.Encode(before, played)

	next, err := PositionFromFEN(game.FEN())
	if err != nil {
		return Outcome{}, err
	}
	after := game.Position()
	return Outcome{
		Position:  next,
		Notation:  san,
		UCI:       uci,
		Status:    statusOf(after, played.HasTag(nchess.Check)),
		Halfmoves: after.HalfMoveClock(),
	}, nil
}

// Candidate is a legal move with the tags the fallback move picker needs.
type Candidate struct {
	UCI     string
	To      string
	Capture bool
	Check   bool
}

// Candidates lists every legal move in pos.
func (o *Oracle) Candidates(pos domain.Position) ([]Candidate, error) {
	game, err := load(pos.FEN)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, mv := range game.ValidMoves() {
		out = append(out, Candidate{
			UCI:     mv.S1().String() + mv.S2().String() + promoSuffix(mv.Promo()),
			To:      mv.S2().String(),
			Capture: mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
			Check:   mv.HasTag(nchess.Check),
		})
	}
	return out, nil
}

// PositionFromFEN builds a Position token, deriving ply and side to move.
func PositionFromFEN(fen string) (domain.Position, error) {
	fields := strings.Fields(fen)
	if len(fields) != 6 {
		return domain.Position{}, fmt.Errorf("%w: fen must have 6 fields", domain.ErrInvalidInput)
	}
	turn, ok := domain.ParseColor(fields[1])
	if !ok {
		return domain.Position{}, fmt.Errorf("%w: fen side to move %q", domain.ErrInvalidInput, fields[1])
	}
	full, err := strconv.Atoi(fields[5])
	if err != nil || full < 1 {
		return domain.Position{}, fmt.Errorf("%w: fen fullmove %q", domain.ErrInvalidInput, fields[5])
	}
	ply := (full - 1) * 2
	if turn == domain.Black {
		ply++
	}
	return domain.Position{FEN: strings.Join(fields, " "), Ply: ply, Turn: turn}, nil
}

// PositionKey drops the move counters so repeated positions compare equal.
func PositionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// ValidSquare accepts a1..h8 in lower case.
func ValidSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func ValidPromotion(s string) bool {
	switch s {
	case "", "q", "r", "b", "n":
		return true
	}
	return false
}

func load(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: fen: %v", domain.ErrInvalidInput, err)
	}
	return nchess.NewGame(opt), nil
}

func statusOf(pos *nchess.Position, check bool) Status {
	switch pos.Status() {
	case nchess.Checkmate:
		return StatusCheckmate
	case nchess.Stalemate:
		return StatusStalemate
	}
	if check {
		return StatusCheck
	}
	return StatusNormal
}

func squareOf(s string) nchess.Square {
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1'))
}

func needsPromotion(pos *nchess.Position, from, to string) bool {
	piece := pos.Board().Piece(squareOf(from))
	if piece.Type() != nchess.Pawn {
		return false
	}
	return to[1] == '8' || to[1] == '1'
}

func promoSuffix(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	}
	return ""
}
