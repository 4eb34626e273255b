package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/chess-live/internal/domain"
)

func playAll(t *testing.T, o *Oracle, pos domain.Position, moves ...string) (domain.Position, Outcome) {
	t.Helper()
	var out Outcome
	for _, m := range moves {
		var err error
		out, err = o.Play(pos, m[0:2], m[2:4], m[4:])
		if err != nil {
			t.Fatalf("play %s: %v", m, err)
		}
		pos = out.Position
	}
	return pos, out
}

func TestInitialPosition(t *testing.T) {
	pos := New().Initial()
	if pos.FEN != domain.StartFEN {
		t.Fatalf("fen = %q", pos.FEN)
	}
	if pos.Ply != 0 || pos.Turn != domain.White {
		t.Fatalf("ply=%d turn=%s", pos.Ply, pos.Turn)
	}
}

func TestApplyE4(t *testing.T) {
	o := New()
	next, err := o.Apply(o.Initial(), "e2", "e4", "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	board := strings.Fields(next.FEN)[0]
	ranks := strings.Split(board, "/")
	if ranks[4] != "4P3" {
		t.Fatalf("rank 4 = %q, fen %q", ranks[4], next.FEN)
	}
	if next.Turn != domain.Black || next.Ply != 1 {
		t.Fatalf("turn=%s ply=%d", next.Turn, next.Ply)
	}
	san, err := o.Notation(o.Initial(), "e2", "e4", "")
	if err != nil || san != "e4" {
		t.Fatalf("notation = %q err=%v", san, err)
	}
}

func TestPlayIsDeterministic(t *testing.T) {
	o := New()
	start := o.Initial()
	a, err := o.Play(start, "g1", "f3", "")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	b, err := o.Play(start, "g1", "f3", "")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if a != b {
		t.Fatalf("outcomes differ: %+v vs %+v", a, b)
	}
	if start.FEN != domain.StartFEN {
		t.Fatalf("input position mutated")
	}
}

func TestIllegalAndMalformed(t *testing.T) {
	o := New()
	if o.IsLegal(o.Initial(), "e2", "e5", "") {
		t.Fatalf("e2e5 must be illegal")
	}
	if _, err := o.Apply(o.Initial(), "e2", "e5", ""); !errors.Is(err, domain.ErrIllegalMove) {
		t.Fatalf("want ErrIllegalMove, got %v", err)
	}
	if _, err := o.Apply(o.Initial(), "z9", "e4", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if _, err := o.Apply(o.Initial(), "e2", "e4", "k"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for promotion, got %v", err)
	}
}

func TestStatusCheckAndMate(t *testing.T) {
	o := New()
	_, out := playAll(t, o, o.Initial(), "e2e4", "f7f6", "d1h5")
	if out.Status != StatusCheck {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Notation != "Qh5+" {
		t.Fatalf("notation = %q", out.Notation)
	}

	pos, out := playAll(t, o, o.Initial(), "f2f3", "e7e5", "g2g4", "d8h4")
	if out.Status != StatusCheckmate {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Notation != "Qh4#" {
		t.Fatalf("notation = %q", out.Notation)
	}
	st, err := o.Status(pos)
	if err != nil || st != StatusCheckmate {
		t.Fatalf("Status(pos) = %s err=%v", st, err)
	}
}

func TestStatusStalemate(t *testing.T) {
	pos, err := PositionFromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	st, err := New().Status(pos)
	if err != nil || st != StatusStalemate {
		t.Fatalf("status = %s err=%v", st, err)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	pos, err := PositionFromFEN("8/4P2k/8/8/8/8/8/4K3 w - - 0 1")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	out, err := New().Play(pos, "e7", "e8", "")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if out.UCI != "e7e8q" {
		t.Fatalf("uci = %q", out.UCI)
	}
	if !strings.HasPrefix(strings.Fields(out.Position.FEN)[0], "4Q3") {
		t.Fatalf("fen = %q", out.Position.FEN)
	}
}

func TestPositionKey(t *testing.T) {
	a := "rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R b KQkq - 1 1"
	b := "rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R b KQkq - 5 3"
	if PositionKey(a) != PositionKey(b) {
		t.Fatalf("keys differ: %q vs %q", PositionKey(a), PositionKey(b))
	}
}

func TestPlayHalfmoves(t *testing.T) {
	o := New()
	_, out := playAll(t, o, o.Initial(), "g1f3", "g8f6")
	if out.Halfmoves != 2 {
		t.Fatalf("halfmoves after two knight moves = %d", out.Halfmoves)
	}
	_, out = playAll(t, o, out.Position, "e2e4")
	if out.Halfmoves != 0 {
		t.Fatalf("pawn move must reset halfmoves, got %d", out.Halfmoves)
	}
}

func TestStatusCheckFromFEN(t *testing.T) {
	pos, err := PositionFromFEN("4k3/8/8/8/8/8/8/4R2K b - - 0 1")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	st, err := New().Status(pos)
	if err != nil || st != StatusCheck {
		t.Fatalf("status = %s err=%v", st, err)
	}
}

func TestCandidates(t *testing.T) {
	o := New()
	moves, err := o.Candidates(o.Initial())
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(moves) != 20 {
		t.Fatalf("want 20 opening moves, got %d", len(moves))
	}
	for _, c := range moves {
		if !o.IsLegal(o.Initial(), c.UCI[0:2], c.UCI[2:4], c.UCI[4:]) {
			t.Fatalf("candidate %s reported illegal", c.UCI)
		}
	}
}
