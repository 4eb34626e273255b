// Package broadcast delivers game events to spectators. Delivery is
// best-effort: implementations log failures and never return them.
package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/chess-live/pkg/chessdto"
)

type Broadcaster interface {
	Move(ctx context.Context, ev chessdto.MoveEvent)
	Clock(ctx context.Context, ev chessdto.ClockEvent)
	GameEnd(ctx context.Context, ev chessdto.GameEndEvent)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Move(context.Context, chessdto.MoveEvent)       {}
func (Nop) Clock(context.Context, chessdto.ClockEvent)     {}
func (Nop) GameEnd(context.Context, chessdto.GameEndEvent) {}

// Log writes events to a zap logger. Clock ticks go to debug.
type Log struct{ logger *zap.Logger }

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Move(_ context.Context, ev chessdto.MoveEvent) {
	l.logger.Info("broadcast_move",
		zap.String("game_id", ev.GameID),
		zap.Int("ply", ev.Ply),
		zap.String("san", ev.Notation),
		zap.Bool("check", ev.IsCheck),
		zap.Bool("checkmate", ev.IsCheckmate),
		zap.Bool("stalemate", ev.IsStalemate),
	)
}

func (l *Log) Clock(_ context.Context, ev chessdto.ClockEvent) {
	l.logger.Debug("broadcast_clock",
		zap.String("game_id", ev.GameID),
		zap.Int64("white_ms", ev.WhiteRemainingMs),
		zap.Int64("black_ms", ev.BlackRemainingMs),
		zap.String("turn", ev.Turn),
	)
}

func (l *Log) GameEnd(_ context.Context, ev chessdto.GameEndEvent) {
	l.logger.Info("broadcast_game_end",
		zap.String("game_id", ev.GameID),
		zap.String("result", ev.Result),
		zap.String("reason", ev.EndReason),
	)
}

// Fanout forwards each event to every target in order.
type Fanout []Broadcaster

func (f Fanout) Move(ctx context.Context, ev chessdto.MoveEvent) {
	for _, b := range f {
		b.Move(ctx, ev)
	}
}

func (f Fanout) Clock(ctx context.Context, ev chessdto.ClockEvent) {
	for _, b := range f {
		b.Clock(ctx, ev)
	}
}

func (f Fanout) GameEnd(ctx context.Context, ev chessdto.GameEndEvent) {
	for _, b := range f {
		b.GameEnd(ctx, ev)
	}
}
