// Package session owns the state machine of a single game. Every mutation
// runs under the session's mutex, and a new game value is persisted before
// it replaces the current one.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/broadcast"
	"github.com/park285/chess-live/internal/clock"
	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/obslog"
	"github.com/park285/chess-live/internal/rating"
	"github.com/park285/chess-live/internal/rules"
	"github.com/park285/chess-live/pkg/chessdto"
)

const (
	fiftyMoveHalfmoves = 100
	repetitionLimit    = 3
	engineTimeout      = 10 * time.Second
)

// GameStore persists game snapshots.
type GameStore interface {
	SaveGame(ctx context.Context, g *domain.Game) error
}

type RatingUpdater interface {
	UpdateRatings(ctx context.Context, gameID, whiteID, blackID string, result domain.Result) (rating.Change, error)
}

// MoveSuggester proposes a UCI move for a computer seat.
type MoveSuggester interface {
	SuggestMove(ctx context.Context, pos domain.Position, difficulty string) (string, error)
}

// Deps are shared by every session of a registry. Store, Clocks and Oracle
// are required.
type Deps struct {
	Store       GameStore
	Clocks      *clock.Manager
	Oracle      *rules.Oracle
	Ratings     RatingUpdater
	Engine      MoveSuggester
	Broadcaster broadcast.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Oracle == nil {
		d.Oracle = rules.New()
	}
	if d.Broadcaster == nil {
		d.Broadcaster = broadcast.Nop{}
	}
	if d.Logger == nil {
		d.Logger = obslog.L()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type MoveRequest struct {
	From      string
	To        string
	Promotion string
	// PlayerID is optional; when set it must be the side to move.
	PlayerID string
}

type MoveResult struct {
	Notation    string
	Position    domain.Position
	IsCheck     bool
	IsCheckmate bool
	IsStalemate bool
	GameOver    bool
	Result      domain.Result
	EndReason   string
}

type Session struct {
	deps Deps
	id   string

	mu      sync.Mutex
	game    *domain.Game
	history map[string]int

	followups sync.WaitGroup
}

// New wraps an existing game. The repetition table is rebuilt from the
// initial position and the move log.
func New(g *domain.Game, deps Deps) *Session {
	s := &Session{
		deps:    deps.withDefaults(),
		id:      g.ID,
		game:    g.Clone(),
		history: make(map[string]int, len(g.Moves)+1),
	}
	initial := g.Initial.FEN
	if initial == "" {
		initial = domain.StartFEN
	}
	s.history[rules.PositionKey(initial)]++
	for _, m := range g.Moves {
		s.history[rules.PositionKey(m.Position.FEN)]++
	}
	return s
}

func (s *Session) ID() string { return s.id }

// State returns a copy of the current game.
func (s *Session) State() *domain.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Clone()
}

// View is State joined with the clock.
func (s *Session) View() chessdto.GameView {
	g := s.State()
	clk, _ := s.deps.Clocks.Get(g.ID)
	return chessdto.NewGameView(g, clk)
}

// Start schedules the engine when a computer has the first move.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleComputerLocked(ctx)
}

// Wait blocks until scheduled computer moves have run.
func (s *Session) Wait() { s.followups.Wait() }

func (s *Session) SubmitMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	if !rules.ValidSquare(req.From) || !rules.ValidSquare(req.To) {
		return s.reject(fmt.Errorf("%w: %q-%q", domain.ErrInvalidSquare, req.From, req.To))
	}
	if !rules.ValidPromotion(req.Promotion) {
		return s.reject(fmt.Errorf("%w: %q", domain.ErrInvalidPromotion, req.Promotion))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.applyLocked(ctx, req)
	if err != nil {
		return s.reject(err)
	}
	return res, nil
}

func (s *Session) reject(err error) (MoveResult, error) {
	s.deps.Metrics.MoveRejected(chessdto.FromError(err).Code)
	return MoveResult{}, err
}

func (s *Session) applyLocked(ctx context.Context, req MoveRequest) (MoveResult, error) {
	g := s.game
	if g.Finished() {
		return MoveResult{}, fmt.Errorf("%w: %s", domain.ErrNotInProgress, g.ID)
	}
	if req.PlayerID != "" {
		seat, ok := g.Seat(req.PlayerID)
		if !ok {
			return MoveResult{}, fmt.Errorf("%w: %s", domain.ErrNotParticipant, req.PlayerID)
		}
		if seat != g.Position.Turn {
			return MoveResult{}, domain.ErrNotYourTurn
		}
	}

	now := s.deps.Now()
	if _, err := s.deps.Clocks.Tick(ctx, g.ID, now); err != nil {
		return MoveResult{}, fmt.Errorf("settle clock: %w", err)
	}
	if loser, flagged := s.deps.Clocks.Flagged(g.ID); flagged {
		if err := s.finishLocked(ctx, domain.WinFor(loser.Opponent()), domain.EndTimeout); err != nil {
			return MoveResult{}, err
		}
		return MoveResult{}, fmt.Errorf("%w: %s lost on time", domain.ErrNotInProgress, loser)
	}

	out, err := s.deps.Oracle.Play(g.Position, req.From, req.To, req.Promotion)
	if err != nil {
		return MoveResult{}, err
	}

	next := g.Clone()
	rec := domain.MoveRecord{
		Ply:       len(next.Moves) + 1,
		Color:     next.NextMover(),
		From:      out.UCI[:2],
		To:        out.UCI[2:4],
		Promotion: out.UCI[4:],
		UCI:       out.UCI,
		Notation:  out.Notation,
		Position:  out.Position,
		PlayedAt:  now,
	}
	next.Moves = append(next.Moves, rec)
	next.Position = out.Position
	next.UpdatedAt = now

	key := rules.PositionKey(out.Position.FEN)
	seen := s.history[key] + 1
	switch {
	case out.Status == rules.StatusCheckmate:
		next.Finish(domain.WinFor(rec.Color), domain.EndCheckmate, now)
	case out.Status == rules.StatusStalemate:
		next.Finish(domain.ResultDraw, domain.EndStalemate, now)
	case seen >= repetitionLimit:
		next.Finish(domain.ResultDraw, domain.EndThreefold, now)
	case out.Halfmoves >= fiftyMoveHalfmoves:
		next.Finish(domain.ResultDraw, domain.EndFiftyMove, now)
	}

	// The clock hand-off is persisted first and undone if the game save fails.
	var prevClock *domain.ClockState
	if !next.Finished() {
		prev, _, err := s.deps.Clocks.CommitMove(ctx, g.ID)
		if err != nil {
			return MoveResult{}, fmt.Errorf("advance clock: %w", err)
		}
		prevClock = &prev
	}
	if err := s.deps.Store.SaveGame(ctx, next); err != nil {
		if prevClock != nil {
			if rerr := s.deps.Clocks.Rollback(ctx, *prevClock); rerr != nil {
				s.deps.Logger.Error("clock_rollback_failed", zap.String("game_id", g.ID), zap.Error(rerr))
			}
		}
		return MoveResult{}, fmt.Errorf("save game %s: %w", g.ID, err)
	}
	s.game = next
	s.history[key] = seen
	s.deps.Metrics.MoveCommitted()

	s.deps.Logger.Debug("move_committed",
		zap.String("game_id", next.ID),
		zap.Int("ply", rec.Ply),
		zap.String("uci", rec.UCI),
		zap.String("san", rec.Notation),
	)
	s.deps.Broadcaster.Move(ctx, chessdto.MoveEvent{
		GameID:      next.ID,
		Ply:         rec.Ply,
		Color:       string(rec.Color),
		UCI:         rec.UCI,
		Notation:    rec.Notation,
		FEN:         rec.Position.FEN,
		IsCheck:     out.Status == rules.StatusCheck || out.Status == rules.StatusCheckmate,
		IsCheckmate: out.Status == rules.StatusCheckmate,
		IsStalemate: out.Status == rules.StatusStalemate,
		PlayedAt:    now,
	})

	if next.Finished() {
		s.concludeLocked(ctx)
	} else {
		s.scheduleComputerLocked(ctx)
	}

	return MoveResult{
		Notation:    out.Notation,
		Position:    out.Position,
		IsCheck:     out.Status == rules.StatusCheck || out.Status == rules.StatusCheckmate,
		IsCheckmate: out.Status == rules.StatusCheckmate,
		IsStalemate: out.Status == rules.StatusStalemate,
		GameOver:    s.game.Finished(),
		Result:      s.game.Result,
		EndReason:   s.game.EndReason,
	}, nil
}

// Resign ends the game with playerID as the loser.
func (s *Session) Resign(ctx context.Context, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game.Finished() {
		return fmt.Errorf("%w: %s", domain.ErrNotInProgress, s.game.ID)
	}
	seat, ok := s.game.Seat(playerID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotParticipant, playerID)
	}
	return s.finishLocked(ctx, domain.WinFor(seat.Opponent()), domain.EndResignation)
}

// CheckTimeout finishes the game if a side has no time left. It reports
// whether this call ended the game; a finished game is a no-op.
func (s *Session) CheckTimeout(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game.Finished() {
		return false, nil
	}
	loser, ok := s.deps.Clocks.Flagged(s.game.ID)
	if !ok {
		return false, nil
	}
	if err := s.finishLocked(ctx, domain.WinFor(loser.Opponent()), domain.EndTimeout); err != nil {
		return false, err
	}
	return true, nil
}

// Tick charges the clock up to now and publishes the remaining times.
func (s *Session) Tick(ctx context.Context, now time.Time) (domain.ClockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game.Finished() {
		return s.deps.Clocks.Get(s.game.ID)
	}
	st, err := s.deps.Clocks.Tick(ctx, s.game.ID, now)
	if err != nil {
		return st, err
	}
	s.deps.Broadcaster.Clock(ctx, chessdto.ClockEvent{
		GameID:           st.GameID,
		WhiteRemainingMs: st.WhiteRemainingMs,
		BlackRemainingMs: st.BlackRemainingMs,
		Turn:             string(st.Turn),
	})
	return st, nil
}

func (s *Session) finishLocked(ctx context.Context, result domain.Result, reason string) error {
	next := s.game.Clone()
	next.Finish(result, reason, s.deps.Now())
	if err := s.deps.Store.SaveGame(ctx, next); err != nil {
		return fmt.Errorf("save game %s: %w", next.ID, err)
	}
	s.game = next
	s.concludeLocked(ctx)
	return nil
}

// concludeLocked runs the side effects of a committed terminal state. None of
// them can undo the result, so failures are logged.
func (s *Session) concludeLocked(ctx context.Context) {
	g := s.game
	if _, err := s.deps.Clocks.Stop(ctx, g.ID); err != nil {
		s.deps.Logger.Warn("clock_stop_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
	if s.ratingPendingLocked() {
		_ = s.applyRatingsLocked(ctx)
	}
	s.deps.Metrics.GameFinished(g.EndReason)
	s.deps.Logger.Info("game_finished",
		zap.String("game_id", g.ID),
		zap.String("result", string(g.Result)),
		zap.String("reason", g.EndReason),
		zap.Int("plies", len(g.Moves)),
	)
	s.deps.Broadcaster.GameEnd(ctx, chessdto.GameEndEvent{
		GameID:    g.ID,
		Result:    string(g.Result),
		EndReason: g.EndReason,
		EndedAt:   g.EndedAt,
	})
}

// RatingPending reports a finished ranked game whose rating update has not
// been recorded yet.
func (s *Session) RatingPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratingPendingLocked()
}

// RetryRatings re-runs a rating update that failed when the game ended. It
// reports whether the game is now marked as rated.
func (s *Session) RetryRatings(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ratingPendingLocked() {
		return s.game.RatingApplied, nil
	}
	if err := s.applyRatingsLocked(ctx); err != nil {
		return false, err
	}
	s.deps.Logger.Info("rating_retry_applied", zap.String("game_id", s.id))
	return true, nil
}

func (s *Session) ratingPendingLocked() bool {
	g := s.game
	return g.Finished() && g.Type == domain.GameRanked && !g.RatingApplied && s.deps.Ratings != nil
}

// applyRatingsLocked updates both ratings and marks the game. Failures leave
// RatingApplied false so a later RetryRatings picks the game up again.
func (s *Session) applyRatingsLocked(ctx context.Context) error {
	g := s.game
	_, err := s.deps.Ratings.UpdateRatings(ctx, g.ID, g.White.ID, g.Black.ID, g.Result)
	switch {
	case err == nil:
		s.deps.Metrics.RatingApplied()
	case errors.Is(err, domain.ErrRatingApplied):
	default:
		s.deps.Logger.Error("rating_update_failed", zap.String("game_id", g.ID), zap.Error(err))
		return fmt.Errorf("update ratings %s: %w", g.ID, err)
	}
	next := g.Clone()
	next.RatingApplied = true
	if err := s.deps.Store.SaveGame(ctx, next); err != nil {
		s.deps.Logger.Error("rating_flag_save_failed", zap.String("game_id", g.ID), zap.Error(err))
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	s.game = next
	return nil
}

func (s *Session) scheduleComputerLocked(ctx context.Context) {
	g := s.game
	if s.deps.Engine == nil || g.Finished() || !g.PlayerOf(g.Position.Turn).IsComputer() {
		return
	}
	s.followups.Add(1)
	go s.playComputerMove(context.WithoutCancel(ctx), g.Position, g.Difficulty)
}

// playComputerMove asks the engine without holding the lock and applies the
// answer only if no other move landed meanwhile.
func (s *Session) playComputerMove(ctx context.Context, pos domain.Position, difficulty string) {
	defer s.followups.Done()

	searchCtx, cancel := context.WithTimeout(ctx, engineTimeout)
	move, err := s.deps.Engine.SuggestMove(searchCtx, pos, difficulty)
	cancel()
	if err != nil {
		s.deps.Logger.Warn("computer_move_failed", zap.String("game_id", s.id), zap.Error(err))
		return
	}
	if len(move) < 4 {
		s.deps.Logger.Warn("computer_move_malformed", zap.String("game_id", s.id), zap.String("uci", move))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game.Finished() || s.game.Position.Ply != pos.Ply {
		s.deps.Logger.Debug("computer_move_stale",
			zap.String("game_id", s.game.ID),
			zap.Int("expected_ply", pos.Ply),
			zap.Int("ply", s.game.Position.Ply),
		)
		return
	}
	if _, err := s.applyLocked(ctx, MoveRequest{From: move[:2], To: move[2:4], Promotion: move[4:]}); err != nil {
		s.deps.Logger.Warn("computer_move_rejected",
			zap.String("game_id", s.game.ID),
			zap.String("uci", move),
			zap.Error(err),
		)
	}
}
