// Package clock keeps per-game countdown clocks in integer milliseconds.
package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/obslog"
)

// Store persists clock snapshots. SaveClock is called before the in-memory
// state changes; an error aborts the transition.
type Store interface {
	SaveClock(ctx context.Context, st domain.ClockState) error
	GetClock(ctx context.Context, gameID string) (domain.ClockState, error)
}

// TimeoutHandler ends the game that owns a flagged clock.
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, gameID string) error
}

type entry struct {
	mu    sync.Mutex
	state domain.ClockState
}

type Manager struct {
	mu      sync.RWMutex
	clocks  map[string]*entry
	store   Store
	handler TimeoutHandler
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Manager)

func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

func WithNow(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		clocks: make(map[string]*entry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = obslog.L()
	}
	return m
}

// SetTimeoutHandler registers the component CheckTimeout reports to.
func (m *Manager) SetTimeoutHandler(h TimeoutHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Initialize creates a clock with both sides at baseMs and white to move.
func (m *Manager) Initialize(ctx context.Context, gameID string, baseMs, incrementMs, delayMs int64) (domain.ClockState, error) {
	if gameID == "" {
		return domain.ClockState{}, fmt.Errorf("%w: game id required", domain.ErrInvalidInput)
	}
	if baseMs <= 0 || incrementMs < 0 || delayMs < 0 {
		return domain.ClockState{}, fmt.Errorf("%w: base must be positive, increment and delay non-negative", domain.ErrInvalidInput)
	}
	st := domain.ClockState{
		GameID:           gameID,
		WhiteRemainingMs: baseMs,
		BlackRemainingMs: baseMs,
		IncrementMs:      incrementMs,
		DelayMs:          delayMs,
		DelayRemainingMs: delayMs,
		Turn:             domain.White,
		LastTickAt:       m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clocks[gameID]; exists {
		return domain.ClockState{}, fmt.Errorf("%w: clock for %s", domain.ErrConflict, gameID)
	}
	if m.store != nil {
		if err := m.store.SaveClock(ctx, st); err != nil {
			return domain.ClockState{}, fmt.Errorf("save clock: %w", err)
		}
	}
	m.clocks[gameID] = &entry{state: st}
	return st, nil
}

// Restore installs a previously persisted clock without saving it again.
func (m *Manager) Restore(st domain.ClockState) {
	m.mu.Lock()
	m.clocks[st.GameID] = &entry{state: st}
	m.mu.Unlock()
}

// Load returns the live clock for gameID, reading it from the store when it
// is not in memory yet. A clock already in memory always wins.
func (m *Manager) Load(ctx context.Context, gameID string) (domain.ClockState, error) {
	if st, err := m.Get(gameID); err == nil {
		return st, nil
	}
	if m.store == nil {
		return domain.ClockState{}, fmt.Errorf("%w: %s", domain.ErrClockNotFound, gameID)
	}
	st, err := m.store.GetClock(ctx, gameID)
	if err != nil {
		return domain.ClockState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.clocks[gameID]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.state, nil
	}
	m.clocks[gameID] = &entry{state: st}
	m.logger.Info("clock_loaded", zap.String("game_id", gameID), zap.String("turn", string(st.Turn)))
	return st, nil
}

// Elapse charges elapsedMs to the side to move. The unused part of the
// current move's delay is consumed first, and LastTickAt moves forward by the
// same amount so a later Tick does not charge it again.
func (m *Manager) Elapse(ctx context.Context, gameID string, elapsedMs int64) (domain.ClockState, error) {
	if elapsedMs < 0 {
		return domain.ClockState{}, fmt.Errorf("%w: negative elapsed time", domain.ErrInvalidInput)
	}
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Paused || st.Finished || elapsedMs == 0 {
			return false
		}
		deduct(st, elapsedMs)
		st.LastTickAt = st.LastTickAt.Add(time.Duration(elapsedMs) * time.Millisecond)
		return true
	})
}

// Tick charges the time since the last tick and advances LastTickAt.
func (m *Manager) Tick(ctx context.Context, gameID string, now time.Time) (domain.ClockState, error) {
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Paused || st.Finished {
			return false
		}
		elapsed := now.Sub(st.LastTickAt).Milliseconds()
		if elapsed <= 0 {
			return false
		}
		deduct(st, elapsed)
		st.LastTickAt = now
		return true
	})
}

// AddIncrement credits the side to move; call it after that side's move
// commits and before SwitchTurn.
func (m *Manager) AddIncrement(ctx context.Context, gameID string) (domain.ClockState, error) {
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Finished || st.IncrementMs <= 0 {
			return false
		}
		if st.Turn == domain.White {
			st.WhiteRemainingMs += st.IncrementMs
		} else {
			st.BlackRemainingMs += st.IncrementMs
		}
		return true
	})
}

// SwitchTurn hands the move to the other side and restarts its delay.
func (m *Manager) SwitchTurn(ctx context.Context, gameID string) (domain.ClockState, error) {
	now := m.now()
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Finished {
			return false
		}
		st.Turn = st.Turn.Opponent()
		st.DelayRemainingMs = st.DelayMs
		st.LastTickAt = now
		return true
	})
}

// CommitMove closes the mover's turn in one persisted step: the increment is
// credited to the side to move, then the turn and delay pass to the opponent.
// It returns the state from before the change for Rollback.
func (m *Manager) CommitMove(ctx context.Context, gameID string) (prev, next domain.ClockState, err error) {
	now := m.now()
	next, err = m.update(ctx, gameID, func(st *domain.ClockState) bool {
		prev = *st
		if st.Finished {
			return false
		}
		if st.Turn == domain.White {
			st.WhiteRemainingMs += st.IncrementMs
		} else {
			st.BlackRemainingMs += st.IncrementMs
		}
		st.Turn = st.Turn.Opponent()
		st.DelayRemainingMs = st.DelayMs
		st.LastTickAt = now
		return true
	})
	return prev, next, err
}

// Rollback reinstates prev, typically the state CommitMove returned, after the
// owning game failed to persist.
func (m *Manager) Rollback(ctx context.Context, prev domain.ClockState) error {
	_, err := m.update(ctx, prev.GameID, func(st *domain.ClockState) bool {
		if *st == prev {
			return false
		}
		*st = prev
		return true
	})
	return err
}

func (m *Manager) Pause(ctx context.Context, gameID string) (domain.ClockState, error) {
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Paused || st.Finished {
			return false
		}
		st.Paused = true
		return true
	})
}

// Resume restarts a paused clock; time spent paused is never charged.
func (m *Manager) Resume(ctx context.Context, gameID string) (domain.ClockState, error) {
	now := m.now()
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if !st.Paused || st.Finished {
			return false
		}
		st.Paused = false
		st.LastTickAt = now
		return true
	})
}

// Stop freezes the clock once its game has ended.
func (m *Manager) Stop(ctx context.Context, gameID string) (domain.ClockState, error) {
	return m.update(ctx, gameID, func(st *domain.ClockState) bool {
		if st.Finished {
			return false
		}
		st.Finished = true
		return true
	})
}

// Flagged reports the side that ran out of time. When both are at zero the
// side to move loses. Paused and stopped clocks never flag.
func (m *Manager) Flagged(gameID string) (domain.Color, bool) {
	st, err := m.Get(gameID)
	if err != nil {
		return "", false
	}
	return flagged(st)
}

// CheckTimeout reports whether a side has run out of time and, if so, hands
// the game to the timeout handler. Stopped clocks return false.
func (m *Manager) CheckTimeout(ctx context.Context, gameID string) (bool, error) {
	st, err := m.Get(gameID)
	if err != nil {
		return false, err
	}
	loser, ok := flagged(st)
	if !ok {
		return false, nil
	}
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	m.logger.Info("clock_flagged",
		zap.String("game_id", gameID),
		zap.String("loser", string(loser)),
	)
	if h == nil {
		return true, nil
	}
	if err := h.HandleTimeout(ctx, gameID); err != nil {
		return true, fmt.Errorf("handle timeout %s: %w", gameID, err)
	}
	return true, nil
}

func (m *Manager) Get(gameID string) (domain.ClockState, error) {
	e, ok := m.lookup(gameID)
	if !ok {
		return domain.ClockState{}, fmt.Errorf("%w: %s", domain.ErrClockNotFound, gameID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Running lists games whose clocks are neither paused nor stopped.
func (m *Manager) Running() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.clocks))
	entries := make([]*entry, 0, len(m.clocks))
	for id, e := range m.clocks {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := ids[:0]
	for i, e := range entries {
		e.mu.Lock()
		live := !e.state.Paused && !e.state.Finished
		e.mu.Unlock()
		if live {
			out = append(out, ids[i])
		}
	}
	sort.Strings(out)
	return out
}

// Remove forgets a clock.
func (m *Manager) Remove(gameID string) {
	m.mu.Lock()
	delete(m.clocks, gameID)
	m.mu.Unlock()
}

func (m *Manager) lookup(gameID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.clocks[gameID]
	return e, ok
}

// update applies fn to a copy, persists it, then commits. fn reports whether
// anything changed; unchanged states are neither saved nor committed.
func (m *Manager) update(ctx context.Context, gameID string, fn func(st *domain.ClockState) bool) (domain.ClockState, error) {
	e, ok := m.lookup(gameID)
	if !ok {
		return domain.ClockState{}, fmt.Errorf("%w: %s", domain.ErrClockNotFound, gameID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.state
	if !fn(&next) {
		return e.state, nil
	}
	if m.store != nil {
		if err := m.store.SaveClock(ctx, next); err != nil {
			return e.state, fmt.Errorf("save clock: %w", err)
		}
	}
	e.state = next
	return next, nil
}

func deduct(st *domain.ClockState, elapsed int64) {
	if st.DelayRemainingMs > 0 {
		free := min(elapsed, st.DelayRemainingMs)
		st.DelayRemainingMs -= free
		elapsed -= free
	}
	if elapsed <= 0 {
		return
	}
	if st.Turn == domain.White {
		st.WhiteRemainingMs = max(0, st.WhiteRemainingMs-elapsed)
	} else {
		st.BlackRemainingMs = max(0, st.BlackRemainingMs-elapsed)
	}
}

func flagged(st domain.ClockState) (domain.Color, bool) {
	if st.Paused || st.Finished {
		return "", false
	}
	white := st.WhiteRemainingMs <= 0
	black := st.BlackRemainingMs <= 0
	switch {
	case white && black:
		return st.Turn, true
	case white:
		return domain.White, true
	case black:
		return domain.Black, true
	}
	return "", false
}
