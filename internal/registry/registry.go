// Package registry creates games and keeps at most one live session per game
// id. The periodic sweeps (tick, timeout, prune) fan out from here.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/obslog"
	"github.com/park285/chess-live/internal/rules"
	"github.com/park285/chess-live/internal/session"
	"github.com/park285/chess-live/internal/timecontrol"
)

const (
	computerName    = "Computer"
	guestNamePrefix = "Guest-"
	sweepParallel   = 8
)

type Store interface {
	session.GameStore
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	GetProfile(ctx context.Context, userID string) (domain.PlayerProfile, error)
	EnsureProfile(ctx context.Context, p domain.PlayerProfile) error
}

type Option func(*Registry)

func WithCatalog(c *timecontrol.Catalog) Option { return func(r *Registry) { r.catalog = c } }

// WithCoin replaces the colour coin flip; true seats the first player as white.
func WithCoin(coin func() bool) Option { return func(r *Registry) { r.coin = coin } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

type Registry struct {
	store   Store
	deps    session.Deps
	catalog *timecontrol.Catalog
	metrics *metrics.Metrics
	logger  *zap.Logger
	coin    func() bool

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New builds a registry and registers it as the clock manager's timeout
// handler. deps.Store is replaced by store.
func New(store Store, deps session.Deps, opts ...Option) *Registry {
	deps.Store = store
	if deps.Logger == nil {
		deps.Logger = obslog.L()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Oracle == nil {
		deps.Oracle = rules.New()
	}
	r := &Registry{
		store:    store,
		deps:     deps,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		coin:     secureCoin,
		sessions: make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = timecontrol.Default()
	}
	if deps.Clocks != nil {
		deps.Clocks.SetTimeoutHandler(r)
	}
	return r
}

// NewGame describes a game to create. Difficulty only matters when a
// computer is seated.
type NewGame struct {
	White       domain.Player
	Black       domain.Player
	Type        domain.GameType
	TimeControl string
	Difficulty  string
}

// CreateGame validates the request, starts the clock, persists the game and
// registers its session.
func (r *Registry) CreateGame(ctx context.Context, req NewGame) (*domain.Game, error) {
	if req.White.ID == "" || req.Black.ID == "" || req.White.ID == req.Black.ID {
		return nil, fmt.Errorf("%w: two distinct players required", domain.ErrInvalidPlayer)
	}
	switch req.Type {
	case domain.GameGuest, domain.GameComputer, domain.GameRanked, domain.GameCasual:
	default:
		return nil, fmt.Errorf("%w: game type %q", domain.ErrInvalidInput, req.Type)
	}
	tc, err := r.catalog.Lookup(req.TimeControl)
	if err != nil {
		return nil, err
	}
	difficulty := ""
	if req.White.IsComputer() || req.Black.IsComputer() {
		difficulty = strings.ToLower(strings.TrimSpace(req.Difficulty))
		if difficulty == "" {
			difficulty = timecontrol.DefaultDifficulty
		}
		if _, err := r.catalog.SkillLevel(difficulty); err != nil {
			return nil, err
		}
	}

	now := r.deps.Now()
	for _, p := range []domain.Player{req.White, req.Black} {
		if err := r.store.EnsureProfile(ctx, domain.NewProfile(p, now)); err != nil {
			return nil, fmt.Errorf("ensure profile %s: %w", p.ID, err)
		}
	}

	start := r.deps.Oracle.Initial()
	g := &domain.Game{
		ID:          uuid.NewString(),
		White:       req.White,
		Black:       req.Black,
		Type:        req.Type,
		TimeControl: tc.Name,
		Difficulty:  difficulty,
		Initial:     start,
		Position:    start,
		Status:      domain.StatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.deps.Clocks.Initialize(ctx, g.ID, tc.BaseMs, tc.IncrementMs, tc.DelayMs); err != nil {
		return nil, fmt.Errorf("initialize clock: %w", err)
	}
	if err := r.store.SaveGame(ctx, g); err != nil {
		r.deps.Clocks.Remove(g.ID)
		return nil, fmt.Errorf("save game: %w", err)
	}

	sess := session.New(g, r.deps)
	r.mu.Lock()
	r.sessions[g.ID] = sess
	r.mu.Unlock()

	r.metrics.GameStarted(string(g.Type))
	r.logger.Info("game_created",
		zap.String("game_id", g.ID),
		zap.String("type", string(g.Type)),
		zap.String("white", g.White.ID),
		zap.String("black", g.Black.ID),
		zap.String("time_control", g.TimeControl),
	)
	sess.Start(ctx)
	return g.Clone(), nil
}

// CreateGuestGame seats a new guest against the computer with random colours.
func (r *Registry) CreateGuestGame(ctx context.Context, guestName string) (*domain.Game, error) {
	id := uuid.NewString()
	name := strings.TrimSpace(guestName)
	if name == "" {
		name = guestNamePrefix + id[:8]
	}
	guest := domain.Player{ID: id, Name: name, Kind: domain.KindGuest}
	white, black := r.seat(guest, newComputer())
	return r.CreateGame(ctx, NewGame{
		White:       white,
		Black:       black,
		Type:        domain.GameGuest,
		TimeControl: timecontrol.Rapid,
		Difficulty:  timecontrol.DefaultDifficulty,
	})
}

// CreateComputerGame seats player against the engine. An empty colour picks
// one at random.
func (r *Registry) CreateComputerGame(ctx context.Context, player domain.Player, difficulty, color string) (*domain.Game, error) {
	if player.ID == "" {
		return nil, domain.ErrInvalidPlayer
	}
	cpu := newComputer()
	var white, black domain.Player
	if strings.TrimSpace(color) == "" {
		white, black = r.seat(player, cpu)
	} else {
		c, ok := domain.ParseColor(color)
		if !ok {
			return nil, fmt.Errorf("%w: colour %q", domain.ErrInvalidInput, color)
		}
		white, black = player, cpu
		if c == domain.Black {
			white, black = cpu, player
		}
	}
	return r.CreateGame(ctx, NewGame{
		White:       white,
		Black:       black,
		Type:        domain.GameComputer,
		TimeControl: timecontrol.Rapid,
		Difficulty:  difficulty,
	})
}

// CreateRankedGame is called by the match queue with colours already drawn.
func (r *Registry) CreateRankedGame(ctx context.Context, whiteID, blackID, timeControl string) (*domain.Game, error) {
	white, err := r.player(ctx, whiteID)
	if err != nil {
		return nil, err
	}
	black, err := r.player(ctx, blackID)
	if err != nil {
		return nil, err
	}
	return r.CreateGame(ctx, NewGame{White: white, Black: black, Type: domain.GameRanked, TimeControl: timeControl})
}

// CreateCasualGame seats two humans with random colours.
func (r *Registry) CreateCasualGame(ctx context.Context, a, b domain.Player, timeControl string) (*domain.Game, error) {
	white, black := r.seat(a, b)
	return r.CreateGame(ctx, NewGame{White: white, Black: black, Type: domain.GameCasual, TimeControl: timeControl})
}

// Get returns the live session for gameID. A game that is only in the store,
// for example after a restart, is loaded together with its clock and
// registered.
func (r *Registry) Get(ctx context.Context, gameID string) (*session.Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[gameID]
	r.mu.RUnlock()
	if ok {
		return sess, nil
	}
	return r.load(ctx, gameID)
}

func (r *Registry) load(ctx context.Context, gameID string) (*session.Session, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, fmt.Errorf("%w: empty id", domain.ErrGameNotFound)
	}
	g, err := r.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.Finished() {
		if _, err := r.deps.Clocks.Load(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("load clock %s: %w", g.ID, err)
		}
	}

	r.mu.Lock()
	if sess, ok := r.sessions[g.ID]; ok {
		r.mu.Unlock()
		return sess, nil
	}
	sess := session.New(g, r.deps)
	r.sessions[g.ID] = sess
	r.mu.Unlock()

	r.logger.Info("session_loaded",
		zap.String("game_id", g.ID),
		zap.String("status", string(g.Status)),
		zap.Int("plies", len(g.Moves)),
	)
	sess.Start(ctx)
	return sess, nil
}

// Active lists sessions whose games are still in progress, ordered by id.
func (r *Registry) Active() []*session.Session {
	var out []*session.Session
	for _, sess := range r.snapshot() {
		if !sess.State().Finished() {
			out = append(out, sess)
		}
	}
	return out
}

// TickAll charges every running clock and publishes the remaining times.
func (r *Registry) TickAll(ctx context.Context, now time.Time) {
	r.sweep(ctx, "tick", func(ctx context.Context, sess *session.Session) error {
		_, err := sess.Tick(ctx, now)
		return err
	})
}

// CheckTimeouts asks the clock manager about every active game; flagged games
// come back through HandleTimeout.
func (r *Registry) CheckTimeouts(ctx context.Context) {
	r.sweep(ctx, "timeout", func(ctx context.Context, sess *session.Session) error {
		_, err := r.deps.Clocks.CheckTimeout(ctx, sess.ID())
		return err
	})
}

// HandleTimeout routes a clock flag to the owning session.
func (r *Registry) HandleTimeout(ctx context.Context, gameID string) error {
	sess, err := r.Get(ctx, gameID)
	if err != nil {
		return err
	}
	ended, err := sess.CheckTimeout(ctx)
	if err != nil {
		return err
	}
	if ended {
		r.logger.Info("game_timeout", zap.String("game_id", gameID))
	}
	return nil
}

// RetryRatings re-applies rating updates that failed when a ranked game ended
// and returns how many games are now rated.
func (r *Registry) RetryRatings(ctx context.Context) int {
	var applied atomic.Int64
	r.sweepSessions(ctx, "rating_retry", r.pendingRatings(), func(ctx context.Context, sess *session.Session) error {
		ok, err := sess.RetryRatings(ctx)
		if ok {
			applied.Add(1)
		}
		return err
	})
	return int(applied.Load())
}

func (r *Registry) pendingRatings() []*session.Session {
	var out []*session.Session
	for _, sess := range r.snapshot() {
		if sess.RatingPending() {
			out = append(out, sess)
		}
	}
	return out
}

// Prune forgets finished sessions that ended before cutoff and returns how
// many were removed. Sessions still waiting for a rating update are kept.
func (r *Registry) Prune(cutoff time.Time) int {
	var stale []string
	for _, sess := range r.snapshot() {
		g := sess.State()
		if g.Finished() && g.EndedAt.Before(cutoff) && !sess.RatingPending() {
			stale = append(stale, g.ID)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	r.mu.Lock()
	for _, id := range stale {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.deps.Clocks.Remove(id)
	}
	r.logger.Debug("sessions_pruned", zap.Int("count", len(stale)))
	return len(stale)
}

// Wait drains pending computer moves of every session.
func (r *Registry) Wait() {
	for _, sess := range r.snapshot() {
		sess.Wait()
	}
}

func (r *Registry) snapshot() []*session.Session {
	r.mu.RLock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// sweep runs fn for each active session. A failing or panicking game is
// logged and counted without stopping the others.
func (r *Registry) sweep(ctx context.Context, job string, fn func(context.Context, *session.Session) error) {
	r.sweepSessions(ctx, job, r.Active(), fn)
}

func (r *Registry) sweepSessions(ctx context.Context, job string, sessions []*session.Session, fn func(context.Context, *session.Session) error) {
	var g errgroup.Group
	g.SetLimit(sweepParallel)
	for _, sess := range sessions {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.metrics.JobItemFailed(job)
					r.logger.Error("sweep_panic",
						zap.String("job", job),
						zap.String("game_id", sess.ID()),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
				}
			}()
			if err := fn(ctx, sess); err != nil {
				r.metrics.JobItemFailed(job)
				r.logger.Warn("sweep_item_failed",
					zap.String("job", job),
					zap.String("game_id", sess.ID()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) seat(a, b domain.Player) (domain.Player, domain.Player) {
	if r.coin() {
		return a, b
	}
	return b, a
}

func (r *Registry) player(ctx context.Context, userID string) (domain.Player, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Player{}, domain.ErrInvalidPlayer
	}
	p, err := r.store.GetProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Player{ID: userID, Name: userID, Kind: domain.KindHuman}, nil
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	name := p.Name
	if name == "" {
		name = userID
	}
	kind := p.Kind
	if kind == "" {
		kind = domain.KindHuman
	}
	return domain.Player{ID: userID, Name: name, Kind: kind}, nil
}

func newComputer() domain.Player {
	return domain.Player{ID: "computer-" + uuid.NewString(), Name: computerName, Kind: domain.KindComputer}
}

func secureCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return n.Int64() == 0
}
