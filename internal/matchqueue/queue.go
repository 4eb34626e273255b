// Package matchqueue holds players waiting for a ranked game and pairs them by
// time control and rating.
package matchqueue

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/obslog"
	"github.com/park285/chess-live/internal/timecontrol"
)

const (
	MaxRatingDifference = 200
	EntryTTL            = 5 * time.Minute
)

type Store interface {
	SaveQueueEntry(ctx context.Context, e domain.QueueEntry) error
	DeleteQueueEntry(ctx context.Context, userID string) error
	LoadQueueEntries(ctx context.Context) ([]domain.QueueEntry, error)
}

// GameCreator starts the ranked game for a pair; colours are already drawn.
type GameCreator interface {
	CreateRankedGame(ctx context.Context, whiteID, blackID, timeControl string) (*domain.Game, error)
}

type Option func(*Queue)

func WithStore(s Store) Option { return func(q *Queue) { q.store = s } }

func WithNow(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithCoin replaces the colour draw; true makes the older entry white.
func WithCoin(coin func() bool) Option { return func(q *Queue) { q.coin = coin } }

func WithCatalog(c *timecontrol.Catalog) Option { return func(q *Queue) { q.catalog = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

type Queue struct {
	creator GameCreator
	store   Store
	catalog *timecontrol.Catalog
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	coin    func() bool

	mu      sync.Mutex
	entries map[string]waiting
	seq     uint64
}

// waiting keeps join order stable for entries sharing a timestamp.
type waiting struct {
	entry domain.QueueEntry
	seq   uint64
}

func New(creator GameCreator, opts ...Option) *Queue {
	q := &Queue{
		creator: creator,
		now:     time.Now,
		coin:    secureCoin,
		logger:  obslog.L(),
		entries: make(map[string]waiting),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.catalog == nil {
		q.catalog = timecontrol.Default()
	}
	return q
}

// Join enqueues userID, replacing any entry the user already had.
func (q *Queue) Join(ctx context.Context, userID string, rating int, timeControl string) (domain.QueueEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.QueueEntry{}, domain.ErrInvalidPlayer
	}
	tc, err := q.catalog.Normalize(timeControl)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	e := domain.QueueEntry{UserID: userID, Rating: rating, TimeControl: tc, EnqueuedAt: q.now()}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.store != nil {
		if err := q.store.SaveQueueEntry(ctx, e); err != nil {
			return domain.QueueEntry{}, fmt.Errorf("save queue entry: %w", err)
		}
	}
	q.seq++
	q.entries[userID] = waiting{entry: e, seq: q.seq}
	q.publishSizesLocked()
	q.logger.Info("queue_join",
		zap.String("user_id", userID),
		zap.String("time_control", tc),
		zap.Int("rating", rating),
	)
	return e, nil
}

// Leave removes userID's entry; absent users are not an error.
func (q *Queue) Leave(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[userID]; !ok {
		return nil
	}
	if q.store != nil {
		if err := q.store.DeleteQueueEntry(ctx, userID); err != nil {
			return fmt.Errorf("delete queue entry: %w", err)
		}
	}
	delete(q.entries, userID)
	q.publishSizesLocked()
	return nil
}

// ProcessPairing makes at most one pair per time control: the oldest entry
// that has a compatible partner, matched with the oldest such partner.
func (q *Queue) ProcessPairing(ctx context.Context) []*domain.Game {
	q.mu.Lock()
	defer q.mu.Unlock()

	var games []*domain.Game
	for tc, line := range q.linesLocked() {
		a, b, ok := firstCompatible(line)
		if !ok {
			continue
		}
		white, black := a, b
		if !q.coin() {
			white, black = b, a
		}
		g, err := q.creator.CreateRankedGame(ctx, white.UserID, black.UserID, tc)
		if err != nil {
			q.logger.Warn("queue_pairing_failed",
				zap.String("time_control", tc),
				zap.String("white", white.UserID),
				zap.String("black", black.UserID),
				zap.Error(err),
			)
			continue
		}
		for _, userID := range []string{a.UserID, b.UserID} {
			delete(q.entries, userID)
			if q.store == nil {
				continue
			}
			if err := q.store.DeleteQueueEntry(ctx, userID); err != nil {
				q.logger.Warn("queue_entry_delete_failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		q.metrics.Paired(tc)
		q.logger.Info("queue_paired",
			zap.String("game_id", g.ID),
			zap.String("time_control", tc),
			zap.String("white", white.UserID),
			zap.String("black", black.UserID),
		)
		games = append(games, g)
	}
	q.publishSizesLocked()
	return games
}

// SweepExpired drops entries that waited longer than EntryTTL and returns
// how many were removed.
func (q *Queue) SweepExpired(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for userID, w := range q.entries {
		if now.Sub(w.entry.EnqueuedAt) <= EntryTTL {
			continue
		}
		if q.store != nil {
			if err := q.store.DeleteQueueEntry(ctx, userID); err != nil {
				q.logger.Warn("queue_entry_delete_failed", zap.String("user_id", userID), zap.Error(err))
				continue
			}
		}
		delete(q.entries, userID)
		removed++
	}
	if removed > 0 {
		q.metrics.Expired(removed)
		q.publishSizesLocked()
		q.logger.Info("queue_expired", zap.Int("count", removed))
	}
	return removed
}

// Restore reloads persisted entries, oldest first.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	loaded, err := q.store.LoadQueueEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue entries: %w", err)
	}
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].EnqueuedAt.Before(loaded[j].EnqueuedAt) })

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range loaded {
		tc, err := q.catalog.Normalize(e.TimeControl)
		if err != nil {
			q.logger.Warn("queue_entry_skipped", zap.String("user_id", e.UserID), zap.Error(err))
			continue
		}
		e.TimeControl = tc
		q.seq++
		q.entries[e.UserID] = waiting{entry: e, seq: q.seq}
	}
	q.publishSizesLocked()
	return len(q.entries), nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries lists the queue in join order.
func (q *Queue) Entries() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.QueueEntry
	for _, line := range q.linesLocked() {
		out = append(out, line...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// linesLocked groups entries by time control in join order.
func (q *Queue) linesLocked() map[string][]domain.QueueEntry {
	byTC := make(map[string][]waiting)
	for _, w := range q.entries {
		byTC[w.entry.TimeControl] = append(byTC[w.entry.TimeControl], w)
	}
	out := make(map[string][]domain.QueueEntry, len(byTC))
	for tc, ws := range byTC {
		sort.Slice(ws, func(i, j int) bool {
			if !ws[i].entry.EnqueuedAt.Equal(ws[j].entry.EnqueuedAt) {
				return ws[i].entry.EnqueuedAt.Before(ws[j].entry.EnqueuedAt)
			}
			return ws[i].seq < ws[j].seq
		})
		line := make([]domain.QueueEntry, len(ws))
		for i, w := range ws {
			line[i] = w.entry
		}
		out[tc] = line
	}
	return out
}

func (q *Queue) publishSizesLocked() {
	if q.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, w := range q.entries {
		counts[w.entry.TimeControl]++
	}
	for _, tc := range q.catalog.Names() {
		q.metrics.SetQueueSize(tc, counts[tc])
	}
}

func firstCompatible(line []domain.QueueEntry) (domain.QueueEntry, domain.QueueEntry, bool) {
	for i := 0; i < len(line); i++ {
		for j := i + 1; j < len(line); j++ {
			if abs(line[i].Rating-line[j].Rating) <= MaxRatingDifference {
				return line[i], line[j], true
			}
		}
	}
	return domain.QueueEntry{}, domain.QueueEntry{}, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func secureCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return n.Int64() == 0
}
