package matchqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/store/memory"
)

type pairing struct{ white, black, tc string }

type fakeCreator struct {
	mu    sync.Mutex
	calls []pairing
	err   error
}

func (f *fakeCreator) CreateRankedGame(_ context.Context, whiteID, blackID, tc string) (*domain.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, pairing{whiteID, blackID, tc})
	return &domain.Game{ID: whiteID + "-" + blackID, Type: domain.GameRanked, TimeControl: tc}, nil
}

type stepClock struct{ now time.Time }

func (s *stepClock) Now() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func newTestQueue(t *testing.T, creator GameCreator, opts ...Option) (*Queue, *memory.Store) {
	t.Helper()
	st := memory.New()
	clk := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	base := []Option{
		WithStore(st),
		WithNow(clk.Now),
		WithCoin(func() bool { return true }),
		WithLogger(zap.NewNop()),
	}
	return New(creator, append(base, opts...)...), st
}

func mustJoin(t *testing.T, q *Queue, userID string, rating int, tc string) {
	t.Helper()
	if _, err := q.Join(context.Background(), userID, rating, tc); err != nil {
		t.Fatalf("Join(%s): %v", userID, err)
	}
}

func TestJoinValidatesTimeControl(t *testing.T) {
	q, _ := newTestQueue(t, &fakeCreator{})
	if _, err := q.Join(context.Background(), "u1", 1500, "hyperbullet"); !errors.Is(err, domain.ErrInvalidTimeControl) {
		t.Fatalf("err = %v, want ErrInvalidTimeControl", err)
	}
	e, err := q.Join(context.Background(), "u1", 1500, "  BLITZ ")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if e.TimeControl != "blitz" {
		t.Fatalf("time control = %q", e.TimeControl)
	}
}

func TestJoinKeepsSingleEntryPerUser(t *testing.T) {
	q, st := newTestQueue(t, &fakeCreator{})
	mustJoin(t, q, "u1", 1500, "blitz")
	mustJoin(t, q, "u1", 1500, "rapid")
	mustJoin(t, q, "u1", 1510, "bullet")

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	entries := q.Entries()
	if entries[0].TimeControl != "bullet" || entries[0].Rating != 1510 {
		t.Fatalf("entry = %+v", entries[0])
	}
	stored, err := st.LoadQueueEntries(context.Background())
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored entries = %v, %v", stored, err)
	}
}

func TestPairingRespectsRatingWindow(t *testing.T) {
	creator := &fakeCreator{}
	q, _ := newTestQueue(t, creator)
	mustJoin(t, q, "a", 1500, "blitz")
	mustJoin(t, q, "b", 1750, "blitz")

	if games := q.ProcessPairing(context.Background()); len(games) != 0 {
		t.Fatalf("paired across a 250 point gap: %+v", creator.calls)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestPairingTakesFirstCompatibleFromOldest(t *testing.T) {
	creator := &fakeCreator{}
	m := metrics.New()
	q, st := newTestQueue(t, creator, WithMetrics(m))
	mustJoin(t, q, "old", 2000, "blitz")
	mustJoin(t, q, "mid", 1500, "blitz")
	mustJoin(t, q, "x", 1650, "blitz")
	mustJoin(t, q, "y", 1600, "blitz")
	mustJoin(t, q, "r1", 1500, "rapid")
	mustJoin(t, q, "r2", 1700, "rapid")

	games := q.ProcessPairing(context.Background())
	if len(games) != 2 {
		t.Fatalf("games = %d, want one per time control", len(games))
	}
	want := map[string]pairing{
		"blitz": {"mid", "x", "blitz"},
		"rapid": {"r1", "r2", "rapid"},
	}
	for _, c := range creator.calls {
		if want[c.tc] != c {
			t.Fatalf("pairing %+v, want %+v", c, want[c.tc])
		}
	}
	left := q.Entries()
	if len(left) != 2 || left[0].UserID != "old" || left[1].UserID != "y" {
		t.Fatalf("remaining = %+v", left)
	}
	stored, _ := st.LoadQueueEntries(context.Background())
	if len(stored) != 2 {
		t.Fatalf("store still holds %d entries", len(stored))
	}
	if got := testutil.ToFloat64(m.Pairings.WithLabelValues("blitz")); got != 1 {
		t.Fatalf("blitz pairings = %v", got)
	}
	if got := testutil.ToFloat64(m.QueueSize.WithLabelValues("blitz")); got != 2 {
		t.Fatalf("blitz queue size = %v", got)
	}
}

func TestPairingColoursFollowCoin(t *testing.T) {
	creator := &fakeCreator{}
	q, _ := newTestQueue(t, creator, WithCoin(func() bool { return false }))
	mustJoin(t, q, "a", 1500, "rapid")
	mustJoin(t, q, "b", 1550, "rapid")
	q.ProcessPairing(context.Background())
	if len(creator.calls) != 1 || creator.calls[0].white != "b" || creator.calls[0].black != "a" {
		t.Fatalf("calls = %+v", creator.calls)
	}
}

func TestPairingFailureKeepsEntries(t *testing.T) {
	creator := &fakeCreator{err: errors.New("store down")}
	q, _ := newTestQueue(t, creator)
	mustJoin(t, q, "a", 1500, "blitz")
	mustJoin(t, q, "b", 1500, "blitz")
	if games := q.ProcessPairing(context.Background()); len(games) != 0 {
		t.Fatalf("games = %d", len(games))
	}
	if q.Len() != 2 {
		t.Fatalf("entries lost after failed pairing: %d", q.Len())
	}
}

func TestLeave(t *testing.T) {
	q, _ := newTestQueue(t, &fakeCreator{})
	mustJoin(t, q, "a", 1500, "blitz")
	if err := q.Leave(context.Background(), "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := q.Leave(context.Background(), "a"); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d", q.Len())
	}
}

func TestSweepExpired(t *testing.T) {
	q, _ := newTestQueue(t, &fakeCreator{})
	mustJoin(t, q, "a", 1500, "blitz")
	mustJoin(t, q, "b", 1900, "blitz")
	first := q.Entries()[0].EnqueuedAt

	if n := q.SweepExpired(context.Background(), first.Add(EntryTTL)); n != 0 {
		t.Fatalf("expired %d at exactly the TTL", n)
	}
	if n := q.SweepExpired(context.Background(), first.Add(EntryTTL+500*time.Millisecond)); n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	if left := q.Entries(); len(left) != 1 || left[0].UserID != "b" {
		t.Fatalf("remaining = %+v", left)
	}
}

func TestRestore(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"late", "early"} {
		e := domain.QueueEntry{UserID: id, Rating: 1500, TimeControl: "Blitz", EnqueuedAt: base.Add(time.Duration(1-i) * time.Minute)}
		if err := st.SaveQueueEntry(ctx, e); err != nil {
			t.Fatalf("SaveQueueEntry: %v", err)
		}
	}
	creator := &fakeCreator{}
	q := New(creator, WithStore(st), WithCoin(func() bool { return true }), WithLogger(zap.NewNop()))
	n, err := q.Restore(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	q.ProcessPairing(ctx)
	if len(creator.calls) != 1 || creator.calls[0].white != "early" || creator.calls[0].tc != "blitz" {
		t.Fatalf("calls = %+v", creator.calls)
	}
}
