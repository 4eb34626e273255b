package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/metrics"
)

type fakeGames struct {
	mu       sync.Mutex
	ticks    []time.Time
	timeouts int
	retries  int
	cutoffs  []time.Time
}

func (f *fakeGames) TickAll(_ context.Context, now time.Time) {
	f.mu.Lock()
	f.ticks = append(f.ticks, now)
	f.mu.Unlock()
}

func (f *fakeGames) CheckTimeouts(context.Context) {
	f.mu.Lock()
	f.timeouts++
	f.mu.Unlock()
}

func (f *fakeGames) RetryRatings(context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cutoffs) > 0 {
		panic("ratings must be retried before pruning")
	}
	f.retries++
	return 1
}

func (f *fakeGames) Prune(cutoff time.Time) int {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, cutoff)
	f.mu.Unlock()
	return 2
}

type fakeQueue struct {
	mu      sync.Mutex
	pairing int
	sweeps  []time.Time
}

func (f *fakeQueue) ProcessPairing(context.Context) []*domain.Game {
	f.mu.Lock()
	f.pairing++
	f.mu.Unlock()
	return []*domain.Game{{ID: "g"}}
}

func (f *fakeQueue) SweepExpired(_ context.Context, now time.Time) int {
	f.mu.Lock()
	f.sweeps = append(f.sweeps, now)
	f.mu.Unlock()
	return 1
}

func (f *fakeQueue) pairings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairing
}

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestRunJobs(t *testing.T) {
	games, queue := &fakeGames{}, &fakeQueue{}
	m := metrics.New()
	s := New(games, queue, Config{Retention: time.Hour},
		WithLogger(zap.NewNop()),
		WithMetrics(m),
		WithNow(func() time.Time { return fixedNow }),
	)
	ctx := context.Background()

	s.RunTick(ctx)
	s.RunPairing(ctx)
	s.RunSweep(ctx)

	if len(games.ticks) != 1 || !games.ticks[0].Equal(fixedNow) || games.timeouts != 1 {
		t.Fatalf("tick job: ticks=%v timeouts=%d", games.ticks, games.timeouts)
	}
	if queue.pairing != 1 {
		t.Fatalf("pairing calls = %d", queue.pairing)
	}
	if games.retries != 1 {
		t.Fatalf("rating retries = %d", games.retries)
	}
	if len(games.cutoffs) != 1 || !games.cutoffs[0].Equal(fixedNow.Add(-time.Hour)) {
		t.Fatalf("prune cutoffs = %v", games.cutoffs)
	}
	if len(queue.sweeps) != 1 || !queue.sweeps[0].Equal(fixedNow) {
		t.Fatalf("sweep times = %v", queue.sweeps)
	}
	if n := testutil.CollectAndCount(m.JobDuration); n != 3 {
		t.Fatalf("job duration series = %d, want 3", n)
	}
}

func TestDefaultsApplied(t *testing.T) {
	s := New(nil, nil, Config{}, WithLogger(zap.NewNop()))
	if s.cfg != DefaultConfig() {
		t.Fatalf("cfg = %+v", s.cfg)
	}
	// nil collaborators are skipped
	s.RunTick(context.Background())
	s.RunPairing(context.Background())
	s.RunSweep(context.Background())
}

func TestStartRunsJobsUntilStopped(t *testing.T) {
	queue := &fakeQueue{}
	s := New(&fakeGames{}, queue, Config{PairingInterval: time.Second}, WithLogger(zap.NewNop()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for queue.pairings() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if queue.pairings() == 0 {
		t.Fatalf("pairing job never ran")
	}
}
