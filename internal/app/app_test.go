package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/config"
	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/session"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		MetricsAddr:      "127.0.0.1:0",
		RedisKeyPrefix:   "chess-test",
		EngineThreads:    1,
		EnginePoolSize:   1,
		EngineMoveTime:   100 * time.Millisecond,
		TickInterval:     time.Second,
		PairingInterval:  time.Second,
		SweepInterval:    time.Minute,
		SessionRetention: time.Minute,
		BroadcastBuffer:  16,
		WebhookTimeout:   time.Second,
		InvitationTTL:    time.Minute,
	}
}

var (
	alice = domain.Player{ID: "u1", Name: "alice", Kind: domain.KindHuman}
	bob   = domain.Player{ID: "u2", Name: "bob", Kind: domain.KindHuman}
)

func TestBuildInMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Invitations != nil {
		t.Fatalf("invitations need redis")
	}

	g, err := a.Registry.CreateCasualGame(ctx, alice, bob, "blitz")
	if err != nil {
		t.Fatalf("CreateCasualGame: %v", err)
	}
	sess, err := a.Registry.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	white := sess.State().White.ID
	if _, err := sess.SubmitMove(ctx, session.MoveRequest{From: "e2", To: "e4", PlayerID: white}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if got := testutil.ToFloat64(a.Metrics.MovesCommitted); got != 1 {
		t.Fatalf("moves committed = %v", got)
	}
	if _, err := a.Clocks.Get(g.ID); err != nil {
		t.Fatalf("clock missing: %v", err)
	}

	if _, err := a.Queue.Join(ctx, "u3", 1500, "rapid"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := a.Queue.Join(ctx, "u4", 1550, "rapid"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	a.Scheduler.RunPairing(ctx)
	if a.Queue.Len() != 0 {
		t.Fatalf("queue not drained: %d", a.Queue.Len())
	}
	if got := len(a.Registry.Active()); got != 2 {
		t.Fatalf("active sessions = %d, want 2", got)
	}
}

func TestBuildWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.Invitations == nil {
		t.Fatalf("invitations not wired")
	}

	inv, err := a.Invitations.Create(ctx, alice, "rapid")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, g, err := a.Invitations.Accept(ctx, inv.Code, bob)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !mr.Exists("chess-test:game:" + g.ID) {
		t.Fatalf("game not cached in redis")
	}
	if !mr.Exists("chess-test:clock:" + g.ID) {
		t.Fatalf("clock not persisted in redis")
	}
}

func TestBuildRejectsMissingEngine(t *testing.T) {
	cfg := testConfig()
	cfg.StockfishPath = "/nonexistent/stockfish"
	if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected engine error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	select {
	case <-a.async.Done():
	default:
		t.Fatalf("broadcaster still running")
	}
}
