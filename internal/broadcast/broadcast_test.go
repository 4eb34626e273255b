package broadcast

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/pkg/chessdto"
)

type recorder struct {
	mu     sync.Mutex
	moves  []chessdto.MoveEvent
	clocks []chessdto.ClockEvent
	ends   []chessdto.GameEndEvent
}

func (r *recorder) Move(_ context.Context, ev chessdto.MoveEvent) {
	r.mu.Lock()
	r.moves = append(r.moves, ev)
	r.mu.Unlock()
}

func (r *recorder) Clock(_ context.Context, ev chessdto.ClockEvent) {
	r.mu.Lock()
	r.clocks = append(r.clocks, ev)
	r.mu.Unlock()
}

func (r *recorder) GameEnd(_ context.Context, ev chessdto.GameEndEvent) {
	r.mu.Lock()
	r.ends = append(r.ends, ev)
	r.mu.Unlock()
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, Nop{}, b, NewLog(nil)}
	ctx := context.Background()
	f.Move(ctx, chessdto.MoveEvent{GameID: "g1", Notation: "e4"})
	f.Clock(ctx, chessdto.ClockEvent{GameID: "g1"})
	f.GameEnd(ctx, chessdto.GameEndEvent{GameID: "g1"})
	if len(a.moves) != 1 || len(b.moves) != 1 || len(a.clocks) != 1 || len(b.ends) != 1 {
		t.Fatalf("fanout incomplete: a=%+v b=%+v", a, b)
	}
}

func TestAsyncPreservesOrder(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 16, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()

	for i := 1; i <= 5; i++ {
		a.Move(context.Background(), chessdto.MoveEvent{GameID: "g1", Ply: i})
	}
	cancel()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("async worker did not stop")
	}
	if len(rec.moves) != 5 {
		t.Fatalf("delivered %d events", len(rec.moves))
	}
	for i, ev := range rec.moves {
		if ev.Ply != i+1 {
			t.Fatalf("out of order: %+v", rec.moves)
		}
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	m := metrics.New()
	a := NewAsync(&recorder{}, 1, nil, m)
	a.Clock(context.Background(), chessdto.ClockEvent{GameID: "g1"})
	a.Clock(context.Background(), chessdto.ClockEvent{GameID: "g1"})
	if got := len(a.events); got != 1 {
		t.Fatalf("buffered = %d", got)
	}
}

func TestRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	p := NewRedisPublisher(rdb, "", nil)
	sub := rdb.Subscribe(ctx, p.Channel("g1", "moves"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p.Move(ctx, chessdto.MoveEvent{GameID: "g1", Notation: "Nf3", IsCheck: false})

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(rctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Channel != "game:g1:moves" {
		t.Fatalf("channel = %s", msg.Channel)
	}
	var ev chessdto.MoveEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Notation != "Nf3" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	srv := &fasthttp.Server{Handler: func(rc *fasthttp.RequestCtx) {
		if string(rc.Request.Header.Peek("X-Token")) != "secret" {
			rc.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		got <- string(rc.Path()) + " " + string(rc.PostBody())
		rc.SetStatusCode(fasthttp.StatusNoContent)
	}}
	go func() { _ = srv.Serve(ln) }()

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	w := NewWebhook("http://spectators.local/",
		WithHTTPClient(client),
		WithHeaderProvider(func() map[string]string { return map[string]string{"X-Token": "secret"} }),
	)
	w.GameEnd(context.Background(), chessdto.GameEndEvent{GameID: "g9", Result: "DRAW", EndReason: "stalemate"})

	select {
	case line := <-got:
		want := `/events/end {"game_id":"g9","result":"DRAW","end_reason":"stalemate","ended_at":"0001-01-01T00:00:00Z"}`
		if line != want {
			t.Fatalf("request = %s", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("webhook not delivered")
	}

	if err := w.post(context.Background(), "/events/clock", chessdto.ClockEvent{}); err != nil {
		t.Fatalf("post: %v", err)
	}
	<-got
}
