package broadcast

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/pkg/chessdto"
)

// Async decouples callers from slow transports. Events are queued in a
// bounded buffer and delivered in order by one worker; when the buffer is
// full the event is dropped.
type Async struct {
	inner   Broadcaster
	events  chan func(context.Context)
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	once sync.Once
	done chan struct{}
}

func NewAsync(inner Broadcaster, buffer int, logger *zap.Logger, m *metrics.Metrics) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		inner:   inner,
		events:  make(chan func(context.Context), buffer),
		logger:  logger,
		metrics: m,
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already buffered.
func (a *Async) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		select {
		case fn := <-a.events:
			a.deliver(fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-a.events:
					a.deliver(fn)
				default:
					return nil
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (a *Async) Done() <-chan struct{} { return a.done }

func (a *Async) deliver(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	fn(ctx)
}

func (a *Async) enqueue(kind, gameID string, fn func(context.Context)) {
	select {
	case a.events <- fn:
	default:
		a.metrics.BroadcastDrop()
		a.once.Do(func() {
			a.logger.Warn("broadcast_buffer_full", zap.String("kind", kind), zap.String("game_id", gameID))
		})
	}
}

func (a *Async) Move(_ context.Context, ev chessdto.MoveEvent) {
	a.enqueue("move", ev.GameID, func(ctx context.Context) { a.inner.Move(ctx, ev) })
}

func (a *Async) Clock(_ context.Context, ev chessdto.ClockEvent) {
	a.enqueue("clock", ev.GameID, func(ctx context.Context) { a.inner.Clock(ctx, ev) })
}

func (a *Async) GameEnd(_ context.Context, ev chessdto.GameEndEvent) {
	a.enqueue("game_end", ev.GameID, func(ctx context.Context) { a.inner.GameEnd(ctx, ev) })
}
