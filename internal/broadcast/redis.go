package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-live/pkg/chessdto"
)

// RedisPublisher publishes JSON events on per-game channels:
// <prefix>:<gameID>:moves, :clock and :end.
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "game"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, logger: logger}
}

// Channel returns the pub/sub channel for one game and topic.
func (p *RedisPublisher) Channel(gameID, topic string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, gameID, topic)
}

func (p *RedisPublisher) Move(ctx context.Context, ev chessdto.MoveEvent) {
	p.publish(ctx, p.Channel(ev.GameID, "moves"), ev)
}

func (p *RedisPublisher) Clock(ctx context.Context, ev chessdto.ClockEvent) {
	p.publish(ctx, p.Channel(ev.GameID, "clock"), ev)
}

func (p *RedisPublisher) GameEnd(ctx context.Context, ev chessdto.GameEndEvent) {
	p.publish(ctx, p.Channel(ev.GameID, "end"), ev)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("broadcast_marshal_failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, channel, b).Err(); err != nil {
		p.logger.Warn("broadcast_publish_failed", zap.String("channel", channel), zap.Error(err))
	}
}
