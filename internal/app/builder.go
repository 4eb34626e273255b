// Package app wires the configured backends into a running service.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/broadcast"
	"github.com/park285/chess-live/internal/clock"
	"github.com/park285/chess-live/internal/config"
	"github.com/park285/chess-live/internal/engine"
	"github.com/park285/chess-live/internal/engine/uci"
	"github.com/park285/chess-live/internal/invitation"
	"github.com/park285/chess-live/internal/matchqueue"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/rating"
	"github.com/park285/chess-live/internal/registry"
	"github.com/park285/chess-live/internal/rules"
	"github.com/park285/chess-live/internal/scheduler"
	"github.com/park285/chess-live/internal/session"
	"github.com/park285/chess-live/internal/store"
	"github.com/park285/chess-live/internal/store/memory"
	"github.com/park285/chess-live/internal/store/postgres"
	"github.com/park285/chess-live/internal/store/redisstore"
	"github.com/park285/chess-live/internal/timecontrol"
)

// primaryStore is what postgres.Repository and memory.Store both provide.
type primaryStore interface {
	store.Primary
	rating.Store
}

type liveStore interface {
	clock.Store
	matchqueue.Store
}

type App struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Catalog     *timecontrol.Catalog
	Clocks      *clock.Manager
	Ratings     *rating.Service
	Registry    *registry.Registry
	Queue       *matchqueue.Queue
	Invitations *invitation.Manager // nil without Redis
	Scheduler   *scheduler.Scheduler

	async   *broadcast.Async
	closers []func() error
}

// Build connects the configured stores and assembles the game services.
// Without DATABASE_URL and REDIS_URL everything runs in memory.
func Build(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Catalog, err = timecontrol.New(cfg.TimeControlDir)
	if err != nil {
		return nil, fmt.Errorf("load time controls: %w", err)
	}

	mem := memory.New()
	var primary primaryStore = mem
	if cfg.DatabaseURL != "" {
		repo, perr := postgres.Open(ctx, cfg.DatabaseURL)
		if perr != nil {
			return nil, fmt.Errorf("open postgres: %w", perr)
		}
		a.closers = append(a.closers, repo.Close)
		if cfg.MigrateOnStart {
			if merr := repo.Migrate(ctx); merr != nil {
				return nil, merr
			}
		}
		primary = repo
	}

	var (
		games registry.Store = primary
		live  liveStore      = mem
		rdb   redis.UniversalClient
	)
	sinks := broadcast.Fanout{broadcast.NewLog(logger)}
	if cfg.RedisURL != "" {
		opts, perr := redisstore.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if perr := client.Ping(ctx).Err(); perr != nil {
			return nil, fmt.Errorf("ping redis: %w", perr)
		}
		rdb = client
		hot := redisstore.New(client, cfg.RedisKeyPrefix)
		games = store.NewTiered(primary, hot, logger)
		live = hot
		sinks = append(sinks, broadcast.NewRedisPublisher(client, cfg.RedisKeyPrefix, logger))
	}
	if cfg.WebhookURL != "" {
		token := cfg.WebhookToken
		sinks = append(sinks, broadcast.NewWebhook(cfg.WebhookURL,
			broadcast.WithTimeout(cfg.WebhookTimeout),
			broadcast.WithLogger(logger),
			broadcast.WithHeaderProvider(func() map[string]string {
				if token == "" {
					return nil
				}
				return map[string]string{"Authorization": "Bearer " + token}
			}),
		))
	}
	a.async = broadcast.NewAsync(sinks, cfg.BroadcastBuffer, logger, a.Metrics)

	oracle := rules.New()
	var searcher engine.Searcher
	if cfg.StockfishPath != "" {
		pool, perr := uci.NewPool(uci.PoolConfig{
			BinaryPath:       cfg.StockfishPath,
			PerSkillCapacity: cfg.EnginePoolSize,
			Logger:           logger,
		})
		if perr != nil {
			return nil, fmt.Errorf("init engine: %w", perr)
		}
		a.closers = append(a.closers, pool.Close)
		searcher = pool
	} else {
		logger.Warn("engine_disabled", zap.String("reason", "STOCKFISH_PATH not set"))
	}
	suggester := engine.NewSuggester(engine.Config{
		Searcher: searcher,
		Catalog:  a.Catalog,
		Oracle:   oracle,
		MoveTime: cfg.EngineMoveTime,
		Threads:  cfg.EngineThreads,
		Logger:   logger,
		Metrics:  a.Metrics,
	})

	a.Clocks = clock.NewManager(clock.WithStore(live), clock.WithLogger(logger))
	a.Ratings = rating.NewService(primary, logger)
	a.Registry = registry.New(games, session.Deps{
		Clocks:      a.Clocks,
		Oracle:      oracle,
		Ratings:     a.Ratings,
		Engine:      suggester,
		Broadcaster: a.async,
		Metrics:     a.Metrics,
		Logger:      logger,
	}, registry.WithCatalog(a.Catalog), registry.WithMetrics(a.Metrics))

	a.Queue = matchqueue.New(a.Registry,
		matchqueue.WithStore(live),
		matchqueue.WithCatalog(a.Catalog),
		matchqueue.WithMetrics(a.Metrics),
		matchqueue.WithLogger(logger),
	)
	restored, err := a.Queue.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore queue: %w", err)
	}
	if restored > 0 {
		logger.Info("queue_restored", zap.Int("entries", restored))
	}

	if rdb != nil {
		a.Invitations = invitation.NewManager(rdb, a.Registry,
			invitation.WithPrefix(cfg.RedisKeyPrefix+":invite"),
			invitation.WithTTL(cfg.InvitationTTL),
			invitation.WithCatalog(a.Catalog),
			invitation.WithLogger(logger),
		)
	}

	a.Scheduler = scheduler.New(a.Registry, a.Queue, scheduler.Config{
		TickInterval:    cfg.TickInterval,
		PairingInterval: cfg.PairingInterval,
		SweepInterval:   cfg.SweepInterval,
		Retention:       cfg.SessionRetention,
	}, scheduler.WithLogger(logger), scheduler.WithMetrics(a.Metrics))

	logger.Info("app_built",
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", rdb != nil),
		zap.Bool("engine", searcher != nil),
		zap.Bool("webhook", cfg.WebhookURL != ""),
		zap.Strings("time_controls", a.Catalog.Names()),
	)
	return a, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
