// Package redisstore keeps live state (game snapshots, clocks, queue
// entries) in Redis with a bounded TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-live/internal/domain"
)

const defaultTTL = 24 * time.Hour

type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "chess"
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: defaultTTL}
}

func (s *Store) keyGame(id string) string  { return s.prefix + ":game:" + strings.TrimSpace(id) }
func (s *Store) keyClock(id string) string { return s.prefix + ":clock:" + strings.TrimSpace(id) }
func (s *Store) keyQueue() string          { return s.prefix + ":queue" }

func (s *Store) SaveGame(ctx context.Context, g *domain.Game) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: game id required", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game: %w", err)
	}
	return s.rdb.Set(ctx, s.keyGame(g.ID), raw, s.ttl).Err()
}

func (s *Store) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

func (s *Store) SaveClock(ctx context.Context, st domain.ClockState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal clock: %w", err)
	}
	return s.rdb.Set(ctx, s.keyClock(st.GameID), raw, s.ttl).Err()
}

func (s *Store) GetClock(ctx context.Context, gameID string) (domain.ClockState, error) {
	raw, err := s.rdb.Get(ctx, s.keyClock(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ClockState{}, fmt.Errorf("%w: %s", domain.ErrClockNotFound, gameID)
	}
	if err != nil {
		return domain.ClockState{}, err
	}
	var st domain.ClockState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.ClockState{}, fmt.Errorf("decode clock %s: %w", gameID, err)
	}
	return st, nil
}

// SaveQueueEntry stores the entry under its user, replacing any previous one.
func (s *Store) SaveQueueEntry(ctx context.Context, e domain.QueueEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.keyQueue(), e.UserID, raw)
	pipe.Expire(ctx, s.keyQueue(), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) DeleteQueueEntry(ctx context.Context, userID string) error {
	return s.rdb.HDel(ctx, s.keyQueue(), userID).Err()
}

// LoadQueueEntries returns every persisted entry, oldest first. Entries that
// fail to decode are skipped.
func (s *Store) LoadQueueEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	all, err := s.rdb.HGetAll(ctx, s.keyQueue()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.QueueEntry, 0, len(all))
	for _, raw := range all {
		var e domain.QueueEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

// ParseURL converts a redis:// URL into client options.
func ParseURL(raw string) (*redis.Options, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("redis url is empty")
	}
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts := &redis.Options{Addr: u.Host}
	if u.User != nil {
		opts.Username = u.User.Username()
		if p, ok := u.User.Password(); ok {
			opts.Password = p
		}
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", path, err)
		}
		opts.DB = db
	}
	return opts, nil
}
