// Package store composes the persistence backends. Postgres (or memory) is
// authoritative for games and profiles; Redis keeps a hot copy of live games.
package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/obslog"
)

type GameStore interface {
	SaveGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
}

// Primary is the authoritative store for games and player profiles.
type Primary interface {
	GameStore
	GetProfile(ctx context.Context, userID string) (domain.PlayerProfile, error)
	EnsureProfile(ctx context.Context, p domain.PlayerProfile) error
}

// Tiered writes through to the primary and then refreshes the cache. Reads
// try the cache first.
type Tiered struct {
	Primary
	cache  GameStore
	logger *zap.Logger
}

func NewTiered(primary Primary, cache GameStore, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = obslog.L()
	}
	return &Tiered{Primary: primary, cache: cache, logger: logger}
}

// SaveGame fails only when the primary write fails.
func (t *Tiered) SaveGame(ctx context.Context, g *domain.Game) error {
	if err := t.Primary.SaveGame(ctx, g); err != nil {
		return err
	}
	if err := t.cache.SaveGame(ctx, g); err != nil {
		t.logger.Warn("game_cache_write_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
	return nil
}

func (t *Tiered) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	if g, err := t.cache.GetGame(ctx, id); err == nil {
		return g, nil
	}
	return t.Primary.GetGame(ctx, id)
}
