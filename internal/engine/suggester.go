// Package engine picks moves for computer seats: a UCI engine when one is
// configured, otherwise a skill-weighted legal move.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/engine/uci"
	"github.com/park285/chess-live/internal/metrics"
	"github.com/park285/chess-live/internal/rules"
	"github.com/park285/chess-live/internal/timecontrol"
)

const (
	DefaultMoveTime = time.Second
	defaultHashMB   = 16
)

// Searcher is satisfied by *uci.Pool.
type Searcher interface {
	Search(ctx context.Context, opt uci.Options, req uci.SearchRequest) (uci.SearchResponse, error)
}

type Config struct {
	Searcher Searcher
	Catalog  *timecontrol.Catalog
	Oracle   *rules.Oracle
	MoveTime time.Duration
	Threads  int
	Seed     int64
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type Suggester struct {
	searcher Searcher
	catalog  *timecontrol.Catalog
	oracle   *rules.Oracle
	moveTime time.Duration
	threads  int
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSuggester(cfg Config) *Suggester {
	if cfg.Catalog == nil {
		cfg.Catalog = timecontrol.Default()
	}
	if cfg.Oracle == nil {
		cfg.Oracle = rules.New()
	}
	if cfg.MoveTime <= 0 {
		cfg.MoveTime = DefaultMoveTime
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Suggester{
		searcher: cfg.Searcher,
		catalog:  cfg.Catalog,
		oracle:   cfg.Oracle,
		moveTime: cfg.MoveTime,
		threads:  cfg.Threads,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// SuggestMove returns a legal move in UCI notation for the side to move.
func (s *Suggester) SuggestMove(ctx context.Context, pos domain.Position, difficulty string) (string, error) {
	skill, err := s.catalog.SkillLevel(difficulty)
	if err != nil {
		return "", err
	}
	candidates, err := s.oracle.Candidates(pos)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no legal moves", domain.ErrNotInProgress)
	}

	if s.searcher != nil {
		move, err := s.search(ctx, pos, skill, candidates)
		if err == nil {
			return move, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn("engine_fallback",
			zap.String("fen", pos.FEN),
			zap.Int("skill", skill),
			zap.Error(err),
		)
		s.metrics.EngineFallback()
	}
	return s.pick(candidates, skill).UCI, nil
}

func (s *Suggester) search(ctx context.Context, pos domain.Position, skill int, legal []rules.Candidate) (string, error) {
	resp, err := s.searcher.Search(ctx, uci.Options{
		Threads:    s.threads,
		SkillLevel: skill,
		HashMB:     defaultHashMB,
	}, uci.SearchRequest{
		FEN:    pos.FEN,
		Limits: uci.Limits{MoveTimeMillis: int(s.moveTime.Milliseconds())},
	})
	if err != nil {
		return "", err
	}
	for _, c := range legal {
		if c.UCI == resp.BestMove {
			return c.UCI, nil
		}
	}
	return "", errors.New("engine returned illegal bestmove " + resp.BestMove)
}

func (s *Suggester) pick(candidates []rules.Candidate, skill int) rules.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var preferred []rules.Candidate
	var bias float64
	switch {
	case skill <= 5:
	case skill <= 10:
		bias = 0.5
		for _, c := range candidates {
			if c.Capture || c.Check {
				preferred = append(preferred, c)
			}
		}
	default:
		bias = 0.7
		for _, c := range candidates {
			if c.Capture || c.Check || centerSquares[c.To] {
				preferred = append(preferred, c)
			}
		}
	}
	if len(preferred) > 0 && s.rng.Float64() < bias {
		return preferred[s.rng.Intn(len(preferred))]
	}
	return candidates[s.rng.Intn(len(candidates))]
}

var centerSquares = map[string]bool{"d4": true, "d5": true, "e4": true, "e5": true}
