package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/obslog"
)

// Store is the persistence the rating service needs. SaveRatingResult must
// write the records and profiles atomically.
type Store interface {
	GetProfile(ctx context.Context, userID string) (domain.PlayerProfile, error)
	HasRatingRecords(ctx context.Context, gameID string) (bool, error)
	SaveRatingResult(ctx context.Context, records []domain.RatingRecord, profiles []domain.PlayerProfile) error
	RatingHistory(ctx context.Context, userID string, limit int) ([]domain.RatingRecord, error)
}

// Change is the outcome of one rated game.
type Change struct {
	White domain.RatingRecord
	Black domain.RatingRecord
}

type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = obslog.L()
	}
	return &Service{
		store:    store,
		now:      time.Now,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// UpdateRatings applies one finished ranked game. A second call for the same
// game fails with domain.ErrConflict.
func (s *Service) UpdateRatings(ctx context.Context, gameID, whiteID, blackID string, result domain.Result) (Change, error) {
	if gameID == "" || whiteID == "" || blackID == "" || whiteID == blackID {
		return Change{}, fmt.Errorf("%w: game and two distinct players required", domain.ErrInvalidInput)
	}
	if !s.claim(gameID) {
		return Change{}, domain.ErrRatingApplied
	}
	defer s.release(gameID)

	done, err := s.store.HasRatingRecords(ctx, gameID)
	if err != nil {
		return Change{}, fmt.Errorf("check rating records: %w", err)
	}
	if done {
		return Change{}, domain.ErrRatingApplied
	}

	now := s.now()
	white, err := s.profile(ctx, whiteID, now)
	if err != nil {
		return Change{}, err
	}
	black, err := s.profile(ctx, blackID, now)
	if err != nil {
		return Change{}, err
	}
	dw, db, err := Deltas(white, black, result)
	if err != nil {
		return Change{}, err
	}

	change := Change{
		White: domain.RatingRecord{
			UserID: whiteID, GameID: gameID,
			OldRating: white.Rating, NewRating: white.Rating + dw, Delta: dw,
			OpponentRating: black.Rating, Result: outcomeFor(domain.White, result), CreatedAt: now,
		},
		Black: domain.RatingRecord{
			UserID: blackID, GameID: gameID,
			OldRating: black.Rating, NewRating: black.Rating + db, Delta: db,
			OpponentRating: white.Rating, Result: outcomeFor(domain.Black, result), CreatedAt: now,
		},
	}
	nextWhite := applyRecord(white, change.White, now)
	nextBlack := applyRecord(black, change.Black, now)

	records := []domain.RatingRecord{change.White, change.Black}
	if err := s.store.SaveRatingResult(ctx, records, []domain.PlayerProfile{nextWhite, nextBlack}); err != nil {
		return Change{}, fmt.Errorf("save rating result: %w", err)
	}
	s.logger.Info("rating_updated",
		zap.String("game_id", gameID),
		zap.String("white_id", whiteID),
		zap.Int("white_delta", dw),
		zap.Int("white_rating", nextWhite.Rating),
		zap.String("black_id", blackID),
		zap.Int("black_delta", db),
		zap.Int("black_rating", nextBlack.Rating),
	)
	return change, nil
}

// History returns a player's most recent rating records, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.RatingRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidPlayer
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.RatingHistory(ctx, userID, limit)
}

func (s *Service) profile(ctx context.Context, userID string, now time.Time) (domain.PlayerProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewProfile(domain.Player{ID: userID, Kind: domain.KindHuman}, now), nil
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if p.Rating == 0 {
		p.Rating = domain.DefaultRating
	}
	return p, nil
}

func (s *Service) claim(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[gameID]; busy {
		return false
	}
	s.inflight[gameID] = struct{}{}
	return true
}

func (s *Service) release(gameID string) {
	s.mu.Lock()
	delete(s.inflight, gameID)
	s.mu.Unlock()
}

func applyRecord(p domain.PlayerProfile, rec domain.RatingRecord, now time.Time) domain.PlayerProfile {
	p.Rating = rec.NewRating
	p.GamesPlayed++
	switch rec.Result {
	case "win":
		p.Wins++
	case "loss":
		p.Losses++
	default:
		p.Draws++
	}
	p.UpdatedAt = now
	return p
}
