package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/park285/chess-live/internal/domain"
)

// newTestRepository connects to CHESS_TEST_DATABASE_URL or skips.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("CHESS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHESS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestRepositoryGameRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	g := &domain.Game{
		ID:        uuid.NewString(),
		White:     domain.Player{ID: "w-" + uuid.NewString(), Kind: domain.KindHuman},
		Black:     domain.Player{ID: "b-" + uuid.NewString(), Kind: domain.KindGuest},
		Type:      domain.GameCasual,
		Initial:   domain.Position{FEN: domain.StartFEN},
		Position:  domain.Position{FEN: domain.StartFEN, Turn: domain.White},
		Status:    domain.StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.SaveGame(ctx, g); err != nil {
		t.Fatalf("save: %v", err)
	}
	g.Finish(domain.ResultDraw, domain.EndStalemate, now.Add(time.Minute))
	if err := repo.SaveGame(ctx, g); err != nil {
		t.Fatalf("save finished: %v", err)
	}
	got, err := repo.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFinished || got.Result != domain.ResultDraw || got.Black.Kind != domain.KindGuest {
		t.Fatalf("game = %+v", got)
	}
	if _, err := repo.GetGame(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRepositoryRatingResultIsOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	gameID := uuid.NewString()
	user := "u-" + uuid.NewString()
	rec := domain.RatingRecord{UserID: user, GameID: gameID, OldRating: 1200, NewRating: 1216, Delta: 16, OpponentRating: 1200, Result: "win", CreatedAt: time.Now()}
	prof := domain.PlayerProfile{UserID: user, Kind: domain.KindHuman, Rating: 1216, GamesPlayed: 1, Wins: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	if err := repo.SaveRatingResult(ctx, []domain.RatingRecord{rec}, []domain.PlayerProfile{prof}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveRatingResult(ctx, []domain.RatingRecord{rec}, []domain.PlayerProfile{prof}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	done, err := repo.HasRatingRecords(ctx, gameID)
	if err != nil || !done {
		t.Fatalf("has records = %v err=%v", done, err)
	}
	hist, err := repo.RatingHistory(ctx, user, 5)
	if err != nil || len(hist) != 1 || hist[0].NewRating != 1216 {
		t.Fatalf("history = %+v err=%v", hist, err)
	}
}
