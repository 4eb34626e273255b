// Package postgres persists games, player profiles and rating history.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/rules"
)

//go:embed schema.sql
var schema string

type Repository struct {
	db *sql.DB
}

// Open connects with the pool limits used across the service and pings once.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{db: db}, nil
}

func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Migrate creates missing tables and indexes.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveGame upserts the full game row, including a freshly rendered PGN.
func (r *Repository) SaveGame(ctx context.Context, g *domain.Game) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: game id required", domain.ErrInvalidInput)
	}
	moves, err := json.Marshal(g.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	var endedAt sql.NullTime
	if !g.EndedAt.IsZero() {
		endedAt = sql.NullTime{Time: g.EndedAt, Valid: true}
	}

	const q = `INSERT INTO games (
        game_id, white_id, white_name, white_kind, black_id, black_name, black_kind,
        game_type, time_control, difficulty, initial_fen, fen, moves,
        status, result, end_reason, rating_applied, pgn, created_at, updated_at, ended_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13::jsonb,$14,$15,$16,$17,$18,$19,$20,$21
      ) ON CONFLICT (game_id) DO UPDATE SET
        fen=EXCLUDED.fen,
        moves=EXCLUDED.moves,
        status=EXCLUDED.status,
        result=EXCLUDED.result,
        end_reason=EXCLUDED.end_reason,
        rating_applied=EXCLUDED.rating_applied,
        pgn=EXCLUDED.pgn,
        updated_at=EXCLUDED.updated_at,
        ended_at=EXCLUDED.ended_at`

	_, err = r.db.ExecContext(ctx, q,
		g.ID,
		g.White.ID, g.White.Name, string(g.White.Kind),
		g.Black.ID, g.Black.Name, string(g.Black.Kind),
		string(g.Type), g.TimeControl, g.Difficulty,
		g.Initial.FEN, g.Position.FEN, string(moves),
		string(g.Status), string(g.Result), g.EndReason, g.RatingApplied,
		BuildPGN(g), g.CreatedAt, g.UpdatedAt, endedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", g.ID, err)
	}
	return nil
}

const gameColumns = `game_id, white_id, white_name, white_kind, black_id, black_name, black_kind,
    game_type, time_control, difficulty, initial_fen, fen, moves,
    status, result, end_reason, rating_applied, created_at, updated_at, ended_at`

func (r *Repository) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE game_id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return g, err
}

// RecentGames returns a player's games, most recently updated first.
func (r *Repository) RecentGames(ctx context.Context, userID string, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games
        WHERE white_id = $1 OR black_id = $1
        ORDER BY updated_at DESC, game_id DESC
        LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent games: %w", err)
	}
	defer rows.Close()
	var out []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (*domain.Game, error) {
	var (
		g                                   domain.Game
		whiteKind, blackKind, gtype, status string
		result                              string
		initialFEN, fen                     string
		movesRaw                            []byte
		endedAt                             sql.NullTime
	)
	err := s.Scan(
		&g.ID, &g.White.ID, &g.White.Name, &whiteKind, &g.Black.ID, &g.Black.Name, &blackKind,
		&gtype, &g.TimeControl, &g.Difficulty, &initialFEN, &fen, &movesRaw,
		&status, &result, &g.EndReason, &g.RatingApplied, &g.CreatedAt, &g.UpdatedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	g.White.Kind = domain.PlayerKind(whiteKind)
	g.Black.Kind = domain.PlayerKind(blackKind)
	g.Type = domain.GameType(gtype)
	g.Status = domain.Status(status)
	g.Result = domain.Result(result)
	if err := json.Unmarshal(movesRaw, &g.Moves); err != nil {
		return nil, fmt.Errorf("decode moves for %s: %w", g.ID, err)
	}
	g.Initial = positionOf(initialFEN)
	g.Position = positionOf(fen)
	if endedAt.Valid {
		g.EndedAt = endedAt.Time
	}
	return &g, nil
}

func positionOf(fen string) domain.Position {
	pos, err := rules.PositionFromFEN(fen)
	if err != nil {
		return domain.Position{FEN: fen}
	}
	return pos
}

func (r *Repository) GetProfile(ctx context.Context, userID string) (domain.PlayerProfile, error) {
	var (
		p    domain.PlayerProfile
		kind string
	)
	err := r.db.QueryRowContext(ctx, `SELECT user_id, name, kind, rating, games_played, wins, losses, draws, created_at, updated_at
        FROM players WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Name, &kind, &p.Rating, &p.GamesPlayed, &p.Wins, &p.Losses, &p.Draws, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlayerProfile{}, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, userID)
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("load profile: %w", err)
	}
	p.Kind = domain.PlayerKind(kind)
	return p, nil
}

// EnsureProfile inserts p unless the player already exists.
func (r *Repository) EnsureProfile(ctx context.Context, p domain.PlayerProfile) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO players (user_id, name, kind, rating, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Name, string(p.Kind), p.Rating, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func (r *Repository) UpsertProfile(ctx context.Context, p domain.PlayerProfile) error {
	return upsertProfile(ctx, r.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertProfile(ctx context.Context, db execer, p domain.PlayerProfile) error {
	_, err := db.ExecContext(ctx, `INSERT INTO players (user_id, name, kind, rating, games_played, wins, losses, draws, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (user_id) DO UPDATE SET
            name=EXCLUDED.name,
            rating=EXCLUDED.rating,
            games_played=EXCLUDED.games_played,
            wins=EXCLUDED.wins,
            losses=EXCLUDED.losses,
            draws=EXCLUDED.draws,
            updated_at=EXCLUDED.updated_at`,
		p.UserID, p.Name, string(p.Kind), p.Rating, p.GamesPlayed, p.Wins, p.Losses, p.Draws, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (r *Repository) HasRatingRecords(ctx context.Context, gameID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rating_records WHERE game_id = $1)`, gameID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query rating records: %w", err)
	}
	return exists, nil
}

// SaveRatingResult appends the records and updates the profiles in one
// transaction. A duplicate (game, user) pair maps to domain.ErrRatingApplied.
func (r *Repository) SaveRatingResult(ctx context.Context, records []domain.RatingRecord, profiles []domain.PlayerProfile) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range records {
		_, err = tx.ExecContext(ctx, `INSERT INTO rating_records
            (user_id, game_id, old_rating, new_rating, delta, opponent_rating, result, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			rec.UserID, rec.GameID, rec.OldRating, rec.NewRating, rec.Delta, rec.OpponentRating, rec.Result, rec.CreatedAt)
		if isUniqueViolation(err) {
			err = domain.ErrRatingApplied
			return err
		}
		if err != nil {
			err = fmt.Errorf("insert rating record: %w", err)
			return err
		}
	}
	for _, p := range profiles {
		if err = upsertProfile(ctx, tx, p); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repository) RatingHistory(ctx context.Context, userID string, limit int) ([]domain.RatingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, game_id, old_rating, new_rating, delta, opponent_rating, result, created_at
        FROM rating_records WHERE user_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rating history: %w", err)
	}
	defer rows.Close()
	var out []domain.RatingRecord
	for rows.Next() {
		var rec domain.RatingRecord
		if err := rows.Scan(&rec.UserID, &rec.GameID, &rec.OldRating, &rec.NewRating, &rec.Delta, &rec.OpponentRating, &rec.Result, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
