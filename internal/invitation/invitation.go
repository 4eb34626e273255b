// Package invitation issues short join codes that let a second player start a
// casual game with the creator. Codes live in Redis and expire by TTL.
package invitation

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/chess-live/internal/domain"
	"github.com/park285/chess-live/internal/obslog"
	"github.com/park285/chess-live/internal/timecontrol"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 8
	DefaultTTL   = 10 * time.Minute

	defaultPrefix = "chess:invite"
	maxAttempts   = 5
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusUsed    Status = "USED"
)

type Invitation struct {
	Code        string    `json:"code"`
	CreatorID   string    `json:"creator_id"`
	CreatorName string    `json:"creator_name"`
	CreatorKind string    `json:"creator_kind"`
	TimeControl string    `json:"time_control"`
	Status      Status    `json:"status"`
	GameID      string    `json:"game_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (inv *Invitation) creator() domain.Player {
	return domain.Player{ID: inv.CreatorID, Name: inv.CreatorName, Kind: domain.PlayerKind(inv.CreatorKind)}
}

// GameCreator starts the game once an invitation is accepted.
type GameCreator interface {
	CreateCasualGame(ctx context.Context, a, b domain.Player, timeControl string) (*domain.Game, error)
}

type Option func(*Manager)

func WithPrefix(p string) Option { return func(m *Manager) { m.prefix = strings.TrimSuffix(p, ":") } }

func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

func WithNow(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithCatalog(c *timecontrol.Catalog) Option { return func(m *Manager) { m.catalog = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

type Manager struct {
	rdb     redis.UniversalClient
	games   GameCreator
	catalog *timecontrol.Catalog
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewManager(rdb redis.UniversalClient, games GameCreator, opts ...Option) *Manager {
	m := &Manager{
		rdb:    rdb,
		games:  games,
		prefix: defaultPrefix,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: obslog.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.catalog == nil {
		m.catalog = timecontrol.Default()
	}
	return m
}

func (m *Manager) key(code string) string {
	return m.prefix + ":" + strings.ToUpper(strings.TrimSpace(code))
}

// Create reserves a fresh code for creator.
func (m *Manager) Create(ctx context.Context, creator domain.Player, timeControl string) (*Invitation, error) {
	if strings.TrimSpace(creator.ID) == "" {
		return nil, domain.ErrInvalidPlayer
	}
	tc, err := m.catalog.Normalize(timeControl)
	if err != nil {
		return nil, err
	}
	kind := creator.Kind
	if kind == "" {
		kind = domain.KindHuman
	}
	now := m.now()
	for range maxAttempts {
		code, err := newCode()
		if err != nil {
			return nil, err
		}
		inv := &Invitation{
			Code:        code,
			CreatorID:   creator.ID,
			CreatorName: creator.Name,
			CreatorKind: string(kind),
			TimeControl: tc,
			Status:      StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.ttl),
		}
		raw, err := json.Marshal(inv)
		if err != nil {
			return nil, err
		}
		ok, err := m.rdb.SetNX(ctx, m.key(code), raw, m.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve invitation: %w", err)
		}
		if ok {
			m.logger.Info("invitation_created",
				zap.String("code", code),
				zap.String("creator_id", creator.ID),
				zap.String("time_control", tc),
			)
			return inv, nil
		}
	}
	return nil, errors.New("failed to allocate invitation code")
}

// Get returns a live invitation; expired codes are not found.
func (m *Manager) Get(ctx context.Context, code string) (*Invitation, error) {
	return m.load(ctx, m.rdb, code)
}

// Accept marks the invitation used and starts a casual game with random
// colours. Only one concurrent Accept can succeed.
func (m *Manager) Accept(ctx context.Context, code string, player domain.Player) (*Invitation, *domain.Game, error) {
	if strings.TrimSpace(player.ID) == "" {
		return nil, nil, domain.ErrInvalidPlayer
	}
	key := m.key(code)
	var inv *Invitation
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.load(ctx, tx, code)
		if err != nil {
			return err
		}
		if cur.Status != StatusPending {
			return domain.ErrInvitationUsed
		}
		if cur.CreatorID == player.ID {
			return fmt.Errorf("%w: cannot accept your own invitation", domain.ErrInvalidPlayer)
		}
		cur.Status = StatusUsed
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		inv = cur
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, nil, domain.ErrInvitationUsed
	}
	if err != nil {
		return nil, nil, err
	}

	g, err := m.games.CreateCasualGame(ctx, inv.creator(), player, inv.TimeControl)
	if err != nil {
		inv.Status = StatusPending
		if rerr := m.save(ctx, inv); rerr != nil {
			m.logger.Error("invitation_reopen_failed", zap.String("code", inv.Code), zap.Error(rerr))
		}
		return nil, nil, fmt.Errorf("create game: %w", err)
	}
	inv.GameID = g.ID
	if err := m.save(ctx, inv); err != nil {
		m.logger.Warn("invitation_game_link_failed", zap.String("code", inv.Code), zap.Error(err))
	}
	m.logger.Info("invitation_accepted",
		zap.String("code", inv.Code),
		zap.String("game_id", g.ID),
		zap.String("creator_id", inv.CreatorID),
		zap.String("player_id", player.ID),
	)
	return inv, g, nil
}

// Cancel withdraws a pending invitation. Only its creator may cancel.
func (m *Manager) Cancel(ctx context.Context, code, userID string) error {
	key := m.key(code)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := m.load(ctx, tx, code)
		if err != nil {
			return err
		}
		if cur.CreatorID != userID {
			return fmt.Errorf("%w: only the creator can cancel", domain.ErrNotParticipant)
		}
		if cur.Status != StatusPending {
			return domain.ErrInvitationUsed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrInvitationUsed
	}
	return err
}

func (m *Manager) load(ctx context.Context, c getter, code string) (*Invitation, error) {
	raw, err := c.Get(ctx, m.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvitationNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	var inv Invitation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invitation: %w", err)
	}
	return &inv, nil
}

// getter is satisfied by clients and by *redis.Tx inside WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (m *Manager) save(ctx context.Context, inv *Invitation) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, m.key(inv.Code), raw, redis.KeepTTL).Err()
}

func newCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
