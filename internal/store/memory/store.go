// Package memory is a development-only store used when no database or Redis
// is configured. Values are copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/park285/chess-live/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	games    map[string]*domain.Game
	profiles map[string]domain.PlayerProfile
	ratings  map[string][]domain.RatingRecord // userID -> records, oldest first
	rated    map[string]struct{}              // gameIDs with rating records
	clocks   map[string]domain.ClockState
	queue    map[string]domain.QueueEntry
}

func New() *Store {
	return &Store{
		games:    make(map[string]*domain.Game),
		profiles: make(map[string]domain.PlayerProfile),
		ratings:  make(map[string][]domain.RatingRecord),
		rated:    make(map[string]struct{}),
		clocks:   make(map[string]domain.ClockState),
		queue:    make(map[string]domain.QueueEntry),
	}
}

func (s *Store) SaveGame(_ context.Context, g *domain.Game) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: game id required", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	s.games[g.ID] = g.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) GetGame(_ context.Context, id string) (*domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, id)
	}
	return g.Clone(), nil
}

// RecentGames returns a player's games, most recently updated first.
func (s *Store) RecentGames(_ context.Context, userID string, limit int) ([]*domain.Game, error) {
	s.mu.RLock()
	var items []*domain.Game
	for _, g := range s.games {
		if g.White.ID == userID || g.Black.ID == userID {
			items = append(items, g.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) GetProfile(_ context.Context, userID string) (domain.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.TrimSpace(userID)]
	if !ok {
		return domain.PlayerProfile{}, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, userID)
	}
	return p, nil
}

// EnsureProfile stores p unless a profile for the user already exists.
func (s *Store) EnsureProfile(_ context.Context, p domain.PlayerProfile) error {
	key := strings.TrimSpace(p.UserID)
	if key == "" {
		return domain.ErrInvalidPlayer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[key]; !ok {
		s.profiles[key] = p
	}
	return nil
}

func (s *Store) UpsertProfile(_ context.Context, p domain.PlayerProfile) error {
	key := strings.TrimSpace(p.UserID)
	if key == "" {
		return domain.ErrInvalidPlayer
	}
	s.mu.Lock()
	s.profiles[key] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) HasRatingRecords(_ context.Context, gameID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rated[gameID]
	return ok, nil
}

func (s *Store) SaveRatingResult(_ context.Context, records []domain.RatingRecord, profiles []domain.PlayerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, ok := s.rated[r.GameID]; ok {
			return domain.ErrRatingApplied
		}
	}
	for _, r := range records {
		s.ratings[r.UserID] = append(s.ratings[r.UserID], r)
		s.rated[r.GameID] = struct{}{}
	}
	for _, p := range profiles {
		s.profiles[p.UserID] = p
	}
	return nil
}

func (s *Store) RatingHistory(_ context.Context, userID string, limit int) ([]domain.RatingRecord, error) {
	s.mu.RLock()
	list := s.ratings[userID]
	out := make([]domain.RatingRecord, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	s.mu.RUnlock()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveClock(_ context.Context, st domain.ClockState) error {
	s.mu.Lock()
	s.clocks[st.GameID] = st
	s.mu.Unlock()
	return nil
}

func (s *Store) GetClock(_ context.Context, gameID string) (domain.ClockState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.clocks[gameID]
	if !ok {
		return domain.ClockState{}, fmt.Errorf("%w: %s", domain.ErrClockNotFound, gameID)
	}
	return st, nil
}

func (s *Store) SaveQueueEntry(_ context.Context, e domain.QueueEntry) error {
	s.mu.Lock()
	s.queue[e.UserID] = e
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteQueueEntry(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.queue, userID)
	s.mu.Unlock()
	return nil
}

// LoadQueueEntries returns every persisted entry, oldest first.
func (s *Store) LoadQueueEntries(_ context.Context) ([]domain.QueueEntry, error) {
	s.mu.RLock()
	out := make([]domain.QueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}
