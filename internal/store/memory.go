package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/tradestreet/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	portfolios  map[string]model.Portfolio
	leaderboard map[string]model.LeaderboardEntry
	saves       int
	failSaves   error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:  make(map[string]model.Portfolio),
		leaderboard: make(map[string]model.LeaderboardEntry),
	}
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = err
}

// Saves returns how many portfolio saves succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *MemoryStore) LoadPortfolio(_ context.Context, key string) (model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[key]
	if !ok {
		return model.Portfolio{}, fmt.Errorf("%w: portfolio %s", ErrNotFound, key)
	}
	// Return a copy to avoid external mutation.
	return p.Clone(), nil
}

func (s *MemoryStore) SavePortfolio(_ context.Context, key string, p model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSaves != nil {
		return s.failSaves
	}
	s.portfolios[key] = p.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) UpsertEntry(_ context.Context, e model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSaves != nil {
		return s.failSaves
	}
	s.leaderboard[e.Identity] = e
	return nil
}

func (s *MemoryStore) TopEntries(_ context.Context, n int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		entries = append(entries, e)
	}
	SortEntries(entries)
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// SortEntries orders entries the way every LeaderboardStore returns them:
// pnl descending, identity ascending.
func SortEntries(entries []model.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].PnL.Cmp(entries[j].PnL); c != 0 {
			return c > 0
		}
		return entries[i].Identity < entries[j].Identity
	})
}
