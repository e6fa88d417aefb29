package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/tradestreet/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Portfolio writes go to the primary store and then refresh the cached
// copy; leaderboard writes invalidate every cached top-N view.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SavePortfolio(ctx context.Context, key string, p model.Portfolio) error {
	if err := s.primary.SavePortfolio(ctx, key, p); err != nil {
		return err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioKey(key), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) UpsertEntry(ctx context.Context, e model.LeaderboardEntry) error {
	if err := s.primary.UpsertEntry(ctx, e); err != nil {
		return err
	}
	// Invalidate every cached view; next read will re-populate.
	s.rdb.Incr(ctx, leaderboardGenKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LoadPortfolio(ctx context.Context, key string) (model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(key)).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			return p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.LoadPortfolio(ctx, key)
	if err != nil {
		return model.Portfolio{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioKey(key), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) TopEntries(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	// Views are keyed by a generation counter bumped on every upsert, so a
	// stale view is never served after a write completes.
	gen, _ := s.rdb.Get(ctx, leaderboardGenKey).Int64()
	key := leaderboardKey(gen, n)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	// Cache miss.
	entries, err := s.primary.TopEntries(ctx, n)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

// --- Cache helpers ---

const leaderboardGenKey = "leaderboard:gen"

func portfolioKey(key string) string { return fmt.Sprintf("portfolio:%s", key) }
func leaderboardKey(gen int64, n int) string {
	return fmt.Sprintf("leaderboard:%d:top:%d", gen, n)
}
