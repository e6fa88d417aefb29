package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/tradestreet/internal/model"
)

func newCachedStore(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func entry(id string, pnl float64) model.LeaderboardEntry {
	return model.LeaderboardEntry{Identity: id, PnL: d(pnl), TotalValue: d(10000 + pnl), LastUpdated: time.Now().UTC()}
}

func TestCachedStore_PortfolioServedFromCache(t *testing.T) {
	s, primary, mr := newCachedStore(t)
	ctx := context.Background()

	if err := s.SavePortfolio(ctx, "alice", samplePortfolio()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("portfolio:alice") {
		t.Fatal("save should refresh the cached copy")
	}

	// Change the primary behind the cache's back; the cached copy still wins.
	primary.SavePortfolio(ctx, "alice", model.Portfolio{Cash: d(1)})

	got, err := s.LoadPortfolio(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Cash.Equal(d(98745)) || len(got.Positions) != 1 {
		t.Errorf("expected cached portfolio, got %+v", got)
	}
}

func TestCachedStore_PortfolioReadThrough(t *testing.T) {
	s, primary, mr := newCachedStore(t)
	ctx := context.Background()

	if _, err := s.LoadPortfolio(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	primary.SavePortfolio(ctx, "bob", samplePortfolio())
	got, err := s.LoadPortfolio(ctx, "bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Cash.Equal(d(98745)) {
		t.Errorf("cash = %s", got.Cash)
	}
	if !mr.Exists("portfolio:bob") {
		t.Error("miss should populate the cache")
	}
}

func TestCachedStore_PortfolioSaveFailureSkipsCache(t *testing.T) {
	s, primary, mr := newCachedStore(t)
	primary.FailWrites(errors.New("disk full"))

	if err := s.SavePortfolio(context.Background(), "alice", samplePortfolio()); err == nil {
		t.Fatal("expected primary error")
	}
	if mr.Exists("portfolio:alice") {
		t.Error("failed save must not reach the cache")
	}
}

func TestCachedStore_UpsertInvalidatesTopViews(t *testing.T) {
	s, primary, mr := newCachedStore(t)
	ctx := context.Background()

	if err := s.UpsertEntry(ctx, entry("alice", 100)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	top, err := s.TopEntries(ctx, 10)
	if err != nil || len(top) != 1 {
		t.Fatalf("top = %+v, err %v", top, err)
	}
	if !mr.Exists("leaderboard:1:top:10") {
		t.Fatal("expected view cached under generation 1")
	}

	// A write that bypasses the cache is not visible: the view is cached.
	primary.UpsertEntry(ctx, entry("carol", 1))
	top, _ = s.TopEntries(ctx, 10)
	if len(top) != 1 {
		t.Fatalf("expected cached view of 1 entry, got %+v", top)
	}

	if err := s.UpsertEntry(ctx, entry("bob", 500)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	gen, _ := mr.Get("leaderboard:gen")
	if gen != "2" {
		t.Errorf("generation = %q, want 2", gen)
	}

	top, err = s.TopEntries(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 3 || top[0].Identity != "bob" {
		t.Errorf("expected fresh view led by bob, got %+v", top)
	}
	if !mr.Exists("leaderboard:2:top:10") {
		t.Error("expected view cached under generation 2")
	}
}
