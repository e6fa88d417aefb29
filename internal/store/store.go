// Package store defines the persistence interfaces for the market engine.
// Implementations include SQLite (local portfolio store), Redis (portfolio
// key-value store and leaderboard read-through cache), PostgreSQL
// (leaderboard document repository) and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/tradestreet/internal/model"
)

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("store: not found")

// PortfolioStore holds serialized portfolios under fixed keys.
type PortfolioStore interface {
	// LoadPortfolio returns the portfolio stored under key, or ErrNotFound.
	LoadPortfolio(ctx context.Context, key string) (model.Portfolio, error)

	// SavePortfolio replaces the portfolio stored under key.
	SavePortfolio(ctx context.Context, key string, p model.Portfolio) error
}

// LeaderboardStore is the document repository behind the leaderboard.
type LeaderboardStore interface {
	// UpsertEntry merges an entry by identity (insert or full replace of
	// pnl, total value and last-updated).
	UpsertEntry(ctx context.Context, entry model.LeaderboardEntry) error

	// TopEntries returns up to n entries ordered by pnl descending, ties by
	// identity ascending. n <= 0 returns every entry.
	TopEntries(ctx context.Context, n int) ([]model.LeaderboardEntry, error)
}

// Store is the full persistence interface.
type Store interface {
	PortfolioStore
	LeaderboardStore
}
