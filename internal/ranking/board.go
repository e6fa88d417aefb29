// Package ranking maintains the leaderboard: one valuation snapshot per
// participant identity, ordered by pnl descending.
//
// Writers take a mutex and publish a freshly sorted, immutable view through
// an atomic pointer, so readers never observe a partially updated ordering
// and never block writers.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/store"
)

var (
	// ErrEmptyIdentity is returned when publishing without an identity.
	ErrEmptyIdentity = errors.New("ranking: identity is required")

	// ErrUnknownTieBreak is returned by ParseTieBreak for unknown names.
	ErrUnknownTieBreak = errors.New("ranking: unknown tie-break")
)

// TieBreak orders two entries with equal pnl. A negative result ranks a
// above b.
type TieBreak func(a, b model.LeaderboardEntry) int

// ByIdentity ranks equal pnl by identity, ascending.
func ByIdentity(a, b model.LeaderboardEntry) int {
	return strings.Compare(a.Identity, b.Identity)
}

// ByEarliestUpdate ranks the entry that was updated first higher, falling
// back to identity.
func ByEarliestUpdate(a, b model.LeaderboardEntry) int {
	if c := a.LastUpdated.Compare(b.LastUpdated); c != 0 {
		return c
	}
	return ByIdentity(a, b)
}

// ParseTieBreak maps a configuration name to a TieBreak.
func ParseTieBreak(name string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "identity":
		return ByIdentity, nil
	case "earliest_update":
		return ByEarliestUpdate, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTieBreak, name)
}

// NormalizeIdentity trims and lower-cases an identity so that wallet
// addresses differing only in case share one entry.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Options configures a Board.
type Options struct {
	// TieBreak orders entries with equal pnl. Defaults to ByIdentity.
	TieBreak TieBreak

	// Clock stamps LastUpdated. Defaults to time.Now.
	Clock func() time.Time

	// Store, when set, receives every published entry and seeds Hydrate.
	Store store.LeaderboardStore
}

// view is an immutable sorted snapshot.
type view struct {
	entries []model.LeaderboardEntry
	ranks   map[string]int
}

// Board is the shared, multi-writer leaderboard aggregate.
type Board struct {
	tieBreak TieBreak
	clock    func() time.Time
	repo     store.LeaderboardStore

	// persistMu orders repository writes the same way as in-memory swaps.
	persistMu sync.Mutex

	mu      sync.Mutex
	entries map[string]model.LeaderboardEntry
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool

	current atomic.Pointer[view]
}

// NewBoard creates an empty leaderboard.
func NewBoard(opts Options) *Board {
	if opts.TieBreak == nil {
		opts.TieBreak = ByIdentity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	b := &Board{
		tieBreak: opts.TieBreak,
		clock:    opts.Clock,
		repo:     opts.Store,
		entries:  make(map[string]model.LeaderboardEntry),
		subs:     make(map[uint64]*subscription),
	}
	b.current.Store(&view{ranks: map[string]int{}})
	return b
}

// Publish upserts the snapshot for identity. The last write wins regardless
// of timestamps. Subscribers are notified only when pnl or total value
// actually changed. Repository failures are logged, never returned.
func (b *Board) Publish(ctx context.Context, identity string, pnl, totalValue decimal.Decimal) (model.LeaderboardEntry, error) {
	id := NormalizeIdentity(identity)
	if id == "" {
		return model.LeaderboardEntry{}, ErrEmptyIdentity
	}

	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	entry := model.LeaderboardEntry{
		Identity:    id,
		PnL:         pnl,
		TotalValue:  totalValue,
		LastUpdated: b.clock().UTC(),
	}

	b.mu.Lock()
	prev, existed := b.entries[id]
	b.entries[id] = entry
	changed := !existed || !prev.PnL.Equal(pnl) || !prev.TotalValue.Equal(totalValue)
	b.rebuild()
	if changed {
		b.wakeAll()
	}
	b.mu.Unlock()

	metrics.LeaderboardPublishes.Inc()

	if b.repo != nil {
		if err := b.repo.UpsertEntry(ctx, entry); err != nil {
			metrics.PersistenceFailures.WithLabelValues("leaderboard_upsert").Inc()
			slog.Error("leaderboard upsert failed", "identity", id, "err", err)
		}
	}

	return entry, nil
}

// Hydrate seeds the board from the repository, keeping any entry already
// published in memory. limit <= 0 loads every stored entry.
func (b *Board) Hydrate(ctx context.Context, limit int) (int, error) {
	if b.repo == nil {
		return 0, nil
	}
	stored, err := b.repo.TopEntries(ctx, limit)
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("leaderboard_load").Inc()
		return 0, fmt.Errorf("hydrate leaderboard: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	loaded := 0
	for _, e := range stored {
		e.Identity = NormalizeIdentity(e.Identity)
		if _, ok := b.entries[e.Identity]; ok || e.Identity == "" {
			continue
		}
		b.entries[e.Identity] = e
		loaded++
	}
	if loaded > 0 {
		b.rebuild()
		b.wakeAll()
	}
	return loaded, nil
}

// rebuild sorts every entry into a new view. Called with b.mu held.
func (b *Board) rebuild() {
	entries := make([]model.LeaderboardEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(x, y model.LeaderboardEntry) int {
		if c := y.PnL.Cmp(x.PnL); c != 0 {
			return c
		}
		return b.tieBreak(x, y)
	})

	ranks := make(map[string]int, len(entries))
	for i, e := range entries {
		ranks[e.Identity] = i + 1
	}
	b.current.Store(&view{entries: entries, ranks: ranks})
	metrics.LeaderboardEntries.Set(float64(len(entries)))
}

// TopN returns the first n entries in rank order; fewer if fewer exist.
// n <= 0 returns every entry.
func (b *Board) TopN(n int) []model.LeaderboardEntry {
	v := b.current.Load()
	if n <= 0 || n > len(v.entries) {
		n = len(v.entries)
	}
	out := make([]model.LeaderboardEntry, n)
	copy(out, v.entries)
	return out
}

// RankOf returns the 1-based rank of identity, or false when unranked.
func (b *Board) RankOf(identity string) (int, bool) {
	rank, ok := b.current.Load().ranks[NormalizeIdentity(identity)]
	return rank, ok
}

// Entry returns the current snapshot for identity.
func (b *Board) Entry(identity string) (model.LeaderboardEntry, bool) {
	v := b.current.Load()
	rank, ok := v.ranks[NormalizeIdentity(identity)]
	if !ok {
		return model.LeaderboardEntry{}, false
	}
	return v.entries[rank-1], true
}

// Len returns the number of ranked identities.
func (b *Board) Len() int {
	return len(b.current.Load().entries)
}
