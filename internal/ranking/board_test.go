package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func identities(entries []model.LeaderboardEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Identity
	}
	return ids
}

// fakeClock returns successive instants one second apart.
func fakeClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func publish(t *testing.T, b *Board, id string, pnl, total float64) {
	t.Helper()
	_, err := b.Publish(context.Background(), id, d(pnl), d(total))
	require.NoError(t, err)
}

func TestTopNAndRank(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "A", 500, 100500)
	publish(t, b, "B", 1000, 101000)

	assert.Equal(t, []string{"b", "a"}, identities(b.TopN(2)))

	rank, ok := b.RankOf("A")
	require.True(t, ok)
	assert.Equal(t, 2, rank)
}

func TestRankOf_Unranked(t *testing.T) {
	b := NewBoard(Options{})
	_, ok := b.RankOf("nobody")
	assert.False(t, ok)
}

func TestPublish_EmptyIdentity(t *testing.T) {
	b := NewBoard(Options{})
	_, err := b.Publish(context.Background(), "   ", d(1), d(1))
	assert.ErrorIs(t, err, ErrEmptyIdentity)
	assert.Equal(t, 0, b.Len())
}

func TestPublish_IdentityNormalized(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "0xAbC", 1, 1)
	publish(t, b, " 0xabc ", 2, 2)

	assert.Equal(t, 1, b.Len())
	e, ok := b.Entry("0XABC")
	require.True(t, ok)
	assert.True(t, e.PnL.Equal(d(2)))
}

func TestPublish_LastWriteWinsRegardlessOfTimestamp(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC),
		time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), // older stamp arrives last
	}
	i := 0
	b := NewBoard(Options{Clock: func() time.Time { t := times[i]; i++; return t }})

	publish(t, b, "a", 100, 100100)
	publish(t, b, "a", -50, 99950)

	e, ok := b.Entry("a")
	require.True(t, ok)
	assert.True(t, e.PnL.Equal(d(-50)))
	assert.True(t, e.TotalValue.Equal(d(99950)))
	assert.Equal(t, times[1], e.LastUpdated)
}

func TestTopN_FewerThanRequested(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "a", 1, 1)

	assert.Len(t, b.TopN(10), 1)
	assert.Len(t, b.TopN(0), 1)
	assert.Empty(t, NewBoard(Options{}).TopN(5))
}

func TestTopN_ReturnsCopy(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "a", 1, 1)

	top := b.TopN(1)
	top[0].Identity = "mutated"
	assert.Equal(t, "a", b.TopN(1)[0].Identity)
}

func TestOrdering_SortedAndConsistentWithRank(t *testing.T) {
	b := NewBoard(Options{})
	pnls := []float64{12, -4, 300.5, 0, 12, 77, -1000, 300.5, 5}
	for i, p := range pnls {
		publish(t, b, fmt.Sprintf("p%02d", i), p, 100000+p)
	}

	all := b.TopN(b.Len())
	require.Len(t, all, len(pnls))
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].PnL.GreaterThanOrEqual(all[i].PnL),
			"not sorted at %d: %s then %s", i, all[i-1].PnL, all[i].PnL)
	}
	for i, e := range all {
		rank, ok := b.RankOf(e.Identity)
		require.True(t, ok)
		assert.Equal(t, i+1, rank)
	}
}

func TestTieBreak_Configurable(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	byID := NewBoard(Options{Clock: fakeClock(start)})
	publish(t, byID, "zed", 10, 1)
	publish(t, byID, "amy", 10, 1)
	assert.Equal(t, []string{"amy", "zed"}, identities(byID.TopN(0)))

	byTime := NewBoard(Options{Clock: fakeClock(start), TieBreak: ByEarliestUpdate})
	publish(t, byTime, "zed", 10, 1)
	publish(t, byTime, "amy", 10, 1)
	assert.Equal(t, []string{"zed", "amy"}, identities(byTime.TopN(0)))
}

func TestParseTieBreak(t *testing.T) {
	for _, name := range []string{"", "identity", "EARLIEST_UPDATE"} {
		tb, err := ParseTieBreak(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, tb, name)
	}
	_, err := ParseTieBreak("random")
	assert.ErrorIs(t, err, ErrUnknownTieBreak)
}

// --- Subscriptions ---

func recv(t *testing.T, ch <-chan []model.LeaderboardEntry) []model.LeaderboardEntry {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
		return nil
	}
}

func noRecv(t *testing.T, ch <-chan []model.LeaderboardEntry) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_InitialAndOnChange(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "a", 500, 100500)

	ch := make(chan []model.LeaderboardEntry, 10)
	unsubscribe := b.Subscribe(2, func(v []model.LeaderboardEntry) { ch <- v })
	defer unsubscribe()

	assert.Equal(t, []string{"a"}, identities(recv(t, ch)))

	publish(t, b, "b", 1000, 101000)
	assert.Equal(t, []string{"b", "a"}, identities(recv(t, ch)))

	publish(t, b, "c", 1, 100001)
	assert.Equal(t, []string{"b", "a"}, identities(recv(t, ch)), "top-2 view after an out-of-view change")
}

func TestSubscribe_NoNotificationWithoutChange(t *testing.T) {
	b := NewBoard(Options{})
	publish(t, b, "a", 500, 100500)

	ch := make(chan []model.LeaderboardEntry, 10)
	unsubscribe := b.Subscribe(10, func(v []model.LeaderboardEntry) { ch <- v })
	defer unsubscribe()
	recv(t, ch)

	publish(t, b, "a", 500, 100500)
	b.TopN(10)
	b.RankOf("a")
	noRecv(t, ch)
}

func TestUnsubscribe_StopsAndIsIdempotent(t *testing.T) {
	b := NewBoard(Options{})
	ch := make(chan []model.LeaderboardEntry, 10)
	unsubscribe := b.Subscribe(10, func(v []model.LeaderboardEntry) { ch <- v })
	recv(t, ch)

	unsubscribe()
	unsubscribe()

	publish(t, b, "a", 1, 1)
	noRecv(t, ch)
}

func TestClose_EndsSubscriptions(t *testing.T) {
	b := NewBoard(Options{})
	ch := make(chan []model.LeaderboardEntry, 10)
	unsubscribe := b.Subscribe(10, func(v []model.LeaderboardEntry) { ch <- v })
	recv(t, ch)

	b.Close()
	unsubscribe()
	publish(t, b, "a", 1, 1)
	noRecv(t, ch)

	late := b.Subscribe(10, func(v []model.LeaderboardEntry) { ch <- v })
	late()
	noRecv(t, ch)
}

func TestSubscribe_SlowSubscriberSeesLatest(t *testing.T) {
	b := NewBoard(Options{})
	release := make(chan struct{})
	ch := make(chan []model.LeaderboardEntry, 100)
	unsubscribe := b.Subscribe(1, func(v []model.LeaderboardEntry) {
		<-release
		ch <- v
	})
	defer unsubscribe()

	for i := 1; i <= 50; i++ {
		publish(t, b, "a", float64(i), 1)
	}
	close(release)

	var last []model.LeaderboardEntry
	require.Eventually(t, func() bool {
		for {
			select {
			case v := <-ch:
				last = v
			default:
				return len(last) == 1 && last[0].PnL.Equal(d(50))
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

// --- Persistence ---

func TestPublish_PersistsToStore(t *testing.T) {
	ms := store.NewMemoryStore()
	b := NewBoard(Options{Store: ms})
	publish(t, b, "A", 500, 100500)

	stored, err := ms.TopEntries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "a", stored[0].Identity)
}

func TestPublish_StoreFailureIsNotFatal(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.FailWrites(errors.New("unavailable"))
	b := NewBoard(Options{Store: ms})

	_, err := b.Publish(context.Background(), "a", d(1), d(1))
	require.NoError(t, err)
	rank, ok := b.RankOf("a")
	assert.True(t, ok)
	assert.Equal(t, 1, rank)
}

func TestHydrate_KeepsNewerInMemoryEntries(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.UpsertEntry(ctx, model.LeaderboardEntry{Identity: "a", PnL: d(10)})
	ms.UpsertEntry(ctx, model.LeaderboardEntry{Identity: "b", PnL: d(20)})

	b := NewBoard(Options{Store: ms})
	publish(t, b, "a", 99, 1)

	n, err := b.Hydrate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b"}, identities(b.TopN(0)))
}

func TestHydrate_WithoutStore(t *testing.T) {
	n, err := NewBoard(Options{}).Hydrate(context.Background(), 10)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

// --- Concurrency ---

func TestConcurrentPublishers_ReadersSeeSortedViews(t *testing.T) {
	b := NewBoard(Options{})
	ctx := context.Background()
	stop := make(chan struct{})

	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				view := b.TopN(0)
				for i := 1; i < len(view); i++ {
					if view[i-1].PnL.LessThan(view[i].PnL) {
						t.Errorf("reader observed unsorted view")
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for w := 0; w < 8; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			id := fmt.Sprintf("w%d", w)
			for i := 0; i < 200; i++ {
				b.Publish(ctx, id, d(float64((w*31+i*17)%500-250)), d(1))
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, 8, b.Len())
}

// slowFirstUpsert stalls the first upsert until released.
type slowFirstUpsert struct {
	*store.MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowFirstUpsert) UpsertEntry(ctx context.Context, e model.LeaderboardEntry) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.UpsertEntry(ctx, e)
}

func TestPublish_RepositoryOrderMatchesMemory(t *testing.T) {
	repo := &slowFirstUpsert{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	b := NewBoard(Options{Store: repo})
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.Publish(ctx, "alice", d(1), d(1))
	}()
	<-repo.entered

	go func() {
		defer wg.Done()
		b.Publish(ctx, "alice", d(2), d(2))
	}()
	time.Sleep(20 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	mem, ok := b.Entry("alice")
	require.True(t, ok)
	stored, err := repo.TopEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].PnL.Equal(mem.PnL), "memory pnl=%s repo pnl=%s", mem.PnL, stored[0].PnL)
	assert.True(t, mem.PnL.Equal(d(2)))
}
