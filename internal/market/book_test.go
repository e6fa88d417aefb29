package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func companies() []model.Company {
	return []model.Company{
		{Ticker: "TECH", Name: "TechNova Systems", Volatility: 1, BasePrice: d(100)},
		{Ticker: "MEDI", Name: "MediCore", Volatility: 0.6, BasePrice: d(87.25)},
	}
}

func newBook(src pricing.Source, opts Options) (*Book, *clock) {
	c := &clock{now: t0}
	opts.Clock = c.Now
	return NewBook(pricing.NewEngine(src), companies(), opts), c
}

func TestNewBook_SeedsBasePrices(t *testing.T) {
	b, _ := newBook(pricing.Fixed(0.5), Options{})

	p, ok := b.Price("TECH")
	require.True(t, ok)
	assert.True(t, p.Equal(d(100)))
	assert.Len(t, b.History("MEDI"), 1)
	assert.Len(t, b.Companies(), 2)
}

func TestNewBook_SkipsInvalidAndDuplicates(t *testing.T) {
	list := append(companies(),
		model.Company{Ticker: "TECH", Name: "Dup", BasePrice: d(1)},
		model.Company{Ticker: "bad!", Name: "Bad", BasePrice: d(1)},
		model.Company{Ticker: "ZERO", Name: "Zero", BasePrice: decimal.Zero},
		model.Company{Ticker: "hot", Name: "Hot", Volatility: 3, BasePrice: d(5)},
	)
	b := NewBook(pricing.NewEngine(pricing.Fixed(0.5)), list, Options{})

	assert.Len(t, b.Companies(), 3)
	hot, ok := b.Company("HOT")
	require.True(t, ok)
	assert.Equal(t, 1.0, hot.Volatility, "volatility clamped into [0,1]")
	tech, _ := b.Company("TECH")
	assert.Equal(t, "TechNova Systems", tech.Name)
}

func TestTick_ZeroDriftKeepsPrices(t *testing.T) {
	b, c := newBook(pricing.Fixed(0.5), Options{})
	c.Set(t0.Add(time.Second))

	points, err := b.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "TECH", points[0].Ticker)
	assert.True(t, points[0].Price.Equal(d(100)))
	assert.Len(t, b.History("TECH"), 2)
}

func TestTick_AppliesRecentNewsOnly(t *testing.T) {
	b, c := newBook(pricing.Fixed(0.5), Options{})

	b.AddNews(
		model.NewsEvent{Ticker: "TECH", Sentiment: 1, Magnitude: 1, Timestamp: t0},
		model.NewsEvent{Ticker: "TECH", Sentiment: -1, Magnitude: 1, Timestamp: t0.Add(-2 * time.Minute)},
	)
	c.Set(t0.Add(time.Second))

	_, err := b.Tick(context.Background())
	require.NoError(t, err)

	tech, _ := b.Price("TECH")
	f, _ := tech.Float64()
	assert.InDelta(t, 107.5, f, 1e-6)

	medi, _ := b.Price("MEDI")
	assert.True(t, medi.Equal(d(87.25)), "news for TECH must not move MEDI")
}

func TestTick_TimestampsNeverDecrease(t *testing.T) {
	b, c := newBook(pricing.NewSeededSource(3), Options{})

	c.Set(t0.Add(5 * time.Second))
	_, err := b.Tick(context.Background())
	require.NoError(t, err)

	c.Set(t0.Add(2 * time.Second)) // clock steps backwards
	_, err = b.Tick(context.Background())
	require.NoError(t, err)

	h := b.History("TECH")
	for i := 1; i < len(h); i++ {
		assert.False(t, h[i].Timestamp.Before(h[i-1].Timestamp), "history out of order at %d", i)
	}
}

func TestTick_HistoryBounded(t *testing.T) {
	b, c := newBook(pricing.NewSeededSource(9), Options{HistoryLimit: 5})
	for i := 1; i <= 20; i++ {
		c.Set(t0.Add(time.Duration(i) * time.Second))
		_, err := b.Tick(context.Background())
		require.NoError(t, err)
	}

	h := b.History("TECH")
	require.Len(t, h, 5)
	assert.Equal(t, t0.Add(20*time.Second), h[4].Timestamp)
	last, _ := b.Price("TECH")
	assert.True(t, last.Equal(h[4].Price))
}

func TestTick_CancelledContext(t *testing.T) {
	b, _ := newBook(pricing.Fixed(0.5), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, b.History("TECH"), 1)
}

func TestAddNews_FiltersUnknownAndBounds(t *testing.T) {
	b, _ := newBook(pricing.Fixed(0.5), Options{NewsLimit: 3})

	accepted := b.AddNews(
		model.NewsEvent{Ticker: "NOPE", Headline: "ignored"},
		model.NewsEvent{Ticker: "TECH", Headline: "1"},
	)
	require.Len(t, accepted, 1)
	assert.Equal(t, t0, accepted[0].Timestamp, "unset timestamps are stamped")

	b.AddNews(
		model.NewsEvent{Ticker: "TECH", Headline: "2"},
		model.NewsEvent{Ticker: "MEDI", Headline: "3"},
		model.NewsEvent{Ticker: "MEDI", Headline: "4"},
	)

	feed := b.News(0)
	require.Len(t, feed, 3)
	assert.Equal(t, "4", feed[0].Headline)
	assert.Equal(t, "2", feed[2].Headline)
	assert.Len(t, b.News(2), 2)
}

func TestPrices_ReturnsCopy(t *testing.T) {
	b, _ := newBook(pricing.Fixed(0.5), Options{})
	prices := b.Prices()
	prices["TECH"] = d(1)

	p, _ := b.Price("TECH")
	assert.True(t, p.Equal(d(100)))
}
