// Package market keeps the live state of the synthetic market: the listed
// companies, their current prices and bounded price history, and the news
// feed that drives sentiment.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/tradestreet/internal/company"
	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/pricing"
)

const (
	DefaultHistoryLimit = 300
	DefaultNewsLimit    = 200
)

// Options configures a Book.
type Options struct {
	HistoryLimit int
	NewsLimit    int
	Clock        func() time.Time
}

// Book is safe for concurrent use.
type Book struct {
	engine       *pricing.Engine
	clock        func() time.Time
	historyLimit int
	newsLimit    int

	// tickMu keeps successive ticks of one ticker in chronological order.
	tickMu sync.Mutex

	mu        sync.RWMutex
	companies []model.Company
	index     map[string]model.Company
	prices    map[string]decimal.Decimal
	history   map[string][]model.PricePoint
	news      []model.NewsEvent
}

// NewBook lists companies at their base prices. Companies that fail
// validation or repeat a ticker are skipped.
func NewBook(engine *pricing.Engine, companies []model.Company, opts Options) *Book {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.NewsLimit <= 0 {
		opts.NewsLimit = DefaultNewsLimit
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	b := &Book{
		engine:       engine,
		clock:        opts.Clock,
		historyLimit: opts.HistoryLimit,
		newsLimit:    opts.NewsLimit,
		index:        make(map[string]model.Company),
		prices:       make(map[string]decimal.Decimal),
		history:      make(map[string][]model.PricePoint),
	}

	now := b.clock()
	for _, c := range companies {
		c, err := company.Sanitize(c)
		if err != nil {
			continue
		}
		if _, dup := b.index[c.Ticker]; dup {
			continue
		}
		b.companies = append(b.companies, c)
		b.index[c.Ticker] = c
		b.prices[c.Ticker] = c.BasePrice
		b.history[c.Ticker] = []model.PricePoint{{Ticker: c.Ticker, Price: c.BasePrice, Timestamp: now}}
	}
	return b
}

// Companies returns the listed companies in listing order.
func (b *Book) Companies() []model.Company {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Company, len(b.companies))
	copy(out, b.companies)
	return out
}

// Company returns the listed company for ticker.
func (b *Book) Company(ticker string) (model.Company, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.index[ticker]
	return c, ok
}

// Price returns the current price of ticker.
func (b *Book) Price(ticker string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[ticker]
	return p, ok
}

// Prices returns a copy of the current price map.
func (b *Book) Prices() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}

// History returns the retained price points of ticker, oldest first.
func (b *Book) History(ticker string) []model.PricePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.history[ticker]
	out := make([]model.PricePoint, len(h))
	copy(out, h)
	return out
}

// AddNews appends events for listed tickers to the feed and returns the
// accepted ones. Events are stamped with the current time when unset.
func (b *Book) AddNews(events ...model.NewsEvent) []model.NewsEvent {
	now := b.clock()

	b.mu.Lock()
	defer b.mu.Unlock()

	var accepted []model.NewsEvent
	for _, n := range events {
		if _, ok := b.index[n.Ticker]; !ok {
			continue
		}
		if n.Timestamp.IsZero() {
			n.Timestamp = now
		}
		accepted = append(accepted, n)
	}
	b.news = append(b.news, accepted...)
	if over := len(b.news) - b.newsLimit; over > 0 {
		b.news = append([]model.NewsEvent(nil), b.news[over:]...)
	}
	metrics.NewsEvents.Add(float64(len(accepted)))
	return accepted
}

// News returns up to limit of the most recent events, newest first.
// limit <= 0 returns the whole feed.
func (b *Book) News(limit int) []model.NewsEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.news) {
		limit = len(b.news)
	}
	out := make([]model.NewsEvent, 0, limit)
	for i := len(b.news) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.news[i])
	}
	return out
}

type tickInput struct {
	company model.Company
	last    model.PricePoint
	recent  []model.NewsEvent
}

// Tick advances every ticker by one step. Tickers are evaluated
// concurrently; the new prices are committed together. The returned points
// are in listing order.
func (b *Book) Tick(ctx context.Context) ([]model.PricePoint, error) {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	start := time.Now()
	now := b.clock()

	b.mu.RLock()
	inputs := make([]tickInput, len(b.companies))
	for i, c := range b.companies {
		h := b.history[c.Ticker]
		inputs[i] = tickInput{
			company: c,
			last:    h[len(h)-1],
			recent:  pricing.RecentNews(b.news, c.Ticker, now),
		}
	}
	b.mu.RUnlock()

	points := make([]model.PricePoint, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ts := now
			if ts.Before(in.last.Timestamp) {
				ts = in.last.Timestamp
			}
			dt := ts.Sub(in.last.Timestamp).Seconds()
			points[i] = model.PricePoint{
				Ticker:    in.company.Ticker,
				Price:     b.engine.NextPrice(in.last.Price, in.company, in.recent, dt),
				Timestamp: ts,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	for _, p := range points {
		b.prices[p.Ticker] = p.Price
		h := append(b.history[p.Ticker], p)
		if over := len(h) - b.historyLimit; over > 0 {
			h = append([]model.PricePoint(nil), h[over:]...)
		}
		b.history[p.Ticker] = h
	}
	b.mu.Unlock()

	metrics.PriceTicks.Add(float64(len(points)))
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	return points, nil
}
