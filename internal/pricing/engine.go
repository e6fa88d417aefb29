// Package pricing implements the stochastic price model for synthetic
// tickers: a mean-zero random drift plus a sentiment term driven by recent
// news, both amplified by the instrument's volatility.
//
// The engine is stateless. Prices for distinct tickers can be evaluated
// concurrently; successive ticks of one ticker must be applied in order
// because each depends on the previous price.
//
// Prices are decimals. The fractional change is computed in float64 and
// immediately applied as a decimal multiplier rounded to PriceScale.
package pricing

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
)

const (
	// NewsWindow is how long a news event keeps influencing its ticker.
	NewsWindow = 60 * time.Second

	// MaxDrift is the full width of the uniform drift band per second (±1%).
	MaxDrift = 0.02

	// SentimentScale caps the sentiment contribution at 5% of price per tick
	// for a single full-strength event on a fully volatile instrument.
	SentimentScale = 0.05

	// VolatilityAmplification scales the combined change by (1 + vol*0.5).
	VolatilityAmplification = 0.5
)

var (
	// MinPrice is the price floor. No tick ever produces a lower price.
	MinPrice = decimal.NewFromFloat(0.01)

	// PriceScale is the number of decimal places prices are rounded to.
	PriceScale int32 = 8
)

// Source yields uniformly distributed values in [0,1).
type Source interface {
	Float64() float64
}

// Fixed is a Source that always returns the same value. Fixed(0.5) removes
// the random drift entirely.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// lockedSource makes a *rand.Rand safe for concurrent tickers.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// NewSeededSource returns a goroutine-safe deterministic source.
func NewSeededSource(seed uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Engine computes the next price of a ticker.
type Engine struct {
	src Source
}

// NewEngine creates an engine drawing drift from src. A nil src uses a
// randomly seeded goroutine-safe generator.
func NewEngine(src Source) *Engine {
	if src == nil {
		src = NewSeededSource(rand.Uint64())
	}
	return &Engine{src: src}
}

// Drift returns the random, sentiment-independent fractional change for a
// tick spanning dt seconds: (U-0.5) * 0.02 * max(1, dt).
func (e *Engine) Drift(dt float64) float64 {
	return (e.src.Float64() - 0.5) * MaxDrift * math.Max(1, dt)
}

// SentimentImpact returns Σ(sentiment × magnitude) × volatility × 0.05 over
// the given events.
func SentimentImpact(volatility float64, recent []model.NewsEvent) float64 {
	if len(recent) == 0 {
		return 0
	}
	total := 0.0
	for _, n := range recent {
		total += n.Sentiment * n.Magnitude
	}
	return total * volatility * SentimentScale
}

// NextPrice returns the price following current after dt seconds.
//
// recent must already be restricted to this ticker's qualifying events (see
// RecentNews), and the company's volatility must already be clamped to
// [0,1]. The result is always >= MinPrice.
func (e *Engine) NextPrice(current decimal.Decimal, c model.Company, recent []model.NewsEvent, dt float64) decimal.Decimal {
	if dt < 0 {
		dt = 0
	}

	drift := e.Drift(dt)
	sentiment := SentimentImpact(c.Volatility, recent)
	change := (drift + sentiment) * (1 + c.Volatility*VolatilityAmplification)

	next := current
	if change != 0 {
		next = current.Mul(decimal.NewFromFloat(1 + change)).Round(PriceScale)
	}
	if next.LessThan(MinPrice) {
		return MinPrice
	}
	return next
}

// RecentNews returns the events for ticker whose age at now is strictly
// less than NewsWindow. Events stamped in the future count as fresh.
func RecentNews(all []model.NewsEvent, ticker string, now time.Time) []model.NewsEvent {
	var recent []model.NewsEvent
	for _, n := range all {
		if n.Ticker != ticker {
			continue
		}
		if now.Sub(n.Timestamp) < NewsWindow {
			recent = append(recent, n)
		}
	}
	return recent
}
