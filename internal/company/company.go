// Package company handles ticker validation and range checks for the
// company and news records that feed the price engine.
package company

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
)

// tickerRegex matches 2-5 upper-case letters, e.g. TECH, FINX, AB.
var tickerRegex = regexp.MustCompile(`^[A-Z]{2,5}$`)

var (
	ErrInvalidTicker    = errors.New("company: invalid ticker format")
	ErrInvalidBasePrice = errors.New("company: base price must be positive")
	ErrMissingName      = errors.New("company: name is required")
	ErrUnknownTicker    = errors.New("company: unknown ticker")
)

// NormalizeTicker trims and upper-cases a ticker.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ParseTicker normalizes and validates a ticker symbol.
func ParseTicker(ticker string) (string, error) {
	t := NormalizeTicker(ticker)
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q (expected 2-5 letters)", ErrInvalidTicker, ticker)
	}
	return t, nil
}

// Clamp restricts v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sanitize validates a company record and clamps its risk and volatility
// into [0,1]. The price engine assumes callers have done this.
func Sanitize(c model.Company) (model.Company, error) {
	ticker, err := ParseTicker(c.Ticker)
	if err != nil {
		return model.Company{}, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return model.Company{}, fmt.Errorf("%w: %s", ErrMissingName, ticker)
	}
	if c.BasePrice.LessThanOrEqual(decimal.Zero) {
		return model.Company{}, fmt.Errorf("%w: %s has %s", ErrInvalidBasePrice, ticker, c.BasePrice)
	}

	c.Ticker = ticker
	c.Name = strings.TrimSpace(c.Name)
	c.Sector = strings.TrimSpace(c.Sector)
	c.Risk = Clamp(c.Risk, 0, 1)
	c.Volatility = Clamp(c.Volatility, 0, 1)
	return c, nil
}

// SanitizeNews validates a news record against the known tickers and clamps
// sentiment into [-1,1] and magnitude into [0,1].
func SanitizeNews(n model.NewsEvent, known map[string]bool) (model.NewsEvent, error) {
	ticker, err := ParseTicker(n.Ticker)
	if err != nil {
		return model.NewsEvent{}, err
	}
	if !known[ticker] {
		return model.NewsEvent{}, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	n.Ticker = ticker
	n.Sentiment = Clamp(n.Sentiment, -1, 1)
	n.Magnitude = Clamp(n.Magnitude, 0, 1)
	return n, nil
}

// Index returns the set of tickers in companies.
func Index(companies []model.Company) map[string]bool {
	known := make(map[string]bool, len(companies))
	for _, c := range companies {
		known[c.Ticker] = true
	}
	return known
}
