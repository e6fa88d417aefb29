// Package model defines the core domain types shared across the market engine.
// Monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Company is a tradable synthetic instrument. Immutable once created.
type Company struct {
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Sector      string          `json:"sector"`
	Risk        float64         `json:"risk"`       // 0..1
	Volatility  float64         `json:"volatility"` // 0..1
	BasePrice   decimal.Decimal `json:"base_price"`
	Description string          `json:"description"`
}

// NewsEvent is an append-only fact that nudges the price of one ticker.
type NewsEvent struct {
	Ticker    string    `json:"ticker"`
	Headline  string    `json:"headline"`
	Body      string    `json:"body"`
	Sentiment float64   `json:"sentiment"` // -1..1
	Magnitude float64   `json:"magnitude"` // 0..1
	Timestamp time.Time `json:"timestamp"`
}

// PricePoint is one observed price for a ticker.
type PricePoint struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is a holding of one ticker within a portfolio.
// A position with zero shares is removed, never kept.
type Position struct {
	Ticker       string          `json:"ticker"`
	Shares       int64           `json:"shares"`
	AveragePrice decimal.Decimal `json:"average_price"` // weighted-average cost basis
}

// CostBasis is shares × averagePrice.
func (p Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Shares))
}

// Portfolio is a participant's cash plus positions. Values of this type are
// treated as immutable: ledger operations return a new Portfolio.
type Portfolio struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions []Position      `json:"positions"`
}

// Position returns the position for ticker, if held.
func (p Portfolio) Position(ticker string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.Ticker == ticker {
			return pos, true
		}
	}
	return Position{}, false
}

// Clone returns a deep copy that shares no backing array with p.
func (p Portfolio) Clone() Portfolio {
	positions := make([]Position, len(p.Positions))
	copy(positions, p.Positions)
	return Portfolio{Cash: p.Cash, Positions: positions}
}

// LeaderboardEntry is the latest valuation snapshot published for one identity.
type LeaderboardEntry struct {
	Identity    string          `json:"identity"`
	PnL         decimal.Decimal `json:"pnl"`
	TotalValue  decimal.Decimal `json:"total_value"`
	LastUpdated time.Time       `json:"last_updated"`
}
