// Package ledger implements the cash + shares portfolio ledger.
//
// Buy and Sell are pure value-in/value-out transforms: they never mutate the
// Portfolio they are given, and a failed operation returns the input
// unchanged alongside the error. There are no partial fills.
//
// Monetary values use shopspring/decimal, never float64.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy costs more than the cash held.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the shares held
	// or no position exists for the ticker.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrInvalidQuantity is returned when shares <= 0.
	ErrInvalidQuantity = errors.New("ledger: shares must be positive")

	// ErrInvalidPrice is returned when price <= 0.
	ErrInvalidPrice = errors.New("ledger: price must be positive")

	// ErrEmptyTicker is returned when no ticker is given.
	ErrEmptyTicker = errors.New("ledger: ticker is required")
)

// DefaultCash is the starting cash of a new portfolio.
var DefaultCash = decimal.NewFromInt(100000)

// New returns an empty portfolio holding cash.
func New(cash decimal.Decimal) model.Portfolio {
	return model.Portfolio{Cash: cash, Positions: []model.Position{}}
}

func validate(ticker string, shares int64, price decimal.Decimal) error {
	if ticker == "" {
		return ErrEmptyTicker
	}
	if shares <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, shares)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}
	return nil
}

// Buy purchases shares of ticker at price.
//
// An existing position's average price becomes the weighted average
// (oldAvg×oldShares + shares×price) / (oldShares + shares); a new position
// starts at price.
func Buy(p model.Portfolio, ticker string, shares int64, price decimal.Decimal) (model.Portfolio, error) {
	if err := validate(ticker, shares, price); err != nil {
		return p, err
	}

	qty := decimal.NewFromInt(shares)
	totalCost := qty.Mul(price)
	if totalCost.GreaterThan(p.Cash) {
		return p, fmt.Errorf("%w: cost %s exceeds cash %s", ErrInsufficientFunds, totalCost, p.Cash)
	}

	next := p.Clone()
	next.Cash = p.Cash.Sub(totalCost)

	for i, pos := range next.Positions {
		if pos.Ticker != ticker {
			continue
		}
		totalShares := pos.Shares + shares
		basis := pos.CostBasis().Add(totalCost)
		next.Positions[i] = model.Position{
			Ticker:       ticker,
			Shares:       totalShares,
			AveragePrice: basis.Div(decimal.NewFromInt(totalShares)),
		}
		return next, nil
	}

	next.Positions = append(next.Positions, model.Position{
		Ticker:       ticker,
		Shares:       shares,
		AveragePrice: price,
	})
	return next, nil
}

// Sell disposes of shares of ticker at price. A position sold down to zero
// is removed; otherwise its average price is left unchanged.
func Sell(p model.Portfolio, ticker string, shares int64, price decimal.Decimal) (model.Portfolio, error) {
	if err := validate(ticker, shares, price); err != nil {
		return p, err
	}

	pos, ok := p.Position(ticker)
	if !ok {
		return p, fmt.Errorf("%w: no position in %s", ErrInsufficientShares, ticker)
	}
	if pos.Shares < shares {
		return p, fmt.Errorf("%w: hold %d %s, selling %d", ErrInsufficientShares, pos.Shares, ticker, shares)
	}

	proceeds := decimal.NewFromInt(shares).Mul(price)
	remaining := pos.Shares - shares

	positions := make([]model.Position, 0, len(p.Positions))
	for _, existing := range p.Positions {
		if existing.Ticker != ticker {
			positions = append(positions, existing)
			continue
		}
		if remaining > 0 {
			existing.Shares = remaining
			positions = append(positions, existing)
		}
	}

	return model.Portfolio{
		Cash:      p.Cash.Add(proceeds),
		Positions: positions,
	}, nil
}

// MarketValue is Σ shares × price over all positions. A ticker missing from
// prices is a stale quote and counts as zero.
func MarketValue(p model.Portfolio, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(decimal.NewFromInt(pos.Shares).Mul(prices[pos.Ticker]))
	}
	return total
}

// CostBasis is Σ shares × averagePrice over all positions.
func CostBasis(p model.Portfolio) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.CostBasis())
	}
	return total
}

// Valuation is cash plus the market value of every position.
func Valuation(p model.Portfolio, prices map[string]decimal.Decimal) decimal.Decimal {
	return p.Cash.Add(MarketValue(p, prices))
}

// UnrealizedPnL is the market value of the holdings minus their cost basis.
// Cash is not profit or loss and is excluded. Realized gains from earlier
// sells are not retained.
func UnrealizedPnL(p model.Portfolio, prices map[string]decimal.Decimal) decimal.Decimal {
	return MarketValue(p, prices).Sub(CostBasis(p))
}
