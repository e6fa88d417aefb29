// Package trade exposes the market to one local participant: buying and
// selling at the current price, valuation, and the shared leaderboard. It
// serves the same operations over HTTP and pushes market events to
// WebSocket clients.
//
// Monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/company"
	"github.com/atmx/tradestreet/internal/debounce"
	"github.com/atmx/tradestreet/internal/ledger"
	"github.com/atmx/tradestreet/internal/market"
	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/ranking"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	// DefaultLeaderboardSize is the top-N used when none is configured.
	DefaultLeaderboardSize = 10
	// DefaultPublishDelay is the leaderboard publish quiet period.
	DefaultPublishDelay = 2 * time.Second

	publishTimeout = 5 * time.Second
)

// ErrNoIdentity is returned when the service has no participant identity to
// publish under.
var ErrNoIdentity = errors.New("trade: participant identity is not set")

// Options configures a Service.
type Options struct {
	// Identity is the participant the session trades for.
	Identity string
	// LeaderboardSize is the default top-N.
	LeaderboardSize int
	// PublishDelay is the quiet period before a leaderboard publish.
	PublishDelay time.Duration
}

// Receipt describes an executed trade.
type Receipt struct {
	TradeID   string          `json:"trade_id"`
	Side      string          `json:"side"`
	Ticker    string          `json:"ticker"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Portfolio model.Portfolio `json:"portfolio"`
	Timestamp time.Time       `json:"timestamp"`
}

// Service ties the price book, the participant's ledger session, and the
// leaderboard together. Leaderboard publishes are debounced so bursts of
// trades and ticks produce a single snapshot.
type Service struct {
	book      *market.Book
	session   *ledger.Session
	board     *ranking.Board
	publisher *debounce.Debouncer
	hub       *WSHub

	identity string
	topN     int

	unsubscribe func()
}

// NewService creates a trade service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(book *market.Book, session *ledger.Session, board *ranking.Board, hub *WSHub, opts Options) *Service {
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = DefaultLeaderboardSize
	}
	if opts.PublishDelay <= 0 {
		opts.PublishDelay = DefaultPublishDelay
	}

	s := &Service{
		book:      book,
		session:   session,
		board:     board,
		publisher: debounce.New(opts.PublishDelay),
		hub:       hub,
		identity:  ranking.NormalizeIdentity(opts.Identity),
		topN:      opts.LeaderboardSize,
	}

	// Every successful portfolio mutation moves the valuation.
	session.OnChange(func(model.Portfolio) { s.SchedulePublish() })

	if hub != nil {
		s.unsubscribe = board.Subscribe(s.topN, func(entries []model.LeaderboardEntry) {
			hub.Broadcast(MsgLeaderboard, entries)
		})
	}
	return s
}

// Identity returns the normalized participant identity.
func (s *Service) Identity() string { return s.identity }

// Buy purchases shares of ticker at the current price.
func (s *Service) Buy(ctx context.Context, ticker string, shares int64) (Receipt, error) {
	return s.execute(ctx, SideBuy, ticker, shares)
}

// Sell sells shares of ticker at the current price.
func (s *Service) Sell(ctx context.Context, ticker string, shares int64) (Receipt, error) {
	return s.execute(ctx, SideSell, ticker, shares)
}

func (s *Service) execute(_ context.Context, side, ticker string, shares int64) (Receipt, error) {
	t, err := company.ParseTicker(ticker)
	if err != nil {
		metrics.TradesTotal.WithLabelValues(side, "rejected").Inc()
		return Receipt{}, err
	}
	price, ok := s.book.Price(t)
	if !ok {
		metrics.TradesTotal.WithLabelValues(side, "rejected").Inc()
		return Receipt{}, fmt.Errorf("%w: %s", company.ErrUnknownTicker, t)
	}

	var p model.Portfolio
	if side == SideBuy {
		p, err = s.session.Buy(t, shares, price)
	} else {
		p, err = s.session.Sell(t, shares, price)
	}
	if err != nil {
		metrics.TradesTotal.WithLabelValues(side, "rejected").Inc()
		slog.Info("trade rejected", "side", side, "ticker", t, "shares", shares, "err", err)
		return Receipt{}, err
	}

	r := Receipt{
		TradeID:   uuid.New().String(),
		Side:      side,
		Ticker:    t,
		Shares:    shares,
		Price:     price,
		Total:     price.Mul(decimal.NewFromInt(shares)),
		Portfolio: p,
		Timestamp: time.Now().UTC(),
	}

	metrics.TradesTotal.WithLabelValues(side, "filled").Inc()
	metrics.TradeVolume.WithLabelValues(t, side).Add(float64(shares))
	slog.Info("trade executed",
		"trade_id", r.TradeID,
		"side", side,
		"ticker", t,
		"shares", shares,
		"price", price.String(),
		"cash", p.Cash.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(MsgTradeExecuted, r)
	}
	return r, nil
}

// Reset replaces the portfolio with a fresh one holding the initial cash.
func (s *Service) Reset() (model.Portfolio, error) {
	p, err := s.session.Reset()
	if err != nil {
		return model.Portfolio{}, err
	}
	slog.Info("portfolio reset", "identity", s.identity, "cash", p.Cash.String())
	return p, nil
}

// Portfolio returns a copy of the participant's portfolio.
func (s *Service) Portfolio() model.Portfolio {
	return s.session.Portfolio()
}

// Valuation is cash plus market value at current prices.
func (s *Service) Valuation() decimal.Decimal {
	return ledger.Valuation(s.session.Portfolio(), s.book.Prices())
}

// PnL is unrealized profit and loss at current prices.
func (s *Service) PnL() decimal.Decimal {
	return ledger.UnrealizedPnL(s.session.Portfolio(), s.book.Prices())
}

// TopN returns the n best entries; n <= 0 uses the configured size.
func (s *Service) TopN(n int) []model.LeaderboardEntry {
	if n <= 0 {
		n = s.topN
	}
	return s.board.TopN(n)
}

// Rank returns the 1-based rank of identity, or false when unranked.
func (s *Service) Rank(identity string) (int, bool) {
	return s.board.RankOf(identity)
}

// SubscribeLeaderboard delivers the top-n view now and after every change.
func (s *Service) SubscribeLeaderboard(n int, fn func([]model.LeaderboardEntry)) (unsubscribe func()) {
	if n <= 0 {
		n = s.topN
	}
	return s.board.Subscribe(n, fn)
}

// PublishSnapshot records a snapshot for any identity. It is how other
// participants report their standing.
func (s *Service) PublishSnapshot(ctx context.Context, identity string, pnl, totalValue decimal.Decimal) (model.LeaderboardEntry, error) {
	return s.board.Publish(ctx, identity, pnl, totalValue)
}

// SchedulePublish (re)starts the quiet period after which the participant's
// current valuation is published. Only the newest request survives. It runs
// after every portfolio change; callers use it for other valuation moves.
func (s *Service) SchedulePublish() {
	if s.identity == "" {
		return
	}
	s.publisher.Trigger(s.publishNow)
}

// PublishNow publishes the participant's current valuation immediately.
func (s *Service) PublishNow(ctx context.Context) (model.LeaderboardEntry, error) {
	if s.identity == "" {
		return model.LeaderboardEntry{}, ErrNoIdentity
	}
	p := s.session.Portfolio()
	prices := s.book.Prices()
	return s.board.Publish(ctx, s.identity, ledger.UnrealizedPnL(p, prices), ledger.Valuation(p, prices))
}

func (s *Service) publishNow() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if _, err := s.PublishNow(ctx); err != nil {
		slog.Error("leaderboard publish failed", "identity", s.identity, "err", err)
	}
}

// OnTick reports freshly committed prices. Clients are notified and, when
// the participant holds positions, a publish is scheduled since the
// valuation moved.
func (s *Service) OnTick(points []model.PricePoint) {
	if len(points) == 0 {
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(MsgPrices, points)
	}
	if len(s.session.Portfolio().Positions) > 0 {
		s.SchedulePublish()
	}
}

// AddNews feeds events into the book and broadcasts the accepted ones.
func (s *Service) AddNews(events []model.NewsEvent) []model.NewsEvent {
	accepted := s.book.AddNews(events...)
	if len(accepted) > 0 && s.hub != nil {
		s.hub.Broadcast(MsgNews, accepted)
	}
	return accepted
}

// Close flushes any pending leaderboard publish and stops broadcasting.
func (s *Service) Close() {
	s.publisher.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
