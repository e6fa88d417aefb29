package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/store"
)

// ErrSessionClosed is returned by mutations after Close.
var ErrSessionClosed = errors.New("ledger: session closed")

// saveTimeout bounds a single background write.
const saveTimeout = 5 * time.Second

// Repository persists the portfolio under a fixed key.
type Repository interface {
	LoadPortfolio(ctx context.Context, key string) (model.Portfolio, error)
	SavePortfolio(ctx context.Context, key string, p model.Portfolio) error
}

// Session owns the live portfolio of one participant. Mutations are
// serialized; each successful one hands the new snapshot to a background
// writer that keeps only the most recent unsaved snapshot. A failed write is
// logged and superseded by the next one; it never rolls back memory.
type Session struct {
	key         string
	repo        Repository
	initialCash decimal.Decimal

	mu        sync.Mutex
	portfolio model.Portfolio
	closed    bool
	listeners []func(model.Portfolio)

	pending   chan model.Portfolio
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// OpenSession loads the portfolio stored under key, or starts from an empty
// portfolio with initialCash when nothing is stored or the load fails.
func OpenSession(ctx context.Context, repo Repository, key string, initialCash decimal.Decimal) *Session {
	s := &Session{
		key:         key,
		repo:        repo,
		initialCash: initialCash,
		portfolio:   New(initialCash),
		pending:     make(chan model.Portfolio, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	p, err := repo.LoadPortfolio(ctx, key)
	switch {
	case err == nil:
		if p.Positions == nil {
			p.Positions = []model.Position{}
		}
		s.portfolio = p
		slog.Info("portfolio loaded", "key", key, "cash", p.Cash.String(), "positions", len(p.Positions))
	case errors.Is(err, store.ErrNotFound):
		slog.Info("no stored portfolio, starting fresh", "key", key, "cash", initialCash.String())
	default:
		metrics.PersistenceFailures.WithLabelValues("portfolio_load").Inc()
		slog.Error("portfolio load failed, starting fresh", "key", key, "err", err)
	}

	go s.run()
	return s
}

// Key returns the repository key this session persists under.
func (s *Session) Key() string { return s.key }

// Portfolio returns a copy of the current portfolio.
func (s *Session) Portfolio() model.Portfolio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portfolio.Clone()
}

// OnChange registers fn to be called with every new portfolio after a
// successful mutation. Listeners run on the mutating goroutine.
func (s *Session) OnChange(fn func(model.Portfolio)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Buy applies ledger.Buy to the live portfolio.
func (s *Session) Buy(ticker string, shares int64, price decimal.Decimal) (model.Portfolio, error) {
	return s.apply(func(p model.Portfolio) (model.Portfolio, error) {
		return Buy(p, ticker, shares, price)
	})
}

// Sell applies ledger.Sell to the live portfolio.
func (s *Session) Sell(ticker string, shares int64, price decimal.Decimal) (model.Portfolio, error) {
	return s.apply(func(p model.Portfolio) (model.Portfolio, error) {
		return Sell(p, ticker, shares, price)
	})
}

// Reset returns the portfolio to its initial state.
func (s *Session) Reset() (model.Portfolio, error) {
	return s.apply(func(model.Portfolio) (model.Portfolio, error) {
		return New(s.initialCash), nil
	})
}

func (s *Session) apply(op func(model.Portfolio) (model.Portfolio, error)) (model.Portfolio, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Portfolio{}, ErrSessionClosed
	}
	next, err := op(s.portfolio)
	if err != nil {
		current := s.portfolio.Clone()
		s.mu.Unlock()
		return current, err
	}
	s.portfolio = next
	s.schedule(next.Clone())
	listeners := append([]func(model.Portfolio){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next.Clone())
	}
	return next.Clone(), nil
}

// schedule replaces any unsaved snapshot with p. Called with s.mu held.
func (s *Session) schedule(p model.Portfolio) {
	for {
		select {
		case s.pending <- p:
			return
		default:
			select {
			case <-s.pending:
			default:
			}
		}
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case p := <-s.pending:
			s.save(p)
		case <-s.done:
			select {
			case p := <-s.pending:
				s.save(p)
			default:
			}
			return
		}
	}
}

func (s *Session) save(p model.Portfolio) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.repo.SavePortfolio(ctx, s.key, p); err != nil {
		metrics.PersistenceFailures.WithLabelValues("portfolio_save").Inc()
		slog.Error("portfolio save failed", "key", s.key, "err", err)
	}
}

// Close stops accepting mutations and waits for the last snapshot to be
// written, or for ctx to expire. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
