package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/store"
)

const testKey = "tradestreet_portfolio"

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSession_StartsWithDefault(t *testing.T) {
	ms := store.NewMemoryStore()
	s := OpenSession(context.Background(), ms, testKey, DefaultCash)
	defer closeSession(t, s)

	p := s.Portfolio()
	if !p.Cash.Equal(d(100000)) || len(p.Positions) != 0 {
		t.Errorf("expected default portfolio, got %+v", p)
	}
}

func TestSession_LoadsStoredPortfolio(t *testing.T) {
	ms := store.NewMemoryStore()
	stored := model.Portfolio{Cash: d(5), Positions: []model.Position{{Ticker: "TECH", Shares: 3, AveragePrice: d(1)}}}
	ms.SavePortfolio(context.Background(), testKey, stored)

	s := OpenSession(context.Background(), ms, testKey, DefaultCash)
	defer closeSession(t, s)

	if got := s.Portfolio(); !got.Cash.Equal(d(5)) || len(got.Positions) != 1 {
		t.Errorf("expected stored portfolio, got %+v", got)
	}
}

func TestSession_PersistsLatestOnClose(t *testing.T) {
	ms := store.NewMemoryStore()
	s := OpenSession(context.Background(), ms, testKey, DefaultCash)

	if _, err := s.Buy("TECH", 10, d(125.5)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := s.Buy("TECH", 5, d(130)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	closeSession(t, s)

	got, err := ms.LoadPortfolio(context.Background(), testKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Cash.Equal(d(98095)) {
		t.Errorf("expected persisted cash=98095, got %s", got.Cash)
	}
}

func TestSession_FailedValidationNotPersisted(t *testing.T) {
	ms := store.NewMemoryStore()
	s := OpenSession(context.Background(), ms, testKey, DefaultCash)

	got, err := s.Sell("TECH", 1, d(100))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if !got.Cash.Equal(d(100000)) {
		t.Errorf("expected unchanged portfolio, got %+v", got)
	}
	closeSession(t, s)

	if ms.Saves() != 0 {
		t.Errorf("expected no saves, got %d", ms.Saves())
	}
}

func TestSession_PersistenceFailureKeepsMemory(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.FailWrites(errors.New("unavailable"))
	s := OpenSession(context.Background(), ms, testKey, DefaultCash)

	p, err := s.Buy("TECH", 10, d(125.5))
	if err != nil {
		t.Fatalf("buy must succeed despite persistence failure: %v", err)
	}
	if !p.Cash.Equal(d(98745)) {
		t.Errorf("expected cash=98745, got %s", p.Cash)
	}

	// The next write after recovery carries the full state.
	ms.FailWrites(nil)
	if _, err := s.Buy("MEDI", 1, d(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	closeSession(t, s)

	got, err := ms.LoadPortfolio(context.Background(), testKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Positions) != 2 {
		t.Errorf("expected both positions persisted, got %+v", got.Positions)
	}
}

func TestSession_Reset(t *testing.T) {
	ms := store.NewMemoryStore()
	s := OpenSession(context.Background(), ms, testKey, d(2500))
	defer closeSession(t, s)

	s.Buy("TECH", 10, d(100))
	p, err := s.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !p.Cash.Equal(d(2500)) || len(p.Positions) != 0 {
		t.Errorf("expected initial portfolio, got %+v", p)
	}
}

func TestSession_OnChange(t *testing.T) {
	s := OpenSession(context.Background(), store.NewMemoryStore(), testKey, DefaultCash)
	defer closeSession(t, s)

	var got []decimal.Decimal
	s.OnChange(func(p model.Portfolio) { got = append(got, p.Cash) })

	s.Buy("TECH", 1, d(100))
	s.Sell("TECH", 5, d(100)) // fails, no notification
	s.Sell("TECH", 1, d(150))

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if !got[1].Equal(d(100050)) {
		t.Errorf("expected cash=100050 after round trip, got %s", got[1])
	}
}

func TestSession_ClosedRejectsMutations(t *testing.T) {
	s := OpenSession(context.Background(), store.NewMemoryStore(), testKey, DefaultCash)
	closeSession(t, s)
	closeSession(t, s)

	if _, err := s.Buy("TECH", 1, d(1)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_ConcurrentBuys(t *testing.T) {
	ms := store.NewMemoryStore()
	s := OpenSession(context.Background(), ms, testKey, d(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Buy("TECH", 1, d(30))
		}()
	}
	wg.Wait()
	closeSession(t, s)

	p := s.Portfolio()
	pos, _ := p.Position("TECH")
	// 33 shares fit in 1000 cash at 30 each.
	if pos.Shares != 33 {
		t.Errorf("expected 33 shares, got %d", pos.Shares)
	}
	if !p.Cash.Equal(d(10)) {
		t.Errorf("expected cash=10, got %s", p.Cash)
	}
}
