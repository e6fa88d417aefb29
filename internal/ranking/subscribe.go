package ranking

import (
	"sync"

	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/model"
)

// subscription delivers top-N views on its own goroutine. Wakes are
// coalesced, so a slow callback only ever sees the latest view.
type subscription struct {
	n    int
	fn   func([]model.LeaderboardEntry)
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// wakeAll signals every subscriber. Called with b.mu held.
func (b *Board) wakeAll() {
	for _, s := range b.subs {
		s.signal()
	}
}

// Subscribe registers fn to receive the top-n view (n <= 0: every entry).
// fn is called once with the current view and again after every change to
// any entry's pnl or total value. The returned function unsubscribes; it is
// idempotent. After it returns no new deliveries start.
func (b *Board) Subscribe(n int, fn func([]model.LeaderboardEntry)) (unsubscribe func()) {
	s := &subscription{
		n:    n,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	s.signal()
	b.mu.Unlock()

	metrics.LeaderboardSubscribers.Inc()
	go b.deliver(s)

	return func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
			metrics.LeaderboardSubscribers.Dec()
		})
	}
}

func (b *Board) deliver(s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(b.TopN(s.n))
		}
	}
}

// Close ends every subscription. Later Subscribe calls return a no-op.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for id, s := range b.subs {
		subs = append(subs, s)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() {
			close(s.done)
			metrics.LeaderboardSubscribers.Dec()
		})
	}
}
