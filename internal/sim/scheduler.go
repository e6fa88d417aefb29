// Package sim drives the simulated market on a schedule: a price tick on
// every tick interval and a round of generated news on every news interval.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/tradestreet/internal/content"
	"github.com/atmx/tradestreet/internal/model"
)

const newsTimeout = 90 * time.Second

// Market is the price book the scheduler advances.
type Market interface {
	Tick(ctx context.Context) ([]model.PricePoint, error)
	Companies() []model.Company
}

// Sink receives committed prices and generated news.
type Sink interface {
	OnTick(points []model.PricePoint)
	AddNews(events []model.NewsEvent) []model.NewsEvent
}

// Options configures a Scheduler.
type Options struct {
	// TickInterval between price ticks. cron rounds it up to whole seconds.
	TickInterval time.Duration
	// NewsInterval between news rounds; <= 0 disables news.
	NewsInterval time.Duration
	// NewsPerRound is how many events each round asks for.
	NewsPerRound int
	// Generator produces news; nil disables news.
	Generator content.Generator
	// Clock stamps generated news. Defaults to time.Now.
	Clock func() time.Time
}

// Scheduler runs the tick and news jobs. Overlapping runs of the same job
// are skipped rather than queued.
type Scheduler struct {
	market Market
	sink   Sink
	opts   Options
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New creates a scheduler. Jobs are registered but not started.
func New(m Market, sink Sink, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewsPerRound <= 0 {
		opts.NewsPerRound = 2
	}

	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		market: m,
		sink:   sink,
		opts:   opts,
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:    ctx,
		cancel: cancel,
	}

	if opts.TickInterval > 0 {
		s.cron.Schedule(cron.Every(opts.TickInterval), cron.FuncJob(func() { s.RunTick(s.ctx) }))
	}
	if opts.NewsInterval > 0 && opts.Generator != nil {
		s.cron.Schedule(cron.Every(opts.NewsInterval), cron.FuncJob(func() { s.RunNews(s.ctx) }))
	}
	return s
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	slog.Info("simulation started",
		"tick_interval", s.opts.TickInterval.String(),
		"news_interval", s.opts.NewsInterval.String(),
		"jobs", s.Jobs(),
	)
}

// Stop halts scheduling, cancels in-flight jobs, and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTick advances prices once and hands them to the sink.
func (s *Scheduler) RunTick(ctx context.Context) {
	points, err := s.market.Tick(ctx)
	if err != nil {
		slog.Warn("price tick failed", "err", err)
		return
	}
	s.sink.OnTick(points)
}

// RunNews generates one round of news and hands it to the sink. Generation
// failures yield an empty round.
func (s *Scheduler) RunNews(ctx context.Context) int {
	if s.opts.Generator == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, newsTimeout)
	defer cancel()

	events := content.News(ctx, s.opts.Generator, s.market.Companies(), s.opts.NewsPerRound, s.opts.Clock())
	if len(events) == 0 {
		return 0
	}
	accepted := s.sink.AddNews(events)
	for _, n := range accepted {
		slog.Info("news published", "ticker", n.Ticker, "headline", n.Headline, "sentiment", n.Sentiment)
	}
	return len(accepted)
}
