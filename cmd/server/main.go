package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/tradestreet/internal/config"
	"github.com/atmx/tradestreet/internal/content"
	"github.com/atmx/tradestreet/internal/ledger"
	"github.com/atmx/tradestreet/internal/market"
	"github.com/atmx/tradestreet/internal/metrics"
	"github.com/atmx/tradestreet/internal/pricing"
	"github.com/atmx/tradestreet/internal/ranking"
	"github.com/atmx/tradestreet/internal/sim"
	"github.com/atmx/tradestreet/internal/store"
	"github.com/atmx/tradestreet/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize stores ---
	var pg *store.PostgresStore
	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg = store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
	}

	var leaderboard store.LeaderboardStore
	if pg != nil {
		leaderboard = pg
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory leaderboard (data will not persist)")
		leaderboard = store.NewMemoryStore()
	}

	var portfolios store.PortfolioStore
	switch cfg.Storage.PortfolioStore {
	case config.PortfolioPostgres:
		portfolios = pg
		slog.Info("portfolio store: PostgreSQL")
	default:
		local, err := store.OpenSQLite(cfg.Storage.PortfolioDBPath)
		if err != nil {
			slog.Error("portfolio database failed", "path", cfg.Storage.PortfolioDBPath, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { local.Close() })
		portfolios = local
		slog.Info("portfolio store: SQLite", "path", cfg.Storage.PortfolioDBPath)
	}

	var st store.Store = store.Split{PortfolioStore: portfolios, LeaderboardStore: leaderboard}

	// Wrap with Redis read-through cache if configured.
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}

	// --- Market ---
	var gen content.Generator
	if cfg.Content.APIKey != "" {
		client := content.NewAnthropicClient(cfg.Content.APIKey, cfg.Content.BaseURL)
		client.Model = cfg.Content.Model
		gen = client
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set, using built-in companies and no news")
	}

	genCtx, cancelGen := context.WithTimeout(ctx, 90*time.Second)
	companies := content.Companies(genCtx, gen, cfg.Market.CompanyCount)
	cancelGen()

	book := market.NewBook(pricing.NewEngine(nil), companies, market.Options{
		HistoryLimit: cfg.Market.HistoryLimit,
	})
	slog.Info("market listed", "companies", len(book.Companies()))

	// --- Participant and leaderboard ---
	session := ledger.OpenSession(ctx, st, "tradestreet_portfolio:"+ranking.NormalizeIdentity(cfg.Market.ParticipantID), cfg.Market.InitialCash)

	tieBreak, err := ranking.ParseTieBreak(cfg.Leaderboard.TieBreak)
	if err != nil {
		slog.Error("invalid LEADERBOARD_TIE_BREAK", "err", err)
		os.Exit(1)
	}
	board := ranking.NewBoard(ranking.Options{TieBreak: tieBreak, Store: st})
	if n, err := board.Hydrate(ctx, 0); err != nil {
		slog.Warn("leaderboard hydrate failed", "err", err)
	} else {
		slog.Info("leaderboard hydrated", "entries", n)
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(ctx)
	wsHub := trade.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Trade service ---
	tradeSvc := trade.NewService(book, session, board, wsHub, trade.Options{
		Identity:        cfg.Market.ParticipantID,
		LeaderboardSize: cfg.Leaderboard.Size,
		PublishDelay:    cfg.Leaderboard.Debounce,
	})
	tradeSvc.SchedulePublish()

	// --- Simulation ---
	scheduler := sim.New(book, tradeSvc, sim.Options{
		TickInterval: cfg.Market.TickInterval,
		NewsInterval: cfg.Market.NewsInterval,
		NewsPerRound: cfg.Market.NewsPerRound,
		Generator:    gen,
	})
	scheduler.Start()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tradestreet"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for prices, trades, news and leaderboard.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Market data.
			r.Get("/companies", tradeSvc.GetCompanies)
			r.Get("/prices", tradeSvc.GetPrices)
			r.Get("/prices/{ticker}/history", tradeSvc.GetPriceHistory)
			r.Get("/news", tradeSvc.GetNews)

			// Participant portfolio.
			r.Get("/portfolio", tradeSvc.GetPortfolio)
			r.Post("/portfolio/buy", tradeSvc.BuyShares)
			r.Post("/portfolio/sell", tradeSvc.SellShares)
			r.Post("/portfolio/reset", tradeSvc.ResetPortfolio)

			// Leaderboard.
			r.Get("/leaderboard", tradeSvc.GetLeaderboard)
			r.Post("/leaderboard", tradeSvc.PublishEntry)
			r.Get("/leaderboard/{identity}/rank", tradeSvc.GetRank)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("tradestreet listening", "port", cfg.Server.Port, "participant", tradeSvc.Identity())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down tradestreet...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler stop error", "err", err)
	}
	tradeSvc.Close()
	if err := session.Close(shutdownCtx); err != nil {
		slog.Error("portfolio flush error", "err", err)
	}
	board.Close()
	stopHub()
	fmt.Println("tradestreet stopped")
}
