package main

import (
	"context"
	"errors"
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
	"golang.org/x/sync/errgroup"

	"github.com/atmx/holdings-engine/internal/api"
	"github.com/atmx/holdings-engine/internal/config"
	"github.com/atmx/holdings-engine/internal/fx"
	"github.com/atmx/holdings-engine/internal/metrics"
	"github.com/atmx/holdings-engine/internal/portfolio"
	"github.com/atmx/holdings-engine/internal/pricing"
	"github.com/atmx/holdings-engine/internal/refresh"
	"github.com/atmx/holdings-engine/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Price and FX sources ---
	var src pricing.Source
	switch cfg.PriceSource {
	case config.PriceSourceBackend:
		src = pricing.NewBackendSource(cfg.PriceBackendURL, nil)
	default:
		src = pricing.NewYahooSource(cfg.YahooBaseURL, nil)
	}
	prices := pricing.NewGuarded(src, cfg.UpstreamRateLimit)
	slog.Info("price source configured", "source", cfg.PriceSource, "rate_limit", cfg.UpstreamRateLimit)

	var rateSrc fx.Source
	switch cfg.FXSource {
	case config.FXSourceYahoo:
		rateSrc = fx.NewQuoteSource(prices)
	default:
		rateSrc = fx.NewExchangeRateAPISource(cfg.FXSourceURL, nil)
	}
	rates := fx.NewCache(rateSrc, fx.CacheConfig{
		Default:    cfg.FXDefaultRate,
		SuccessTTL: cfg.FXSuccessTTL,
		ErrorTTL:   cfg.FXErrorTTL,
	}, logger)
	refresher, err := fx.NewRefresher(rates, cfg.FXRefreshSchedule, logger)
	if err != nil {
		slog.Error("invalid FX_REFRESH_SCHEDULE", "err", err)
		os.Exit(1)
	}

	// --- Portfolios and refresh schedulers ---
	books := portfolio.NewRegistry(st, logger)
	open := func(ctx context.Context, id string) (refresh.Target, error) {
		return books.Get(ctx, id)
	}

	refreshCfg := refresh.Config{
		Interval:    cfg.RefreshInterval,
		Delay:       cfg.RefreshDelay,
		SettleDelay: cfg.RefreshSettleDelay,
		Threshold:   cfg.PriceChangeThreshold,
		Mode:        refresh.ModeBatch,
		RunOnStart:  cfg.RefreshRunOnStart,
	}
	if cfg.RefreshMode == "incremental" {
		refreshCfg.Mode = refresh.ModeIncremental
	}

	// wsHub is assigned before any client or request can start a pass.
	var wsHub *api.WSHub
	mgr := refresh.NewManager(open, prices, rates, refreshCfg, logger, func(res refresh.PassResult) {
		wsHub.PublishPass(res)
	})
	wsHub = api.NewWSHub(mgr, logger)

	svc := api.NewService(books, mgr, prices, rates, cfg.ReportingCurrency, wsHub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"holdings-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live price updates of one portfolio.
		r.Get("/ws", wsHub.HandleWS)

		r.Route("/portfolios/{portfolioID}", func(r chi.Router) {
			r.Get("/holdings", svc.GetHoldings)

			r.Get("/lots", svc.ListLots)
			r.Post("/lots", svc.AddLot)
			r.Put("/lots", svc.ReplaceLots)
			r.Delete("/lots", svc.ClearLots)
			r.Delete("/lots/{lotID}", svc.DeleteLot)

			r.Post("/refresh", svc.Refresh)
		})

		r.Get("/quotes/{ticker}", svc.GetQuote)
		r.Get("/fx/usd-krw", svc.GetFXRate)
		r.Get("/stocks/search", svc.SearchStocks)
		r.Get("/stocks/popular", svc.PopularStocks)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		refresher.Start(gctx)
		<-gctx.Done()
		refresher.Stop()
		return nil
	})

	g.Go(func() error {
		slog.Info("holdings-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down holdings-engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		mgr.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("holdings-engine exited with error", "err", err)
	}
	fmt.Println("holdings-engine stopped")
}

// openStore picks PostgreSQL (optionally behind Redis), then SQLite, then
// the in-memory store, depending on which settings are present.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, func() {}, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("schema setup failed: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				closeAll()
				return nil, func() {}, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.RedisCacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisCacheTTL)
		}
		return st, closeAll, nil

	case cfg.SQLitePath != "":
		sq, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, func() {}, fmt.Errorf("sqlite open failed: %w", err)
		}
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
		return sq, func() { sq.Close() }, nil
	}

	slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
	return store.NewMemoryStore(), func() {}, nil
}
