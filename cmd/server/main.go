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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/qualitax/swap-engine/internal/engine"
	"github.com/qualitax/swap-engine/internal/metrics"
	"github.com/qualitax/swap-engine/internal/registry"
	"github.com/qualitax/swap-engine/internal/risk"
	"github.com/qualitax/swap-engine/internal/settlement"
	"github.com/qualitax/swap-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Settlement asset ---
	// Local mode: in-process ledger. A deployed instance would point this
	// at the real settlement-asset ledger instead.
	ledger := settlement.NewMemoryLedger()

	// --- Notional limits ---
	maxPerSwap := decimal.NewFromInt(1_000_000)
	maxAggregate := decimal.NewFromInt(10_000_000)
	limiter := risk.NewNotionalLimiter(maxPerSwap, maxAggregate)

	// --- Registry ---
	reg := registry.New(st, ledger, limiter, nil)

	// --- WebSocket hub ---
	wsHub := engine.NewWSHub()
	go wsHub.Run()

	// --- Lifecycle service ---
	svc := engine.NewService(reg, st, ledger, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"swap-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time lifecycle notifications.
		r.Get("/ws", wsHub.HandleWS)

		// Instance management.
		r.Get("/swaps", svc.ListSwaps)
		r.Post("/swaps", svc.CreateSwap)
		r.Get("/swaps/count", svc.CountSwaps)
		r.Get("/swaps/{swapID}", svc.GetSwap)
		r.Get("/swaps/{swapID}/events", svc.GetEvents)
		r.Get("/swaps/{swapID}/margin/{party}", svc.GetMargin)

		// Ownership token.
		r.Get("/swaps/{swapID}/token/balances/{party}", svc.GetTokenBalance)
		r.Post("/swaps/{swapID}/token/mint", svc.MintToken)
		r.Post("/swaps/{swapID}/token/transfer", svc.TransferToken)

		// Trade lifecycle.
		r.Post("/swaps/{swapID}/incept", svc.Incept)
		r.Post("/swaps/{swapID}/confirm", svc.Confirm)
		r.Post("/swaps/{swapID}/cancel", svc.Cancel)
		r.Post("/swaps/{swapID}/valuation", svc.InitiateValuation)
		r.Post("/swaps/{swapID}/oracle/fulfill", svc.FulfillOracle)
		r.Post("/swaps/{swapID}/terminate", svc.RequestTermination)
		r.Post("/swaps/{swapID}/terminate/confirm", svc.ConfirmTermination)
		r.Post("/swaps/{swapID}/mature", svc.Mature)

		// Settlement asset (local and test setup).
		r.Post("/settlement/mint", svc.MintSettlement)
		r.Post("/settlement/approve", svc.ApproveSettlement)
		r.Get("/settlement/balances/{party}", svc.GetSettlementBalance)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("swap-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down swap-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("swap-engine stopped")
}
