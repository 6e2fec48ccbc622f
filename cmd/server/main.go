package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/staking-pool/internal/metrics"
	"github.com/atmx/staking-pool/internal/settlement"
	"github.com/atmx/staking-pool/internal/staking"
	"github.com/atmx/staking-pool/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	cacheTTL := envDuration("CACHE_TTL", 30*time.Second)
	poolDuration := envDuration("POOL_DURATION", 365*24*time.Hour)
	gracePeriod := envDuration("POOL_GRACE_PERIOD", 30*24*time.Hour)
	feeBps := envUint("FEE_ON_TRANSFER_BPS", 0)

	dbURL := os.Getenv("DATABASE_URL")
	if err := checkCustody(dbURL != "", os.Getenv("ALLOW_MEMORY_VAULT") == "true"); err != nil {
		slog.Error("refusing to start", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL != "" {
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
			st = store.NewCachedStore(st, rdb, cacheTTL)
			slog.Info("Redis cache enabled", "ttl", cacheTTL.String())
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

	// --- Settlement ---
	// Balances live in process memory; fund accounts through /api/v1/dev/mint.
	vault := settlement.NewMemoryVault()
	if feeBps > 0 {
		vault.SetDefaultTransferFee(feeBps)
		slog.Info("transfer fee enabled", "bps", feeBps)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- WebSocket hub ---
	wsHub := staking.NewWSHub()
	go wsHub.Run(ctx)

	// --- Staking service ---
	svc := staking.NewService(st, vault, wsHub, staking.Config{
		Duration:    poolDuration,
		GracePeriod: gracePeriod,
	})
	if err := svc.RefreshGauges(ctx); err != nil {
		slog.Warn("failed to load pool gauges", "err", err)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"staking-pool"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for pool events.
		r.Get("/ws", wsHub.HandleWS)

		// Pool registry.
		r.Get("/pools", svc.ListPools)
		r.Post("/pools", svc.CreatePool)
		r.Get("/pools/{poolID}", svc.GetPool)
		r.Get("/pools/{poolID}/participants/{account}", svc.GetParticipant)
		r.Get("/pools/{poolID}/history", svc.GetPoolHistory)

		// Pool operations.
		r.Post("/pools/{poolID}/fund", svc.Fund)
		r.Post("/pools/{poolID}/deposit", svc.Deposit)
		r.Post("/pools/{poolID}/withdraw", svc.Withdraw)
		r.Post("/pools/{poolID}/claim", svc.Claim)
		r.Post("/pools/{poolID}/sweep", svc.Sweep)

		// Account queries.
		r.Get("/accounts/{account}/history", svc.GetAccountHistory)

		// In-memory balances for local development.
		r.Post("/dev/mint", svc.Mint)
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
		slog.Info("staking-pool listening",
			"port", port,
			"pool_duration", poolDuration.String(),
			"grace_period", gracePeriod.String(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down staking-pool...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("staking-pool stopped")
}

// checkCustody rejects pairing a durable store with the process-memory
// vault: after a restart the store still records stakes while custody
// starts empty. allowMemory overrides this for local development.
func checkCustody(durableStore, allowMemory bool) error {
	if !durableStore {
		return nil
	}
	if !allowMemory {
		return errors.New("DATABASE_URL is set but custody is the in-memory vault, whose balances do not survive a restart; set ALLOW_MEMORY_VAULT=true to run anyway")
	}
	slog.Warn("custody balances are held in process memory and will not survive a restart; the database will disagree with custody afterwards")
	return nil
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Error("invalid duration", "key", key, "value", raw, "err", err)
		os.Exit(1)
	}
	return v
}

func envUint(key string, def uint64) uint64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		slog.Error("invalid integer", "key", key, "value", raw, "err", err)
		os.Exit(1)
	}
	return v
}
