package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/handler"
	"github.com/algorand-firewall-service/internal/handler/admin"
	"github.com/algorand-firewall-service/internal/metrics"
	"github.com/algorand-firewall-service/internal/middleware"
	"github.com/algorand-firewall-service/internal/observability"
	"github.com/algorand-firewall-service/internal/service"
	"github.com/algorand-firewall-service/internal/store"
)

const (
	serviceName      = "firewall-service"
	archiveQueueSize = 256
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.SetupLogging(serviceName, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shut down tracing")
		}
	}()

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	var kv store.KV
	if cfg.RedisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set, using the in-process store; state is not shared across replicas")
		kv = store.NewMemory()
	} else {
		redisKV, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		kv = redisKV
	}
	kv = store.Instrument(kv, reg.StoreError)
	defer kv.Close()

	var arch archive.Archive
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, archive rows stay in process memory")
		arch = archive.NewMemory()
	} else {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create postgres pool")
		}
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping postgres")
		}
		defer pool.Close()
		arch = archive.NewPostgres(pool)
	}

	writer := archive.NewWriter(arch, archiveQueueSize, log.Logger)
	writer.OnDrop(reg.ArchiveDrop)
	defer writer.Close()

	var keys *firewall.KeyManager
	if cfg.KeyCacheDisabled {
		keys = firewall.NewKeyManager(kv, cfg.Security, cfg.KeyPrefix(), nil)
	} else {
		cache, err := firewall.NewKeyCache(cfg.KeyCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build key cache")
		}
		keys = firewall.NewKeyManager(kv, cfg.Security, cfg.KeyPrefix(), cache)
	}

	limiter := firewall.NewRateLimiter(kv, cfg.Security)
	guard := firewall.NewDDoSGuard(kv, cfg.Security, writer)
	detector := firewall.NewThreatDetector(kv, cfg.Security, writer)
	validator := firewall.NewTxValidator(kv, cfg.Security, writer)

	keySvc := service.NewKeyService(keys)
	secSvc := service.NewSecurityService(detector, validator, keys, limiter)

	secure := middleware.NewSecure(keys, limiter, guard, detector, validator, kv, cfg.Security, reg)

	var googleAuth *middleware.GoogleAuth
	if cfg.AdminEnabled() {
		googleAuth, err = middleware.NewGoogleAuth(cfg.GoogleClientID, cfg.GoogleAllowedDomain, cfg.GoogleAllowedEmails)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up Google admin auth")
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestMetrics(reg))
	r.Use(observability.HTTPMiddleware(serviceName))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireJSON)

	r.Method(http.MethodGet, "/healthz", handler.NewHealthHandler(kv, writer, keys))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Method(http.MethodPost, "/keys", handler.NewIssueKeyHandler(keySvc))
		v.Method(http.MethodGet, "/keys/wallet/{address}", handler.NewWalletKeyHandler(keySvc))

		v.Group(func(g chi.Router) {
			g.Use(secure.Middleware())
			g.Method(http.MethodGet, "/usage", handler.NewUsageHandler(keySvc))
			g.Method(http.MethodPost, "/transactions/validate", handler.NewValidateTransactionHandler(secSvc))
			g.Method(http.MethodGet, "/threats/summary", handler.NewThreatSummaryHandler(secSvc))
			g.Method(http.MethodGet, "/wallets/{address}/risk", handler.NewWalletRiskHandler(secSvc))
			g.Method(http.MethodGet, "/dashboard", handler.NewDashboardHandler(secSvc))
		})

		if googleAuth != nil {
			attempts := middleware.NewAuthAttemptLimiter(kv, 5, 5*time.Minute, 15*time.Minute)
			v.Route("/admin", func(a chi.Router) {
				a.Use(googleAuth.Middleware(attempts))
				a.Method(http.MethodGet, "/keys", admin.NewListAPIKeysHandler(keySvc))
				a.Method(http.MethodGet, "/keys/{id}", admin.NewGetAPIKeyHandler(keySvc))
				a.Method(http.MethodPost, "/keys/{id}/suspend", admin.NewSuspendAPIKeyHandler(keySvc))
				a.Method(http.MethodPost, "/keys/{id}/reinstate", admin.NewReinstateAPIKeyHandler(keySvc))
				a.Method(http.MethodDelete, "/keys/{id}", admin.NewRevokeAPIKeyHandler(keySvc))
				a.Method(http.MethodPut, "/keys/{id}/allowlist", admin.NewSetAllowlistHandler(keySvc))
				a.Method(http.MethodPut, "/blacklist/addresses", admin.NewSetAddressBlacklistHandler(secSvc))
				a.Method(http.MethodGet, "/blacklist/addresses", admin.NewGetAddressBlacklistHandler(secSvc))
				a.Method(http.MethodPut, "/blacklist/contracts", admin.NewSetContractBlacklistHandler(secSvc))
				a.Method(http.MethodGet, "/blacklist/contracts", admin.NewGetContractBlacklistHandler(secSvc))
				a.Method(http.MethodGet, "/alerts", admin.NewAlertsHandler(writer, keySvc))
				a.Method(http.MethodGet, "/reports", admin.NewReportsHandler(writer))
			})
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	log.Info().
		Int("port", cfg.Port).
		Str("network", cfg.Network).
		Bool("admin", cfg.AdminEnabled()).
		Msg("starting firewall service")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("server stopped")
	}
}

// runMigrations brings the archive schema up to date. A database that is
// already current is not an error.
func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source_err", srcErr).AnErr("db_err", dbErr).Msg("closing migrator")
		}
	}()

	log.Info().Msg("running database migrations")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
