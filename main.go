package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-reservation/internal/analytics"
	analytics_api "ms-reservation/internal/analytics/api"
	"ms-reservation/internal/auth"
	"ms-reservation/internal/calendar"
	"ms-reservation/internal/config"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/idgen"
	"ms-reservation/internal/kafka"
	"ms-reservation/internal/ledger"
	redisledger "ms-reservation/internal/ledger/redis"
	"ms-reservation/internal/ledger/sqlstore"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/metrics"
	"ms-reservation/internal/qr"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/reservation/api"
	reservation_db "ms-reservation/internal/reservation/db"
	"ms-reservation/internal/rules"
	"ms-reservation/internal/sse"
	"ms-reservation/internal/sweeper"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

// newLedger builds the configured capacity ledger. The returned cleanup
// closes whatever the ledger owns.
func newLedger(ctx context.Context, cfg *config.Config, bunDB *bun.DB, log *logger.Logger) (ledger.CapacityLedger, func()) {
	switch cfg.Reservation.LedgerBackend {
	case "redis":
		client := connectRedis(ctx, cfg.Redis, log)
		return redisledger.NewLedger(client, redisledger.WithLogger(log)), func() { client.Close() }
	case "sql":
		return sqlstore.NewLedger(bunDB), func() {}
	case "memory":
		log.Warn("LEDGER", "In-memory ledger selected, committed capacity is lost on restart and not shared between instances")
		return ledger.NewMemory(), func() {}
	default:
		log.Fatal("CONFIG", fmt.Sprintf("Unknown LEDGER_BACKEND %q, expected redis, sql or memory", cfg.Reservation.LedgerBackend))
		return nil, nil
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	log := logger.NewLogger("reservation-service")
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log.Info("APP", "Starting Reservation Service initialization")

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("CONFIG", "JWT_SECRET not set")
	}
	if cfg.Auth.QRSecret == "" {
		log.Fatal("CONFIG", "QR_SECRET not set")
	}
	scope, err := reservation.ParseDuplicateScope(cfg.Reservation.DuplicateScope)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	loc, err := time.LoadLocation(cfg.Reservation.Timezone)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid PARK_TIMEZONE %q: %v", cfg.Reservation.Timezone, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir}, log)
		if err := runner.Up(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Migration failed: %v", err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	capacity, closeLedger := newLedger(ctx, cfg, bunDB, log)
	defer closeLedger()
	capacity = ledger.Observe(capacity, cfg.Reservation.LedgerBackend, recorder)
	log.Info("LEDGER", fmt.Sprintf("Capacity ledger backend: %s", cfg.Reservation.LedgerBackend))

	ids, err := idgen.New(cfg.Reservation.WorkerID)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid WORKER_ID: %v", err))
	}

	broadcaster := sse.NewBroadcaster()
	opts := []reservation.Option{
		reservation.WithEvents(broadcaster),
		reservation.WithLocation(loc),
		reservation.WithDuplicateScope(scope),
		reservation.WithMetrics(recorder),
		reservation.WithLogger(log),
	}

	if cfg.Kafka.Enabled {
		topics := kafka.Topics{Created: cfg.Kafka.Topics.ReservationCreated, Updated: cfg.Kafka.Topics.ReservationUpdated}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, []string{topics.Created, topics.Updated}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, topics, log)
		defer producer.Close()
		opts = append(opts, reservation.WithEvents(producer))
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	service := reservation.NewService(
		reservation_db.New(bunDB),
		capacity,
		rules.NewAccessor(rules.NewDBStore(bunDB)),
		calendar.NewGate(calendar.NewDBStore(bunDB)),
		ids,
		opts...,
	)

	codes, err := qr.NewGenerator(cfg.Auth.QRSecret)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("QR generator: %v", err))
	}
	handler := api.NewHandler(service, codes, log)
	handler.Stream = broadcaster
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(analytics.NewDB(bunDB), nil, loc), log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(api.RequestLogger(log))

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware([]byte(cfg.Auth.JWTSecret)))
		handler.Routes(r)
		log.Info("ROUTER", "Reservation routes registered under /api/reservations and /api/capacity")

		analyticsHandler.RegisterRoutes(r)
		log.Info("ROUTER", "Analytics routes registered under /api/analytics")
	})

	sweep, err := sweeper.New(service, cfg.Reservation.ReconcileInterval, cfg.Reservation.ReconcileDays,
		sweeper.WithReporter(recorder), sweeper.WithLogger(log))
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if err := sweep.Start(ctx); err != nil {
		log.Fatal("SWEEPER", err.Error())
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Reservation Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sweep.Shutdown(); err != nil {
		log.Error("SWEEPER", fmt.Sprintf("Scheduler shutdown failed: %v", err))
	}
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Reservation Service shutdown complete")
	}
}
