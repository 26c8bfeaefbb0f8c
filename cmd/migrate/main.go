package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"ms-reservation/internal/config"
	"ms-reservation/internal/database"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/rules"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const usage = `usage: migrate <command>

commands:
  up      apply every pending SQL migration
  down    roll back every SQL migration
  models  create missing tables straight from the bun models
  seed    store the default capacity rules where none are configured`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger("reservation-migrate")
	defer log.Close()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	if err := run(ctx, os.Args[1], db, cfg, log); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	log.Info("MIGRATION", fmt.Sprintf("✅ %s done", os.Args[1]))
}

func run(ctx context.Context, command string, db *bun.DB, cfg *config.Config, log *logger.Logger) error {
	switch command {
	case "up", "down":
		runner := migrations.NewRunner(db, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir}, log)
		defer runner.Close()
		if command == "up" {
			return runner.Up()
		}
		return runner.Down()
	case "models":
		return database.CreateSchema(ctx, db)
	case "seed":
		return seedRules(ctx, rules.NewDBStore(db), log)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func seedRules(ctx context.Context, store *rules.DBStore, log *logger.Logger) error {
	for _, rule := range rules.DefaultRules() {
		key := rules.KindKey(rule.BookingKind)
		_, ok, err := store.GetValue(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if ok {
			log.Info("SEED", fmt.Sprintf("%s already configured, keeping it", key))
			continue
		}
		if err := store.PutRule(ctx, rule, ""); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
		log.LogDatabase("SEED", "sys_config", key)
	}
	return nil
}
