package main

import (
	"context"
	"path/filepath"

	"timetracker/internal/config"
	"timetracker/internal/db"
	"timetracker/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := log.New(cfg.Environment)

	database, err := db.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer database.Close()

	if err := db.RunMigrations(database, filepath.Join(cfg.Migrations.Dir, "sqlite")); err != nil {
		logger.Fatal().Err(err).Msg("run sqlite migrations")
	}

	if cfg.Store.Driver == "postgres" {
		ctx := context.Background()
		pool, err := db.NewPostgresPool(ctx, db.PostgresOptions{DSN: cfg.Store.PostgresDSN})
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		if err := db.RunPostgresMigrations(ctx, pool, filepath.Join(cfg.Migrations.Dir, "postgres")); err != nil {
			logger.Fatal().Err(err).Msg("run postgres migrations")
		}
	}

	logger.Info().Str("driver", cfg.Store.Driver).Msg("migrations applied successfully")
}
