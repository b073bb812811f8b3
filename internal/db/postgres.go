package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresOptions struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

func NewPostgresPool(ctx context.Context, opts PostgresOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.ConnMaxLifetime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

func RunPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	return runMigrations(postgresMigrator{ctx: ctx, pool: pool}, migrationsDir)
}

type postgresMigrator struct {
	ctx  context.Context
	pool *pgxpool.Pool
}

func (m postgresMigrator) ensureTable() error {
	_, err := m.pool.Exec(m.ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (m postgresMigrator) applied(name string) (bool, error) {
	var count int
	err := m.pool.QueryRow(m.ctx, `SELECT COUNT(1) FROM schema_migrations WHERE name = $1`, name).Scan(&count)
	return count > 0, err
}

func (m postgresMigrator) apply(name, content string) error {
	tx, err := m.pool.Begin(m.ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(m.ctx) }()

	if _, err := tx.Exec(m.ctx, content); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.Exec(m.ctx,
		`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)`,
		name, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit(m.ctx)
}
