package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timetracker/internal/model"
)

// Postgres is the hosted-table backend, one JSONB document per user.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (p *Postgres) Get(ctx context.Context, userID string) (model.Record, error) {
	if err := validUserID(userID); err != nil {
		return model.Record{}, err
	}
	const query = `SELECT document FROM session_records WHERE user_id = $1`
	return p.scan(p.pool.QueryRow(ctx, query, userID))
}

func (p *Postgres) Set(ctx context.Context, userID string, patch model.Patch) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx)

	const selectQuery = `SELECT document FROM session_records WHERE user_id = $1 FOR UPDATE`
	record, err := p.scan(tx.QueryRow(ctx, selectQuery, userID))
	if errors.Is(err, ErrNotFound) {
		record = model.NewRecord(userID)
	} else if err != nil {
		return err
	}

	merged := Merge(record, patch, p.now())
	document, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	const upsert = `
		INSERT INTO session_records (user_id, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, upsert, userID, document, merged.UpdatedAt); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]model.Record, error) {
	const query = `SELECT document FROM session_records ORDER BY user_id`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		record, err := decodeRecord(document)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (p *Postgres) scan(row pgx.Row) (model.Record, error) {
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, unavailable("query record", err)
	}
	return decodeRecord(document)
}
