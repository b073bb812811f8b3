package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"timetracker/internal/model"
)

// SQLite stores each record as a JSON document in session_records.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLite) Get(ctx context.Context, userID string) (model.Record, error) {
	if err := validUserID(userID); err != nil {
		return model.Record{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT document FROM session_records WHERE user_id = ?`,
		userID,
	)
	return scanRecord(row)
}

func (s *SQLite) Set(ctx context.Context, userID string, patch model.Patch) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(
		ctx,
		`SELECT document FROM session_records WHERE user_id = ?`,
		userID,
	)
	record, err := scanRecord(row)
	if err == ErrNotFound {
		record = model.NewRecord(userID)
	} else if err != nil {
		return err
	}

	merged := Merge(record, patch, s.now())
	document, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO session_records (user_id, document, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     document = excluded.document,
		     updated_at = excluded.updated_at`,
		userID,
		string(document),
		merged.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]model.Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT document FROM session_records ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]model.Record, 0)
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (model.Record, error) {
	var document string
	if err := s.Scan(&document); err != nil {
		if err == sql.ErrNoRows {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("scan record: %w", err)
	}
	return decodeRecord([]byte(document))
}

func decodeRecord(document []byte) (model.Record, error) {
	var record model.Record
	if err := json.Unmarshal(document, &record); err != nil {
		return model.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if record.Preferences.EyeCareIntervalMinutes <= 0 {
		record.Preferences.EyeCareIntervalMinutes = model.DefaultEyeCareIntervalMinutes
	}
	return record, nil
}
