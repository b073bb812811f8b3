package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"timetracker/internal/model"
)

const redisKeyPrefix = "timetracker:record:"

const redisMaxRetries = 5

// Redis keeps one JSON value per user and merges under WATCH.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Redis) Get(ctx context.Context, userID string) (model.Record, error) {
	if err := validUserID(userID); err != nil {
		return model.Record{}, err
	}
	raw, err := r.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, unavailable("redis get", err)
	}
	return decodeRecord(raw)
}

func (r *Redis) Set(ctx context.Context, userID string, patch model.Patch) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	key := redisKeyPrefix + userID

	txf := func(tx *redis.Tx) error {
		record := model.NewRecord(userID)
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			if record, err = decodeRecord(raw); err != nil {
				return err
			}
		}

		document, err := json.Marshal(Merge(record, patch, r.now()))
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, document, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return unavailable("redis set", err)
		}
		return nil
	}
	return fmt.Errorf("redis set: %w", redis.TxFailedErr)
}

func (r *Redis) List(ctx context.Context) ([]model.Record, error) {
	var records []model.Record
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("redis scan", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}
