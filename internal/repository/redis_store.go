package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	fieldItems   = "items"
	fieldVersion = "version"
)

// RedisStore keeps each cart in a hash under cart:<session>. Saves run in a
// WATCH/MULTI transaction so the version check and the write are atomic.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    90 * 24 * time.Hour,
	}
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	values, err := r.client.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrCartNotFound
	}

	version, err := strconv.ParseInt(values[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad version %q", ErrCorruptSnapshot, values[fieldVersion])
	}
	raw, ok := values[fieldItems]
	if !ok {
		return nil, fmt.Errorf("%w: missing items", ErrCorruptSnapshot)
	}
	lines, err := decodeLines([]byte(raw))
	if err != nil {
		return nil, err
	}

	return &domain.Cart{SessionID: sessionID, Lines: lines, Version: version}, nil
}

func (r *RedisStore) Save(ctx context.Context, cart *domain.Cart) error {
	data, err := encodeLines(cart.Lines)
	if err != nil {
		return err
	}
	key := cartKey(cart.SessionID)
	next := cart.Version + 1

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != cart.Version {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldItems, string(data), fieldVersion, next)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrVersionConflict) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	cart.Version = next
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}
