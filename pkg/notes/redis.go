// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the keys written by RedisStore.
const DefaultKeyPrefix = "mcpgate:"

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// maxTxRetries bounds optimistic-lock retries for update and delete.
const maxTxRetries = 10

// RedisStore keeps notes in Redis so they survive restarts and can be shared
// by several gateway replicas.
//
// Layout: an INCR counter issues ids, each note is a JSON string value, and a
// sorted set scored by the counter keeps creation order.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore connects to the Redis server at redisURL
// (redis://[user:pass@]host:port/db) and checks connectivity.
func NewRedisStore(ctx context.Context, redisURL string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if redisOpts.DialTimeout == 0 {
		redisOpts.DialTimeout = DefaultDialTimeout
	}
	if redisOpts.ReadTimeout == 0 {
		redisOpts.ReadTimeout = DefaultReadTimeout
	}
	if redisOpts.WriteTimeout == 0 {
		redisOpts.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{
		client:    client,
		keyPrefix: o.keyPrefix,
		now:       o.now,
	}
}

func (s *RedisStore) seqKey() string { return s.keyPrefix + "notes:seq" }

func (s *RedisStore) indexKey() string { return s.keyPrefix + "notes:index" }

func (s *RedisStore) noteKey(id string) string { return s.keyPrefix + "note:" + id }

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, title, content, author string) (Note, error) {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return Note{}, fmt.Errorf("failed to allocate note id: %w", err)
	}

	now := s.now().UTC()
	note := Note{
		ID:        formatID(seq),
		Title:     title,
		Content:   content,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(note)
	if err != nil {
		return Note{}, fmt.Errorf("failed to marshal note: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.noteKey(note.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(seq), Member: note.ID})
		return nil
	})
	if err != nil {
		return Note{}, fmt.Errorf("failed to store note: %w", err)
	}
	return note, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (Note, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisStore) get(ctx context.Context, c getter, id string) (Note, error) {
	data, err := c.Get(ctx, s.noteKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Note{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Note{}, fmt.Errorf("failed to get note: %w", err)
	}

	var note Note
	if err := json.Unmarshal(data, &note); err != nil {
		return Note{}, fmt.Errorf("failed to unmarshal note: %w", err)
	}
	return note, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Note, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	if len(ids) == 0 {
		return []Note{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.noteKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}

	out := make([]Note, 0, len(values))
	for _, v := range values {
		// a note deleted between ZRANGE and MGET comes back nil
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var note Note
		if err := json.Unmarshal([]byte(raw), &note); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note: %w", err)
		}
		out = append(out, note)
	}
	return out, nil
}

// Update implements Store. The read-modify-write runs under WATCH so a
// concurrent writer forces a retry instead of a lost update.
func (s *RedisStore) Update(ctx context.Context, id string, update Update) (Note, error) {
	var updated Note
	err := s.watch(ctx, id, func(tx *redis.Tx) error {
		note, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		update.apply(&note, s.now().UTC())
		data, err := json.Marshal(note)
		if err != nil {
			return fmt.Errorf("failed to marshal note: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.noteKey(id), data, 0)
			return nil
		})
		updated = note
		return err
	})
	if err != nil {
		return Note{}, err
	}
	return updated, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) (Note, error) {
	var deleted Note
	err := s.watch(ctx, id, func(tx *redis.Tx) error {
		note, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.noteKey(id))
			pipe.ZRem(ctx, s.indexKey(), id)
			return nil
		})
		deleted = note
		return err
	})
	if err != nil {
		return Note{}, err
	}
	return deleted, nil
}

func (s *RedisStore) watch(ctx context.Context, id string, fn func(tx *redis.Tx) error) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, s.noteKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("note %s: too much contention", id)
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
