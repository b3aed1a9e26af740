// Package kv stores per-column alarm state in hash keys that outlive the
// process.
package kv

import (
	"context"
	"sync"

	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	ErrConnect = errors.ErrorCode("kv_connect_failed")
	ErrGet     = errors.ErrorCode("kv_get_failed")
	ErrSet     = errors.ErrorCode("kv_set_failed")
)

// Store reads and writes one field of a hash key.
type Store interface {
	// Get reports ok=false when the field has never been written.
	Get(ctx context.Context, key, field string) (value string, ok bool, err error)
	Set(ctx context.Context, key, field, value string) error
}

type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Connect opens a Redis client and verifies it answers.
func Connect(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		DB:       cfg.DB,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.New().Wrap(ErrConnect, err)
	}

	log.Info().Str("address", cfg.Address).Int("db", cfg.DB).Msg("Redis connected")

	return rdb, nil
}

func (s *RedisStore) Get(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.New().Wrap(ErrGet, err)
	}

	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, field, value string) error {
	if err := s.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return errors.New().Wrap(ErrSet, err)
	}

	return nil
}

// MemoryStore keeps state in process memory. It records every Set.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   []SetCall
}

type SetCall struct {
	Key   string
	Field string
	Value string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	s.sets = append(s.sets, SetCall{Key: key, Field: field, Value: value})

	return nil
}

// Sets returns the recorded Set calls in order.
func (s *MemoryStore) Sets() []SetCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SetCall(nil), s.sets...)
}
