package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps progress records in Redis so the request-serving
// process and the workers see the same state
type RedisStore struct {
	client *redis.Client
}

// RedisOptions builds client options with the service's timeouts
func RedisOptions(host, port, password string, db int) *redis.Options {
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		DB:           db,
	}
}

// NewRedisStore creates a Redis-backed store and tests the connection
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func progressKey(uploadID string) string {
	return fmt.Sprintf("upload_progress:%s", uploadID)
}

func (r *RedisStore) Load(ctx context.Context, uploadID string) (Record, error) {
	data, err := r.client.Get(ctx, progressKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get progress from Redis: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode progress record: %w", err)
	}
	return rec, nil
}

func (r *RedisStore) Save(ctx context.Context, uploadID string, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}

	if err := r.client.Set(ctx, progressKey(uploadID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set progress in Redis: %w", err)
	}
	return nil
}
