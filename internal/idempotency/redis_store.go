// Package idempotency remembers responses to create calls so that a retried
// request carrying the same Idempotency-Key replays the first outcome.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrInProgress means another request with the same key has not finished.
var ErrInProgress = errors.New("idempotent request in progress")

// Response is the stored outcome of a completed request.
type Response struct {
	Status    int             `json:"status"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisStore keeps reservations and responses in Redis under a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "idem:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(scope string) string {
	return s.prefix + scope
}

// Reserve claims scope for the caller. It returns (nil, nil) when the caller
// now owns the key, the stored response when one exists, and ErrInProgress
// when a reservation is still pending.
func (s *RedisStore) Reserve(ctx context.Context, scope string) (*Response, error) {
	key := s.key(scope)
	ok, err := s.client.SetNX(ctx, key, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, key, pendingMarker, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if raw == pendingMarker {
		return nil, ErrInProgress
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal idempotent response: %w", err)
	}
	return &resp, nil
}

// Complete stores the response for scope, replacing the reservation.
func (s *RedisStore) Complete(ctx context.Context, scope string, resp Response) error {
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal idempotent response: %w", err)
	}
	if err := s.client.Set(ctx, s.key(scope), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save idempotent response: %w", err)
	}
	return nil
}

// Release drops a reservation so the request can be retried.
func (s *RedisStore) Release(ctx context.Context, scope string) error {
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
