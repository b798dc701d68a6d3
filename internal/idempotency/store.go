// Package idempotency remembers which quote a client request token produced,
// so a retried creation request returns the original quote instead of
// creating a second one.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaidashi/quote-service/pkg/logger"
)

// Header carries the client's request token
const Header = "Idempotency-Key"

const (
	keyPrefix     = "quote-service:idem:"
	inFlightValue = "__in_flight__"
	// lockTTL bounds how long a crashed request can block its key
	lockTTL = 2 * time.Minute
)

// ErrInFlight is returned when another request with the same key is running
var ErrInFlight = errors.New("a request with this idempotency key is already in progress")

// Key reads the request token from r
func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Store keeps request tokens in Redis
type Store struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisClient connects to Redis
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewStore creates a Store that remembers completed requests for ttl
func NewStore(rdb redis.Cmdable, ttl time.Duration, logger logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func redisKey(scope, key string) string {
	return keyPrefix + scope + ":" + key
}

// Begin reserves key within scope. It returns the id recorded by an earlier
// completed request, or "" when the caller now owns the key.
func (s *Store) Begin(ctx context.Context, scope, key string) (string, error) {
	k := redisKey(scope, key)

	ok, err := s.rdb.SetNX(ctx, k, inFlightValue, lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return "", nil
	}

	existing, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, scope, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}

	if existing == inFlightValue {
		return "", ErrInFlight
	}

	s.logger.Info("Replaying idempotent request", "scope", scope, "result", existing)
	return existing, nil
}

// Complete records the id produced for key
func (s *Store) Complete(ctx context.Context, scope, key, id string) error {
	if err := s.rdb.Set(ctx, redisKey(scope, key), id, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

// Release frees a key whose request failed so the client can retry it
func (s *Store) Release(ctx context.Context, scope, key string) error {
	if err := s.rdb.Del(ctx, redisKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
