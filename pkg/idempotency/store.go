package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"library_lending/pkg/circuitbreaker"
)

var ErrInFlight = errors.New("request with this idempotency key is still being processed")

// Response is what gets replayed for a repeated key.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	// Begin claims key. It returns the stored response when the key already
	// completed, ErrInFlight while another request holds it, and (nil, nil)
	// when the caller now owns the key.
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	// Abandon releases a claimed key without storing a response.
	Abandon(ctx context.Context, key string) error
}

const inFlightMarker = "in-flight"

type RedisStore struct {
	rdb     *redis.Client
	breaker *circuitbreaker.Breaker
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisStore keeps responses for ttl. A claim that is never completed
// expires after lockTTL.
func NewRedisStore(rdb *redis.Client, breaker *circuitbreaker.Breaker, ttl, lockTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, breaker: breaker, ttl: ttl, lockTTL: lockTTL}
}

func redisKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }

func (s *RedisStore) Begin(ctx context.Context, key string) (*Response, error) {
	var (
		cached *Response
		busy   bool
	)
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		cached, busy = nil, false

		claimed, err := s.rdb.SetNX(ctx, redisKey(key), inFlightMarker, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}

		b, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between the two calls; let the client retry
			busy = true
			return nil
		}
		if err != nil {
			return err
		}
		if string(b) == inFlightMarker {
			busy = true
			return nil
		}

		var resp Response
		if err := json.Unmarshal(b, &resp); err != nil {
			return fmt.Errorf("decode stored response: %w", err)
		}
		cached = &resp
		return nil
	})
	switch {
	case err != nil:
		return nil, err
	case busy:
		return nil, ErrInFlight
	}
	return cached, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.rdb.Set(ctx, redisKey(key), b, s.ttl).Err()
	})
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.rdb.Del(ctx, redisKey(key)).Err()
	})
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.rdb.Ping(ctx).Err()
	})
}
