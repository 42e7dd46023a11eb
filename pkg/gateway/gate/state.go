package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rediser is the slice of the redis client the control-state stores need.
type Rediser interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

const (
	killSwitchKey = "gate:kill_switch"
	breakerPrefix = "gate:breaker:"
	quarantineKey = "gate:quarantine"
	rateLimitFmt  = "gate:rl:%s:%d"
)

// KillSwitchStore holds the global trading halt flag.
type KillSwitchStore struct {
	client Rediser
}

func NewKillSwitchStore(client Rediser) *KillSwitchStore {
	return &KillSwitchStore{client: client}
}

func (s *KillSwitchStore) Engaged(ctx context.Context) (bool, error) {
	val, err := s.client.Get(ctx, killSwitchKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "engaged", nil
}

func (s *KillSwitchStore) Engage(ctx context.Context) error {
	return s.client.Set(ctx, killSwitchKey, "engaged", 0).Err()
}

func (s *KillSwitchStore) Disengage(ctx context.Context) error {
	return s.client.Del(ctx, killSwitchKey).Err()
}

func (s *KillSwitchStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// BreakerStore holds per-symbol circuit-breaker flags, written by the
// external breaker service.
type BreakerStore struct {
	client Rediser
}

func NewBreakerStore(client Rediser) *BreakerStore {
	return &BreakerStore{client: client}
}

func (s *BreakerStore) Tripped(ctx context.Context, symbol string) (bool, error) {
	val, err := s.client.Get(ctx, breakerPrefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "open", nil
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// QuarantineStore holds the set of symbols flagged off-limits.
type QuarantineStore struct {
	client Rediser
}

func NewQuarantineStore(client Rediser) *QuarantineStore {
	return &QuarantineStore{client: client}
}

func (s *QuarantineStore) Quarantined(ctx context.Context, symbol string) (bool, error) {
	return s.client.SIsMember(ctx, quarantineKey, symbol).Result()
}

// RateLimiter is a fixed-window per-caller counter.
type RateLimiter struct {
	client    Rediser
	perMinute int
}

func NewRateLimiter(client Rediser, perMinute int) *RateLimiter {
	return &RateLimiter{client: client, perMinute: perMinute}
}

func (l *RateLimiter) Allow(ctx context.Context, callerKey string) (bool, error) {
	window := time.Now().Unix() / 60
	key := fmt.Sprintf(rateLimitFmt, callerKey, window)

	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		// First hit in the window owns the expiry.
		if err := l.client.Expire(ctx, key, 2*time.Minute).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(l.perMinute), nil
}
