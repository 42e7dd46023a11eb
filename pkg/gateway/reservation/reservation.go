package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joripage/execution-gateway/pkg/gateway/model"
)

// Rediser is the slice of the redis client the store needs; narrow so tests
// can fake it.
type Rediser interface {
	redis.Scripter
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Token identifies one live reservation. It is released explicitly on any
// abort after creation, or expires on its own when the owner crashes.
type Token struct {
	Symbol string
	ID     string
	Delta  int64
}

// reserveScript decides admission and records the reservation in one atomic
// step. Expired entries are pruned inline, which is what makes leaked
// reservations self-heal without a background sweeper.
//
// KEYS[1] = resv:{symbol}
// ARGV[1] = delta, ARGV[2] = held qty, ARGV[3] = limit,
// ARGV[4] = token, ARGV[5] = ttl ms, ARGV[6] = now ms
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[6])
local total = 0
local entries = redis.call('HGETALL', KEYS[1])
for i = 1, #entries, 2 do
	local sep = string.find(entries[i+1], '|')
	local d = tonumber(string.sub(entries[i+1], 1, sep-1))
	local exp = tonumber(string.sub(entries[i+1], sep+1))
	if exp <= now then
		redis.call('HDEL', KEYS[1], entries[i])
	else
		total = total + d
	end
end
local projected = tonumber(ARGV[2]) + total + tonumber(ARGV[1])
local limit = tonumber(ARGV[3])
if projected > limit or projected < (0 - limit) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[4], ARGV[1] .. '|' .. (now + tonumber(ARGV[5])))
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[5]) * 2)
return 1
`)

type Store struct {
	client Rediser
	ttl    time.Duration
}

func NewStore(client Rediser, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(symbol string) string {
	return fmt.Sprintf("resv:%s", symbol)
}

// Reserve atomically checks |held + reserved + delta| <= limit and records
// the delta under a fresh token. ok=false means the limit would be breached;
// no side effect remains in that case.
func (s *Store) Reserve(ctx context.Context, symbol string, side model.OrderSide, qty, held, limit int64) (Token, bool, error) {
	delta := qty
	if side == model.OrderSideSell {
		delta = -qty
	}

	token := Token{
		Symbol: symbol,
		ID:     uuid.NewString(),
		Delta:  delta,
	}

	now := time.Now().UnixMilli()
	res, err := reserveScript.Run(ctx, s.client, []string{key(symbol)},
		delta, held, limit, token.ID, s.ttl.Milliseconds(), now).Int()
	if err != nil {
		return Token{}, false, fmt.Errorf("reserve %s: %w", symbol, err)
	}
	if res != 1 {
		return Token{}, false, nil
	}
	return token, true, nil
}

// Release removes the reservation. Idempotent: releasing an unknown or
// already-expired token is a no-op.
func (s *Store) Release(ctx context.Context, token Token) error {
	if token.ID == "" {
		return nil
	}
	return s.client.HDel(ctx, key(token.Symbol), token.ID).Err()
}

// Ping is the availability probe the gate chain uses before trusting any
// reservation decision.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
