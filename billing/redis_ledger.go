package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisFieldGenerations = "generations_used"
	redisFieldEdits       = "edits_used"
)

// reserveScript performs the conditional increment server-side so concurrent
// reservations against the same period hash cannot interleave.
var reserveScript = redis.NewScript(`
local g = tonumber(redis.call('HGET', KEYS[1], 'generations_used') or '0')
local e = tonumber(redis.call('HGET', KEYS[1], 'edits_used') or '0')
local limit = tonumber(ARGV[2])
if g + e >= limit then
  return {g + e, 0}
end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return {g + e + 1, 1}
`)

// RedisUsageLedger is a Redis-backed UsageLedger. Each (account, month)
// period is a hash with one field per operation kind; HINCRBY gives the
// atomic upsert-with-increment, and reservations run as a Lua script.
// Keys carry no TTL: periods are retained as a usage history trail.
type RedisUsageLedger struct {
	client *redis.Client
}

// NewRedisUsageLedger creates a usage ledger backed by the Redis client.
func NewRedisUsageLedger(client *redis.Client) *RedisUsageLedger {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisUsageLedger{client: client}
}

func usageHashKey(accountID uuid.UUID, monthKey string) string {
	return fmt.Sprintf("usage:%s:%s", accountID, monthKey)
}

func redisField(kind OperationKind) string {
	if kind == KindEdit {
		return redisFieldEdits
	}
	return redisFieldGenerations
}

func (l *RedisUsageLedger) CurrentUsage(ctx context.Context, accountID uuid.UUID, monthKey string) (PeriodUsage, error) {
	values, err := l.client.HMGet(ctx, usageHashKey(accountID, monthKey), redisFieldGenerations, redisFieldEdits).Result()
	if err != nil {
		return PeriodUsage{}, errors.Join(ErrPersistenceUnavailable, err)
	}

	var usage PeriodUsage
	usage.Generations = parseHashCount(values[0])
	usage.Edits = parseHashCount(values[1])
	return usage, nil
}

func (l *RedisUsageLedger) Increment(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, delta int64) error {
	if err := validateIncrement(kind, delta); err != nil {
		return err
	}

	if err := l.client.HIncrBy(ctx, usageHashKey(accountID, monthKey), redisField(kind), delta).Err(); err != nil {
		return errors.Join(ErrPersistenceUnavailable, err)
	}
	return nil
}

// TryReserve implements ReservingLedger via the server-side script.
func (l *RedisUsageLedger) TryReserve(ctx context.Context, accountID uuid.UUID, monthKey string, kind OperationKind, limit int64) (int64, bool, error) {
	if err := validateIncrement(kind, 1); err != nil {
		return 0, false, err
	}

	result, err := reserveScript.Run(ctx, l.client,
		[]string{usageHashKey(accountID, monthKey)}, redisField(kind), limit).Slice()
	if err != nil {
		return 0, false, errors.Join(ErrPersistenceUnavailable, err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected reserve script reply", ErrPersistenceUnavailable)
	}

	total, _ := result[0].(int64)
	granted, _ := result[1].(int64)
	return total, granted == 1, nil
}

func parseHashCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0
	}
	return n
}
