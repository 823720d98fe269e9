package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

// consumeScript applies the rollover and conditional increment in one step.
// KEYS[1] usage hash; ARGV limit, now (ms), next reset (ms).
// Returns {ok, count, reset_ms}.
var consumeScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
if reset == 0 or tonumber(ARGV[2]) >= reset then
	count = 0
	reset = tonumber(ARGV[3])
end
if count >= tonumber(ARGV[1]) then
	return {0, count, reset}
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'reset', reset)
redis.call('PEXPIREAT', KEYS[1], reset)
return {1, count, reset}
`)

// RedisStore shares quota records between bot replicas. Each key is a hash
// that expires at its reset time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client, prefix: prefix, owned: true}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (Record, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Record{}, false, redisError(err, "peek", key)
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}
	count, _ := strconv.Atoi(vals["count"])
	resetMs, _ := strconv.ParseInt(vals["reset"], 10, 64)
	return Record{Count: count, ResetAt: time.UnixMilli(resetMs)}, true, nil
}

func (s *RedisStore) Consume(ctx context.Context, key string, limit int, now, nextReset time.Time) (Record, bool, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		limit, now.UnixMilli(), nextReset.UnixMilli()).Int64Slice()
	if err != nil {
		return Record{}, false, redisError(err, "consume", key)
	}
	return Record{Count: int(res[1]), ResetAt: time.UnixMilli(res[2])}, res[0] == 1, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return redisError(err, "reset", key)
	}
	return nil
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func redisError(err error, op, key string) error {
	return errors.New(err).
		Component("quota").
		Category(errors.CategoryCache).
		Context("operation", op).
		Context("quota_key", key).
		Build()
}
