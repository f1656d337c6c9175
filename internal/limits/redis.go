package limits

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session's ledger in a sorted set scored by request
// time. Admit and Confirm run as Lua scripts so the check-and-append sequence
// is atomic even when gateway replicas share one Redis.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

// KEYS[1] ledger key
// ARGV: retention cutoff ms, window cutoff ms, limit, now ms, member, retention ms
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[2], '+inf')
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
  return {0, count, oldest[2] or '0'}
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
local oldest = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
return {1, count + 1, oldest[2] or '0'}
`)

// KEYS[1] ledger key
// ARGV: retention cutoff ms, window cutoff ms, limit, member
var confirmScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[2], '+inf')
if count <= tonumber(ARGV[3]) then
  local oldest = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
  return {1, count, oldest[2] or '0'}
end
redis.call('ZREM', KEYS[1], ARGV[4])
local oldest = redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], '+inf', 'WITHSCORES', 'LIMIT', 0, 1)
return {0, count - 1, oldest[2] or '0'}
`)

// Admit implements Store.
func (s *RedisStore) Admit(ctx context.Context, key string, window time.Duration, limit int, now time.Time, endpoint string) (AdmitResult, error) {
	member := fmt.Sprintf("%d:%s:%s", now.UnixNano(), endpoint, uuid.NewString())
	raw, err := admitScript.Run(ctx, s.client, []string{s.prefixed(key)},
		now.Add(-s.retention).UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		now.UnixMilli(),
		member,
		s.retention.Milliseconds(),
	).Result()
	if err != nil {
		return AdmitResult{}, fmt.Errorf("ledger admit: %w", err)
	}
	res, err := parseScriptResult(raw)
	if err != nil {
		return AdmitResult{}, err
	}
	if res.Allowed {
		res.Token = member
	}
	return res, nil
}

// Confirm implements Store.
func (s *RedisStore) Confirm(ctx context.Context, key string, window time.Duration, limit int, now time.Time, token string) (AdmitResult, error) {
	raw, err := confirmScript.Run(ctx, s.client, []string{s.prefixed(key)},
		now.Add(-s.retention).UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		token,
	).Result()
	if err != nil {
		return AdmitResult{}, fmt.Errorf("ledger confirm: %w", err)
	}
	return parseScriptResult(raw)
}

// Count implements Store. Read-only, so plain commands suffice.
func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	redisKey := s.prefixed(key)
	min := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	count, err := s.client.ZCount(ctx, redisKey, min, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ledger count: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.client.ZRangeByScoreWithScores(ctx, redisKey, &redis.ZRangeBy{
		Min: min, Max: "+inf", Offset: 0, Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ledger oldest: %w", err)
	}
	if len(oldest) == 0 {
		return int(count), time.Time{}, nil
	}
	return int(count), time.UnixMilli(int64(oldest[0].Score)), nil
}

func (s *RedisStore) prefixed(key string) string {
	return "ledger:" + key
}

func parseScriptResult(raw any) (AdmitResult, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return AdmitResult{}, fmt.Errorf("ledger script: unexpected reply %v", raw)
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return AdmitResult{}, fmt.Errorf("ledger script: unexpected allow flag %v", values[0])
	}
	count, ok := values[1].(int64)
	if !ok {
		return AdmitResult{}, fmt.Errorf("ledger script: unexpected count %v", values[1])
	}
	oldestStr, ok := values[2].(string)
	if !ok {
		return AdmitResult{}, fmt.Errorf("ledger script: unexpected oldest %v", values[2])
	}
	oldestMs, err := strconv.ParseFloat(oldestStr, 64)
	if err != nil {
		return AdmitResult{}, fmt.Errorf("ledger script: parse oldest: %w", err)
	}

	res := AdmitResult{Allowed: allowed == 1, Count: int(count)}
	if oldestMs > 0 {
		res.Oldest = time.UnixMilli(int64(oldestMs))
	}
	return res, nil
}
