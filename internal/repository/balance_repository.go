package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// pickScript выбирает индекс с минимальным счётчиком. При равенстве
// кандидаты перебираются по кругу по значению seq, поэтому выбор
// воспроизводим по одному только номеру последовательности.
//
// KEYS[1] - hash индекс -> счётчик, KEYS[2] - последовательность
// ARGV[1] - число направлений, ARGV[2] - TTL в секундах
var pickScript = redis.NewScript(`
local hashKey = KEYS[1]
local seqKey = KEYS[2]
local n = tonumber(ARGV[1])
local expireSec = tonumber(ARGV[2])

local min = nil
local candidates = {}
for i = 0, n - 1 do
  local c = tonumber(redis.call('HGET', hashKey, tostring(i)) or '0')
  if (min == nil) or (c < min) then
    min = c
    candidates = { i }
  elseif c == min then
    table.insert(candidates, i)
  end
end

local seq = redis.call('INCR', seqKey)
local selected = candidates[((seq - 1) % #candidates) + 1]
redis.call('HINCRBY', hashKey, tostring(selected), 1)

if expireSec > 0 then
  if redis.call('TTL', hashKey) < 0 then
    redis.call('EXPIRE', hashKey, expireSec)
  end
  if redis.call('TTL', seqKey) < 0 then
    redis.call('EXPIRE', seqKey, expireSec)
  end
end

return tostring(selected)
`)

// BalanceRepository хранит счётчики равномерного распределения по (domain, key).
type BalanceRepository interface {
	// Pick atomically selects and counts one of n destination indices.
	Pick(ctx context.Context, domain, shortKey string, n int, ttl time.Duration) (int, error)
	Counts(ctx context.Context, domain, shortKey string, n int) ([]int64, error)
	Reset(ctx context.Context, domain, shortKey string) error
}

type balanceRepository struct {
	redis *RedisDB
}

func NewBalanceRepository(redis *RedisDB) BalanceRepository {
	return &balanceRepository{redis: redis}
}

func (r *balanceRepository) Pick(ctx context.Context, domain, shortKey string, n int, ttl time.Duration) (int, error) {
	keys := []string{BalanceKey(domain, shortKey), BalanceSeqKey(domain, shortKey)}

	idx, err := pickScript.Run(ctx, r.redis.Client, keys, n, int64(ttl/time.Second)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to run balance script: %w", err)
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("balance script returned index %d for %d destinations", idx, n)
	}

	return idx, nil
}

func (r *balanceRepository) Counts(ctx context.Context, domain, shortKey string, n int) ([]int64, error) {
	raw, err := r.redis.Client.HGetAll(ctx, BalanceKey(domain, shortKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read balance counters: %w", err)
	}

	counts := make([]int64, n)
	for i := range counts {
		v, ok := raw[strconv.Itoa(i)]
		if !ok {
			continue
		}
		c, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid balance counter %q: %w", v, err)
		}
		counts[i] = c
	}

	return counts, nil
}

func (r *balanceRepository) Reset(ctx context.Context, domain, shortKey string) error {
	return r.redis.Client.Del(ctx, BalanceKey(domain, shortKey), BalanceSeqKey(domain, shortKey)).Err()
}

func BalanceKey(domain, shortKey string) string {
	return "balance:" + domain + ":" + shortKey
}

func BalanceSeqKey(domain, shortKey string) string {
	return BalanceKey(domain, shortKey) + ":seq"
}
