package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the shared Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// DefaultRedisConfig returns settings tuned for the intake hot path.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 100,
	}
}

// RedisStore implements Store on go-redis. Sliding-window admission runs
// as a Lua script so the trim/count/admit sequence is atomic under
// concurrent reveals.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
	}
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count + 1 > limit then
  return {0, count}
else
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, math.ceil(window/1000000))
  return {1, count + 1}
end
`)

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) SlidingWindowAdd(ctx context.Context, key string, window time.Duration, limit int) (bool, int64, error) {
	now := time.Now().UnixNano()
	// Unique member per admission: two calls landing on the same
	// nanosecond must not collapse into one ZSET entry.
	member := fmt.Sprintf("%d:%s", now, uuid.NewString())
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key}, now, window.Nanoseconds(), limit, member).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	return allowed == 1, count, nil
}

func (s *RedisStore) SlidingWindowCount(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now().UnixNano()
	min := fmt.Sprintf("%d", now-window.Nanoseconds())
	return s.client.ZCount(ctx, key, min, fmt.Sprintf("%d", now)).Result()
}

func (s *RedisStore) SortedAppend(ctx context.Context, key string, score float64, member string, maxLen int) error {
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	if maxLen > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-maxLen-1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SortedRange(ctx context.Context, key string, n int) ([]string, error) {
	// Highest-scored n members, returned in ascending score order.
	members, err := s.client.ZRevRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
