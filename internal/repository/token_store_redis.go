package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/secure-session-core/internal/observability"
)

const defaultRedisOpTimeout = 500 * time.Millisecond

var compareAndSetFieldScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if current == ARGV[2] then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

// RedisTokenStore keeps the key layout unprefixed unless a prefix is given, so
// records written by other deployments of the same layout stay readable.
type RedisTokenStore struct {
	client    redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

func NewRedisTokenStore(client redis.UniversalClient, prefix string, opTimeout time.Duration) *RedisTokenStore {
	if opTimeout <= 0 {
		opTimeout = defaultRedisOpTimeout
	}
	return &RedisTokenStore{client: client, prefix: prefix, opTimeout: opTimeout}
}

func (s *RedisTokenStore) PutFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.client.HSet(ctx, s.key(key), values).Err(); err != nil {
		return s.fail("put_fields", err)
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "put_fields", "success")
	return nil
}

func (s *RedisTokenStore) PutField(ctx context.Context, key, field, value string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.HSet(ctx, s.key(key), field, value).Err(); err != nil {
		return s.fail("put_field", err)
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "put_field", "success")
	return nil
}

func (s *RedisTokenStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.fail("get_fields", err)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	if len(fields) == 0 {
		observability.RecordTokenStoreOperation(ctx, "redis", "get_fields", "miss")
	} else {
		observability.RecordTokenStoreOperation(ctx, "redis", "get_fields", "hit")
	}
	return fields, nil
}

func (s *RedisTokenStore) CompareAndSetField(ctx context.Context, key, field, expected, value string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := compareAndSetFieldScript.Run(ctx, s.client, []string{s.key(key)}, field, expected, value).Int()
	if err != nil {
		return false, s.fail("compare_and_set", err)
	}
	if n != 1 {
		observability.RecordTokenStoreOperation(ctx, "redis", "compare_and_set", "conflict")
		return false, nil
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "compare_and_set", "success")
	return true, nil
}

func (s *RedisTokenStore) AddToSet(ctx context.Context, key, member string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.SAdd(ctx, s.key(key), member).Err(); err != nil {
		return s.fail("add_to_set", err)
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "add_to_set", "success")
	return nil
}

func (s *RedisTokenStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	members, err := s.client.SMembers(ctx, s.key(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.fail("set_members", err)
	}
	if members == nil {
		members = []string{}
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "set_members", "success")
	return members, nil
}

func (s *RedisTokenStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if ttl <= 0 {
		if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
			return s.fail("expire", err)
		}
		return nil
	}
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return s.fail("expire", err)
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "expire", "success")
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return s.fail("delete", err)
	}
	observability.RecordTokenStoreOperation(ctx, "redis", "delete", "success")
	return nil
}

func (s *RedisTokenStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

func (s *RedisTokenStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisTokenStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisTokenStore) fail(op string, err error) error {
	observability.RecordTokenStoreOperation(context.Background(), "redis", op, "error")
	return unavailable(op, err)
}
