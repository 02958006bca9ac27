package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix 是 Redis 中所有缓存键的默认前缀。
const DefaultRedisPrefix = "offline-worker"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0")
	URL string

	// Prefix namespaces every key written by the store.
	Prefix string
}

// NewRedisStore connects to Redis and wraps it as a Storage. Layout:
//
//	<prefix>:caches          hash  cache name -> creation seq
//	<prefix>:cache:<name>    hash  key -> gob Record
func NewRedisStore(cfg RedisConfig, opts Options) (Storage, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return newStorage(&redisStore{client: client, prefix: prefix}, opts), nil
}

type redisStore struct {
	client *redis.Client
	prefix string
}

func (s *redisStore) indexKey() string {
	return s.prefix + ":caches"
}

func (s *redisStore) cacheKey(name string) string {
	return s.prefix + ":cache:" + name
}

func (s *redisStore) caches(ctx context.Context) ([]cacheInfo, error) {
	all, err := s.client.HGetAll(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]cacheInfo, 0, len(all))
	for name, raw := range all {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, cacheInfo{Name: name, Seq: seq})
	}
	return out, nil
}

func (s *redisStore) create(ctx context.Context, name string, seq int64) error {
	return s.client.HSetNX(ctx, s.indexKey(), name, strconv.FormatInt(seq, 10)).Err()
}

func (s *redisStore) drop(ctx context.Context, name string) (bool, error) {
	var hdel *redis.IntCmd
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hdel = pipe.HDel(ctx, s.indexKey(), name)
		del = pipe.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return hdel.Val() > 0 || del.Val() > 0, nil
}

func (s *redisStore) get(ctx context.Context, cache, key string) (*Record, error) {
	raw, err := s.client.HGet(ctx, s.cacheKey(cache), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *redisStore) put(ctx context.Context, cache string, seq int64, recs []*Record) error {
	values := make([]interface{}, 0, len(recs)*2)
	for _, rec := range recs {
		b, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		values = append(values, rec.Key, b)
	}
	// MULTI 内同时写标记与条目，drop 只能发生在整批之前或之后。
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.indexKey(), cache, strconv.FormatInt(seq, 10))
		pipe.HSet(ctx, s.cacheKey(cache), values...)
		return nil
	})
	return err
}

func (s *redisStore) remove(ctx context.Context, cache, key string) (bool, error) {
	n, err := s.client.HDel(ctx, s.cacheKey(cache), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) records(ctx context.Context, cache string) ([]*Record, error) {
	all, err := s.client.HGetAll(ctx, s.cacheKey(cache)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(all))
	for _, raw := range all {
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *redisStore) close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
