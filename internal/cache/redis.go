package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caresync-labs/caresync/internal/domain"
)

// RedisStore implements ports.CacheStore on Redis, for deployments where
// several workstation agents share one ward-local cache host. Each namespace
// is one hash, so deleting a namespace is a single DEL; the set of live
// namespaces is tracked in a companion set key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

const namespacesKey = "caresync:namespaces"

// NewRedisStore connects to Redis at the given URL and verifies the
// connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "caresync:cache:"}
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) nsKey(namespace string) string {
	return s.prefix + namespace
}

type redisRecord struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Body     []byte              `json:"body"`
	StoredAt time.Time           `json:"storedAt"`
}

// Put stores a response under (namespace, key).
func (s *RedisStore) Put(ctx context.Context, namespace, key string, resp domain.CachedResponse) error {
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	data, err := json.Marshal(redisRecord{
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: storedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.nsKey(namespace), key, data)
	pipe.SAdd(ctx, namespacesKey, namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put cache record: %w", err)
	}
	return nil
}

// Get returns the record under (namespace, key) or domain.ErrCacheMiss.
func (s *RedisStore) Get(ctx context.Context, namespace, key string) (domain.CachedResponse, error) {
	data, err := s.client.HGet(ctx, s.nsKey(namespace), key).Result()
	if err == redis.Nil {
		return domain.CachedResponse{}, domain.ErrCacheMiss
	}
	if err != nil {
		return domain.CachedResponse{}, fmt.Errorf("get cache record: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return domain.CachedResponse{}, fmt.Errorf("unmarshal cache record: %w", err)
	}
	return domain.CachedResponse{
		Status:   rec.Status,
		Header:   rec.Header,
		Body:     rec.Body,
		StoredAt: rec.StoredAt,
	}, nil
}

// DeleteNamespace removes the namespace hash and its registry entry.
func (s *RedisStore) DeleteNamespace(ctx context.Context, namespace string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.nsKey(namespace))
	pipe.SRem(ctx, namespacesKey, namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Namespaces lists every namespace that currently holds records.
func (s *RedisStore) Namespaces(ctx context.Context) ([]string, error) {
	out, err := s.client.SMembers(ctx, namespacesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes records stored before the cutoff.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, namespace string, cutoff time.Time) (int, error) {
	all, err := s.client.HGetAll(ctx, s.nsKey(namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("scan namespace %s: %w", namespace, err)
	}

	var expired []string
	for key, data := range all {
		var rec redisRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			// Unreadable record: treat as expired.
			expired = append(expired, key)
			continue
		}
		if rec.StoredAt.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.client.HDel(ctx, s.nsKey(namespace), expired...).Err(); err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	return len(expired), nil
}
