package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/example/orderdesk/pkg/config"
)

// releaseScript deletes a lock only while it still holds our token, so a
// lock that expired and was taken by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// AcquireLock takes key for ttl. It returns the owner token to pass to
// ReleaseLock, or ok=false when someone else holds it.
func (r *RedisRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (r *RedisRepository) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{"lock:" + key}, token).Err()
}

// MarkOnce records key and reports whether this was the first sighting
// within ttl.
func (r *RedisRepository) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "seen:"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// GetToken returns a cached credential, or "" when none is cached.
func (r *RedisRepository) GetToken(ctx context.Context, key string) (string, error) {
	token, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

// SetToken caches a credential. An empty token clears the entry.
func (r *RedisRepository) SetToken(ctx context.Context, key, token string, ttl time.Duration) error {
	if token == "" {
		return r.client.Del(ctx, key).Err()
	}
	return r.client.Set(ctx, key, token, ttl).Err()
}
