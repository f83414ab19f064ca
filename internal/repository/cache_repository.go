package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when the resolution cache has no entry for a key.
var ErrCacheMiss = errors.New("cache miss")

type CacheRepository interface {
	GetLink(ctx context.Context, shortKey string) (*models.CachedLink, error)
	SetLink(ctx context.Context, shortKey string, link *models.CachedLink, ttl time.Duration) error
	DeleteLink(ctx context.Context, shortKeys ...string) error
	// MarkVisit sets the dedup marker and reports whether it was absent.
	MarkVisit(ctx context.Context, domain, shortKey, ip string, ttl time.Duration) (bool, error)
}

type cacheRepository struct {
	redis *RedisDB
}

func NewCacheRepository(redis *RedisDB) CacheRepository {
	return &cacheRepository{redis: redis}
}

func (r *cacheRepository) GetLink(ctx context.Context, shortKey string) (*models.CachedLink, error) {
	data, err := r.redis.Client.Get(ctx, LinkCacheKey(shortKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var link models.CachedLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached link: %w", err)
	}
	if len(link.Destinations) == 0 {
		return nil, ErrCacheMiss
	}

	return &link, nil
}

func (r *cacheRepository) SetLink(ctx context.Context, shortKey string, link *models.CachedLink, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal cached link: %w", err)
	}

	return r.redis.Client.Set(ctx, LinkCacheKey(shortKey), data, ttl).Err()
}

func (r *cacheRepository) DeleteLink(ctx context.Context, shortKeys ...string) error {
	if len(shortKeys) == 0 {
		return nil
	}

	keys := make([]string, 0, len(shortKeys))
	for _, k := range shortKeys {
		keys = append(keys, LinkCacheKey(k))
	}

	return r.redis.Client.Del(ctx, keys...).Err()
}

func (r *cacheRepository) MarkVisit(ctx context.Context, domain, shortKey, ip string, ttl time.Duration) (bool, error) {
	return r.redis.Client.SetNX(ctx, VisitKey(domain, shortKey, ip), "1", ttl).Result()
}

// LinkCacheKey is keyed by the short key alone: the link directory
// invalidates it without knowing the domain.
func LinkCacheKey(shortKey string) string {
	return "shortlink:" + shortKey
}

func VisitKey(domain, shortKey, ip string) string {
	return "visit:" + domain + ":" + shortKey + ":" + ip
}
