package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/SergeiKhy/fairlink/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisDB struct {
	Client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDB{Client: client}, nil
}

// StartHealthMonitor pings Redis periodically and logs failures until the
// returned function is called. Redis outages are survivable (the redirect
// path degrades), so the monitor only reports.
func (db *RedisDB) StartHealthMonitor(interval time.Duration, logger *zap.Logger) func() {
	ctx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
				if err := db.Client.Ping(pingCtx).Err(); err != nil {
					logger.Warn("Redis healthcheck failed", zap.Error(err))
				}
				pingCancel()
			}
		}
	}()

	return cancel
}

func (db *RedisDB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx).Err()
}

func (db *RedisDB) Close() error {
	return db.Client.Close()
}
