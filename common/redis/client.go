package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端并检查连通性
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
