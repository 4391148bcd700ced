package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/Yohanamtesfaye/emma-care-backend/common/redis"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPublisher 将已入库的读数发布到 Redis，供实时推送服务消费
//
// - Stream：每条读数一条消息（data 字段为 JSON）
// - latest key：最新一条读数，带 TTL，传感器离线后自动过期
type RedisPublisher struct {
	client    *redis.Client
	stream    string
	maxLen    int64
	latestKey string
	latestTTL time.Duration
	logger    *zap.Logger
}

// NewRedisPublisher 创建 Redis 发布器
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, latestKey string, latestTTL time.Duration, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		stream:    stream,
		maxLen:    maxLen,
		latestKey: latestKey,
		latestTTL: latestTTL,
		logger:    logger,
	}
}

// Publish 发布一条读数
func (p *RedisPublisher) Publish(ctx context.Context, v *models.StoredVitals) error {
	streamID, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, v)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	if p.latestKey != "" {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal latest vitals: %w", err)
		}
		if err := p.client.Set(ctx, p.latestKey, payload, p.latestTTL).Err(); err != nil {
			return fmt.Errorf("failed to update %s: %w", p.latestKey, err)
		}
	}

	p.logger.Debug("Published vitals to Redis",
		zap.String("stream", p.stream),
		zap.String("stream_id", streamID),
		zap.Int64("record_id", v.RecordID),
	)
	return nil
}

// Latest 读取最新一条读数；不存在时返回 nil
func (p *RedisPublisher) Latest(ctx context.Context) (*models.StoredVitals, error) {
	raw, err := p.client.Get(ctx, p.latestKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.latestKey, err)
	}

	var v models.StoredVitals
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode latest vitals: %w", err)
	}
	return &v, nil
}
