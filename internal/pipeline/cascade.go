package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrPersistence 完整写入失败（会尝试降级写入）
	ErrPersistence = errors.New("full write failed")
	// ErrDegradedPersistence 降级写入也失败，该读数丢失
	ErrDegradedPersistence = errors.New("degraded write failed, reading lost")
)

// VitalsStore 存储接口，两种写入形态
type VitalsStore interface {
	InsertFull(ctx context.Context, reading *models.Reading) (int64, error)
	InsertWithoutBP(ctx context.Context, reading *models.Reading) (int64, error)
}

// PersistResult 持久化结果
type PersistResult struct {
	RecordID int64
	Degraded bool
}

// Cascade 级联写入：完整写入 -> 不含血压写入 -> 放弃
//
// 每一步最多尝试一次，不重试、不退避。
type Cascade struct {
	store   VitalsStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCascade 创建级联写入器
func NewCascade(store VitalsStore, m *metrics.Metrics, logger *zap.Logger) *Cascade {
	return &Cascade{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Persist 持久化一条读数
func (c *Cascade) Persist(ctx context.Context, reading *models.Reading) (PersistResult, error) {
	var fullErr error

	// 1. 完整写入
	if reading.BloodPressure != nil {
		id, err := c.store.InsertFull(ctx, reading)
		if err == nil {
			c.metrics.RecordPersist(metrics.PersistFull)
			c.logger.Info("Saved reading",
				zap.String("reading_id", reading.ID),
				zap.Int64("record_id", id),
				zap.String("bp_source", reading.Source.String()),
			)
			return PersistResult{RecordID: id}, nil
		}
		fullErr = fmt.Errorf("%w: %v", ErrPersistence, err)
		c.logger.Warn("Full insert failed, retrying without blood pressure",
			zap.String("reading_id", reading.ID),
			zap.Error(err),
		)
	}

	// 2. 降级写入（不含血压）
	id, err := c.store.InsertWithoutBP(ctx, reading)
	if err == nil {
		c.metrics.RecordPersist(metrics.PersistDegraded)
		c.logger.Warn("Saved reading without blood pressure",
			zap.String("reading_id", reading.ID),
			zap.Int64("record_id", id),
		)
		return PersistResult{RecordID: id, Degraded: true}, nil
	}

	// 3. 放弃：该读数丢失，需要运维关注
	c.metrics.RecordPersist(metrics.PersistLost)
	c.logger.Error("Failed to persist reading, data lost",
		zap.String("reading_id", reading.ID),
		zap.Float64("heart_rate", reading.HeartRate),
		zap.Float64("spo2", reading.SpO2),
		zap.Float64("temperature", reading.Temperature),
		zap.NamedError("full_error", fullErr),
		zap.Error(err),
	)
	return PersistResult{}, fmt.Errorf("%w: %v", ErrDegradedPersistence, err)
}
