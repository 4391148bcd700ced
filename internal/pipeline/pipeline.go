package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/parser"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BPEstimator 血压获取（推理或启发式），不返回错误
type BPEstimator interface {
	Estimate(ctx context.Context, heartRate, spo2 float64) (float64, models.BPSource)
}

// Publisher 入库后的读数发布（实时推送由外部服务负责）
type Publisher interface {
	Publish(ctx context.Context, v *models.StoredVitals) error
}

// Pipeline 单行处理流程：解析校验、血压推理、级联写入、发布
//
// 行与行之间除了资源限制之外不共享状态，可以并发调用 ProcessLine。
type Pipeline struct {
	estimator BPEstimator
	cascade   *Cascade
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New 创建处理流程；publisher 可以为 nil
func New(estimator BPEstimator, store VitalsStore, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		estimator: estimator,
		cascade:   NewCascade(store, m, logger),
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ProcessLine 处理一行遥测数据
//
// 返回的错误只用于观测：格式错误、超范围和读数丢失都已在内部记录。
func (p *Pipeline) ProcessLine(ctx context.Context, line string) error {
	start := time.Now()
	p.metrics.LineStarted()
	defer func() { p.metrics.LineFinished(time.Since(start)) }()

	// 1. 解析并校验
	reading, err := parser.Parse(line)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOutOfRange):
			p.metrics.RecordLine(metrics.LineOutOfRange)
			p.logger.Info("Skipping out-of-range values", zap.String("line", line), zap.Error(err))
		default:
			p.metrics.RecordLine(metrics.LineMalformed)
			p.logger.Info("Format mismatch, skipping line", zap.String("line", line))
		}
		return err
	}
	p.metrics.RecordLine(metrics.LineAccepted)
	reading.ReceivedAt = start

	_, err = p.ProcessReading(ctx, reading)
	return err
}

// ProcessReading 处理一条已校验的读数：血压 -> 级联写入 -> 发布
//
// 行输入与 HTTP 提交共用此流程。ID 为空时自动生成。
func (p *Pipeline) ProcessReading(ctx context.Context, reading *models.Reading) (*models.StoredVitals, error) {
	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now()
	}

	p.logger.Debug("Valid reading",
		zap.String("reading_id", reading.ID),
		zap.Float64("heart_rate", reading.HeartRate),
		zap.Float64("spo2", reading.SpO2),
		zap.Float64("temperature", reading.Temperature),
	)

	// 1. 血压：推理失败时内部回退到启发式
	bp, source := p.estimator.Estimate(ctx, reading.HeartRate, reading.SpO2)
	reading.SetBloodPressure(bp, source)

	// 2. 级联写入
	result, err := p.cascade.Persist(ctx, reading)
	if err != nil {
		return nil, err
	}
	stored := models.NewStoredVitals(reading, result.RecordID, result.Degraded)

	// 3. 发布给实时推送服务，失败不影响已入库的数据
	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, stored); err != nil {
			p.logger.Warn("Failed to publish reading",
				zap.String("reading_id", reading.ID),
				zap.Int64("record_id", result.RecordID),
				zap.Error(err),
			)
		}
	}

	return stored, nil
}
