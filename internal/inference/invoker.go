package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/estimator"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/models"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/predictor"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent 同时运行的预测调用上限
const DefaultMaxConcurrent = 4

// Invoker 推理调用器
//
// 通过信号量限制并发预测调用；任何失败都在这里回退到启发式估算，不向上传播。
type Invoker struct {
	predictor predictor.Predictor
	sem       *semaphore.Weighted
	budget    time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewInvoker 创建推理调用器
//
// p 为 nil 时只使用启发式估算。budget 同时覆盖排队等待和预测本身。
func NewInvoker(p predictor.Predictor, maxConcurrent int64, budget time.Duration, m *metrics.Metrics, logger *zap.Logger) *Invoker {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if budget <= 0 {
		budget = predictor.DefaultTimeout
	}
	return &Invoker{
		predictor: p,
		sem:       semaphore.NewWeighted(maxConcurrent),
		budget:    budget,
		metrics:   m,
		logger:    logger,
	}
}

// Estimate 获取血压值及来源
func (i *Invoker) Estimate(ctx context.Context, heartRate, spo2 float64) (float64, models.BPSource) {
	if i.predictor == nil {
		return i.fallback(heartRate, spo2), models.SourceHeuristic
	}

	start := time.Now()
	bp, err := i.predict(ctx, heartRate, spo2)
	i.metrics.ObserveInference(time.Since(start))

	if err != nil {
		kind := predictor.KindOf(err)
		i.metrics.RecordInferenceFailure(kind.String())
		fallbackBP := i.fallback(heartRate, spo2)
		i.logger.Warn("BP prediction failed, using heuristic",
			zap.String("kind", kind.String()),
			zap.Float64("heart_rate", heartRate),
			zap.Float64("spo2", spo2),
			zap.Float64("fallback_bp", fallbackBP),
			zap.Error(err),
		)
		return fallbackBP, models.SourceHeuristic
	}

	i.metrics.RecordBloodPressure(models.SourceInferred.String())
	i.logger.Debug("BP predicted",
		zap.Float64("heart_rate", heartRate),
		zap.Float64("spo2", spo2),
		zap.Float64("bp", bp),
	)
	return bp, models.SourceInferred
}

// Probe 启动自检：用正常值调用一次预测程序
func (i *Invoker) Probe(ctx context.Context) (float64, error) {
	if i.predictor == nil {
		return 0, errors.New("no predictor configured")
	}
	return i.predict(ctx, 72, 98)
}

func (i *Invoker) predict(ctx context.Context, heartRate, spo2 float64) (bp float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, i.budget)
	defer cancel()

	if err := i.sem.Acquire(ctx, 1); err != nil {
		return 0, &predictor.PredictError{
			Kind:    predictor.KindTimeout,
			Message: "waiting for a predictor slot",
			Err:     err,
		}
	}
	defer i.sem.Release(1)

	// 进程内预测器的 panic 不能拖垮摄取循环
	defer func() {
		if r := recover(); r != nil {
			err = &predictor.PredictError{
				Kind:    predictor.KindProcessFailure,
				Message: fmt.Sprintf("predictor panic: %v", r),
			}
		}
	}()

	return i.predictor.Predict(ctx, heartRate, spo2)
}

func (i *Invoker) fallback(heartRate, spo2 float64) float64 {
	i.metrics.RecordBloodPressure(models.SourceHeuristic.String())
	return estimator.EstimateBP(heartRate, spo2)
}
