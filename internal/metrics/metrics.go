package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 行处理结果标签
const (
	LineAccepted   = "accepted"
	LineMalformed  = "malformed"
	LineOutOfRange = "out_of_range"
)

// 持久化结果标签
const (
	PersistFull     = "full"
	PersistDegraded = "degraded"
	PersistLost     = "lost"
)

// Metrics 监控指标
//
// 计数字段用于定期日志报告，同时同步到 Prometheus 采集器。
type Metrics struct {
	mu sync.RWMutex

	// 行处理统计
	LinesReceived   int64
	LinesAccepted   int64
	LinesMalformed  int64
	LinesOutOfRange int64

	// 血压来源统计
	BPInferred  int64
	BPHeuristic int64

	// 推理失败分类统计
	InferenceFailures map[string]int64

	// 持久化统计
	PersistedFull     int64
	PersistedDegraded int64
	PersistLost       int64

	// 性能指标
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time

	StartTime time.Time

	lines             *prometheus.CounterVec
	bloodPressure     *prometheus.CounterVec
	inferenceFailures *prometheus.CounterVec
	persist           *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	inflight          prometheus.Gauge
}

// New 创建指标集合并注册到 reg（reg 为 nil 时不注册）
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InferenceFailures: make(map[string]int64),
		StartTime:         time.Now(),
		lines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "lines_total",
			Help:      "Telemetry lines received, by parse result.",
		}, []string{"result"}),
		bloodPressure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "blood_pressure_total",
			Help:      "Blood pressure values attached to readings, by source.",
		}, []string{"source"}),
		inferenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "inference_failures_total",
			Help:      "Predictor failures that fell back to the heuristic, by kind.",
		}, []string{"kind"}),
		persist: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "persist_total",
			Help:      "Persistence outcomes per reading.",
		}, []string{"outcome"}),
		inferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "inference_duration_seconds",
			Help:      "Wall-clock time spent in the predictor, including limiter wait.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "emmacare",
			Subsystem: "vitals",
			Name:      "inflight_lines",
			Help:      "Lines currently being processed.",
		}),
	}
}

// RecordLine 记录一行的解析结果
func (m *Metrics) RecordLine(result string) {
	m.mu.Lock()
	m.LinesReceived++
	switch result {
	case LineAccepted:
		m.LinesAccepted++
	case LineMalformed:
		m.LinesMalformed++
	case LineOutOfRange:
		m.LinesOutOfRange++
	}
	m.mu.Unlock()
	m.lines.WithLabelValues(result).Inc()
}

// RecordBloodPressure 记录血压来源（inferred / heuristic）
func (m *Metrics) RecordBloodPressure(source string) {
	m.mu.Lock()
	switch source {
	case "inferred":
		m.BPInferred++
	case "heuristic":
		m.BPHeuristic++
	}
	m.mu.Unlock()
	m.bloodPressure.WithLabelValues(source).Inc()
}

// RecordInferenceFailure 记录推理失败分类
func (m *Metrics) RecordInferenceFailure(kind string) {
	m.mu.Lock()
	m.InferenceFailures[kind]++
	m.mu.Unlock()
	m.inferenceFailures.WithLabelValues(kind).Inc()
}

// ObserveInference 记录推理耗时
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceDuration.Observe(d.Seconds())
}

// RecordPersist 记录持久化结果
func (m *Metrics) RecordPersist(outcome string) {
	m.mu.Lock()
	switch outcome {
	case PersistFull:
		m.PersistedFull++
	case PersistDegraded:
		m.PersistedDegraded++
	case PersistLost:
		m.PersistLost++
	}
	m.mu.Unlock()
	m.persist.WithLabelValues(outcome).Inc()
}

// LineStarted 行处理开始
func (m *Metrics) LineStarted() {
	m.inflight.Inc()
}

// LineFinished 行处理结束
func (m *Metrics) LineFinished(duration time.Duration) {
	m.inflight.Dec()
	m.mu.Lock()
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
	m.mu.Unlock()
}

// Snapshot 指标快照
type Snapshot struct {
	LinesReceived       int64
	LinesAccepted       int64
	LinesMalformed      int64
	LinesOutOfRange     int64
	BPInferred          int64
	BPHeuristic         int64
	InferenceFailures   map[string]int64
	PersistedFull       int64
	PersistedDegraded   int64
	PersistLost         int64
	TotalProcessingTime time.Duration
	LastProcessTime     time.Time
	StartTime           time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failures := make(map[string]int64, len(m.InferenceFailures))
	for k, v := range m.InferenceFailures {
		failures[k] = v
	}

	return Snapshot{
		LinesReceived:       m.LinesReceived,
		LinesAccepted:       m.LinesAccepted,
		LinesMalformed:      m.LinesMalformed,
		LinesOutOfRange:     m.LinesOutOfRange,
		BPInferred:          m.BPInferred,
		BPHeuristic:         m.BPHeuristic,
		InferenceFailures:   failures,
		PersistedFull:       m.PersistedFull,
		PersistedDegraded:   m.PersistedDegraded,
		PersistLost:         m.PersistLost,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// Report 定期输出指标日志，直到 ctx 取消
func (m *Metrics) Report(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.GetSnapshot()

			var avgProcessingTime time.Duration
			if processed := s.PersistedFull + s.PersistedDegraded + s.PersistLost; processed > 0 {
				avgProcessingTime = s.TotalProcessingTime / time.Duration(processed)
			}

			logger.Info("Metrics report",
				zap.Int64("lines_received", s.LinesReceived),
				zap.Int64("lines_accepted", s.LinesAccepted),
				zap.Int64("lines_malformed", s.LinesMalformed),
				zap.Int64("lines_out_of_range", s.LinesOutOfRange),
				zap.Int64("bp_inferred", s.BPInferred),
				zap.Int64("bp_heuristic", s.BPHeuristic),
				zap.Any("inference_failures", s.InferenceFailures),
				zap.Int64("persisted_full", s.PersistedFull),
				zap.Int64("persisted_degraded", s.PersistedDegraded),
				zap.Int64("persist_lost", s.PersistLost),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(s.StartTime)),
			)
		}
	}
}
