package models

import (
	"errors"
	"time"
)

// BPSource 血压值来源
type BPSource int

const (
	// SourceUnavailable 没有血压值
	SourceUnavailable BPSource = iota
	// SourceInferred 外部预测程序给出的值
	SourceInferred
	// SourceHeuristic 启发式公式估算的值
	SourceHeuristic
)

// String 返回来源名称（用于日志和指标标签）
func (s BPSource) String() string {
	switch s {
	case SourceInferred:
		return "inferred"
	case SourceHeuristic:
		return "heuristic"
	default:
		return "unavailable"
	}
}

var (
	// ErrMalformedLine 行格式与模板不匹配
	ErrMalformedLine = errors.New("malformed telemetry line")
	// ErrOutOfRange 数值超出生理范围
	ErrOutOfRange = errors.New("telemetry values out of range")
)

// Reading 单行遥测数据解析出的生命体征
//
// 每行一个 Reading，持久化后即丢弃，不做原地更新。
type Reading struct {
	ID            string // 关联 ID，仅用于日志和发布，不入库
	HeartRate     float64
	SpO2          float64
	Temperature   float64
	BloodPressure *float64
	Source        BPSource
	ReceivedAt    time.Time
}

// SetBloodPressure 设置血压值及其来源
func (r *Reading) SetBloodPressure(bp float64, source BPSource) {
	r.BloodPressure = &bp
	r.Source = source
}

// StoredVitals 已入库记录，发布给实时推送服务
type StoredVitals struct {
	RecordID      int64    `json:"id"`
	ReadingID     string   `json:"reading_id"`
	HeartRate     float64  `json:"heart_rate"`
	SpO2          float64  `json:"spo2"`
	Temperature   float64  `json:"temperature"`
	BloodPressure *float64 `json:"blood_pressure"`
	BPSource      string   `json:"bp_source"`
	Degraded      bool     `json:"degraded"`
	ReceivedAt    int64    `json:"received_at"`
}

// NewStoredVitals 根据 Reading 和入库结果构建发布消息
func NewStoredVitals(r *Reading, recordID int64, degraded bool) *StoredVitals {
	sv := &StoredVitals{
		RecordID:    recordID,
		ReadingID:   r.ID,
		HeartRate:   r.HeartRate,
		SpO2:        r.SpO2,
		Temperature: r.Temperature,
		BPSource:    r.Source.String(),
		Degraded:    degraded,
		ReceivedAt:  r.ReceivedAt.Unix(),
	}
	if r.BloodPressure != nil && !degraded {
		bp := *r.BloodPressure
		sv.BloodPressure = &bp
	}
	if degraded {
		sv.BPSource = SourceUnavailable.String()
	}
	return sv
}
