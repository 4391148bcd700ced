// Package estimator 基于心率和血氧的收缩压启发式估算。
//
// 心动过速和低血氧各自推高估算值，心动过缓降低估算值，结果限制在 [MinBP, MaxBP]。
// 外部预测程序不可用时使用，同时通过 HTTP 单独提供。
package estimator

import "math"

const (
	// BaselineBP 正常基线收缩压 (mmHg)
	BaselineBP = 120.0
	// MinBP 估算下限
	MinBP = 80.0
	// MaxBP 估算上限
	MaxBP = 180.0
)

// EstimateBP 估算收缩压，不做取整
func EstimateBP(heartRate, spo2 float64) float64 {
	bp := BaselineBP

	if heartRate > 100 {
		bp += (heartRate - 100) * 0.8
	} else if heartRate < 60 {
		bp -= (60 - heartRate) * 0.5
	}

	if spo2 < 95 {
		bp += (95 - spo2) * 2
	}

	return math.Max(MinBP, math.Min(MaxBP, bp))
}
