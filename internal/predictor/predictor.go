package predictor

import (
	"context"
	"errors"
	"fmt"
)

// Predictor 血压预测能力
//
// 外部进程是一种实现，进程内模型是另一种；调用方只依赖此接口。
type Predictor interface {
	Predict(ctx context.Context, heartRate, spo2 float64) (float64, error)
}

// PredictorFunc 函数适配器，用于进程内预测
type PredictorFunc func(ctx context.Context, heartRate, spo2 float64) (float64, error)

// Predict 实现 Predictor
func (f PredictorFunc) Predict(ctx context.Context, heartRate, spo2 float64) (float64, error) {
	return f(ctx, heartRate, spo2)
}

// FailureKind 预测失败分类
type FailureKind int

const (
	// KindTimeout 超出时间预算
	KindTimeout FailureKind = iota + 1
	// KindParseFailure 输出中没有可解析的结构化结果
	KindParseFailure
	// KindLogicalFailure 结果对象中带有 error 字段
	KindLogicalFailure
	// KindProcessFailure 进程启动失败或非零退出
	KindProcessFailure
)

// String 返回分类名称（用于日志和指标标签）
func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindParseFailure:
		return "parse_failure"
	case KindLogicalFailure:
		return "logical_failure"
	case KindProcessFailure:
		return "process_failure"
	default:
		return "unknown"
	}
}

// PredictError 预测失败
type PredictError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *PredictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("predict %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("predict %s: %s", e.Kind, e.Message)
}

func (e *PredictError) Unwrap() error {
	return e.Err
}

// KindOf 提取错误分类；非 PredictError 的错误按进程失败处理
func KindOf(err error) FailureKind {
	var pe *PredictError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProcessFailure
}
