package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout 单次预测的时间预算
const DefaultTimeout = 10 * time.Second

// waitDelay 超时杀进程后等待管道关闭的上限，避免孙进程持有 stdout 导致挂起
const waitDelay = 2 * time.Second

// ProcessPredictor 每次调用启动一个外部进程：<command> <args...> <hr> <spo2>
type ProcessPredictor struct {
	command string
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewProcessPredictor 创建外部进程预测器
func NewProcessPredictor(command string, args []string, timeout time.Duration, logger *zap.Logger) *ProcessPredictor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ProcessPredictor{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout 返回时间预算
func (p *ProcessPredictor) Timeout() time.Duration {
	return p.timeout
}

// Predict 运行预测进程并解析其输出
func (p *ProcessPredictor) Predict(ctx context.Context, heartRate, spo2 float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string(nil), p.args...),
		strconv.FormatFloat(heartRate, 'f', -1, 64),
		strconv.FormatFloat(spo2, 'f', -1, 64),
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return 0, &PredictError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("exceeded %s", p.timeout),
			Err:     ctx.Err(),
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := fmt.Sprintf("exited with code %d", exitErr.ExitCode())
			if detail := ErrorMessage(stdout.Bytes()); detail != "" {
				msg += ": " + detail
			}
			p.logger.Debug("Predictor process failed",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", truncate(stderr.String(), 512)),
				zap.Duration("elapsed", elapsed),
			)
			return 0, &PredictError{Kind: KindProcessFailure, Message: msg, Err: err}
		}
		return 0, &PredictError{Kind: KindProcessFailure, Message: "failed to run predictor", Err: err}
	}

	bp, err := ParseOutput(stdout.Bytes())
	if err != nil {
		p.logger.Debug("Predictor output rejected",
			zap.String("stdout", truncate(stdout.String(), 512)),
			zap.String("stderr", truncate(stderr.String(), 512)),
			zap.Error(err),
		)
		return 0, err
	}

	return bp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
