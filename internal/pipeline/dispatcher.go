package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDispatcherClosed 关闭后提交的行被拒绝
var ErrDispatcherClosed = errors.New("dispatcher closed")

// LineProcessor 单行处理
type LineProcessor interface {
	ProcessLine(ctx context.Context, line string) error
}

// Dispatcher 每行一个 goroutine，行之间不排序
//
// 跨行没有顺序保证：推理较慢的行可能晚于后到的行入库。
type Dispatcher struct {
	processor LineProcessor
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher 创建分发器
//
// 行任务使用独立的 context，不随数据源停止而取消；只在 Drain 超时后取消。
func NewDispatcher(processor LineProcessor, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit 异步处理一行
func (d *Dispatcher) Submit(line string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go d.run(line)
	return nil
}

func (d *Dispatcher) run(line string) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic while processing line",
				zap.String("line", line),
				zap.Any("panic", r),
			)
		}
	}()

	if err := d.processor.ProcessLine(d.ctx, line); err != nil {
		d.logger.Debug("Line not stored", zap.Error(err))
	}
}

// Drain 停止接收新行，等待在途行处理完成
//
// 超时后取消在途任务的 context 并返回错误。
func (d *Dispatcher) Drain(timeout time.Duration) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		<-done
		return fmt.Errorf("drain timed out after %s", timeout)
	}
}
