package consumer

import (
	"context"
	"io"
	"sync"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"

	"go.uber.org/zap"
)

// ReaderConsumer 从任意 io.Reader 读取行（标准输入、回放文件）
type ReaderConsumer struct {
	name   string
	reader io.Reader
	sink    LineSink
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewReaderConsumer 创建读取器消费者
func NewReaderConsumer(name string, reader io.Reader, sink LineSink, m *metrics.Metrics, logger *zap.Logger) *ReaderConsumer {
	return &ReaderConsumer{
		name:    name,
		reader:  reader,
		sink:    sink,
		metrics: m,
		logger:  logger.With(zap.String("source", name)),
		done:    make(chan struct{}),
	}
}

// Start 启动后台读取，立即返回
func (c *ReaderConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)
		c.err = scanLines(ctx, c.reader, c.sink, c.metrics, c.logger)
		if c.err != nil {
			c.logger.Error("Line source stopped with error", zap.Error(c.err))
			return
		}
		c.logger.Info("Line source reached end of input")
	}()

	c.logger.Info("Reader consumer started")
	return nil
}

// Done 输入结束或出错后关闭
func (c *ReaderConsumer) Done() <-chan struct{} {
	return c.done
}

// Err 读取结束后的错误（EOF 为 nil）
func (c *ReaderConsumer) Err() error {
	<-c.done
	return c.err
}

// Stop 停止读取
//
// 阻塞在 Read 上的读取器无法被打断；ctx 到期后直接返回。
func (c *ReaderConsumer) Stop(ctx context.Context) error {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})

	select {
	case <-c.done:
	case <-ctx.Done():
		c.logger.Warn("Reader consumer still blocked on read, leaving it behind")
	}
	c.logger.Info("Reader consumer stopped")
	return nil
}
