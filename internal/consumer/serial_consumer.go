package consumer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Yohanamtesfaye/emma-care-backend/common/config"
	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	initialReconnectDelay = time.Second
	defaultReconnectMax   = 30 * time.Second
)

// PortOpener 打开串口
type PortOpener func(path string, baudRate int) (io.ReadCloser, error)

// OpenSerialPort 使用 go.bug.st/serial 打开真实串口（8N1）
func OpenSerialPort(path string, baudRate int) (io.ReadCloser, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialConsumer 串口行消费者，断开后按指数退避重连
type SerialConsumer struct {
	config  *config.SerialConfig
	open    PortOpener
	sink    LineSink
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSerialConsumer 创建串口消费者；open 为 nil 时使用 OpenSerialPort
func NewSerialConsumer(cfg *config.SerialConfig, open PortOpener, sink LineSink, m *metrics.Metrics, logger *zap.Logger) *SerialConsumer {
	if open == nil {
		open = OpenSerialPort
	}
	return &SerialConsumer{
		config:  cfg,
		open:    open,
		sink:    sink,
		metrics: m,
		logger:  logger.With(zap.String("source", "serial"), zap.String("port", cfg.Path)),
	}
}

// Start 启动后台读取循环，立即返回
func (c *SerialConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()

	c.logger.Info("Serial consumer started", zap.Int("baud_rate", c.config.BaudRate))
	return nil
}

// Stop 关闭串口并等待读取循环退出
func (c *SerialConsumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Serial consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("serial consumer stop: %w", ctx.Err())
	}
}

func (c *SerialConsumer) loop(ctx context.Context) {
	maxDelay := c.config.ReconnectMax
	if maxDelay <= 0 {
		maxDelay = defaultReconnectMax
	}
	delay := initialReconnectDelay

	for ctx.Err() == nil {
		port, err := c.open(c.config.Path, c.config.BaudRate)
		if err != nil {
			c.logger.Error("Serial port error", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			c.logger.Info("Serial port opened")
			delay = initialReconnectDelay

			err = c.readPort(ctx, port)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.logger.Warn("Serial port read failed", zap.Error(err), zap.Duration("retry_in", delay))
			} else {
				c.logger.Warn("Serial port closed", zap.Duration("retry_in", delay))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// readPort 读取直到端口出错；ctx 取消时关闭端口打断阻塞的 Read
func (c *SerialConsumer) readPort(ctx context.Context, port io.ReadCloser) error {
	closed := make(chan struct{})
	defer close(closed)

	go func() {
		select {
		case <-ctx.Done():
		case <-closed:
		}
		port.Close()
	}()

	return scanLines(ctx, port, c.sink, c.metrics, c.logger)
}
