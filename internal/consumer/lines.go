package consumer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Yohanamtesfaye/emma-care-backend/internal/metrics"

	"go.uber.org/zap"
)

// maxLineSize 单行最大长度，超出视为设备输出异常
const maxLineSize = 64 * 1024

// LineSink 接收完整的一行
type LineSink interface {
	Submit(line string) error
}

// scanLines 按 '\n' 切分，去掉首尾空白后提交非空行
//
// 超长行丢弃到下一个 '\n' 并计为格式错误，之后继续读取。
// 读到 EOF 返回 nil；ctx 取消后不再提交。m 可以为 nil。
func scanLines(ctx context.Context, r io.Reader, sink LineSink, m *metrics.Metrics, logger *zap.Logger) error {
	reader := bufio.NewReaderSize(r, maxLineSize)
	discarding := false

	for {
		chunk, err := reader.ReadSlice('\n')
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			if !discarding {
				discarding = true
				logger.Warn("Discarding oversized line", zap.Int("max_bytes", maxLineSize))
				if m != nil {
					m.RecordLine(metrics.LineMalformed)
				}
			}
			continue
		}

		if discarding {
			// 超长行的剩余部分
			discarding = false
		} else if len(chunk) > 0 {
			if serr := submitLine(sink, string(chunk), logger); serr != nil {
				return serr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read line: %w", err)
		}
	}
}

// submitLine 提交一行；空行忽略
func submitLine(sink LineSink, raw string, logger *zap.Logger) error {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}
	logger.Debug("Raw line", zap.String("line", line))
	return sink.Submit(line)
}
