package consumer

import (
	"context"
	"fmt"
	"strings"

	mqttcommon "github.com/Yohanamtesfaye/emma-care-backend/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 从 MQTT 主题接收遥测行
//
// 网关把串口输出原样转发，一条消息可能包含多行。
type MQTTConsumer struct {
	client Subscriber
	topic  string
	qos    byte
	sink   LineSink
	logger *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(client Subscriber, topic string, qos byte, sink LineSink, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client: client,
		topic:  topic,
		qos:    qos,
		sink:   sink,
		logger: logger.With(zap.String("source", "mqtt")),
	}
}

// Start 订阅主题，立即返回
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vitals topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 拆分消息为行并提交
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	for _, raw := range strings.Split(string(payload), "\n") {
		if err := submitLine(c.sink, raw, c.logger); err != nil {
			return fmt.Errorf("submit line from %s: %w", topic, err)
		}
	}
	return nil
}
