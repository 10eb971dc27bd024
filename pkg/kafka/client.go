// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"sitechat-go/internal/config"
	"sitechat-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// TurnEvent 是一次完整问答落库后对外发布的事件，供下游统计消费。
type TurnEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         uint      `json:"user_id"`
	Sequence       int       `json:"sequence"`
	HasSource      bool      `json:"has_source"`
	Timestamp      time.Time `json:"timestamp"`
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。未启用时跳过，事件发布变为空操作。
func InitProducer(cfg config.KafkaConfig) {
	if !cfg.Enabled {
		log.Info("Kafka 未启用，跳过生产者初始化")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceTurnEvent 发送一个对话事件到 Kafka。生产者未初始化时直接返回 nil。
func ProduceTurnEvent(ctx context.Context, event TurnEvent) error {
	if producer == nil {
		return nil
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return producer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(event.ConversationID),
			Value: eventBytes,
		},
	)
}

// Close 关闭生产者连接。
func Close() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}
