package queue

import (
	"context"
	"time"

	"stock_reservation/internal/model"

	"github.com/segmentio/kafka-go"
)

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key: 同一订单号落到同一分区。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条 outbox 事件，订单号作为 key，事件类型放在 header。
func (p *Producer) Publish(ctx context.Context, ev model.OrderEvent) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
}
