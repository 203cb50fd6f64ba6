package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// KafkaSink 将通知发布到 Kafka，由推送服务消费。
type KafkaSink struct {
	producer producer
	topic    string
	logger   *zap.Logger
}

// NewKafkaSink 创建 Kafka 通道。
func NewKafkaSink(broker, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if broker == "" || topic == "" {
		return nil, fmt.Errorf("notify: kafka broker 与 topic 不能为空")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: 创建 kafka producer 失败: %w", err)
	}
	return newKafkaSink(p, topic, logger), nil
}

func newKafkaSink(p producer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{producer: p, topic: topic, logger: logger}
}

// Send 发布通知并等待投递确认。
func (s *KafkaSink) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: 序列化通知失败: %w", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(n.Metadata["order_id"]),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("notify: 发布通知失败: %w", err)
	}

	select {
	case e := <-delivery:
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				return fmt.Errorf("notify: 投递失败: %w", ev.TopicPartition.Error)
			}
			return nil
		default:
			return fmt.Errorf("notify: 未预期的 kafka 事件 %T", e)
		}
	case <-ctx.Done():
		return fmt.Errorf("notify: 等待投递确认超时: %w", ctx.Err())
	}
}

// Close 关闭 producer。
func (s *KafkaSink) Close() {
	s.producer.Close()
}
