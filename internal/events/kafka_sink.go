package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// MessageWriter пишет сообщения в брокер. Реализуется *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует события журнала в топик. Ключ сообщения - id сущности,
// поэтому события одной сделки попадают в одну партицию по порядку.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter создаёт writer для списка брокеров.
func NewKafkaWriter(brokers []string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: для kafka нужен хотя бы один брокер")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, nil
}

// NewKafkaSink создаёт sink публикации в topic.
func NewKafkaSink(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, ev models.AuditEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(ev.EntityID.String()),
		Value: value,
		Time:  ev.CreatedAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventName(ev))},
		},
	})
}

// Close закрывает writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
