package kafka

import (
	"context"

	segmentio "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer interface {
	SendMessage(ctx context.Context, topic string, key []byte, value []byte) error
	Close() error
}

// WriterProducer sends outbox payloads to the broker. One shared writer
// serves every topic; the topic rides on the message.
type WriterProducer struct {
	writer *segmentio.Writer
	logger *zap.Logger
}

func NewWriterProducer(brokers []string, logger *zap.Logger) *WriterProducer {
	return &WriterProducer{
		writer: &segmentio.Writer{
			Addr:         segmentio.TCP(brokers...),
			Balancer:     &segmentio.LeastBytes{},
			RequiredAcks: segmentio.RequireOne,
		},
		logger: logger,
	}
}

func (p *WriterProducer) SendMessage(ctx context.Context, topic string, key []byte, value []byte) error {
	err := p.writer.WriteMessages(ctx, segmentio.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		p.logger.Error("kafka write failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}

func (p *WriterProducer) Close() error {
	return p.writer.Close()
}
