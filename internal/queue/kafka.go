package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"log-gateway/internal/model"
)

// Producer fans accepted durable records out to the batch-analysis
// pipeline. Delivery is best effort; the ingestion path never fails a
// submission on a queue error.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
	}

	return &Producer{writer: w}
}

// Publish keys messages by trace so all records of one flow land on
// the same partition.
func (p *Producer) Publish(ctx context.Context, rec model.DurableRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.TraceID),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
