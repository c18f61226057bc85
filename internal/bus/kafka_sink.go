package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/poppopjmp/spiderfoot-sub002/internal/eventmodel"
)

// KafkaSink mirrors every published event onto a Kafka topic, the natural
// home for downstream SIEM/export pipelines that want a live event stream
// rather than polling the event store.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a Sink that writes JSON-encoded events to topic on
// brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Mirror writes event to the configured topic, keyed by its own hash. The
// writer's LeastBytes balancer picks the partition by load, not by key, so
// events of one provenance chain may land on different partitions and their
// relative order across partitions is not preserved.
func (k *KafkaSink) Mirror(event *eventmodel.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka sink: marshal event: %w", err)
	}

	err = k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.Hash),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka sink: write message: %w", err)
	}

	return nil
}

// Close releases the underlying Kafka writer's connections.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
