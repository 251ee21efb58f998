package transport

import (
	"context"
	"fmt"
	"io"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// KafkaConfig configures a KafkaPickSource.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaPickSource consumes the same whitespace-delimited pick payload as
// TextPickSource, but from a Kafka topic rather than a raw byte stream, for
// deployments where the upstream phase-picker publishes onto a broker.
type KafkaPickSource struct {
	reader *kafkago.Reader
}

// NewKafkaPickSource builds a KafkaPickSource over cfg.
func NewKafkaPickSource(cfg KafkaConfig) *KafkaPickSource {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &KafkaPickSource{reader: r}
}

// Next blocks for the next Kafka message and decodes it as one pick line.
// Messages that fail to decode are skipped.
func (s *KafkaPickSource) Next(ctx context.Context) (types.Pick, error) {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			return types.Pick{}, fmt.Errorf("read kafka pick message: %w", err)
		}

		pick, ok := parsePickLine(string(msg.Value))
		if !ok {
			continue
		}
		return pick, nil
	}
}

// Close closes the Kafka reader.
func (s *KafkaPickSource) Close() error {
	return s.reader.Close()
}

var _ io.Closer = (*KafkaPickSource)(nil)
