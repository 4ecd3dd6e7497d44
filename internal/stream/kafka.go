package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

// KafkaSink publishes every record to one Kafka topic, keyed by the sink
// topic so a channel's records stay on one partition.
type KafkaSink struct {
	logger      *zap.Logger
	writer      *kafka.Writer
	encoder     Encoder
	recordingID string
}

func NewKafkaSink(brokers []string, topic string, enc Encoder, recordingID string, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},

		BatchSize:    100,
		BatchBytes:   16 << 20,
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{logger: logger.Named("kafka"), writer: w, encoder: enc, recordingID: recordingID}
}

func (s *KafkaSink) SetTimeIndex(context.Context, string, int64) error {
	return nil
}

func (s *KafkaSink) Write(ctx context.Context, topic string, rec model.Record) error {
	msg, err := s.message(topic, rec)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (s *KafkaSink) message(topic string, rec model.Record) (kafka.Message, error) {
	wire, err := NewWireRecord(s.recordingID, topic, rec)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := s.encoder.Encode(wire)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(topic),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(s.encoder.ContentType())},
			{Key: "timeline", Value: []byte(rec.Time.Timeline)},
			{Key: "record-type", Value: []byte(wire.Type)},
		},
	}, nil
}

func (s *KafkaSink) Close(context.Context) error {
	return s.writer.Close()
}
