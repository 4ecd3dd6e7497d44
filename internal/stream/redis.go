package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

// RedisSink keeps the latest record of every topic under prefix+topic and
// publishes each record on the same key for live subscribers.
type RedisSink struct {
	logger      *zap.Logger
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	encoder     Encoder
	recordingID string
}

func NewRedisSink(addr, password string, db int, prefix string, ttl time.Duration, enc Encoder, recordingID string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		logger:      logger.Named("redis"),
		rdb:         redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix:      prefix,
		ttl:         ttl,
		encoder:     enc,
		recordingID: recordingID,
	}
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisSink) SetTimeIndex(ctx context.Context, timeline string, value int64) error {
	return s.rdb.Set(ctx, s.prefix+"time:"+timeline, value, s.ttl).Err()
}

func (s *RedisSink) Write(ctx context.Context, topic string, rec model.Record) error {
	wire, err := NewWireRecord(s.recordingID, topic, rec)
	if err != nil {
		return err
	}
	payload, err := s.encoder.Encode(wire)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	key := s.prefix + topic
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, s.ttl)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

func (s *RedisSink) Close(context.Context) error {
	return s.rdb.Close()
}
