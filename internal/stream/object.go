package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

// ObjectSink archives frames as PNG objects and structured results as JSON
// objects in an S3-compatible bucket.
type ObjectSink struct {
	logger      *zap.Logger
	mc          *minio.Client
	bucket      string
	basePath    string
	recordingID string
	seq         atomic.Uint64
}

func NewObjectSink(endpoint, access, secret string, useTLS bool, bucket, basePath, recordingID string, logger *zap.Logger) (*ObjectSink, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &ObjectSink{
		logger:      logger.Named("minio"),
		mc:          mc,
		bucket:      bucket,
		basePath:    basePath,
		recordingID: recordingID,
	}, nil
}

func (s *ObjectSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	}
	return nil
}

func (s *ObjectSink) SetTimeIndex(context.Context, string, int64) error {
	return nil
}

func (s *ObjectSink) Write(ctx context.Context, topic string, rec model.Record) error {
	// Repeated timestamps are separate observations and must not share a key.
	seq := s.seq.Add(1)
	if rec.Frame != nil {
		data, err := EncodeFramePNG(*rec.Frame)
		if err != nil {
			return err
		}
		if err := s.put(ctx, ObjectPath(s.basePath, s.recordingID, topic, rec.Time, seq, "png"), data, "image/png"); err != nil {
			return err
		}
	}
	if rec.Detections == nil && rec.Text == nil {
		return nil
	}
	meta := struct {
		Time       model.TimeIndex     `json:"time"`
		Detections *model.DetectionSet `json:"detections,omitempty"`
		Text       *model.TextRecord   `json:"text,omitempty"`
	}{Time: rec.Time, Detections: rec.Detections, Text: rec.Text}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.put(ctx, ObjectPath(s.basePath, s.recordingID, topic, rec.Time, seq, "json"), data, "application/json")
}

func (s *ObjectSink) put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := s.mc.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (s *ObjectSink) Close(context.Context) error {
	return nil
}

// ObjectPath lays objects out as base/recording/topic/timeline=V-SEQ.ext.
// V is sign-prefixed and zero-padded so keys list in time order, negative
// values first; SEQ separates writes that share a timestamp.
func ObjectPath(basePath, recordingID, topic string, at model.TimeIndex, seq uint64, ext string) string {
	topic = strings.Trim(topic, "/")
	if topic == "" {
		topic = "root"
	}
	file := fmt.Sprintf("%s=%s-%010d.%s", at.Timeline, sortableValue(at.Value), seq, ext)
	return path.Join(strings.Trim(basePath, "/"), recordingID, topic, file)
}

// sortableValue maps v onto a fixed-width string whose lexical order matches
// numeric order: "n" plus v+2^63 for negatives, "p" plus v otherwise.
func sortableValue(v int64) string {
	if v < 0 {
		return fmt.Sprintf("n%019d", uint64(v)^(1<<63))
	}
	return fmt.Sprintf("p%019d", v)
}
