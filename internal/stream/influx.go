package stream

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

// InfluxSink stores record summaries as points stamped with the record's
// time index: frame geometry, detection boxes and text results.
type InfluxSink struct {
	logger      *zap.Logger
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	recordingID string
}

func NewInfluxSink(url, token, org, bucket, recordingID string, logger *zap.Logger) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		logger:      logger.Named("influx"),
		client:      client,
		writeAPI:    client.WriteAPIBlocking(org, bucket),
		recordingID: recordingID,
	}
}

func (s *InfluxSink) SetTimeIndex(context.Context, string, int64) error {
	return nil
}

func (s *InfluxSink) Write(ctx context.Context, topic string, rec model.Record) error {
	points := BuildPoints(s.recordingID, topic, rec)
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %s: %w", topic, err)
	}
	return nil
}

func (s *InfluxSink) Close(context.Context) error {
	s.client.Close()
	return nil
}

// BuildPoints maps one record to influx points. The time index is taken as
// nanoseconds since the epoch, which is what the server stamps.
func BuildPoints(recordingID, topic string, rec model.Record) []*write.Point {
	at := time.Unix(0, rec.Time.Value).UTC()
	tags := map[string]string{
		"topic":        topic,
		"timeline":     rec.Time.Timeline,
		"recording_id": recordingID,
	}

	var points []*write.Point
	if rec.Frame != nil {
		points = append(points, write.NewPoint("frame", tags, map[string]interface{}{
			"width":    rec.Frame.Width,
			"height":   rec.Frame.Height,
			"channels": rec.Frame.Channels,
			"bytes":    len(rec.Frame.Pix),
		}, at))
	}
	if rec.Detections != nil {
		points = append(points, write.NewPoint("detection_count", tags, map[string]interface{}{
			"count": len(rec.Detections.Detections),
		}, at))
		for i, d := range rec.Detections.Detections {
			dtags := make(map[string]string, len(tags)+1)
			for k, v := range tags {
				dtags[k] = v
			}
			dtags["class"] = fmt.Sprintf("%d", d.ClassID)
			points = append(points, write.NewPoint("detection", dtags, map[string]interface{}{
				"index": i,
				"xmin":  d.XMin,
				"ymin":  d.YMin,
				"xmax":  d.XMax,
				"ymax":  d.YMax,
			}, at))
		}
	}
	if rec.Text != nil {
		points = append(points, write.NewPoint("text", tags, map[string]interface{}{
			"prompt":   rec.Text.Prompt,
			"response": rec.Text.Response,
			"level":    string(rec.Text.Level),
		}, at))
	}
	return points
}
