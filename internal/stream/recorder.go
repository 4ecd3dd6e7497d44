package stream

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"frame-poller/internal/model"
)

type EventKind string

const (
	EventTimeIndex EventKind = "time_index"
	EventWrite     EventKind = "write"
)

// Event is one call the Recorder received.
type Event struct {
	Kind     EventKind
	Timeline string
	Value    int64
	Topic    string
	Record   model.Record
}

// Recorder is an in-memory time-indexed log. It keeps every call in arrival
// order and is the default sink for tests and the "memory" sink.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	current map[string]int64
	limit   int
	closed  bool
}

// NewRecorder keeps at most limit events (0 means unbounded); older events
// are dropped first.
func NewRecorder(limit int) *Recorder {
	return &Recorder{current: map[string]int64{}, limit: limit}
}

func (r *Recorder) SetTimeIndex(_ context.Context, timeline string, value int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[timeline] = value
	r.appendLocked(Event{Kind: EventTimeIndex, Timeline: timeline, Value: value})
	return nil
}

func (r *Recorder) Write(_ context.Context, topic string, rec model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(Event{Kind: EventWrite, Topic: topic, Timeline: rec.Time.Timeline, Value: rec.Time.Value, Record: rec})
	return nil
}

func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Recorder) appendLocked(ev Event) {
	if r.limit > 0 && len(r.events) >= r.limit {
		r.events = append(r.events[:0], r.events[1:]...)
	}
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Writes returns the write events for one topic, in arrival order.
func (r *Recorder) Writes(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == EventWrite && ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) TimeIndex(timeline string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.current[timeline]
	return v, ok
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// LogSink writes a one-line summary of every record to the logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("sink")}
}

func (s *LogSink) SetTimeIndex(_ context.Context, timeline string, value int64) error {
	s.logger.Debug("time index", zap.String("timeline", timeline), zap.Int64("value", value))
	return nil
}

func (s *LogSink) Write(_ context.Context, topic string, rec model.Record) error {
	fields := []zap.Field{
		zap.String("topic", topic),
		zap.String("timeline", rec.Time.Timeline),
		zap.Int64("time", rec.Time.Value),
	}
	if rec.Frame != nil {
		fields = append(fields, zap.Int("width", rec.Frame.Width), zap.Int("height", rec.Frame.Height), zap.Int("channels", rec.Frame.Channels))
	}
	if rec.Detections != nil {
		fields = append(fields, zap.Int("detections", len(rec.Detections.Detections)))
	}
	if rec.Text != nil {
		fields = append(fields, zap.String("text", rec.Text.String()))
	}
	s.logger.Info("observation", fields...)
	return nil
}

func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
