package stream

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"frame-poller/internal/model"
)

// Sink is the time-indexed observation log the channel loops write to.
// Implementations must be safe for concurrent writers on different topics.
type Sink interface {
	SetTimeIndex(ctx context.Context, timeline string, value int64) error
	Write(ctx context.Context, topic string, rec model.Record) error
	Close(ctx context.Context) error
}

// NewRecordingID returns a fresh id grouping everything one process writes.
func NewRecordingID() string {
	return uuid.NewString()
}

// Tee forwards every call to all sinks, in order, and joins their errors.
type Tee []Sink

func (t Tee) SetTimeIndex(ctx context.Context, timeline string, value int64) error {
	var errs []error
	for _, s := range t {
		if err := s.SetTimeIndex(ctx, timeline, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Write(ctx context.Context, topic string, rec model.Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Write(ctx, topic, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Close(ctx context.Context) error {
	var errs []error
	for _, s := range t {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
