package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"frame-poller/internal/decode"
	"frame-poller/internal/model"
	"frame-poller/internal/stream"
)

// Poller is the part of the shared connection a channel loop uses.
type Poller interface {
	Poll(ctx context.Context, url string) (model.Envelope, error)
}

type outcome int

const (
	outcomeWritten outcome = iota
	outcomeTransportError
	outcomeServerFailure
	outcomeDecodeError
	outcomeEmpty
	outcomeSinkError
	outcomeCanceled
)

// ChannelCollector polls one endpoint forever and turns every successful
// reply into a sink write. Errors never leave the loop.
type ChannelCollector struct {
	logger       *zap.Logger
	desc         model.ChannelDescriptor
	poller       Poller
	decoder      decode.Decoder
	sink         stream.Sink
	stats        *ChannelStats
	minInterval  time.Duration
	errorBackoff time.Duration
}

func NewChannelCollector(
	logger *zap.Logger,
	desc model.ChannelDescriptor,
	poller Poller,
	decoder decode.Decoder,
	sink stream.Sink,
	minInterval, errorBackoff time.Duration,
) *ChannelCollector {
	return &ChannelCollector{
		logger:       logger.With(zap.String("channel", desc.Label()), zap.String("url", desc.EndpointURL)),
		desc:         desc,
		poller:       poller,
		decoder:      decoder,
		sink:         sink,
		stats:        newChannelStats(desc.Label()),
		minInterval:  minInterval,
		errorBackoff: errorBackoff,
	}
}

func (c *ChannelCollector) Descriptor() model.ChannelDescriptor {
	return c.desc
}

func (c *ChannelCollector) Stats() ChannelSnapshot {
	return c.stats.Snapshot()
}

// Run returns nil once ctx is done. Cycles never overlap: poll N+1 starts
// only after poll N has been fully handled.
func (c *ChannelCollector) Run(ctx context.Context) error {
	c.logger.Info("channel loop started", zap.String("topic", c.desc.Topic), zap.String("index_key", string(c.desc.IndexKey)))
	defer c.logger.Info("channel loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		started := time.Now()
		switch c.collectAndSend(ctx) {
		case outcomeCanceled:
			return nil
		case outcomeTransportError, outcomeSinkError:
			sleepWithContext(ctx, c.errorBackoff)
		}
		if c.minInterval > 0 {
			sleepWithContext(ctx, c.minInterval-time.Since(started))
		}
	}
}

func (c *ChannelCollector) collectAndSend(ctx context.Context) outcome {
	c.stats.polls.Add(1)
	env, err := c.poller.Poll(ctx, c.desc.EndpointURL)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		c.stats.transportErrors.Add(1)
		c.logger.Debug("poll failed", zap.Error(err))
		return outcomeTransportError
	}
	if !env.OK() {
		c.stats.failures.Add(1)
		c.logger.Debug("server reported failure", zap.String("reason", env.Reason))
		return outcomeServerFailure
	}

	rec, err := c.buildRecord(env.Payload)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.logger.Debug("decode failed, dropping cycle", zap.Error(err))
		return outcomeDecodeError
	}
	if rec.Empty() {
		c.stats.empty.Add(1)
		c.logger.Debug("success without content", zap.Int64("timestamp", env.Payload.Timestamp))
		return outcomeEmpty
	}

	topic := model.ResolveTopic(c.desc.Topic, env.Payload.ChannelID)
	// Write always follows SetTimeIndex: with a Tee, a sink that rejected the
	// time index must not leave the others holding an index with no write.
	setErr := c.sink.SetTimeIndex(ctx, rec.Time.Timeline, rec.Time.Value)
	writeErr := c.sink.Write(ctx, topic, rec)
	if err := errors.Join(setErr, writeErr); err != nil {
		return c.sinkFailed(ctx, topic, err)
	}
	c.stats.markWrite(rec.Time.Value)
	return outcomeWritten
}

func (c *ChannelCollector) buildRecord(p model.Payload) (model.Record, error) {
	rec := model.Record{
		Time:      model.TimeIndex{Timeline: string(c.desc.IndexKey), Value: p.Timestamp},
		ChannelID: p.ChannelID,
		Text:      p.Text,
	}
	if p.Detections != nil {
		rec.Detections = &model.DetectionSet{Detections: p.Detections}
	}
	if len(p.EncodedBytes) > 0 {
		frame, err := c.decoder.Decode(p.EncodedBytes)
		if err != nil {
			return model.Record{}, err
		}
		rec.Frame = &frame
	}
	return rec, nil
}

func (c *ChannelCollector) sinkFailed(ctx context.Context, topic string, err error) outcome {
	if ctx.Err() != nil {
		return outcomeCanceled
	}
	c.stats.sinkErrors.Add(1)
	c.logger.Warn("sink write failed", zap.String("topic", topic), zap.Error(err))
	return outcomeSinkError
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
