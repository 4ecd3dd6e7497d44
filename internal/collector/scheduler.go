package collector

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"frame-poller/internal/decode"
	"frame-poller/internal/model"
	"frame-poller/internal/stream"
)

// Connection is the shared poll client. Close releases pooled connections.
type Connection interface {
	Poller
	Close()
}

// OrchestratorError reports a failure to start or keep the channel group
// running.
type OrchestratorError struct {
	Op  string
	Err error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator %s: %v", e.Op, e.Err)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

var (
	ErrNoChannels = errors.New("no channel descriptors")
	ErrLoopExited = errors.New("channel loop exited before shutdown")
	ErrAlreadyRan = errors.New("scheduler already ran")
)

type Options struct {
	MinInterval  time.Duration
	ErrorBackoff time.Duration
}

// Scheduler runs one ChannelCollector per descriptor over a shared
// connection. If any loop stops the whole group stops.
type Scheduler struct {
	logger     *zap.Logger
	conn       Connection
	collectors []*ChannelCollector
	closeOnce  sync.Once
	ran        sync.Once
}

func NewScheduler(
	logger *zap.Logger,
	descs []model.ChannelDescriptor,
	conn Connection,
	decoder decode.Decoder,
	sink stream.Sink,
	opts Options,
) (*Scheduler, error) {
	if len(descs) == 0 {
		return nil, &OrchestratorError{Op: "start", Err: ErrNoChannels}
	}
	logger = logger.Named("scheduler")
	collectors := make([]*ChannelCollector, 0, len(descs))
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, &OrchestratorError{Op: "start", Err: err}
		}
		if _, dup := seen[d.Label()]; dup {
			return nil, &OrchestratorError{Op: "start", Err: fmt.Errorf("duplicate channel %q", d.Label())}
		}
		seen[d.Label()] = struct{}{}
		collectors = append(collectors, NewChannelCollector(logger, d, conn, decoder, sink, opts.MinInterval, opts.ErrorBackoff))
	}
	return &Scheduler{
		logger:     logger,
		conn:       conn,
		collectors: collectors,
	}, nil
}

// Run blocks until ctx is done or a loop stops unexpectedly. The shared
// connection is released exactly once when Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	started := false
	s.ran.Do(func() { started = true })
	if !started {
		return &OrchestratorError{Op: "run", Err: ErrAlreadyRan}
	}
	defer s.release()

	s.logger.Info("starting channel loops", zap.Int("channels", len(s.collectors)))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.collectors {
		c := c
		g.Go(func() error {
			return s.runLoop(gctx, c)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return &OrchestratorError{Op: "run", Err: err}
	}
	s.logger.Info("channel loops stopped")
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, c *ChannelCollector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("channel loop panicked",
				zap.String("channel", c.desc.Label()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("channel %s: panic: %v", c.desc.Label(), r)
		}
	}()
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("channel %s: %w", c.desc.Label(), err)
	}
	if ctx.Err() == nil {
		return fmt.Errorf("channel %s: %w", c.desc.Label(), ErrLoopExited)
	}
	return nil
}

func (s *Scheduler) release() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// Snapshot returns per-channel counters in descriptor order.
func (s *Scheduler) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, 0, len(s.collectors))
	for _, c := range s.collectors {
		out = append(out, c.Stats())
	}
	return out
}

func (s *Scheduler) Channels() []model.ChannelDescriptor {
	out := make([]model.ChannelDescriptor, 0, len(s.collectors))
	for _, c := range s.collectors {
		out = append(out, c.Descriptor())
	}
	return out
}
