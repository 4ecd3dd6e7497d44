package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"frame-poller/internal/collector"
	"frame-poller/internal/config"
	"frame-poller/internal/decode"
	"frame-poller/internal/model"
	"frame-poller/internal/poll"
	"frame-poller/internal/stream"
	"frame-poller/internal/system"
)

type Agent struct {
	cfg         config.Config
	logger      *zap.Logger
	client      *poll.Client
	control     *poll.Control
	scheduler   *collector.Scheduler
	sink        stream.Sink
	health      *HealthStatus
	host        *system.Sampler
	recordingID string
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	recordingID := cfg.RecordingID
	if recordingID == "" {
		recordingID = stream.NewRecordingID()
	}
	logger = logger.With(zap.String("recording_id", recordingID))

	sink, err := stream.NewSinkFromConfig(ctx, cfg, tlsCfg, recordingID, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	client := poll.NewClient(
		poll.NewHTTPClient(tlsCfg),
		logger.Named("poll"),
		poll.WithUserAgent("frame-poller/"+cfg.AgentVersion),
		poll.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	health := NewHealthStatus()
	wrappedSink := &healthSink{sink: sink, health: health}
	scheduler, err := collector.NewScheduler(
		logger,
		cfg.Descriptors(),
		client,
		decode.NewImageDecoder(),
		wrappedSink,
		collector.Options{MinInterval: cfg.MinPollInterval, ErrorBackoff: cfg.ErrorBackoff},
	)
	if err != nil {
		_ = sink.Close(ctx)
		client.Close()
		return nil, err
	}

	return &Agent{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		control:     client.Control(cfg.BaseURL()),
		scheduler:   scheduler,
		sink:        wrappedSink,
		health:      health,
		host:        system.NewSampler(),
		recordingID: recordingID,
	}, nil
}

func (a *Agent) RecordingID() string {
	return a.recordingID
}

// Health returns the process-level status merged with per-channel counters.
func (a *Agent) Health() map[string]any {
	return a.health.Snapshot(a.scheduler.Snapshot())
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting frame-poller",
		zap.String("version", a.cfg.AgentVersion),
		zap.String("mode", string(a.cfg.Mode)),
		zap.String("server", a.cfg.BaseURL()),
		zap.Strings("sinks", a.cfg.Sinks))
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Stopped on its own: a channel loop died or the parent ctx was canceled.
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown",
			zap.String("signal", sig.String()), zap.Duration("timeout", a.cfg.ShutdownTimeout))
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", zap.String("signal", sig2.String()))
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", zap.Duration("timeout", a.cfg.ShutdownTimeout))
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("frame-poller stopped")
	return nil
}

// BuildLogger returns a production zap logger, JSON or console encoded.
func BuildLogger(cfg config.Config) (*zap.Logger, error) {
	level := zap.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = zap.DebugLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !cfg.LogJSON {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zcfg.Build()
}

// healthSink tracks sink health from the outcome of every call. A rejected
// time index keeps the sink degraded through the write that follows it.
type healthSink struct {
	sink        stream.Sink
	health      *HealthStatus
	indexFailed atomic.Bool
}

func (s *healthSink) SetTimeIndex(ctx context.Context, timeline string, value int64) error {
	if err := s.sink.SetTimeIndex(ctx, timeline, value); err != nil {
		s.indexFailed.Store(true)
		s.health.SetSinkHealthy(false)
		return err
	}
	return nil
}

func (s *healthSink) Write(ctx context.Context, topic string, rec model.Record) error {
	indexFailed := s.indexFailed.Swap(false)
	if err := s.sink.Write(ctx, topic, rec); err != nil {
		s.health.SetSinkHealthy(false)
		return err
	}
	if indexFailed {
		return nil
	}
	s.health.SetSinkHealthy(true)
	s.health.MarkWrite(time.Now(), rec.Time)
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
