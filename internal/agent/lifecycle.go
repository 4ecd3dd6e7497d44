package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	// The server may come up after us; loops retry on their own.
	if err := a.control.Healthy(ctx); err != nil {
		a.logger.Warn("server not reachable yet, polling anyway", zap.String("server", a.cfg.BaseURL()), zap.Error(err))
	} else {
		a.health.SetServerReachable(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	if a.cfg.HealthInterval > 0 {
		g.Go(func() error {
			return a.runHealthLoop(gctx)
		})
	}
	if strings.TrimSpace(a.cfg.ProbeListenAddr) != "" {
		g.Go(func() error {
			return a.runProbeListener(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.control.Healthy(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if a.health.serverReachable.Load() {
					a.logger.Warn("server health check failed", zap.Error(err))
				}
				a.health.SetServerReachable(false)
				continue
			}
			if !a.health.serverReachable.Load() {
				a.logger.Info("server reachable")
			}
			a.health.SetServerReachable(true)
			a.sampleHost()
			a.logger.Debug("agent health", zap.Any("snapshot", a.Health()))
		}
	}
}

func (a *Agent) sampleHost() {
	stats, err := a.host.Sample()
	if err != nil {
		a.logger.Debug("host sample failed", zap.Error(err))
		return
	}
	a.health.SetHost(stats)
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", zap.Error(err))
	}
	a.health.SetSinkHealthy(false)
	// Normally already released by the scheduler; Close is idempotent.
	a.client.Close()
	a.health.SetServerReachable(false)
	_ = a.logger.Sync()
}
