package agent

import (
	"sync/atomic"
	"time"

	"frame-poller/internal/collector"
	"frame-poller/internal/model"
	"frame-poller/internal/system"
)

type HealthStatus struct {
	serverReachable atomic.Bool
	sinkHealthy     atomic.Bool
	lastWriteAt     atomic.Int64
	lastTimeIndex   atomic.Int64
	lastTimeline    atomic.Value
	host            atomic.Pointer[system.HostStats]
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.serverReachable.Store(false)
	h.sinkHealthy.Store(true)
	return h
}

func (h *HealthStatus) SetServerReachable(ok bool) {
	h.serverReachable.Store(ok)
}

func (h *HealthStatus) SetSinkHealthy(ok bool) {
	h.sinkHealthy.Store(ok)
}

func (h *HealthStatus) MarkWrite(at time.Time, ti model.TimeIndex) {
	h.lastWriteAt.Store(at.UnixNano())
	h.lastTimeIndex.Store(ti.Value)
	h.lastTimeline.Store(ti.Timeline)
}

func (h *HealthStatus) SetHost(stats system.HostStats) {
	h.host.Store(&stats)
}

// OK reports whether the server answered the last probe and the last sink
// call succeeded.
func (h *HealthStatus) OK() bool {
	return h.serverReachable.Load() && h.sinkHealthy.Load()
}

func (h *HealthStatus) Snapshot(channels []collector.ChannelSnapshot) map[string]any {
	out := map[string]any{
		"server_reachable": h.serverReachable.Load(),
		"sink_healthy":     h.sinkHealthy.Load(),
	}
	if v := h.lastWriteAt.Load(); v > 0 {
		out["last_write_at"] = time.Unix(0, v).UTC()
		out["last_time_index"] = h.lastTimeIndex.Load()
		if tl, ok := h.lastTimeline.Load().(string); ok {
			out["last_timeline"] = tl
		}
	}
	if hs := h.host.Load(); hs != nil {
		out["host"] = *hs
	}
	if len(channels) > 0 {
		out["channels"] = channels
	}
	return out
}
