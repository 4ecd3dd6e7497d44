package collector

import (
	"sync/atomic"
	"time"
)

// ChannelStats counts cycle outcomes for one channel. Written only by the
// owning loop, read by the health loop.
type ChannelStats struct {
	name            string
	polls           atomic.Int64
	transportErrors atomic.Int64
	failures        atomic.Int64
	decodeErrors    atomic.Int64
	empty           atomic.Int64
	sinkErrors      atomic.Int64
	writes          atomic.Int64
	lastTimestamp   atomic.Int64
	lastWriteAt     atomic.Int64
}

type ChannelSnapshot struct {
	Name            string    `json:"name"`
	Polls           int64     `json:"polls"`
	TransportErrors int64     `json:"transport_errors"`
	Failures        int64     `json:"failures"`
	DecodeErrors    int64     `json:"decode_errors"`
	Empty           int64     `json:"empty"`
	SinkErrors      int64     `json:"sink_errors"`
	Writes          int64     `json:"writes"`
	LastTimestamp   int64     `json:"last_timestamp"`
	LastWriteAt     time.Time `json:"last_write_at,omitempty"`
}

func newChannelStats(name string) *ChannelStats {
	return &ChannelStats{name: name}
}

func (s *ChannelStats) markWrite(ts int64) {
	s.writes.Add(1)
	s.lastTimestamp.Store(ts)
	s.lastWriteAt.Store(time.Now().UnixNano())
}

func (s *ChannelStats) Snapshot() ChannelSnapshot {
	out := ChannelSnapshot{
		Name:            s.name,
		Polls:           s.polls.Load(),
		TransportErrors: s.transportErrors.Load(),
		Failures:        s.failures.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		Empty:           s.empty.Load(),
		SinkErrors:      s.sinkErrors.Load(),
		Writes:          s.writes.Load(),
		LastTimestamp:   s.lastTimestamp.Load(),
	}
	if v := s.lastWriteAt.Load(); v > 0 {
		out.LastWriteAt = time.Unix(0, v).UTC()
	}
	return out
}
