package version

import (
	"time"

	"frame-poller/internal/config"
)

type Info struct {
	AgentVersion    string   `json:"agent_version"`
	Mode            string   `json:"mode"`
	Server          string   `json:"server"`
	Channels        int      `json:"channels"`
	Sinks           []string `json:"sinks"`
	ProbeListenAddr string   `json:"probe_listen_addr,omitempty"`
	CheckedAtUnix   int64    `json:"checked_at_unix"`
}

func Get(cfg config.Config) Info {
	return Info{
		AgentVersion:    cfg.AgentVersion,
		Mode:            string(cfg.Mode),
		Server:          cfg.BaseURL(),
		Channels:        len(cfg.Descriptors()),
		Sinks:           append([]string(nil), cfg.Sinks...),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
