package version

import (
	"testing"

	"frame-poller/internal/config"
)

func TestGet(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeStreaming
	cfg.Cameras = []int{0, 1, 2}
	cfg.Host = "10.0.0.5"

	info := Get(cfg)
	if info.AgentVersion != config.HardcodedVersion {
		t.Errorf("Expected version %s, got %s", config.HardcodedVersion, info.AgentVersion)
	}
	if info.Channels != 3 || info.Mode != "streaming" {
		t.Errorf("Unexpected info %+v", info)
	}
	if info.Server != "http://10.0.0.5:3000" {
		t.Errorf("Unexpected server %s", info.Server)
	}
}
