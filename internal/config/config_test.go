package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"frame-poller/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLLER_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != ModeInference || cfg.Port != 3000 || cfg.IndexKey != model.IndexSession {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
	if cfg.MinPollInterval != 0 || cfg.ErrorBackoff != 0 {
		t.Errorf("Polling must default to immediate re-poll, got %s / %s", cfg.MinPollInterval, cfg.ErrorBackoff)
	}

	descs := cfg.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("Expected 2 inference descriptors, got %d", len(descs))
	}
	if descs[0].EndpointURL != "http://0.0.0.0:3000/api/v0/inference/image" || descs[0].Topic != "/image" {
		t.Errorf("Unexpected image descriptor %+v", descs[0])
	}
	if descs[1].EndpointURL != "http://0.0.0.0:3000/api/v0/inference/result" || descs[1].Topic != "/logs" {
		t.Errorf("Unexpected result descriptor %+v", descs[1])
	}
}

func TestLoadStreamingFromEnv(t *testing.T) {
	t.Setenv("POLLER_MODE", "streaming")
	t.Setenv("POLLER_HOST", "robot.local")
	t.Setenv("POLLER_PORT", "3001")
	t.Setenv("POLLER_CAMERAS", "0,1 3")
	t.Setenv("POLLER_ERROR_BACKOFF", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ErrorBackoff != 250*time.Millisecond {
		t.Errorf("Expected 250ms backoff, got %s", cfg.ErrorBackoff)
	}
	descs := cfg.Descriptors()
	if len(descs) != 3 {
		t.Fatalf("Expected 3 camera descriptors, got %d", len(descs))
	}
	if descs[2].EndpointURL != "http://robot.local:3001/api/v0/streaming/image/3" {
		t.Errorf("Unexpected url %s", descs[2].EndpointURL)
	}
	if descs[2].Topic != "/cam/{id}" {
		t.Errorf("Expected topic template, got %s", descs[2].Topic)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poller.yaml")
	content := `
host: 10.0.0.5
mode: custom
index_key: timeline
min_poll_interval: 20ms
sinks: [log, memory]
channels:
  - name: front
    endpoint_url: http://10.0.0.5:3000/api/v0/streaming/image/0
    topic: /front/{id}
  - name: result
    endpoint_url: http://10.0.0.5:3000/api/v0/inference/result
    topic: /logs
    index_key: session
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLLER_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected env override of log level, got %s", cfg.LogLevel)
	}
	if cfg.MinPollInterval != 20*time.Millisecond {
		t.Errorf("Expected 20ms min interval, got %s", cfg.MinPollInterval)
	}
	descs := cfg.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("Expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].IndexKey != model.IndexTimeline {
		t.Errorf("Expected inherited timeline index, got %s", descs[0].IndexKey)
	}
	if descs[1].IndexKey != model.IndexSession {
		t.Errorf("Expected explicit session index, got %s", descs[1].IndexKey)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad mode":         func(c *Config) { c.Mode = "replay" },
		"no cameras":       func(c *Config) { c.Mode = ModeStreaming; c.Cameras = nil },
		"camera range":     func(c *Config) { c.Mode = ModeStreaming; c.Cameras = []int{300} },
		"custom empty":     func(c *Config) { c.Mode = ModeCustom },
		"negative backoff": func(c *Config) { c.ErrorBackoff = -time.Second },
		"unknown sink":     func(c *Config) { c.Sinks = []string{"rerun"} },
		"kafka no brokers": func(c *Config) { c.Sinks = []string{"kafka"} },
		"bad format":       func(c *Config) { c.SinkFormat = "xml" },
		"bad index":        func(c *Config) { c.IndexKey = "wallclock" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" log, kafka  ,,minio ")
	if len(got) != 3 || got[0] != "log" || got[1] != "kafka" || got[2] != "minio" {
		t.Errorf("Unexpected list %v", got)
	}
}
