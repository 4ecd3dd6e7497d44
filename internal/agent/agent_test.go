package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"frame-poller/internal/collector"
	"frame-poller/internal/config"
	"frame-poller/internal/model"
	"frame-poller/internal/stream"
)

func inferenceServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	imageBody := `{"Success":{"timestamp_nanos":11,"image":{"data":"` + base64.StdEncoding.EncodeToString(buf.Bytes()) + `","encoding":"png"}}}`
	resultBody := `{"Success":{"timestamp_nanos":12,"detections":[{"xmin":1,"ymin":2,"xmax":3,"ymax":4,"class":0}]}}`

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/inference/image", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(imageBody))
	})
	mux.HandleFunc("/api/v0/inference/result", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(resultBody))
	})
	mux.HandleFunc("/api/v0/stats/whoami", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"test-server"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(host string) config.Config {
	cfg := config.Default()
	cfg.Host = host
	cfg.Sinks = []string{"memory"}
	cfg.MinPollInterval = 5 * time.Millisecond
	cfg.HealthInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	cfg.RecordingID = "test-recording"
	return cfg
}

func recorderOf(t *testing.T, a *Agent) *stream.Recorder {
	t.Helper()
	hs, ok := a.sink.(*healthSink)
	if !ok {
		t.Fatalf("Expected health sink wrapper, got %T", a.sink)
	}
	rec, ok := hs.sink.(*stream.Recorder)
	if !ok {
		t.Fatalf("Expected memory sink, got %T", hs.sink)
	}
	return rec
}

func TestAgentRunsInferenceChannels(t *testing.T) {
	srv := inferenceServer(t)
	a, err := New(context.Background(), testConfig(srv.URL), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.RecordingID() != "test-recording" {
		t.Errorf("Expected configured recording id, got %s", a.RecordingID())
	}
	rec := recorderOf(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.Writes("/image")) > 0 && len(rec.Writes("/logs")) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	health := a.Health()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Agent did not stop")
	}

	img := rec.Writes("/image")
	if len(img) == 0 || img[0].Record.Frame == nil || img[0].Record.Frame.Channels != 1 || img[0].Value != 11 {
		t.Fatalf("Unexpected image writes %+v", img)
	}
	logs := rec.Writes("/logs")
	if len(logs) == 0 || logs[0].Record.Detections == nil || logs[0].Value != 12 {
		t.Fatalf("Unexpected result writes %+v", logs)
	}
	if health["server_reachable"] != true {
		t.Errorf("Expected server reachable, got %+v", health)
	}
	if chans, ok := health["channels"].([]collector.ChannelSnapshot); !ok || len(chans) != 2 {
		t.Errorf("Expected two channel snapshots, got %+v", health["channels"])
	}
	if !rec.Closed() {
		t.Error("Expected sink to be closed on shutdown")
	}
}

func TestAgentStartsWithUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := New(context.Background(), testConfig(url), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Errorf("Expected loops to keep retrying until cancelled, got %v", err)
	}
	for _, ch := range a.scheduler.Snapshot() {
		if ch.TransportErrors == 0 {
			t.Errorf("Expected transport errors on %s", ch.Name)
		}
	}
}

func TestNewRejectsEmptyCustomChannels(t *testing.T) {
	cfg := testConfig("127.0.0.1")
	cfg.Mode = config.ModeCustom
	_, err := New(context.Background(), cfg, zap.NewNop())
	var oe *collector.OrchestratorError
	if !errors.As(err, &oe) {
		t.Errorf("Expected OrchestratorError, got %v", err)
	}
}

func TestHealthSinkTracksOutcome(t *testing.T) {
	h := NewHealthStatus()
	h.SetServerReachable(true)
	boom := errors.New("boom")
	s := &healthSink{sink: failingWrites{stream.NewRecorder(0), boom}, health: h}

	rec := model.Record{Time: model.TimeIndex{Timeline: "session", Value: 3}, Text: &model.TextRecord{}}
	if err := s.Write(context.Background(), "/logs", rec); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if h.OK() {
		t.Error("Expected degraded health after sink failure")
	}

	s.sink = stream.NewRecorder(0)
	if err := s.Write(context.Background(), "/logs", rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	snap := h.Snapshot(nil)
	if !h.OK() || snap["last_time_index"] != int64(3) || snap["last_timeline"] != "session" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

type failingWrites struct {
	*stream.Recorder
	err error
}

func (f failingWrites) Write(context.Context, string, model.Record) error { return f.err }

type rejectingIndex struct {
	*stream.Recorder
	err error
}

func (r rejectingIndex) SetTimeIndex(context.Context, string, int64) error { return r.err }

func TestHealthSinkStaysDegradedAfterRejectedTimeIndex(t *testing.T) {
	h := NewHealthStatus()
	h.SetServerReachable(true)
	boom := errors.New("boom")
	s := &healthSink{sink: rejectingIndex{stream.NewRecorder(0), boom}, health: h}
	ctx := context.Background()

	if err := s.SetTimeIndex(ctx, "session", 4); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	rec := model.Record{Time: model.TimeIndex{Timeline: "session", Value: 4}, Text: &model.TextRecord{}}
	if err := s.Write(ctx, "/logs", rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if h.OK() {
		t.Error("Expected degraded health after a rejected time index")
	}

	s.sink = stream.NewRecorder(0)
	if err := s.SetTimeIndex(ctx, "session", 5); err != nil {
		t.Fatalf("SetTimeIndex failed: %v", err)
	}
	if err := s.Write(ctx, "/logs", rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !h.OK() {
		t.Error("Expected health to recover after a clean pair")
	}
}

func TestBuildLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	cfg.LogJSON = true
	logger, err := BuildLogger(cfg)
	if err != nil {
		t.Fatalf("BuildLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestProbeLineReflectsHealth(t *testing.T) {
	a := &Agent{health: NewHealthStatus()}
	if got := a.probeLine(); got != "frame-poller:degraded\n" {
		t.Errorf("Expected degraded before first probe, got %q", got)
	}
	a.health.SetServerReachable(true)
	if got := a.probeLine(); got != "frame-poller:ok\n" {
		t.Errorf("Expected ok, got %q", got)
	}
}
