package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

func testFrame() *model.Frame {
	return &model.Frame{Width: 2, Height: 1, Channels: 3, Pix: []byte{255, 0, 0, 0, 0, 255}}
}

func TestRecorderKeepsCallOrder(t *testing.T) {
	r := NewRecorder(0)
	ctx := context.Background()

	r.SetTimeIndex(ctx, "session", 10)
	r.Write(ctx, "/image", model.Record{Time: model.TimeIndex{Timeline: "session", Value: 10}, Frame: testFrame()})
	r.SetTimeIndex(ctx, "session", 5)
	r.Write(ctx, "/image", model.Record{Time: model.TimeIndex{Timeline: "session", Value: 5}, Frame: testFrame()})

	events := r.Events()
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}
	wantKinds := []EventKind{EventTimeIndex, EventWrite, EventTimeIndex, EventWrite}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("Event %d: expected %s, got %s", i, k, events[i].Kind)
		}
	}
	if v, _ := r.TimeIndex("session"); v != 5 {
		t.Errorf("Expected non-monotonic time index to be accepted, got %d", v)
	}
	if n := len(r.Writes("/image")); n != 2 {
		t.Errorf("Expected 2 writes, got %d", n)
	}
}

func TestRecorderLimit(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.SetTimeIndex(context.Background(), "session", int64(i))
	}
	events := r.Events()
	if len(events) != 3 || events[0].Value != 2 {
		t.Errorf("Expected the 3 newest events, got %+v", events)
	}
}

type failingSink struct {
	*Recorder
	err error
}

func (f *failingSink) Write(context.Context, string, model.Record) error { return f.err }

func TestTeeJoinsErrorsAndKeepsWriting(t *testing.T) {
	boom := errors.New("boom")
	good := NewRecorder(0)
	tee := Tee{&failingSink{Recorder: NewRecorder(0), err: boom}, good}

	err := tee.Write(context.Background(), "/logs", model.Record{Text: &model.TextRecord{Prompt: "p"}})
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to contain boom, got %v", err)
	}
	if len(good.Writes("/logs")) != 1 {
		t.Error("Expected the healthy sink to still receive the write")
	}
}

func TestWireRecordCarriesPNG(t *testing.T) {
	id := 1
	rec := model.Record{Time: model.TimeIndex{Timeline: "session", Value: 42}, ChannelID: &id, Frame: testFrame()}
	wire, err := NewWireRecord("rec-1", "/cam/1", rec)
	if err != nil {
		t.Fatalf("NewWireRecord failed: %v", err)
	}
	if wire.Type != RecordTypeFrame || wire.TimeIndex != 42 || *wire.ChannelID != 1 {
		t.Errorf("Unexpected wire record %+v", wire)
	}
	if wire.Frame.Pix != nil {
		t.Error("Expected raw pixels to be stripped from the wire frame")
	}
	img, err := png.Decode(bytes.NewReader(wire.ImagePNG))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	r, g, b, _ := img.At(1, 0).RGBA()
	if r != 0 || g != 0 || b>>8 != 255 {
		t.Errorf("Unexpected second pixel %d,%d,%d", r, g, b)
	}
}

func TestEncoders(t *testing.T) {
	wire := WireRecord{Type: RecordTypeDetections, Topic: "/logs", Detections: []model.Detection{{XMin: 1, ClassID: 2}}}

	jenc, _ := NewEncoder("json")
	raw, err := jenc.Encode(wire)
	if err != nil {
		t.Fatalf("json encode: %v", err)
	}
	if !strings.Contains(string(raw), `"class":2`) {
		t.Errorf("Expected class field in json, got %s", raw)
	}

	menc, _ := NewEncoder("msgpack")
	raw, err = menc.Encode(wire)
	if err != nil {
		t.Fatalf("msgpack encode: %v", err)
	}
	var back WireRecord
	if err := msgpack.Unmarshal(raw, &back); err != nil {
		t.Fatalf("msgpack decode: %v", err)
	}
	if back.Topic != "/logs" || len(back.Detections) != 1 || back.Detections[0].ClassID != 2 {
		t.Errorf("Unexpected decoded record %+v", back)
	}

	if _, err := NewEncoder("xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestMQTTTopic(t *testing.T) {
	cases := map[[2]string]string{
		{"observations", "/cam/0"}: "observations/cam/0",
		{"", "/logs"}:              "logs",
		{"/root/", ""}:             "root",
	}
	for in, want := range cases {
		if got := MQTTTopic(in[0], in[1]); got != want {
			t.Errorf("MQTTTopic(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestObjectPath(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		seq   uint64
		want  string
	}{
		{name: "positive", value: 7, seq: 1, want: "recordings/abc/cam/2/session=p0000000000000000007-0000000001.png"},
		{name: "zero", value: 0, seq: 2, want: "recordings/abc/cam/2/session=p0000000000000000000-0000000002.png"},
		{name: "negative", value: -5, seq: 3, want: "recordings/abc/cam/2/session=n9223372036854775803-0000000003.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ObjectPath("/recordings/", "abc", "/cam/2", model.TimeIndex{Timeline: "session", Value: tt.value}, tt.seq, "png")
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestObjectPathSortsInTimeOrder(t *testing.T) {
	values := []int64{math.MinInt64, -1_000, -5, -1, 0, 1, 7, 1_000, math.MaxInt64}
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = ObjectPath("", "rec", "/image", model.TimeIndex{Timeline: "session", Value: v}, 1, "png")
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("Expected keys to sort in numeric order, got %v", keys)
	}
	same := ObjectPath("", "rec", "/image", model.TimeIndex{Timeline: "session", Value: 7}, 2, "png")
	if same == keys[6] {
		t.Errorf("Expected distinct keys for equal timestamps, got %s twice", same)
	}
}

func TestObjectSinkKeepsEqualTimestampWrites(t *testing.T) {
	var mu sync.Mutex
	var puts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			mu.Lock()
			puts = append(puts, r.URL.Path)
			mu.Unlock()
		}
		w.Header().Set("ETag", `"0"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mc, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio.New failed: %v", err)
	}
	s := &ObjectSink{logger: zap.NewNop(), mc: mc, bucket: "frames", basePath: "recordings", recordingID: "rec"}

	rec := model.Record{Time: model.TimeIndex{Timeline: "session", Value: 7}, Frame: testFrame()}
	for i := 0; i < 2; i++ {
		if err := s.Write(context.Background(), "/image", rec); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 2 {
		t.Fatalf("Expected 2 uploads, got %v", puts)
	}
	if puts[0] == puts[1] {
		t.Errorf("Expected both writes to keep their own object, got %s twice", puts[0])
	}
	for _, p := range puts {
		if !strings.HasPrefix(p, "/frames/recordings/rec/image/session=p0000000000000000007-") {
			t.Errorf("Unexpected object path %s", p)
		}
	}
}

func TestBuildPoints(t *testing.T) {
	rec := model.Record{
		Time:       model.TimeIndex{Timeline: "session", Value: 1_700_000_000_000_000_000},
		Detections: &model.DetectionSet{Detections: []model.Detection{{XMin: 1, YMin: 2, XMax: 3, YMax: 4, ClassID: 5}, {ClassID: 1}}},
	}
	points := BuildPoints("rec", "/logs", rec)
	if len(points) != 3 {
		t.Fatalf("Expected count point plus 2 detection points, got %d", len(points))
	}
	if points[0].Name() != "detection_count" || points[1].Name() != "detection" {
		t.Errorf("Unexpected measurements %s, %s", points[0].Name(), points[1].Name())
	}
	if !points[1].Time().Equal(time.Unix(0, rec.Time.Value)) {
		t.Errorf("Expected point time at the time index, got %s", points[1].Time())
	}
}

func TestKafkaMessageKeyedByTopic(t *testing.T) {
	enc, _ := NewEncoder("json")
	s := NewKafkaSink([]string{"127.0.0.1:9092"}, "observations", enc, "rec", zap.NewNop())
	defer s.Close(context.Background())

	msg, err := s.message("/cam/0", model.Record{Time: model.TimeIndex{Timeline: "session", Value: 3}, Frame: testFrame()})
	if err != nil {
		t.Fatalf("message failed: %v", err)
	}
	if string(msg.Key) != "/cam/0" {
		t.Errorf("Expected key /cam/0, got %s", msg.Key)
	}
	var wire WireRecord
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if wire.RecordingID != "rec" || wire.Type != RecordTypeFrame {
		t.Errorf("Unexpected value %+v", wire)
	}
}

func TestWebSocketClientSendsRecords(t *testing.T) {
	received := make(chan []byte, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	defer srv.Close()

	enc, _ := NewEncoder("json")
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWebSocketClient(url, "secret", nil, enc, "rec", time.Second, time.Second, zap.NewNop())
	defer c.Close(context.Background())

	rec := model.Record{Time: model.TimeIndex{Timeline: "session", Value: 9}, Text: &model.TextRecord{Prompt: "a", Response: "b"}}
	if err := c.Write(context.Background(), "/logs", rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case msg := <-received:
		var wire WireRecord
		if err := json.Unmarshal(msg, &wire); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if wire.Type != RecordTypeText || wire.Text.Response != "b" || wire.TimeIndex != 9 {
			t.Errorf("Unexpected record %+v", wire)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for websocket message")
	}
}
