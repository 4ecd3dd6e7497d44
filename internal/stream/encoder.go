package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"

	"github.com/vmihailenco/msgpack/v5"

	"frame-poller/internal/model"
)

type RecordType string

const (
	RecordTypeFrame      RecordType = "frame"
	RecordTypeDetections RecordType = "detections"
	RecordTypeText       RecordType = "text"
)

// WireRecord is the transport framing shared by the remote sinks. Frames are
// carried as PNG so consumers do not need to know the pixel layout.
type WireRecord struct {
	RecordingID string            `json:"recording_id" msgpack:"recording_id"`
	Type        RecordType        `json:"type" msgpack:"type"`
	Topic       string            `json:"topic" msgpack:"topic"`
	Timeline    string            `json:"timeline" msgpack:"timeline"`
	TimeIndex   int64             `json:"time_index" msgpack:"time_index"`
	ChannelID   *int              `json:"channel_id,omitempty" msgpack:"channel_id,omitempty"`
	Frame       *model.Frame      `json:"frame,omitempty" msgpack:"frame,omitempty"`
	ImagePNG    []byte            `json:"image_png,omitempty" msgpack:"image_png,omitempty"`
	Detections  []model.Detection `json:"detections,omitempty" msgpack:"detections,omitempty"`
	Text        *model.TextRecord `json:"text,omitempty" msgpack:"text,omitempty"`
}

// Encoder serializes wire records for byte-oriented sinks.
type Encoder interface {
	ContentType() string
	Encode(WireRecord) ([]byte, error)
}

type jsonEncoder struct{}

func (jsonEncoder) ContentType() string { return "application/json" }

func (jsonEncoder) Encode(w WireRecord) ([]byte, error) {
	return json.Marshal(w)
}

type msgpackEncoder struct{}

func (msgpackEncoder) ContentType() string { return "application/msgpack" }

func (msgpackEncoder) Encode(w WireRecord) ([]byte, error) {
	return msgpack.Marshal(w)
}

func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "", "json":
		return jsonEncoder{}, nil
	case "msgpack":
		return msgpackEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
}

// NewWireRecord builds the framing for one record; a frame is PNG-encoded.
func NewWireRecord(recordingID, topic string, rec model.Record) (WireRecord, error) {
	w := WireRecord{
		RecordingID: recordingID,
		Type:        recordType(rec),
		Topic:       topic,
		Timeline:    rec.Time.Timeline,
		TimeIndex:   rec.Time.Value,
		ChannelID:   rec.ChannelID,
		Text:        rec.Text,
	}
	if rec.Detections != nil {
		w.Detections = append([]model.Detection(nil), rec.Detections.Detections...)
	}
	if rec.Frame != nil {
		pngBytes, err := EncodeFramePNG(*rec.Frame)
		if err != nil {
			return WireRecord{}, err
		}
		meta := *rec.Frame
		meta.Pix = nil
		w.Frame = &meta
		w.ImagePNG = pngBytes
	}
	return w, nil
}

func recordType(rec model.Record) RecordType {
	switch {
	case rec.Frame != nil:
		return RecordTypeFrame
	case rec.Detections != nil:
		return RecordTypeDetections
	default:
		return RecordTypeText
	}
}

func EncodeFramePNG(f model.Frame) ([]byte, error) {
	img, err := f.Image()
	if err != nil {
		return nil, fmt.Errorf("frame to image: %w", err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
