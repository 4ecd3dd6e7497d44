package model

import "fmt"

type TextLevel string

const (
	TextLevelInfo TextLevel = "INFO"
	TextLevelWarn TextLevel = "WARN"
)

// TimeIndex is the point on a sink timeline a record belongs to.
type TimeIndex struct {
	Timeline string `json:"timeline" msgpack:"timeline"`
	Value    int64  `json:"value" msgpack:"value"`
}

type DetectionSet struct {
	Detections []Detection `json:"detections" msgpack:"detections"`
}

// TextRecord is a free-form inference result, e.g. a prompt and its answer.
type TextRecord struct {
	Prompt   string    `json:"prompt" msgpack:"prompt"`
	Response string    `json:"response" msgpack:"response"`
	Level    TextLevel `json:"level" msgpack:"level"`
}

func (t TextRecord) String() string {
	return fmt.Sprintf("prompt: %s -- response: %s", t.Prompt, t.Response)
}

// Record is what a channel loop hands to the sink for one successful cycle.
// It carries its own time index so concurrent writers never depend on
// shared "current time" state inside the sink.
type Record struct {
	Time       TimeIndex     `json:"time" msgpack:"time"`
	ChannelID  *int          `json:"channel_id,omitempty" msgpack:"channel_id,omitempty"`
	Frame      *Frame        `json:"frame,omitempty" msgpack:"frame,omitempty"`
	Detections *DetectionSet `json:"detections,omitempty" msgpack:"detections,omitempty"`
	Text       *TextRecord   `json:"text,omitempty" msgpack:"text,omitempty"`
}

func (r Record) Empty() bool {
	return r.Frame == nil && r.Detections == nil && r.Text == nil
}
