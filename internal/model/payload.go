package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type PayloadKind string

const (
	PayloadEmpty        PayloadKind = "empty"
	PayloadImage        PayloadKind = "image"
	PayloadChannelFrame PayloadKind = "channel_frame"
	PayloadDetections   PayloadKind = "detections"
	PayloadText         PayloadKind = "text"
)

// Payload is the unified body of a Success envelope. Endpoints fill
// different subsets of it; Kind reports which variant a poll produced.
type Payload struct {
	Timestamp    int64
	ChannelID    *int
	EncodedBytes []byte
	Encoding     string
	Detections   []Detection
	Text         *TextRecord
}

// Detection is one bounding box in pixel coordinates.
type Detection struct {
	XMin    float64 `json:"xmin" msgpack:"xmin"`
	YMin    float64 `json:"ymin" msgpack:"ymin"`
	XMax    float64 `json:"xmax" msgpack:"xmax"`
	YMax    float64 `json:"ymax" msgpack:"ymax"`
	ClassID int     `json:"class" msgpack:"class"`
}

type ImagePayload struct {
	Timestamp    int64
	EncodedBytes []byte
}

type DetectionPayload struct {
	Timestamp  int64
	Detections []Detection
}

type ChannelFramePayload struct {
	Timestamp    int64
	ChannelID    int
	EncodedBytes []byte
}

func (p Payload) Kind() PayloadKind {
	switch {
	case len(p.EncodedBytes) > 0 && p.ChannelID != nil:
		return PayloadChannelFrame
	case len(p.EncodedBytes) > 0:
		return PayloadImage
	case p.Detections != nil:
		return PayloadDetections
	case p.Text != nil:
		return PayloadText
	default:
		return PayloadEmpty
	}
}

func (p Payload) Image() (ImagePayload, bool) {
	if len(p.EncodedBytes) == 0 {
		return ImagePayload{}, false
	}
	return ImagePayload{Timestamp: p.Timestamp, EncodedBytes: p.EncodedBytes}, true
}

func (p Payload) ChannelFrame() (ChannelFramePayload, bool) {
	if len(p.EncodedBytes) == 0 || p.ChannelID == nil {
		return ChannelFramePayload{}, false
	}
	return ChannelFramePayload{Timestamp: p.Timestamp, ChannelID: *p.ChannelID, EncodedBytes: p.EncodedBytes}, true
}

func (p Payload) DetectionResult() (DetectionPayload, bool) {
	if p.Detections == nil {
		return DetectionPayload{}, false
	}
	return DetectionPayload{Timestamp: p.Timestamp, Detections: p.Detections}, true
}

type encodedImageWire struct {
	Data     byteSeq `json:"data"`
	Encoding string  `json:"encoding"`
}

type payloadWire struct {
	TimestampNanos *int64            `json:"timestamp_nanos"`
	StampNS        *int64            `json:"stamp_ns"`
	ChannelID      *int              `json:"channel_id"`
	Image          *encodedImageWire `json:"image"`
	Data           byteSeq           `json:"data"`
	Encoding       string            `json:"encoding"`
	Detections     []Detection       `json:"detections"`
	Prompt         *string           `json:"prompt"`
	Response       *string           `json:"response"`
}

// decodePayload is lenient: a Success whose body does not match any known
// field still yields an (empty) payload rather than an error.
func decodePayload(raw json.RawMessage) Payload {
	var w payloadWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Payload{}
	}

	p := Payload{ChannelID: w.ChannelID, Detections: w.Detections, Encoding: w.Encoding}
	switch {
	case w.TimestampNanos != nil:
		p.Timestamp = *w.TimestampNanos
	case w.StampNS != nil:
		p.Timestamp = *w.StampNS
	}
	if w.Image != nil && len(w.Image.Data) > 0 {
		p.EncodedBytes = w.Image.Data
		if w.Image.Encoding != "" {
			p.Encoding = w.Image.Encoding
		}
	} else if len(w.Data) > 0 {
		p.EncodedBytes = w.Data
	}
	if w.Prompt != nil || w.Response != nil {
		p.Text = &TextRecord{Level: TextLevelInfo}
		if w.Prompt != nil {
			p.Text.Prompt = *w.Prompt
		}
		if w.Response != nil {
			p.Text.Response = *w.Response
		}
	}
	return p
}

// byteSeq accepts encoded bytes either as a JSON array of numbers (what the
// server emits) or as a base64 string.
type byteSeq []byte

func (b *byteSeq) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	if data[0] == '"' {
		var raw []byte
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode base64 bytes: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("decode byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
