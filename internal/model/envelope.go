package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type EnvelopeKind string

const (
	EnvelopeSuccess EnvelopeKind = "Success"
	EnvelopeFailure EnvelopeKind = "Failure"
)

// Envelope is the parsed reply of one poll: either a Success carrying a
// payload or a Failure carrying the reason the server (or the parser) gave.
type Envelope struct {
	Kind    EnvelopeKind
	Payload Payload
	Reason  string
}

var ErrMalformedEnvelope = errors.New("malformed envelope")

func (e Envelope) OK() bool {
	return e.Kind == EnvelopeSuccess
}

func Success(p Payload) Envelope {
	return Envelope{Kind: EnvelopeSuccess, Payload: p}
}

func Failure(reason string) Envelope {
	return Envelope{Kind: EnvelopeFailure, Reason: reason}
}

// ParseEnvelope decodes a poll reply body. Only bodies that are not valid
// JSON return an error; every valid JSON value yields an Envelope, and only
// objects with a "Success" key yield a success.
func ParseEnvelope(body []byte) (Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		return Envelope{}, ErrMalformedEnvelope
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return Failure("unrecognized envelope shape"), nil
	}

	if raw, ok := top[string(EnvelopeSuccess)]; ok {
		return Success(decodePayload(raw)), nil
	}
	if raw, ok := top["Error"]; ok {
		return Failure(errorReason(raw)), nil
	}
	return Failure(fmt.Sprintf("envelope without %s key", EnvelopeSuccess)), nil
}

func errorReason(raw json.RawMessage) string {
	var withField struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &withField); err == nil && withField.Error != "" {
		return withField.Error
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	return "server reported error"
}
