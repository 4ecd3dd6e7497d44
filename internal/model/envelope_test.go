package model

import (
	"errors"
	"testing"
)

func TestParseEnvelopeDiscrimination(t *testing.T) {
	tests := []struct {
		name string
		body string
		want EnvelopeKind
	}{
		{"success image", `{"Success":{"timestamp_nanos":10,"image":{"data":[1,2,3]}}}`, EnvelopeSuccess},
		{"success empty object", `{"Success":{}}`, EnvelopeSuccess},
		{"success scalar", `{"Success":5}`, EnvelopeSuccess},
		{"success next to error", `{"Error":{"error":"x"},"Success":{"stamp_ns":1}}`, EnvelopeSuccess},
		{"error variant", `{"Error":{"error":"pipeline not running"}}`, EnvelopeFailure},
		{"unknown key", `{"Pending":true}`, EnvelopeFailure},
		{"empty object", `{}`, EnvelopeFailure},
		{"array", `[1,2,3]`, EnvelopeFailure},
		{"string", `"Success"`, EnvelopeFailure},
		{"null", `null`, EnvelopeFailure},
		{"number", `42`, EnvelopeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseEnvelope returned error for valid JSON: %v", err)
			}
			if env.Kind != tt.want {
				t.Errorf("Expected kind %s, got %s", tt.want, env.Kind)
			}
		})
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	for _, body := range []string{"", "   ", "{", `{"Success":`, "<html>bad gateway</html>"} {
		_, err := ParseEnvelope([]byte(body))
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("body %q: expected ErrMalformedEnvelope, got %v", body, err)
		}
	}
}

func TestParseEnvelopeErrorReason(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"Error":{"error":"Failed to get streaming image"}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Reason != "Failed to get streaming image" {
		t.Errorf("Unexpected reason %q", env.Reason)
	}
}

func TestParseEnvelopePayloadVariants(t *testing.T) {
	t.Run("inference image", func(t *testing.T) {
		env, _ := ParseEnvelope([]byte(`{"Success":{"timestamp_nanos":1700,"image":{"data":[255,216,255],"encoding":"jpeg"}}}`))
		img, ok := env.Payload.Image()
		if !ok {
			t.Fatal("Expected image payload")
		}
		if img.Timestamp != 1700 || len(img.EncodedBytes) != 3 || img.EncodedBytes[1] != 216 {
			t.Errorf("Unexpected image payload %+v", img)
		}
		if env.Payload.Kind() != PayloadImage {
			t.Errorf("Expected kind %s, got %s", PayloadImage, env.Payload.Kind())
		}
	})

	t.Run("streaming channel frame", func(t *testing.T) {
		env, _ := ParseEnvelope([]byte(`{"Success":{"stamp_ns":99,"channel_id":3,"data":[1,2]}}`))
		cf, ok := env.Payload.ChannelFrame()
		if !ok {
			t.Fatal("Expected channel frame payload")
		}
		if cf.ChannelID != 3 || cf.Timestamp != 99 || len(cf.EncodedBytes) != 2 {
			t.Errorf("Unexpected channel frame %+v", cf)
		}
	})

	t.Run("base64 data", func(t *testing.T) {
		env, _ := ParseEnvelope([]byte(`{"Success":{"stamp_ns":1,"channel_id":0,"data":"AQID"}}`))
		if got := env.Payload.EncodedBytes; len(got) != 3 || got[2] != 3 {
			t.Errorf("Unexpected bytes %v", got)
		}
	})

	t.Run("detections", func(t *testing.T) {
		env, _ := ParseEnvelope([]byte(`{"Success":{"timestamp_nanos":5,"detections":[{"xmin":1,"ymin":2,"xmax":3.5,"ymax":4,"class":7}]}}`))
		det, ok := env.Payload.DetectionResult()
		if !ok {
			t.Fatal("Expected detection payload")
		}
		if len(det.Detections) != 1 || det.Detections[0].ClassID != 7 || det.Detections[0].XMax != 3.5 {
			t.Errorf("Unexpected detections %+v", det.Detections)
		}
	})

	t.Run("text result", func(t *testing.T) {
		env, _ := ParseEnvelope([]byte(`{"Success":{"timestamp_nanos":5,"prompt":"what?","response":"a cat"}}`))
		if env.Payload.Kind() != PayloadText {
			t.Fatalf("Expected text payload, got %s", env.Payload.Kind())
		}
		if got := env.Payload.Text.String(); got != "prompt: what? -- response: a cat" {
			t.Errorf("Unexpected text %q", got)
		}
	})
}

func TestResolveTopic(t *testing.T) {
	id := 3
	if got := ResolveTopic("/cam/{id}", &id); got != "/cam/3" {
		t.Errorf("Expected /cam/3, got %s", got)
	}
	if got := ResolveTopic("/image", &id); got != "/image" {
		t.Errorf("Expected literal topic, got %s", got)
	}
	if got := ResolveTopic("/cam/{id}", nil); got != "/cam/{id}" {
		t.Errorf("Expected template untouched without channel id, got %s", got)
	}
}

func TestChannelDescriptorValidate(t *testing.T) {
	ok := ChannelDescriptor{EndpointURL: "http://x/api", Topic: "/image", IndexKey: IndexSession}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Expected valid descriptor, got %v", err)
	}
	bad := ok
	bad.IndexKey = "wallclock"
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for unsupported index key")
	}
	bad = ok
	bad.EndpointURL = ""
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}
