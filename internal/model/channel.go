package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// IndexKey names the sink timeline a channel stamps its writes on.
type IndexKey string

const (
	IndexSession  IndexKey = "session"
	IndexTimeline IndexKey = "timeline"

	// TopicIDPlaceholder is replaced by the payload's channel id.
	TopicIDPlaceholder = "{id}"
)

// ChannelDescriptor is the static configuration of one polled stream.
type ChannelDescriptor struct {
	Name        string   `json:"name" yaml:"name"`
	EndpointURL string   `json:"endpoint_url" yaml:"endpoint_url"`
	Topic       string   `json:"topic" yaml:"topic"`
	IndexKey    IndexKey `json:"index_key" yaml:"index_key"`
}

func (d ChannelDescriptor) Validate() error {
	if strings.TrimSpace(d.EndpointURL) == "" {
		return errors.New("endpoint url is required")
	}
	if strings.TrimSpace(d.Topic) == "" {
		return fmt.Errorf("channel %s: topic is required", d.Label())
	}
	switch d.IndexKey {
	case IndexSession, IndexTimeline:
	default:
		return fmt.Errorf("channel %s: unsupported index key %q", d.Label(), d.IndexKey)
	}
	return nil
}

// Label is the name used in logs and health snapshots.
func (d ChannelDescriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.EndpointURL
}

// ResolveTopic substitutes the channel id into a topic template. Templates
// without a placeholder, or payloads without a channel id, are left as is.
func ResolveTopic(template string, channelID *int) string {
	if channelID == nil || !strings.Contains(template, TopicIDPlaceholder) {
		return template
	}
	return strings.ReplaceAll(template, TopicIDPlaceholder, strconv.Itoa(*channelID))
}
