package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

const mqttPublishTimeout = 5 * time.Second

// MQTTSink publishes records under <prefix>/<sink topic>.
type MQTTSink struct {
	logger      *zap.Logger
	client      mqtt.Client
	prefix      string
	qos         byte
	encoder     Encoder
	recordingID string
}

type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Prefix    string
	QoS       int
}

func NewMQTTSink(opts MQTTOptions, enc Encoder, recordingID string, logger *zap.Logger) *MQTTSink {
	log := logger.Named("mqtt")
	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", opts.BrokerURL))
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}

	return &MQTTSink{
		logger:      log,
		client:      mqtt.NewClient(co),
		prefix:      strings.Trim(opts.Prefix, "/"),
		qos:         byte(opts.QoS),
		encoder:     enc,
		recordingID: recordingID,
	}
}

// Connect blocks until the first connection succeeds or ctx is done.
func (s *MQTTSink) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) SetTimeIndex(context.Context, string, int64) error {
	return nil
}

func (s *MQTTSink) Write(ctx context.Context, topic string, rec model.Record) error {
	wire, err := NewWireRecord(s.recordingID, topic, rec)
	if err != nil {
		return err
	}
	payload, err := s.encoder.Encode(wire)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	mqttTopic := MQTTTopic(s.prefix, topic)
	token := s.client.Publish(mqttTopic, s.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", mqttTopic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("mqtt publish %s: timeout after %s", mqttTopic, mqttPublishTimeout)
	}
}

func (s *MQTTSink) Close(context.Context) error {
	s.client.Disconnect(250)
	return nil
}

// MQTTTopic joins a prefix and a sink topic path into an MQTT topic.
func MQTTTopic(prefix, topic string) string {
	topic = strings.Trim(topic, "/")
	prefix = strings.Trim(prefix, "/")
	switch {
	case prefix == "":
		return topic
	case topic == "":
		return prefix
	default:
		return prefix + "/" + topic
	}
}
