package stream

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"frame-poller/internal/config"
)

const memorySinkLimit = 4096

// NewSinkFromConfig builds every configured sink and tees them together.
// Sinks with a connect step are connected here so a bad endpoint fails at
// startup rather than on the first write.
func NewSinkFromConfig(ctx context.Context, cfg config.Config, tlsCfg *tls.Config, recordingID string, logger *zap.Logger) (Sink, error) {
	enc, err := NewEncoder(cfg.SinkFormat)
	if err != nil {
		return nil, err
	}

	sinks := make(Tee, 0, len(cfg.Sinks))
	fail := func(err error) (Sink, error) {
		_ = sinks.Close(context.Background())
		return nil, err
	}

	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(logger))
		case "memory":
			sinks = append(sinks, NewRecorder(memorySinkLimit))
		case "grpc":
			sinks = append(sinks, NewGRPCClient(cfg.GRPCAddr, tlsCfg, cfg.GRPCToken, cfg.GRPCMethod, recordingID, logger))
		case "websocket":
			sinks = append(sinks, NewWebSocketClient(cfg.WSURL, cfg.WSToken, tlsCfg, enc, recordingID, cfg.WSWriteTimeout, cfg.WSPingInterval, logger))
		case "kafka":
			sinks = append(sinks, NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, enc, recordingID, logger))
		case "mqtt":
			s := NewMQTTSink(MQTTOptions{
				BrokerURL: cfg.MQTTBrokerURL,
				ClientID:  cfg.MQTTClientID,
				Username:  cfg.MQTTUsername,
				Password:  cfg.MQTTPassword,
				Prefix:    cfg.MQTTTopicPrefix,
				QoS:       cfg.MQTTQoS,
			}, enc, recordingID, logger)
			if err := s.Connect(ctx); err != nil {
				return fail(fmt.Errorf("mqtt connect: %w", err))
			}
			sinks = append(sinks, s)
		case "influx":
			sinks = append(sinks, NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, recordingID, logger))
		case "minio":
			s, err := NewObjectSink(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseTLS, cfg.MinIOBucket, cfg.MinIOBasePath, recordingID, logger)
			if err != nil {
				return fail(err)
			}
			if err := s.EnsureBucket(ctx); err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case "redis":
			s := NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix, cfg.RedisTTL, enc, recordingID, logger)
			if err := s.Ping(ctx); err != nil {
				_ = s.Close(ctx)
				return fail(fmt.Errorf("redis ping: %w", err))
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("unsupported sink %q", name))
		}
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
