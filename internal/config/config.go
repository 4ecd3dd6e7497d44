package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"frame-poller/internal/model"
	"frame-poller/internal/poll"
)

type Mode string

const (
	ModeInference Mode = "inference"
	ModeStreaming Mode = "streaming"
	ModeCustom    Mode = "custom"

	HardcodedVersion string = "V0.3"

	DefaultStreamingTopic = "/cam/" + model.TopicIDPlaceholder
	DefaultImageTopic     = "/image"
	DefaultResultTopic    = "/logs"
)

type Config struct {
	Host            string                    `yaml:"host"`
	Port            int                       `yaml:"port"`
	Mode            Mode                      `yaml:"mode"`
	Cameras         []int                     `yaml:"cameras"`
	Channels        []model.ChannelDescriptor `yaml:"channels"`
	IndexKey        model.IndexKey            `yaml:"index_key"`
	StreamingTopic  string                    `yaml:"streaming_topic"`
	MinPollInterval time.Duration             `yaml:"min_poll_interval"`
	ErrorBackoff    time.Duration             `yaml:"error_backoff"`
	MaxBodyBytes    int64                     `yaml:"max_body_bytes"`
	HealthInterval  time.Duration             `yaml:"health_interval"`
	ShutdownTimeout time.Duration             `yaml:"shutdown_timeout"`
	ProbeListenAddr string                    `yaml:"probe_listen_addr"`
	AgentVersion    string                    `yaml:"-"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCAPath     string `yaml:"tls_ca_path"`
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`

	LogJSON  bool   `yaml:"log_json"`
	LogLevel string `yaml:"log_level"`

	Sinks       []string `yaml:"sinks"`
	SinkFormat  string   `yaml:"sink_format"`
	RecordingID string   `yaml:"recording_id"`

	GRPCAddr   string `yaml:"grpc_addr"`
	GRPCMethod string `yaml:"grpc_method"`
	GRPCToken  string `yaml:"grpc_token"`

	WSURL          string        `yaml:"ws_url"`
	WSToken        string        `yaml:"ws_token"`
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`
	WSPingInterval time.Duration `yaml:"ws_ping_interval"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	MQTTBrokerURL   string `yaml:"mqtt_broker_url"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MQTTQoS         int    `yaml:"mqtt_qos"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`

	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"influx_token"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`

	MinIOEndpoint  string `yaml:"minio_endpoint"`
	MinIOAccessKey string `yaml:"minio_access_key"`
	MinIOSecretKey string `yaml:"minio_secret_key"`
	MinIOUseTLS    bool   `yaml:"minio_use_tls"`
	MinIOBucket    string `yaml:"minio_bucket"`
	MinIOBasePath  string `yaml:"minio_base_path"`

	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
	RedisTTL       time.Duration `yaml:"redis_ttl"`
}

func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            3000,
		Mode:            ModeInference,
		Cameras:         []int{0},
		IndexKey:        model.IndexSession,
		StreamingTopic:  DefaultStreamingTopic,
		MaxBodyBytes:    64 << 20,
		HealthInterval:  10 * time.Second,
		ShutdownTimeout: 20 * time.Second,
		ProbeListenAddr: "",
		AgentVersion:    HardcodedVersion,
		LogJSON:         false,
		LogLevel:        "info",
		Sinks:           []string{"log"},
		SinkFormat:      "json",
		GRPCMethod:      "/frames.v1.ObservationService/StreamRecords",
		WSWriteTimeout:  5 * time.Second,
		WSPingInterval:  10 * time.Second,
		KafkaTopic:      "observations",
		MQTTClientID:    "frame-poller",
		MQTTTopicPrefix: "observations",
		MQTTQoS:         0,
		MinIOBucket:     "observations",
		MinIOBasePath:   "recordings",
		RedisKeyPrefix:  "observation:latest:",
		RedisTTL:        time.Minute,
	}
}

// Load layers defaults, an optional YAML file (path argument or
// POLLER_CONFIG) and POLLER_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply command line
// overrides before validating.
func Read(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = env("POLLER_CONFIG", "")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = env("POLLER_HOST", c.Host)
	c.Port = envInt("POLLER_PORT", c.Port)
	c.Mode = Mode(strings.ToLower(env("POLLER_MODE", string(c.Mode))))
	c.Cameras = envInts("POLLER_CAMERAS", c.Cameras)
	c.IndexKey = model.IndexKey(strings.ToLower(env("POLLER_INDEX_KEY", string(c.IndexKey))))
	c.StreamingTopic = env("POLLER_STREAMING_TOPIC", c.StreamingTopic)
	c.MinPollInterval = envDuration("POLLER_MIN_POLL_INTERVAL", c.MinPollInterval)
	c.ErrorBackoff = envDuration("POLLER_ERROR_BACKOFF", c.ErrorBackoff)
	c.MaxBodyBytes = int64(envInt("POLLER_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.HealthInterval = envDuration("POLLER_HEALTH_INTERVAL", c.HealthInterval)
	c.ShutdownTimeout = envDuration("POLLER_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.ProbeListenAddr = env("POLLER_PROBE_ADDR", c.ProbeListenAddr)

	c.TLSEnabled = envBool("POLLER_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("POLLER_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("POLLER_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("POLLER_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("POLLER_TLS_KEY_PATH", c.TLSKeyPath)

	c.LogJSON = envBool("POLLER_LOG_JSON", c.LogJSON)
	c.LogLevel = strings.ToLower(env("POLLER_LOG_LEVEL", c.LogLevel))

	c.Sinks = envList("POLLER_SINKS", c.Sinks)
	c.SinkFormat = strings.ToLower(env("POLLER_SINK_FORMAT", c.SinkFormat))
	c.RecordingID = env("POLLER_RECORDING_ID", c.RecordingID)

	c.GRPCAddr = env("POLLER_GRPC_ADDR", c.GRPCAddr)
	c.GRPCMethod = env("POLLER_GRPC_METHOD", c.GRPCMethod)
	c.GRPCToken = env("POLLER_GRPC_TOKEN", c.GRPCToken)

	c.WSURL = env("POLLER_WS_URL", c.WSURL)
	c.WSToken = env("POLLER_WS_TOKEN", c.WSToken)
	c.WSWriteTimeout = envDuration("POLLER_WS_WRITE_TIMEOUT", c.WSWriteTimeout)
	c.WSPingInterval = envDuration("POLLER_WS_PING_INTERVAL", c.WSPingInterval)

	c.KafkaBrokers = envList("POLLER_KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = env("POLLER_KAFKA_TOPIC", c.KafkaTopic)

	c.MQTTBrokerURL = env("POLLER_MQTT_BROKER_URL", c.MQTTBrokerURL)
	c.MQTTClientID = env("POLLER_MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTTopicPrefix = env("POLLER_MQTT_TOPIC_PREFIX", c.MQTTTopicPrefix)
	c.MQTTQoS = envInt("POLLER_MQTT_QOS", c.MQTTQoS)
	c.MQTTUsername = env("POLLER_MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = env("POLLER_MQTT_PASSWORD", c.MQTTPassword)

	c.InfluxURL = env("POLLER_INFLUX_URL", c.InfluxURL)
	c.InfluxToken = env("POLLER_INFLUX_TOKEN", c.InfluxToken)
	c.InfluxOrg = env("POLLER_INFLUX_ORG", c.InfluxOrg)
	c.InfluxBucket = env("POLLER_INFLUX_BUCKET", c.InfluxBucket)

	c.MinIOEndpoint = env("POLLER_MINIO_ENDPOINT", c.MinIOEndpoint)
	c.MinIOAccessKey = env("POLLER_MINIO_ACCESS_KEY", c.MinIOAccessKey)
	c.MinIOSecretKey = env("POLLER_MINIO_SECRET_KEY", c.MinIOSecretKey)
	c.MinIOUseTLS = envBool("POLLER_MINIO_USE_TLS", c.MinIOUseTLS)
	c.MinIOBucket = env("POLLER_MINIO_BUCKET", c.MinIOBucket)
	c.MinIOBasePath = env("POLLER_MINIO_BASE_PATH", c.MinIOBasePath)

	c.RedisAddr = env("POLLER_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = env("POLLER_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("POLLER_REDIS_DB", c.RedisDB)
	c.RedisKeyPrefix = env("POLLER_REDIS_KEY_PREFIX", c.RedisKeyPrefix)
	c.RedisTTL = envDuration("POLLER_REDIS_TTL", c.RedisTTL)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("POLLER_HOST is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid POLLER_PORT %d", c.Port)
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	switch c.IndexKey {
	case model.IndexSession, model.IndexTimeline:
	default:
		return fmt.Errorf("unsupported index key %q", c.IndexKey)
	}
	switch c.Mode {
	case ModeInference:
	case ModeStreaming:
		if len(c.Cameras) == 0 {
			return errors.New("POLLER_CAMERAS must list at least one camera for streaming mode")
		}
		for _, id := range c.Cameras {
			if id < 0 || id > 255 {
				return fmt.Errorf("camera id %d out of range", id)
			}
		}
	case ModeCustom:
		if len(c.Channels) == 0 {
			return errors.New("custom mode requires channels in the config file")
		}
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	if c.MinPollInterval < 0 || c.ErrorBackoff < 0 {
		return errors.New("poll intervals must be >= 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("POLLER_HEALTH_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("POLLER_SHUTDOWN_TIMEOUT must be > 0")
	}
	if len(c.Sinks) == 0 {
		return errors.New("POLLER_SINKS must name at least one sink")
	}
	switch c.SinkFormat {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported sink format %q", c.SinkFormat)
	}
	for _, s := range c.Sinks {
		if err := c.validateSink(s); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateSink(name string) error {
	switch name {
	case "log", "memory":
	case "grpc":
		if c.GRPCAddr == "" || strings.TrimSpace(c.GRPCMethod) == "" {
			return errors.New("POLLER_GRPC_ADDR and POLLER_GRPC_METHOD are required for grpc sink")
		}
	case "websocket":
		if c.WSURL == "" {
			return errors.New("POLLER_WS_URL is required for websocket sink")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return errors.New("POLLER_KAFKA_BROKERS and POLLER_KAFKA_TOPIC are required for kafka sink")
		}
	case "mqtt":
		if c.MQTTBrokerURL == "" {
			return errors.New("POLLER_MQTT_BROKER_URL is required for mqtt sink")
		}
		if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
			return fmt.Errorf("invalid POLLER_MQTT_QOS %d", c.MQTTQoS)
		}
	case "influx":
		if c.InfluxURL == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
			return errors.New("POLLER_INFLUX_URL, POLLER_INFLUX_ORG and POLLER_INFLUX_BUCKET are required for influx sink")
		}
	case "minio":
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return errors.New("POLLER_MINIO_ENDPOINT and POLLER_MINIO_BUCKET are required for minio sink")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("POLLER_REDIS_ADDR is required for redis sink")
		}
	default:
		return fmt.Errorf("unsupported sink %q", name)
	}
	return nil
}

func (c Config) BaseURL() string {
	return poll.BaseURL(c.Host, c.Port)
}

// Descriptors expands the configured mode into channel descriptors.
func (c Config) Descriptors() []model.ChannelDescriptor {
	base := c.BaseURL()
	switch c.Mode {
	case ModeStreaming:
		out := make([]model.ChannelDescriptor, 0, len(c.Cameras))
		for _, id := range c.Cameras {
			out = append(out, model.ChannelDescriptor{
				Name:        fmt.Sprintf("cam%d", id),
				EndpointURL: poll.StreamingImageURL(base, id),
				Topic:       c.StreamingTopic,
				IndexKey:    c.IndexKey,
			})
		}
		return out
	case ModeCustom:
		out := make([]model.ChannelDescriptor, len(c.Channels))
		for i, d := range c.Channels {
			if d.IndexKey == "" {
				d.IndexKey = c.IndexKey
			}
			out[i] = d
		}
		return out
	default:
		return []model.ChannelDescriptor{
			{Name: "image", EndpointURL: poll.InferenceImageURL(base), Topic: DefaultImageTopic, IndexKey: c.IndexKey},
			{Name: "result", EndpointURL: poll.InferenceResultURL(base), Topic: DefaultResultTopic, IndexKey: c.IndexKey},
		}
	}
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return SplitList(v)
}

func envInts(key string, fallback []int) []int {
	parts := envList(key, nil)
	if parts == nil {
		return fallback
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return fallback
		}
		out = append(out, i)
	}
	return out
}

// SplitList splits a comma or space separated list, dropping empty items.
func SplitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
