package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"frame-poller/internal/model"
)

// WebSocketClient sends one encoded wire record per message.
type WebSocketClient struct {
	mu sync.Mutex

	logger       *zap.Logger
	url          string
	token        string
	tlsConfig    *tls.Config
	encoder      Encoder
	recordingID  string
	writeTimeout time.Duration
	pingInterval time.Duration
	conn         *websocket.Conn
	pingCancel   context.CancelFunc
}

func NewWebSocketClient(url, token string, tlsCfg *tls.Config, enc Encoder, recordingID string, writeTimeout, pingInterval time.Duration, logger *zap.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	return &WebSocketClient{
		logger:       logger.Named("websocket"),
		url:          url,
		token:        token,
		tlsConfig:    tlsCfg,
		encoder:      enc,
		recordingID:  recordingID,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

func (c *WebSocketClient) SetTimeIndex(context.Context, string, int64) error {
	return nil
}

func (c *WebSocketClient) Write(ctx context.Context, topic string, rec model.Record) error {
	wire, err := NewWireRecord(c.recordingID, topic, rec)
	if err != nil {
		return err
	}
	payload, err := c.encoder.Encode(wire)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(payload); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", zap.Error(err))
		c.dropConnLocked()
		if err2 := c.ensureConnLocked(ctx); err2 != nil {
			return err2
		}
		if err2 := c.writeLocked(payload); err2 != nil {
			return fmt.Errorf("write record retry: %w", err2)
		}
	}
	return nil
}

func (c *WebSocketClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WebSocketClient) writeLocked(payload []byte) error {
	msgType := websocket.BinaryMessage
	if c.encoder.ContentType() == "application/json" {
		msgType = websocket.TextMessage
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(msgType, payload)
}

func (c *WebSocketClient) dropConnLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = c.tlsConfig

	conn, _, err := dialer.DialContext(ctx, c.url, h)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.startPingLoopLocked()
	c.logger.Info("websocket stream connected", zap.String("url", c.url))
	return nil
}

// startPingLoopLocked keeps the connection alive; gorilla allows WriteControl
// concurrently with WriteMessage.
func (c *WebSocketClient) startPingLoopLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel
	go func(conn *websocket.Conn, interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
			}
		}
	}(c.conn, c.pingInterval)
}
