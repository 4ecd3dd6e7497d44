package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"frame-poller/internal/model"
)

const defaultMaxBodyBytes int64 = 64 << 20

// TransportError covers everything that prevents a reply from being parsed
// into an envelope: dial/protocol failures, unreadable bodies and bodies
// that are not JSON.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("poll %s (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("poll %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var errBodyTooLarge = errors.New("response body exceeds limit")

// Client owns the single HTTP client shared by every channel loop. Polls
// carry no client-side timeout; cancellation comes from the context.
type Client struct {
	logger       *zap.Logger
	http         *http.Client
	userAgent    string
	maxBodyBytes int64
	closeOnce    sync.Once
}

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func NewClient(hc *http.Client, logger *zap.Logger, opts ...Option) *Client {
	if hc == nil {
		hc = NewHTTPClient(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{logger: logger, http: hc, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Poll issues one GET against url and parses the reply. A server-reported
// failure is returned as a Failure envelope with a nil error.
func (c *Client) Poll(ctx context.Context, url string) (model.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Envelope{}, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Envelope{}, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return model.Envelope{}, &TransportError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBodyBytes {
		return model.Envelope{}, &TransportError{URL: url, Status: resp.StatusCode, Err: errBodyTooLarge}
	}

	env, err := model.ParseEnvelope(body)
	if err != nil {
		return model.Envelope{}, &TransportError{URL: url, Status: resp.StatusCode, Err: err}
	}
	return env, nil
}

// Close releases pooled connections. Safe to call more than once; only the
// first call has an effect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.http.CloseIdleConnections()
		c.logger.Debug("http client released")
	})
}
