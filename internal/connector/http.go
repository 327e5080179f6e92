package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/joluben/sigsim/pkg/httpclient"

	"github.com/joluben/sigsim/internal/domain"
)

// HTTPConnector delivers payloads as HTTP requests. GET requests carry
// the payload in the query string; every other method sends a JSON body.
type HTTPConnector struct {
	id        string
	cfg       HTTPConfig
	client    *httpclient.Client
	connected atomic.Bool
}

// NewHTTP validates the target config and builds an HTTP adapter.
func NewHTTP(deviceID string, raw map[string]any) (*HTTPConnector, error) {
	var cfg HTTPConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// Retries belong to the simulator loop; the client must not stack
	// its own on top.
	client := httpclient.New(httpclient.Config{
		Timeout:         cfg.Timeout(),
		MaxRetries:      0,
		MaxConnsPerHost: 4,
	})

	return &HTTPConnector{
		id:     deviceID + "_" + domain.TargetKindHTTP,
		cfg:    cfg,
		client: client,
	}, nil
}

func (c *HTTPConnector) ID() string   { return c.id }
func (c *HTTPConnector) Kind() string { return domain.TargetKindHTTP }

// Connect marks the session usable. HTTP is sessionless; the pooled
// transport dials lazily on first send.
func (c *HTTPConnector) Connect(_ context.Context) error {
	c.connected.Store(true)
	return nil
}

// Disconnect drops pooled connections.
func (c *HTTPConnector) Disconnect(_ context.Context) error {
	c.client.CloseIdleConnections()
	c.connected.Store(false)
	return nil
}

func (c *HTTPConnector) Connected() bool {
	return c.connected.Load()
}

// Send delivers one payload. Success iff the response status is < 400.
// A 5xx response additionally drops the pooled connections so the next
// send dials fresh.
func (c *HTTPConnector) Send(ctx context.Context, payload map[string]any) error {
	ensureTimestamp(payload)

	req, err := c.buildRequest(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil
	}

	targetErr := httpclient.ParseResponseError(resp, "http target")
	if resp.StatusCode >= http.StatusInternalServerError {
		c.client.CloseIdleConnections()
		c.connected.Store(false)
	}
	return fmt.Errorf("%w: %v", domain.ErrSendFailed, targetErr)
}

func (c *HTTPConnector) buildRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	if c.cfg.Method == http.MethodGet {
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for k, v := range payload {
			q.Set(k, queryValue(v))
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.applyHeaders(req)
		return req, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)
	return req, nil
}

func (c *HTTPConnector) applyHeaders(req *http.Request) {
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// queryValue renders a payload value for the query string. Scalars use
// their plain string form; composites fall back to JSON.
func queryValue(v any) string {
	switch v.(type) {
	case string, bool, float64, int, int64:
		return fmt.Sprintf("%v", v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
