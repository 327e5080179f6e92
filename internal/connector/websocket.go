package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joluben/sigsim/internal/domain"
)

const (
	// wsBaseDelay and wsMaxDelay bound the exponential backoff between
	// send-triggered reconnect attempts.
	wsBaseDelay = 1 * time.Second
	wsMaxDelay  = 60 * time.Second

	// wsMaxRetries caps send-triggered reconnects between two successful
	// connects.
	wsMaxRetries = 5

	// wsWriteTimeout is the deadline for a single frame or control write.
	wsWriteTimeout = 10 * time.Second

	wsBreakerThreshold = 3
	wsBreakerRecovery  = 30 * time.Second
)

var errSocketNotConnected = errors.New("websocket not connected")

// WebSocketConnector holds a long-lived connection and manages its own
// recovery: dials go through an internal circuit breaker, a background
// monitor pings the socket and redials when the peer goes quiet, and a
// failed send triggers a single reconnect-and-retry. The simulator's
// outer connect-retry loop is skipped for this adapter.
type WebSocketConnector struct {
	id      string
	cfg     WebSocketConfig
	logger  *slog.Logger
	breaker *Breaker

	mu          sync.Mutex
	conn        *websocket.Conn
	monitorStop chan struct{}
	closed      bool

	retries atomic.Int64
}

// NewWebSocket validates the target config and builds a WebSocket adapter.
func NewWebSocket(deviceID string, raw map[string]any, logger *slog.Logger) (*WebSocketConnector, error) {
	var cfg WebSocketConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	id := deviceID + "_" + domain.TargetKindWebSocket
	return &WebSocketConnector{
		id:     id,
		cfg:    cfg,
		logger: logger,
		breaker: NewBreaker(BreakerConfig{
			Name:             id,
			FailureThreshold: wsBreakerThreshold,
			RecoveryTimeout:  wsBreakerRecovery,
		}, logger),
	}, nil
}

func (c *WebSocketConnector) ID() string   { return c.id }
func (c *WebSocketConnector) Kind() string { return domain.TargetKindWebSocket }

// ManagesReconnect reports that recovery is handled inside the adapter.
func (c *WebSocketConnector) ManagesReconnect() bool { return true }

// Connect dials the endpoint and starts the ping monitor.
func (c *WebSocketConnector) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("%w: websocket %s: %v", domain.ErrConnectionFailed, c.cfg.URL, err)
	}
	c.startMonitor()
	return nil
}

// Send writes one text frame. A write error leaves the socket unusable,
// so the adapter tears it down, redials once with backoff, and retries
// the frame a single time.
func (c *WebSocketConnector) Send(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrSendFailed, err)
	}

	werr := c.writeFrame(data)
	if werr == nil {
		return nil
	}

	c.teardown()
	if rerr := c.redial(ctx); rerr != nil {
		return fmt.Errorf("%w: websocket send: %v (reconnect: %v)", domain.ErrSendFailed, werr, rerr)
	}
	if werr = c.writeFrame(data); werr != nil {
		c.teardown()
		return fmt.Errorf("%w: websocket send after reconnect: %v", domain.ErrSendFailed, werr)
	}
	return nil
}

// Disconnect stops the monitor and closes the connection with a normal
// closure frame.
func (c *WebSocketConnector) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.monitorStop != nil {
		close(c.monitorStop)
		c.monitorStop = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

func (c *WebSocketConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Stats exposes the adapter's recovery state for status endpoints.
func (c *WebSocketConnector) Stats() domain.WebSocketStats {
	snap := c.breaker.Snapshot()

	c.mu.Lock()
	connected := c.conn != nil
	monitorActive := c.monitorStop != nil
	c.mu.Unlock()

	return domain.WebSocketStats{
		Connected:           connected,
		CircuitState:        snap.State,
		RetryCount:          int(c.retries.Load()),
		FailureCount:        snap.FailureCount,
		LastFailureTime:     snap.LastFailure,
		AutoReconnectActive: monitorActive,
	}
}

// dial opens a connection through the circuit breaker and installs it.
func (c *WebSocketConnector) dial(ctx context.Context) error {
	return c.breaker.Execute(func() error {
		dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
		header := http.Header{}
		for k, v := range c.cfg.Headers {
			header.Set(k, v)
		}

		conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
		}
		c.install(conn)
		return nil
	})
}

// redial is the send-triggered reconnect: it backs off exponentially on
// the retry counter and fails once the retry budget is spent. The
// counter resets on any successful connect.
func (c *WebSocketConnector) redial(ctx context.Context) error {
	attempt := c.retries.Load()
	if attempt >= wsMaxRetries {
		return fmt.Errorf("reconnect retries exhausted after %d attempts", wsMaxRetries)
	}
	c.retries.Add(1)

	timer := time.NewTimer(wsBackoff(int(attempt)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	return c.dial(ctx)
}

func (c *WebSocketConnector) install(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.retries.Store(0)
}

func (c *WebSocketConnector) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *WebSocketConnector) writeFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errSocketNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketConnector) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	c.monitorStop = stop
	go c.runMonitor(stop)
}

// runMonitor pings the socket at the configured interval. A failed ping
// marks the connection dead and triggers a redial through the breaker.
func (c *WebSocketConnector) runMonitor(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err == nil {
				continue
			}
			c.logger.Warn("websocket ping failed, reconnecting",
				slog.String("connector_id", c.id),
				slog.String("url", c.cfg.URL),
			)
			c.teardown()
			if err := c.dial(context.Background()); err != nil {
				c.logger.Warn("websocket reconnect failed",
					slog.String("connector_id", c.id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (c *WebSocketConnector) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errSocketNotConnected
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// wsBackoff returns the delay before the nth reconnect attempt.
func wsBackoff(attempt int) time.Duration {
	delay := wsBaseDelay << attempt
	if delay > wsMaxDelay {
		return wsMaxDelay
	}
	return delay
}
