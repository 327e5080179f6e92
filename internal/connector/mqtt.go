package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joluben/sigsim/internal/domain"
)

// publishTimeout bounds the wait on a publish token. The broker must
// acknowledge at the requested QoS within this deadline.
const publishTimeout = 10 * time.Second

// disconnectQuiesce is the grace period handed to paho on disconnect.
const disconnectQuiesce = 250 // milliseconds

// MQTTConnector publishes payloads to a broker topic over a persistent
// session. Publish failures mark the session stale; the next connect
// tears it down and dials fresh.
type MQTTConnector struct {
	id     string
	cfg    MQTTConfig
	client mqtt.Client
	stale  atomic.Bool
}

// NewMQTT validates the target config and builds an MQTT adapter.
func NewMQTT(deviceID string, raw map[string]any) (*MQTTConnector, error) {
	var cfg MQTTConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	id := deviceID + "_" + domain.TargetKindMQTT
	cfg.applyDefaults(id)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	// The simulator owns the reconnect policy; paho must not race it.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return &MQTTConnector{
		id:     id,
		cfg:    cfg,
		client: mqtt.NewClient(opts),
	}, nil
}

func (c *MQTTConnector) ID() string   { return c.id }
func (c *MQTTConnector) Kind() string { return domain.TargetKindMQTT }

// Connect establishes the broker session. Idempotent on a live, healthy
// session; a stale session is torn down and redialed.
func (c *MQTTConnector) Connect(ctx context.Context) error {
	if c.client.IsConnected() && !c.stale.Load() {
		return nil
	}
	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}

	token := c.client.Connect()
	if err := waitToken(ctx, token, connectTimeout); err != nil {
		return fmt.Errorf("%w: mqtt connect %s: %v", domain.ErrConnectionFailed, c.cfg.BrokerURL(), err)
	}

	c.stale.Store(false)
	return nil
}

// Send publishes one payload at the configured QoS and waits for the
// broker acknowledgement.
func (c *MQTTConnector) Send(ctx context.Context, payload map[string]any) error {
	ensureTimestamp(payload)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrSendFailed, err)
	}

	token := c.client.Publish(c.cfg.Topic, byte(c.cfg.QoS), false, data)
	if err := waitToken(ctx, token, publishTimeout); err != nil {
		c.stale.Store(true)
		return fmt.Errorf("%w: mqtt publish %s: %v", domain.ErrSendFailed, c.cfg.Topic, err)
	}

	return nil
}

// Disconnect releases the broker session.
func (c *MQTTConnector) Disconnect(_ context.Context) error {
	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesce)
	}
	c.stale.Store(false)
	return nil
}

func (c *MQTTConnector) Connected() bool {
	return c.client.IsConnected() && !c.stale.Load()
}

// waitToken blocks until the paho token resolves, the deadline passes,
// or the context is cancelled, whichever comes first.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
