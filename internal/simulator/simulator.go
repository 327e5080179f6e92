// Package simulator runs the per-device control loop: generate a payload,
// deliver it through the device's connector, record the outcome, sleep one
// send interval, repeat. One Simulator owns one device and one connector;
// nothing it holds is shared with other simulators.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joluben/sigsim/internal/connector"
	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/generator"
	"github.com/joluben/sigsim/internal/metrics"
)

// Control-loop defaults.
const (
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = time.Second
	DefaultMaxConsecutiveErrors = 10
)

// maxBackoff caps the retry delay so a misconfigured retry budget cannot
// stall a device for minutes.
const maxBackoff = 30 * time.Second

// LogSink receives every runtime event the simulator emits. The sink must
// not block; the project fan-out delivers asynchronously.
type LogSink func(domain.LogEntry)

// Config assembles one device simulator. Zero retry values select the
// package defaults.
type Config struct {
	Device    *domain.DeviceDescriptor
	Generator generator.Generator
	Connector connector.Connector
	Collector *metrics.Collector
	LogSink   LogSink
	Logger    *slog.Logger

	MaxRetries           int
	RetryDelay           time.Duration
	MaxConsecutiveErrors int
}

// Simulator drives one simulated device.
type Simulator struct {
	device    *domain.DeviceDescriptor
	generator generator.Generator
	conn      connector.Connector
	collector *metrics.Collector
	logSink   LogSink
	logger    *slog.Logger

	maxRetries           int
	retryDelay           time.Duration
	maxConsecutiveErrors int

	stats     stats
	running   atomic.Bool
	connected atomic.Bool
}

func New(cfg Config) *Simulator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}

	s := &Simulator{
		device:               cfg.Device,
		generator:            cfg.Generator,
		conn:                 cfg.Connector,
		collector:            cfg.Collector,
		logSink:              cfg.LogSink,
		maxRetries:           cfg.MaxRetries,
		retryDelay:           cfg.RetryDelay,
		maxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		logger: cfg.Logger.With(
			slog.String("device_id", cfg.Device.ID),
			slog.String("connector_id", cfg.Connector.ID()),
		),
	}
	s.collector.RegisterDevice(cfg.Device.ProjectID, cfg.Device.ID, cfg.Device.Name)
	return s
}

// DeviceID returns the simulated device's id.
func (s *Simulator) DeviceID() string { return s.device.ID }

// LastErrorAt returns when the most recent error was recorded; zero when
// the device has not failed yet.
func (s *Simulator) LastErrorAt() time.Time {
	_, at := s.stats.errorInfo()
	return at
}

// Run executes the control loop until ctx is cancelled or the device
// self-stops on its consecutive-error cap. Run never returns an error:
// everything that goes wrong inside the loop is counted and logged.
func (s *Simulator) Run(ctx context.Context) {
	s.running.Store(true)
	s.emit(domain.EventStarted, "Device simulation started", nil)

	defer func() {
		s.running.Store(false)
		s.disconnect()
		s.emit(domain.EventStopped, "Device simulation stopped", nil)
	}()

	if s.managesReconnect() {
		s.emit(domain.EventInfo, "Target manages its own reconnection", nil)
	}
	s.ensureConnection(ctx)

	interval := s.device.EffectiveInterval()
	for ctx.Err() == nil {
		if s.stats.consecutive() >= int64(s.maxConsecutiveErrors) {
			s.emit(domain.EventError,
				fmt.Sprintf("Device stopped due to %d consecutive errors", s.maxConsecutiveErrors), nil)
			s.logger.Error("device self-stopped",
				slog.Int("consecutive_errors", s.maxConsecutiveErrors))
			return
		}

		payload := s.generatePayload(ctx)
		if s.sendWithRetry(ctx, payload) {
			s.stats.recordSuccess()
			s.emit(domain.EventMessageSent,
				fmt.Sprintf("Message sent to %s target", s.conn.Kind()), payload)
		} else if ctx.Err() == nil {
			s.stats.recordTickFailure("failed to send message after retries")
			s.emit(domain.EventError, "Failed to send message to target after retries", nil)
		}

		if err := sleepCtx(ctx, interval); err != nil {
			return
		}
	}
}

// Status snapshots the device for the status API.
func (s *Simulator) Status() domain.DeviceStatus {
	snap := s.stats.snapshot()
	status := domain.DeviceStatus{
		DeviceID:              s.device.ID,
		DeviceName:            s.device.Name,
		IsRunning:             s.running.Load(),
		IsConnected:           s.connected.Load(),
		MessagesSent:          snap.messagesSent,
		Errors:                snap.errors,
		ConnectionErrors:      snap.connectionErrors,
		SendErrors:            snap.sendErrors,
		ConsecutiveErrors:     snap.consecutiveErrors,
		TotalRetries:          snap.totalRetries,
		LastMessageAt:         optionalTime(snap.lastMessageAt),
		LastSuccessAt:         optionalTime(snap.lastSuccessAt),
		LastError:             snap.lastError,
		LastConnectionAttempt: optionalTime(snap.lastConnectionAttempt),
	}
	if reporter, ok := s.conn.(connector.BreakerReporter); ok {
		cb := reporter.BreakerSnapshot()
		status.CircuitBreaker = &cb
	}
	if reporter, ok := s.conn.(interface{ Stats() domain.WebSocketStats }); ok {
		ws := reporter.Stats()
		status.WebSocketStats = &ws
	}
	return status
}

// generatePayload invokes the generator and guarantees device identity
// fields. A generator fault substitutes the fallback payload so the tick
// still delivers something on cadence.
func (s *Simulator) generatePayload(ctx context.Context) map[string]any {
	payload, err := s.generator.Generate(ctx, s.device.Metadata)
	if err != nil {
		s.collector.RecordPayloadFailure(s.device.ProjectID, s.device.ID, s.device.Name)
		msg := fmt.Sprintf("payload generation failed: %v", err)
		s.stats.recordGenerationFailure(msg)
		s.emit(domain.EventWarning, msg+", using fallback payload", nil)
		s.logger.Warn("payload generation failed", slog.String("error", err.Error()))
		return generator.Fallback(s.device.ID, s.device.Name, err.Error())
	}

	if _, ok := payload["device_id"]; !ok {
		payload["device_id"] = s.device.ID
	}
	if _, ok := payload["device_name"]; !ok {
		payload["device_name"] = s.device.Name
	}
	s.collector.RecordGenerated(s.device.ProjectID, s.device.ID, s.device.Name)
	return payload
}

// ensureConnection establishes the connector session. Self-reconnecting
// adapters get a single attempt; everything else retries with exponential
// backoff up to maxRetries+1 attempts.
func (s *Simulator) ensureConnection(ctx context.Context) bool {
	if s.connected.Load() {
		return true
	}

	if s.managesReconnect() {
		s.stats.recordConnectionAttempt()
		if err := s.conn.Connect(ctx); err != nil {
			s.stats.recordConnectionFailure(fmt.Sprintf("connection failed: %v", err))
			s.emit(domain.EventWarning,
				fmt.Sprintf("Connection failed: %v, adapter will keep reconnecting", err), nil)
			return false
		}
		s.connected.Store(true)
		s.emit(domain.EventConnected, fmt.Sprintf("Connected to %s target", s.conn.Kind()), nil)
		return true
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		s.stats.recordConnectionAttempt()
		err := s.conn.Connect(ctx)
		if err == nil {
			s.connected.Store(true)
			s.emit(domain.EventConnected, fmt.Sprintf("Connected to %s target", s.conn.Kind()), nil)
			return true
		}

		s.stats.recordConnectionFailure(fmt.Sprintf("connection attempt %d failed: %v", attempt+1, err))
		if attempt < s.maxRetries {
			s.stats.recordRetry()
			s.emit(domain.EventWarning,
				fmt.Sprintf("Connection attempt %d failed: %v, retrying", attempt+1, err), nil)
			if sleepCtx(ctx, backoff(s.retryDelay, attempt)) != nil {
				return false
			}
		}
	}

	s.emit(domain.EventError,
		fmt.Sprintf("Failed to connect after %d attempts", s.maxRetries+1), nil)
	return false
}

// sendWithRetry delivers one payload, reconnecting between attempts.
// Self-reconnecting adapters get a single attempt since their Send already
// retries internally.
func (s *Simulator) sendWithRetry(ctx context.Context, payload map[string]any) bool {
	if s.managesReconnect() {
		start := time.Now()
		err := s.conn.Send(ctx, payload)
		if err == nil {
			s.recordDelivery(time.Since(start), payload)
			s.connected.Store(true)
			return true
		}
		s.collector.RecordConnectorFailure(s.conn.ID(), s.conn.Kind(), err.Error(), false)
		s.collector.RecordSendFailure(s.device.ProjectID, s.device.ID, s.device.Name)
		s.connected.Store(false)
		return false
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if !s.connected.Load() {
			if !s.ensureConnection(ctx) {
				s.collector.RecordConnectorFailure(s.conn.ID(), s.conn.Kind(), "connection failed", true)
				s.collector.RecordSendFailure(s.device.ProjectID, s.device.ID, s.device.Name)
				return false
			}
		}

		start := time.Now()
		err := s.conn.Send(ctx, payload)
		if err == nil {
			s.recordDelivery(time.Since(start), payload)
			return true
		}

		if attempt < s.maxRetries {
			s.stats.recordRetry()
			s.collector.RecordRetry(s.device.ProjectID, s.device.ID, s.device.Name)
			s.emit(domain.EventWarning,
				fmt.Sprintf("Send attempt %d failed: %v, retrying", attempt+1, err), nil)
			// Force a reconnect before the next attempt.
			s.connected.Store(false)
			if sleepCtx(ctx, backoff(s.retryDelay, attempt)) != nil {
				return false
			}
		} else {
			s.collector.RecordConnectorFailure(s.conn.ID(), s.conn.Kind(), err.Error(), false)
			s.collector.RecordSendFailure(s.device.ProjectID, s.device.ID, s.device.Name)
			s.emit(domain.EventError,
				fmt.Sprintf("Send failed after %d attempts: %v", s.maxRetries+1, err), nil)
		}
	}
	return false
}

func (s *Simulator) recordDelivery(elapsed time.Duration, payload map[string]any) {
	s.collector.RecordConnectorSuccess(s.conn.ID(), s.conn.Kind(), elapsed, payloadSize(payload))
	s.collector.RecordSent(s.device.ProjectID, s.device.ID, s.device.Name)
}

// disconnect is best-effort; failures are logged, never propagated.
func (s *Simulator) disconnect() {
	if !s.connected.Load() && !s.conn.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.conn.Disconnect(ctx); err != nil {
		s.emit(domain.EventWarning, fmt.Sprintf("Error during disconnect: %v", err), nil)
		s.logger.Warn("disconnect failed", slog.String("error", err.Error()))
	} else {
		s.emit(domain.EventDisconnected, "Disconnected from target", nil)
	}
	s.connected.Store(false)
}

func (s *Simulator) emit(eventType, message string, payload map[string]any) {
	if s.logSink == nil {
		return
	}
	entry := domain.NewLogEntry(s.device.ID, s.device.Name, eventType, message)
	entry.Payload = payload
	s.logSink(entry)
}

func (s *Simulator) managesReconnect() bool {
	r, ok := s.conn.(connector.Reconnector)
	return ok && r.ManagesReconnect()
}

// backoff is the nth retry delay, base doubled per attempt up to maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// payloadSize approximates the on-wire byte count for metrics.
func payloadSize(payload map[string]any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(data)
}

// sleepCtx waits d or returns early with the context's error.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
