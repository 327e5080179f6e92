package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeConnector scripts connect and send outcomes per attempt. Once a
// script is exhausted the constant fallback error applies (nil = success).
type fakeConnector struct {
	mu sync.Mutex

	connectScript []error
	connectErr    error
	sendScript    []error
	sendErr       error
	selfHealing   bool

	connected    bool
	connectCalls int
	sendCalls    int
	disconnects  int
	sent         []map[string]any
}

func (f *fakeConnector) ID() string   { return "dev-001_fake" }
func (f *fakeConnector) Kind() string { return "fake" }

func (f *fakeConnector) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++

	err := f.connectErr
	if len(f.connectScript) > 0 {
		err = f.connectScript[0]
		f.connectScript = f.connectScript[1:]
	}
	if err == nil {
		f.connected = true
	}
	return err
}

func (f *fakeConnector) Send(_ context.Context, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++

	err := f.sendErr
	if len(f.sendScript) > 0 {
		err = f.sendScript[0]
		f.sendScript = f.sendScript[1:]
	}
	if err == nil {
		f.sent = append(f.sent, payload)
	}
	return err
}

func (f *fakeConnector) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeConnector) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnector) ManagesReconnect() bool { return f.selfHealing }

func (f *fakeConnector) connectAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeConnector) delivered() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConnector) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeGenerator returns a copy of its payload, or the scripted error.
type fakeGenerator struct {
	mu      sync.Mutex
	payload map[string]any
	err     error
	calls   int
}

func (g *fakeGenerator) Generate(_ context.Context, _ map[string]any) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[string]any, len(g.payload))
	for k, v := range g.payload {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// logCapture collects emitted entries for event-sequence assertions.
type logCapture struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (c *logCapture) sink(entry domain.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

func (c *logCapture) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.EventType
	}
	return out
}

func (c *logCapture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Message
	}
	return out
}

func testDevice() *domain.DeviceDescriptor {
	return &domain.DeviceDescriptor{
		ID:           "dev-001",
		ProjectID:    "proj-001",
		Name:         "Sensor 1",
		Enabled:      true,
		SendInterval: 1,
	}
}

func newTestSimulator(conn *fakeConnector, gen *fakeGenerator, sink *logCapture) *Simulator {
	return New(Config{
		Device:     testDevice(),
		Generator:  gen,
		Connector:  conn,
		Collector:  metrics.NewCollector(),
		LogSink:    sink.sink,
		Logger:     testLogger(),
		RetryDelay: 5 * time.Millisecond, // Short for tests.
	})
}

// runSimulator launches Run and returns a cancel plus a done channel that
// closes when the loop exits.
func runSimulator(s *Simulator) (context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func awaitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("simulator did not stop")
	}
}

// ─── Happy path ─────────────────────────────────────────────────────────────

func TestSimulator_DeliversAndShutsDownCleanly(t *testing.T) {
	conn := &fakeConnector{}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	sink := &logCapture{}
	s := newTestSimulator(conn, gen, sink)

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "no payload delivered")
	cancel()
	awaitDone(t, done)

	assert.Equal(t, 1, conn.connectAttempts())
	assert.Equal(t, 1, conn.disconnectCount())

	events := sink.events()
	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, domain.EventStarted, events[0])
	assert.Equal(t, domain.EventConnected, events[1])
	assert.Equal(t, domain.EventMessageSent, events[2])
	assert.Equal(t, domain.EventStopped, events[len(events)-1])
	assert.Equal(t, domain.EventDisconnected, events[len(events)-2])

	status := s.Status()
	assert.False(t, status.IsRunning)
	assert.GreaterOrEqual(t, status.MessagesSent, int64(1))
	assert.Zero(t, status.Errors)
	assert.NotNil(t, status.LastMessageAt)
	assert.Nil(t, status.CircuitBreaker)
	assert.Nil(t, status.WebSocketStats)
}

func TestSimulator_InjectsDeviceIdentity(t *testing.T) {
	conn := &fakeConnector{}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	s := newTestSimulator(conn, gen, &logCapture{})

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "no payload delivered")
	cancel()
	awaitDone(t, done)

	payload := conn.delivered()[0]
	assert.Equal(t, "dev-001", payload["device_id"])
	assert.Equal(t, "Sensor 1", payload["device_name"])
	assert.Equal(t, 21.5, payload["temperature"])
}

func TestSimulator_KeepsGeneratorIdentityFields(t *testing.T) {
	conn := &fakeConnector{}
	gen := &fakeGenerator{payload: map[string]any{"device_id": "custom-id"}}
	s := newTestSimulator(conn, gen, &logCapture{})

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "no payload delivered")
	cancel()
	awaitDone(t, done)

	payload := conn.delivered()[0]
	assert.Equal(t, "custom-id", payload["device_id"], "generator-provided identity wins")
	assert.Equal(t, "Sensor 1", payload["device_name"])
}

// ─── Generator faults ───────────────────────────────────────────────────────

func TestSimulator_FallbackPayloadOnGeneratorFault(t *testing.T) {
	conn := &fakeConnector{}
	gen := &fakeGenerator{err: errors.New("template exploded")}
	sink := &logCapture{}
	s := newTestSimulator(conn, gen, sink)

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "fallback payload not delivered")
	cancel()
	awaitDone(t, done)

	payload := conn.delivered()[0]
	assert.Equal(t, "payload_generation_failed", payload["error"])
	assert.Equal(t, "dev-001", payload["device_id"])
	assert.Contains(t, sink.events(), domain.EventWarning)
	assert.GreaterOrEqual(t, gen.callCount(), 1)

	// The tick still delivered, so the failure never counts consecutively.
	status := s.Status()
	assert.GreaterOrEqual(t, status.Errors, int64(1))
	assert.Zero(t, status.ConsecutiveErrors)
	assert.NotEmpty(t, status.LastError)
}

// ─── Send retries ───────────────────────────────────────────────────────────

func TestSimulator_RetriesFailedSendsWithReconnect(t *testing.T) {
	conn := &fakeConnector{
		sendScript: []error{errors.New("broken pipe"), errors.New("broken pipe"), nil},
	}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	sink := &logCapture{}
	s := newTestSimulator(conn, gen, sink)

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "retried payload not delivered")
	cancel()
	awaitDone(t, done)

	// Initial connect plus one reconnect per failed attempt.
	assert.Equal(t, 3, conn.connectAttempts())

	status := s.Status()
	assert.GreaterOrEqual(t, status.MessagesSent, int64(1))
	assert.Equal(t, int64(2), status.TotalRetries)
	assert.Zero(t, status.SendErrors, "a recovered tick is not an error")
}

func TestSimulator_SelfStopsAfterConsecutiveErrors(t *testing.T) {
	conn := &fakeConnector{sendErr: errors.New("target gone")}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	sink := &logCapture{}
	s := New(Config{
		Device:               testDevice(),
		Generator:            gen,
		Connector:            conn,
		Collector:            metrics.NewCollector(),
		LogSink:              sink.sink,
		Logger:               testLogger(),
		MaxRetries:           1,
		RetryDelay:           5 * time.Millisecond,
		MaxConsecutiveErrors: 2,
	})

	_, done := runSimulator(s)
	awaitDone(t, done)

	status := s.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, int64(2), status.ConsecutiveErrors)
	assert.Equal(t, int64(2), status.SendErrors)
	assert.Empty(t, conn.delivered())
	assert.Contains(t, sink.messages(), "Device stopped due to 2 consecutive errors")

	events := sink.events()
	assert.Equal(t, domain.EventStopped, events[len(events)-1])
	assert.False(t, s.LastErrorAt().IsZero())
}

// ─── Connection handling ────────────────────────────────────────────────────

func TestSimulator_ConnectRetriesUntilSuccess(t *testing.T) {
	conn := &fakeConnector{
		connectScript: []error{errors.New("refused"), errors.New("refused"), nil},
	}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	sink := &logCapture{}
	s := newTestSimulator(conn, gen, sink)

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "no payload after connect retries")
	cancel()
	awaitDone(t, done)

	assert.Equal(t, 3, conn.connectAttempts())

	status := s.Status()
	assert.Equal(t, int64(2), status.ConnectionErrors)
	assert.Equal(t, int64(2), status.TotalRetries)
	assert.NotNil(t, status.LastConnectionAttempt)
	assert.Contains(t, sink.events(), domain.EventConnected)
}

func TestSimulator_SelfHealingConnectorGetsSingleAttempt(t *testing.T) {
	conn := &fakeConnector{
		selfHealing:   true,
		connectScript: []error{errors.New("refused")},
	}
	gen := &fakeGenerator{payload: map[string]any{"temperature": 21.5}}
	sink := &logCapture{}
	s := newTestSimulator(conn, gen, sink)

	cancel, done := runSimulator(s)
	waitFor(t, func() bool { return len(conn.delivered()) >= 1 }, "no payload through self-healing adapter")
	cancel()
	awaitDone(t, done)

	// One failed attempt, no outer retry loop; the send path recovers.
	assert.Equal(t, 1, conn.connectAttempts())
	assert.Contains(t, sink.messages(), "Target manages its own reconnection")

	status := s.Status()
	assert.Zero(t, status.TotalRetries)
	assert.GreaterOrEqual(t, status.MessagesSent, int64(1))
}

// ─── Status ─────────────────────────────────────────────────────────────────

type wsStatsConnector struct {
	fakeConnector
}

func (c *wsStatsConnector) Stats() domain.WebSocketStats {
	return domain.WebSocketStats{Connected: true, CircuitState: "closed"}
}

func TestSimulator_StatusExposesAdapterStats(t *testing.T) {
	conn := &wsStatsConnector{}
	gen := &fakeGenerator{payload: map[string]any{}}
	s := New(Config{
		Device:    testDevice(),
		Generator: gen,
		Connector: conn,
		Collector: metrics.NewCollector(),
		Logger:    testLogger(),
	})

	status := s.Status()
	require.NotNil(t, status.WebSocketStats)
	assert.True(t, status.WebSocketStats.Connected)
	assert.Equal(t, "closed", status.WebSocketStats.CircuitState)
	assert.False(t, status.IsRunning)
}

type breakerStatsConnector struct {
	fakeConnector
}

func (c *breakerStatsConnector) BreakerSnapshot() domain.BreakerSnapshot {
	return domain.BreakerSnapshot{State: "OPEN", FailureCount: 7}
}

func TestSimulator_StatusExposesBreakerState(t *testing.T) {
	conn := &breakerStatsConnector{}
	gen := &fakeGenerator{payload: map[string]any{}}
	s := New(Config{
		Device:    testDevice(),
		Generator: gen,
		Connector: conn,
		Collector: metrics.NewCollector(),
		Logger:    testLogger(),
	})

	status := s.Status()
	require.NotNil(t, status.CircuitBreaker)
	assert.Equal(t, "OPEN", status.CircuitBreaker.State)
	assert.Equal(t, 7, status.CircuitBreaker.FailureCount)
	assert.Nil(t, status.WebSocketStats)
}
