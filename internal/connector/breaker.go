package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/joluben/sigsim/internal/domain"
)

// BreakerConfig holds circuit breaker tuning for a connector send path.
type BreakerConfig struct {
	// Name identifies this breaker (used in metrics and logs).
	Name string

	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing a probe.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the standard connector breaker tuning.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

var breakerStateGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "connector_circuit_breaker_state",
		Help: "Current state of a connector circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"connector_id"},
)

func init() {
	prometheus.MustRegister(breakerStateGauge)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// StateName renders a gobreaker state in the form surfaced by status
// endpoints.
func StateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	case gobreaker.StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Breaker guards a send path. It opens after FailureThreshold consecutive
// failures, stays open for RecoveryTimeout, then admits a single probe.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[struct{}]
	name string

	mu          sync.Mutex
	failures    int
	lastFailure *time.Time
}

// NewBreaker builds a consecutive-failure circuit breaker.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", StateName(from)),
				slog.String("to", StateName(to)),
			)
			breakerStateGauge.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	breakerStateGauge.WithLabelValues(cfg.Name).Set(0)

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
		name: cfg.Name,
	}
}

// Execute runs fn through the breaker. While the circuit is open calls
// short-circuit with ErrCircuitOpen and fn is never invoked.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", domain.ErrCircuitOpen, b.name)
		}
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure() {
	now := time.Now().UTC()
	b.mu.Lock()
	b.failures++
	b.lastFailure = &now
	b.mu.Unlock()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Snapshot returns the observable breaker state.
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var last *time.Time
	if b.lastFailure != nil {
		t := *b.lastFailure
		last = &t
	}
	return domain.BreakerSnapshot{
		State:        StateName(b.cb.State()),
		FailureCount: b.failures,
		LastFailure:  last,
	}
}

// BreakerReporter is implemented by connectors that expose breaker state.
type BreakerReporter interface {
	BreakerSnapshot() domain.BreakerSnapshot
}

// WithBreaker wraps a connector so sends short-circuit while the target
// keeps failing. Connect and Disconnect pass through unguarded.
func WithBreaker(c Connector, cfg BreakerConfig, logger *slog.Logger) Connector {
	return &breakerConnector{
		Connector: c,
		breaker:   NewBreaker(cfg, logger),
	}
}

type breakerConnector struct {
	Connector
	breaker *Breaker
}

func (b *breakerConnector) Send(ctx context.Context, payload map[string]any) error {
	return b.breaker.Execute(func() error {
		return b.Connector.Send(ctx, payload)
	})
}

func (b *breakerConnector) BreakerSnapshot() domain.BreakerSnapshot {
	return b.breaker.Snapshot()
}
