package connector

import (
	"fmt"
	"log/slog"

	"github.com/joluben/sigsim/internal/domain"
)

// New resolves a target descriptor to a concrete adapter. Unknown kinds
// and configs that fail validation are rejected with ConfigInvalid
// before any connection is attempted.
//
// Setting "use_circuit_breaker": true in the target config wraps the
// adapter's send path in a circuit breaker. The WebSocket adapter is
// excluded: its recovery loop already carries one.
func New(deviceID string, target *domain.TargetDescriptor, logger *slog.Logger) (Connector, error) {
	var (
		c   Connector
		err error
	)

	switch target.Kind {
	case domain.TargetKindHTTP:
		c, err = NewHTTP(deviceID, target.Config)
	case domain.TargetKindMQTT:
		c, err = NewMQTT(deviceID, target.Config)
	case domain.TargetKindKafka:
		c, err = NewKafka(deviceID, target.Config)
	case domain.TargetKindWebSocket:
		return NewWebSocket(deviceID, target.Config, logger)
	case domain.TargetKindFTP:
		c, err = NewFTP(deviceID, target.Config)
	case domain.TargetKindPubSub:
		c, err = NewPubSub(deviceID, target.Config)
	default:
		return nil, fmt.Errorf("%w: unsupported target kind %q", domain.ErrConfigInvalid, target.Kind)
	}
	if err != nil {
		return nil, err
	}

	if breakerEnabled(target.Config) {
		return WithBreaker(c, DefaultBreakerConfig(c.ID()), logger), nil
	}
	return c, nil
}

func breakerEnabled(raw map[string]any) bool {
	v, ok := raw["use_circuit_breaker"]
	if !ok {
		return false
	}
	enabled, ok := v.(bool)
	return ok && enabled
}
