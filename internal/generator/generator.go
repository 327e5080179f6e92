// Package generator produces synthetic device payloads. A generator is
// built once from a payload descriptor and invoked on every simulator
// tick; implementations are side-effect-free with respect to runtime
// state and safe for concurrent use.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/joluben/sigsim/internal/domain"
)

// Generator produces one payload per tick from the device's metadata.
type Generator interface {
	Generate(ctx context.Context, deviceMetadata map[string]any) (map[string]any, error)
}

// New constructs the generator described by a payload descriptor.
func New(p *domain.PayloadDescriptor) (Generator, error) {
	switch p.Kind {
	case domain.PayloadKindSchema:
		return NewSchema(p.Schema)
	case domain.PayloadKindScript:
		return NewScript(p.Script)
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %q", domain.ErrConfigInvalid, p.Kind)
	}
}

// Fallback builds the payload sent in place of a failed generation, so a
// device keeps emitting on its cadence even with a broken template.
func Fallback(deviceID, deviceName, message string) map[string]any {
	return map[string]any{
		"device_id":   deviceID,
		"device_name": deviceName,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"error":       "payload_generation_failed",
		"message":     message,
	}
}

const randomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomString returns n charset characters. Uses math/rand: payload
// values are synthetic telemetry, not secrets.
func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randomCharset[rand.IntN(len(randomCharset))] // #nosec G404
	}
	return string(b)
}
