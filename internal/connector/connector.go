// Package connector implements the outbound protocol adapters. One
// connector instance serves exactly one device simulator; instances are
// never shared.
package connector

import (
	"context"
	"time"
)

// Connector is the capability set every protocol adapter implements.
// Connect is idempotent and bounded by a kind-appropriate timeout.
// Send reports nil only when the target acknowledged the payload per
// its protocol semantics. Disconnect is safe on a never-connected or
// already-closed adapter.
type Connector interface {
	// ID returns the logical connector id, "<device_id>_<Kind>".
	ID() string
	// Kind returns the target kind this adapter speaks.
	Kind() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, payload map[string]any) error
	Disconnect(ctx context.Context) error
	// Connected reports whether the adapter currently holds a usable session.
	Connected() bool
}

// Reconnector is implemented by adapters that reestablish their own
// connection in the background. The simulator skips its outer connect
// retry for these and lets the adapter heal itself.
type Reconnector interface {
	ManagesReconnect() bool
}

// connectTimeout bounds every kind-specific session establishment.
const connectTimeout = 10 * time.Second

// ensureTimestamp stamps the payload with the current UTC time when the
// generator did not provide one. HTTP and MQTT framing require it.
func ensureTimestamp(payload map[string]any) {
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
}
