package connector

import (
	"fmt"

	"github.com/joluben/sigsim/internal/domain"
)

// SchemaField describes one configuration field of a target kind, for
// clients that render connector forms.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Description string `json:"description,omitempty"`
}

// ConfigSchema is the field-level description of one kind's target config.
type ConfigSchema struct {
	TargetType string        `json:"target_type"`
	Fields     []SchemaField `json:"fields"`
}

// breakerField is accepted by every kind whose adapter can be wrapped in a
// circuit breaker. The WebSocket adapter carries its own.
var breakerField = SchemaField{
	Name:        "use_circuit_breaker",
	Type:        "boolean",
	Default:     false,
	Description: "Wrap the send path in a circuit breaker",
}

// SchemaFor returns the config schema of a target kind. Unknown kinds are
// rejected with ConfigInvalid.
func SchemaFor(kind string) (*ConfigSchema, error) {
	switch kind {
	case domain.TargetKindHTTP:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "url", Type: "string", Required: true, Description: "Endpoint URL"},
				{Name: "method", Type: "string", Default: "POST",
					Enum: []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
				{Name: "headers", Type: "object", Description: "Extra request headers"},
				{Name: "timeout", Type: "integer", Default: defaultHTTPTimeoutSeconds,
					Description: "Request timeout in seconds"},
				breakerField,
			},
		}, nil
	case domain.TargetKindMQTT:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "host", Type: "string", Required: true, Description: "Broker host"},
				{Name: "port", Type: "integer", Default: defaultMQTTPort},
				{Name: "topic", Type: "string", Required: true},
				{Name: "client_id", Type: "string", Description: "Defaults to a per-device id"},
				{Name: "username", Type: "string"},
				{Name: "password", Type: "string"},
				{Name: "use_tls", Type: "boolean", Default: false},
				{Name: "qos", Type: "integer", Default: 0, Enum: []any{0, 1, 2}},
				breakerField,
			},
		}, nil
	case domain.TargetKindKafka:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "bootstrap_servers", Type: "array", Required: true,
					Description: "Broker addresses host:port"},
				{Name: "topic", Type: "string", Required: true},
				{Name: "security_protocol", Type: "string", Default: domain.KafkaProtocolPlaintext,
					Enum: []any{
						domain.KafkaProtocolPlaintext, domain.KafkaProtocolSSL,
						domain.KafkaProtocolSASLPlaintext, domain.KafkaProtocolSASLSSL,
					}},
				{Name: "sasl_mechanism", Type: "string",
					Enum: []any{domain.KafkaSASLPlain, domain.KafkaSASLScram256, domain.KafkaSASLScram512}},
				{Name: "sasl_username", Type: "string"},
				{Name: "sasl_password", Type: "string"},
				{Name: "partition", Type: "integer", Description: "Fixed partition; omit for balanced writes"},
				{Name: "key_static", Type: "string", Description: "Constant message key"},
				{Name: "key_field", Type: "string", Description: "Payload field used as message key"},
				breakerField,
			},
		}, nil
	case domain.TargetKindWebSocket:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "url", Type: "string", Required: true, Description: "ws:// or wss:// endpoint"},
				{Name: "headers", Type: "object", Description: "Extra handshake headers"},
				{Name: "ping_interval", Type: "integer", Default: defaultWSPingIntervalSeconds,
					Description: "Keepalive ping cadence in seconds"},
			},
		}, nil
	case domain.TargetKindFTP:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "host", Type: "string", Required: true},
				{Name: "port", Type: "integer", Default: defaultFTPPort,
					Description: "Defaults to 21, or 22 with use_sftp"},
				{Name: "username", Type: "string", Required: true},
				{Name: "password", Type: "string", Required: true},
				{Name: "path", Type: "string", Default: defaultRemoteDir,
					Description: "Remote upload directory"},
				{Name: "use_sftp", Type: "boolean", Default: false},
				breakerField,
			},
		}, nil
	case domain.TargetKindPubSub:
		return &ConfigSchema{
			TargetType: kind,
			Fields: []SchemaField{
				{Name: "provider", Type: "string", Required: true,
					Enum: []any{domain.PubSubProviderGCP, domain.PubSubProviderAWS, domain.PubSubProviderAzure}},
				{Name: "topic", Type: "string", Required: true,
					Description: "Topic name, SNS topic ARN, or Service Bus queue"},
				{Name: "credentials", Type: "object",
					Description: "Provider credentials, for example project_id or connection_string"},
				breakerField,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported target kind %q", domain.ErrConfigInvalid, kind)
	}
}

// Schemas returns every supported kind's config schema keyed by kind.
func Schemas() map[string]*ConfigSchema {
	out := make(map[string]*ConfigSchema)
	for _, kind := range domain.ValidTargetKinds() {
		schema, err := SchemaFor(kind)
		if err != nil {
			continue
		}
		out[kind] = schema
	}
	return out
}
