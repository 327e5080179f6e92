package domain

// Target kind constants.
const (
	TargetKindHTTP      = "http"
	TargetKindMQTT      = "mqtt"
	TargetKindKafka     = "kafka"
	TargetKindWebSocket = "websocket"
	TargetKindFTP       = "ftp"
	TargetKindPubSub    = "pubsub"
)

// Pub/sub provider constants.
const (
	PubSubProviderGCP   = "gcp"
	PubSubProviderAWS   = "aws"
	PubSubProviderAzure = "azure"
)

// Kafka security protocol constants.
const (
	KafkaProtocolPlaintext     = "PLAINTEXT"
	KafkaProtocolSSL           = "SSL"
	KafkaProtocolSASLPlaintext = "SASL_PLAINTEXT"
	KafkaProtocolSASLSSL       = "SASL_SSL"
)

// Kafka SASL mechanism constants.
const (
	KafkaSASLPlain    = "PLAIN"
	KafkaSASLScram256 = "SCRAM-SHA-256"
	KafkaSASLScram512 = "SCRAM-SHA-512"
)

// TargetDescriptor is the immutable target record. Config holds the
// kind-specific connection settings as loaded from the store; the connector
// factory decodes and validates it against the kind's schema.
type TargetDescriptor struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Config map[string]any `json:"config"`
}

// ValidTargetKinds returns the set of supported target kinds.
func ValidTargetKinds() []string {
	return []string{
		TargetKindHTTP,
		TargetKindMQTT,
		TargetKindKafka,
		TargetKindWebSocket,
		TargetKindFTP,
		TargetKindPubSub,
	}
}

// IsValidTargetKind checks whether the given kind is a supported target kind.
func IsValidTargetKind(kind string) bool {
	for _, k := range ValidTargetKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// ValidPubSubProviders returns the set of supported pub/sub providers.
func ValidPubSubProviders() []string {
	return []string{PubSubProviderGCP, PubSubProviderAWS, PubSubProviderAzure}
}

// IsValidPubSubProvider checks whether the given provider is supported.
func IsValidPubSubProvider(provider string) bool {
	for _, p := range ValidPubSubProviders() {
		if p == provider {
			return true
		}
	}
	return false
}
