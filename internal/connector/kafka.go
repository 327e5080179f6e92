package connector

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/joluben/sigsim/internal/domain"
)

// KafkaConnector produces payloads to a topic with send-and-wait
// semantics: every write blocks until the cluster acknowledges at
// RequiredAcks=all.
type KafkaConnector struct {
	id        string
	cfg       KafkaConfig
	writer    *kafka.Writer
	connected atomic.Bool
}

// NewKafka validates the target config and builds a Kafka adapter.
func NewKafka(deviceID string, raw map[string]any) (*KafkaConnector, error) {
	var cfg KafkaConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if cfg.KeyStatic != "" && cfg.KeyField != "" {
		return nil, fmt.Errorf("%w: key_static and key_field are mutually exclusive", domain.ErrConfigInvalid)
	}

	transport, err := buildKafkaTransport(cfg)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.BootstrapServers...),
		Topic:        cfg.Topic,
		Balancer:     balancerFor(cfg),
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	if transport != nil {
		w.Transport = transport
	}

	return &KafkaConnector{
		id:     deviceID + "_" + domain.TargetKindKafka,
		cfg:    cfg,
		writer: w,
	}, nil
}

func (c *KafkaConnector) ID() string   { return c.id }
func (c *KafkaConnector) Kind() string { return domain.TargetKindKafka }

// Connect probes broker reachability. The writer itself dials lazily,
// so this is the only place an unreachable cluster surfaces before the
// first send.
func (c *KafkaConnector) Connect(ctx context.Context) error {
	if err := pingBrokers(ctx, c.cfg.BootstrapServers); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	c.connected.Store(true)
	return nil
}

// Send produces one record and waits for the cluster acknowledgement.
func (c *KafkaConnector) Send(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrSendFailed, err)
	}

	msg := kafka.Message{
		Key:   c.messageKey(payload),
		Value: data,
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka publish %s: %v", domain.ErrSendFailed, c.cfg.Topic, err)
	}
	return nil
}

// Disconnect flushes and closes the writer.
func (c *KafkaConnector) Disconnect(_ context.Context) error {
	c.connected.Store(false)
	if err := c.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (c *KafkaConnector) Connected() bool { return c.connected.Load() }

// messageKey resolves the record key: the static key wins, else the
// named payload field in string form, else no key.
func (c *KafkaConnector) messageKey(payload map[string]any) []byte {
	if c.cfg.KeyStatic != "" {
		return []byte(c.cfg.KeyStatic)
	}
	if c.cfg.KeyField != "" {
		if v, ok := payload[c.cfg.KeyField]; ok {
			if s, ok := v.(string); ok {
				return []byte(s)
			}
			return fmt.Appendf(nil, "%v", v)
		}
	}
	return nil
}

// balancerFor picks the partitioning strategy: a pinned partition when
// configured, key hashing when a key source is set, least-bytes
// otherwise.
func balancerFor(cfg KafkaConfig) kafka.Balancer {
	if cfg.Partition != nil {
		return fixedPartition(*cfg.Partition)
	}
	if cfg.KeyStatic != "" || cfg.KeyField != "" {
		return &kafka.Hash{}
	}
	return &kafka.LeastBytes{}
}

// fixedPartition routes every record to one partition.
type fixedPartition int

func (p fixedPartition) Balance(_ kafka.Message, _ ...int) int { return int(p) }

func buildKafkaTransport(cfg KafkaConfig) (*kafka.Transport, error) {
	if cfg.SecurityProtocol == domain.KafkaProtocolPlaintext {
		return nil, nil
	}

	transport := &kafka.Transport{}
	if cfg.SecurityProtocol == domain.KafkaProtocolSSL || cfg.SecurityProtocol == domain.KafkaProtocolSASLSSL {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SecurityProtocol == domain.KafkaProtocolSASLPlaintext || cfg.SecurityProtocol == domain.KafkaProtocolSASLSSL {
		mechanism, err := saslMechanism(cfg)
		if err != nil {
			return nil, err
		}
		transport.SASL = mechanism
	}
	return transport, nil
}

func saslMechanism(cfg KafkaConfig) (sasl.Mechanism, error) {
	switch cfg.SASLMechanism {
	case domain.KafkaSASLPlain:
		return plain.Mechanism{Username: cfg.SASLUsername, Password: cfg.SASLPassword}, nil
	case domain.KafkaSASLScram256:
		m, err := scram.Mechanism(scram.SHA256, cfg.SASLUsername, cfg.SASLPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: scram mechanism: %v", domain.ErrConfigInvalid, err)
		}
		return m, nil
	case domain.KafkaSASLScram512:
		m, err := scram.Mechanism(scram.SHA512, cfg.SASLUsername, cfg.SASLPassword)
		if err != nil {
			return nil, fmt.Errorf("%w: scram mechanism: %v", domain.ErrConfigInvalid, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unsupported sasl mechanism %q", domain.ErrConfigInvalid, cfg.SASLMechanism)
	}
}

// pingBrokers dials the given brokers and returns nil if at least one
// answers a metadata probe.
func pingBrokers(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}
