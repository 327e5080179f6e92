package connector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/pkg/validator"
)

// Defaults applied when a target config omits optional fields.
const (
	defaultHTTPTimeoutSeconds    = 30
	defaultMQTTPort              = 1883
	defaultWSPingIntervalSeconds = 20
	defaultFTPPort               = 21
	defaultSFTPPort              = 22
	defaultRemoteDir             = "/"
)

// decodeConfig maps a raw target config onto a kind-specific struct and
// validates it. All failures are ConfigInvalid: the adapter must not be
// constructed from a config that did not fully validate.
func decodeConfig(raw map[string]any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: encode target config: %v", domain.ErrConfigInvalid, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode target config: %v", domain.ErrConfigInvalid, err)
	}
	if err := validator.Validate(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return nil
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	URL            string            `json:"url" validate:"required,url"`
	Method         string            `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds int               `json:"timeout" validate:"omitempty,min=1,max=300"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.Method == "" {
		c.Method = "POST"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultHTTPTimeoutSeconds
	}
}

// Timeout returns the per-request timeout.
func (c *HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MQTTConfig configures the MQTT adapter.
type MQTTConfig struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Topic    string `json:"topic" validate:"required"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
	QoS      int    `json:"qos" validate:"min=0,max=2"`
}

func (c *MQTTConfig) applyDefaults(connectorID string) {
	if c.Port <= 0 {
		c.Port = defaultMQTTPort
	}
	if c.ClientID == "" {
		c.ClientID = "sigsim-" + connectorID
	}
}

// BrokerURL renders the paho broker address for this config.
func (c *MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// KafkaConfig configures the Kafka adapter.
type KafkaConfig struct {
	BootstrapServers []string `json:"bootstrap_servers" validate:"required,min=1,dive,required"`
	Topic            string   `json:"topic" validate:"required"`
	SecurityProtocol string   `json:"security_protocol" validate:"omitempty,oneof=PLAINTEXT SSL SASL_PLAINTEXT SASL_SSL"`
	SASLMechanism    string   `json:"sasl_mechanism" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	SASLUsername     string   `json:"sasl_username"`
	SASLPassword     string   `json:"sasl_password"`
	Partition        *int     `json:"partition" validate:"omitempty,min=0"`
	KeyStatic        string   `json:"key_static"`
	KeyField         string   `json:"key_field"`
}

func (c *KafkaConfig) applyDefaults() {
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = domain.KafkaProtocolPlaintext
	}
	if c.SASLMechanism == "" &&
		(c.SecurityProtocol == domain.KafkaProtocolSASLPlaintext || c.SecurityProtocol == domain.KafkaProtocolSASLSSL) {
		c.SASLMechanism = domain.KafkaSASLPlain
	}
}

// WebSocketConfig configures the WebSocket adapter.
type WebSocketConfig struct {
	URL                 string            `json:"url" validate:"required,url"`
	Headers             map[string]string `json:"headers"`
	PingIntervalSeconds int               `json:"ping_interval" validate:"omitempty,min=1,max=300"`
}

func (c *WebSocketConfig) applyDefaults() {
	if c.PingIntervalSeconds <= 0 {
		c.PingIntervalSeconds = defaultWSPingIntervalSeconds
	}
}

// PingInterval returns the background ping cadence.
func (c *WebSocketConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// FTPConfig configures the FTP/SFTP adapter.
type FTPConfig struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Path     string `json:"path"`
	UseSFTP  bool   `json:"use_sftp"`
}

func (c *FTPConfig) applyDefaults() {
	if c.Port <= 0 {
		if c.UseSFTP {
			c.Port = defaultSFTPPort
		} else {
			c.Port = defaultFTPPort
		}
	}
	if c.Path == "" {
		c.Path = defaultRemoteDir
	}
}

// PubSubConfig configures the cloud pub/sub adapter. Credential shape
// differs per provider; the adapter reads the keys it needs.
type PubSubConfig struct {
	Provider    string            `json:"provider" validate:"required,oneof=gcp aws azure"`
	Topic       string            `json:"topic" validate:"required"`
	Credentials map[string]string `json:"credentials"`
}

// credential returns a named credential entry, empty when absent.
func (c *PubSubConfig) credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}
