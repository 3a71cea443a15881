package config

import (
	"fmt"
	"os"
	"time"

	"github.com/xiaonanln/wpeplayback/netlock"
	"github.com/xiaonanln/wpeplayback/playback"
	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/postgres"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMQTTPort = 8883
	DefaultMQTTQoS  = 1
)

// PlaybackConfig tunes the playback. Command line flags override it.
type PlaybackConfig struct {
	MaxInflightMessages    int     `yaml:"max_inflight_messages"`
	TimeoutS               float64 `yaml:"timeout_s"` // negative waits forever
	ResetTimeoutOnProgress bool    `yaml:"reset_timeout_on_progress"`
	StrictPublish          bool    `yaml:"strict_publish"`
}

// EtcdConfig enables the per-network lock.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
	LockTTLS  int      `yaml:"lock_ttl_s"`
}

// StatusConfig enables the status server.
type StatusConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// Config is the root configuration. JSON files are accepted as well since
// JSON is valid YAML.
type Config struct {
	MQTTHostname   string `yaml:"wpe_mqtt_hostname"`
	MQTTPort       int    `yaml:"wpe_mqtt_port"`
	MQTTUsername   string `yaml:"wpe_mqtt_username"`
	MQTTPassword   string `yaml:"wpe_mqtt_password"`
	MQTTCACerts    string `yaml:"wpe_mqtt_ca_certs"`
	MQTTCertFile   string `yaml:"wpe_mqtt_certfile"`
	MQTTKeyFile    string `yaml:"wpe_mqtt_keyfile"`
	MQTTCiphers    string `yaml:"wpe_mqtt_ciphers"`
	MQTTDisableTLS bool   `yaml:"wpe_mqtt_disable_tls"`
	MQTTQoS        *int   `yaml:"wpe_mqtt_qos"`

	Playback PlaybackConfig   `yaml:"playback"`
	Postgres *postgres.Config `yaml:"postgres"` // Optional: store locations in PostgreSQL
	Etcd     *EtcdConfig      `yaml:"etcd"`     // Optional: lock networks in etcd
	Status   *StatusConfig    `yaml:"status"`   // Optional: serve health and metrics
}

// LoadConfig loads configuration from a YAML or JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTTPort == 0 {
		c.MQTTPort = DefaultMQTTPort
	}
	if c.MQTTQoS == nil {
		qos := DefaultMQTTQoS
		c.MQTTQoS = &qos
	}
	if c.Playback.MaxInflightMessages == 0 {
		c.Playback.MaxInflightMessages = playback.DefaultMaxInflight
	}
	if c.Playback.TimeoutS == 0 {
		c.Playback.TimeoutS = playback.DefaultTimeout.Seconds()
	}
	if c.Postgres != nil {
		def := postgres.DefaultConfig()
		if c.Postgres.Host == "" {
			c.Postgres.Host = def.Host
		}
		if c.Postgres.Port == 0 {
			c.Postgres.Port = def.Port
		}
		if c.Postgres.User == "" {
			c.Postgres.User = def.User
		}
		if c.Postgres.Database == "" {
			c.Postgres.Database = def.Database
		}
	}
	if c.Etcd != nil {
		if c.Etcd.Prefix == "" {
			c.Etcd.Prefix = netlock.DefaultPrefix
		}
		if c.Etcd.LockTTLS == 0 {
			c.Etcd.LockTTLS = netlock.DefaultSessionTTL
		}
	}
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if c.MQTTHostname == "" {
		return fmt.Errorf("wpe_mqtt_hostname is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("wpe_mqtt_port %d is out of range", c.MQTTPort)
	}
	if c.MQTTPassword == "" {
		return fmt.Errorf("wpe_mqtt_password is required")
	}
	if (c.MQTTCertFile == "") != (c.MQTTKeyFile == "") {
		return fmt.Errorf("wpe_mqtt_certfile and wpe_mqtt_keyfile must be given together")
	}
	if c.MQTTQoS != nil && (*c.MQTTQoS < 0 || *c.MQTTQoS > 2) {
		return fmt.Errorf("wpe_mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
	}

	if c.Playback.MaxInflightMessages < 0 {
		return fmt.Errorf("playback max_inflight_messages must be positive, got %d", c.Playback.MaxInflightMessages)
	}

	if c.Postgres != nil {
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if c.Etcd != nil {
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("at least one etcd endpoint is required")
		}
		if c.Etcd.LockTTLS < 0 {
			return fmt.Errorf("etcd lock_ttl_s must be positive, got %d", c.Etcd.LockTTLS)
		}
	}
	if c.Status != nil && c.Status.GRPCAddr == "" && c.Status.HTTPAddr == "" {
		return fmt.Errorf("status requires grpc_addr or http_addr")
	}
	return nil
}

// Timeout converts timeout_s to the playback timeout. A negative value is
// kept negative, which disables the timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Playback.TimeoutS * float64(time.Second))
}

// MQTTOptions returns the broker connection settings for clientID.
func (c *Config) MQTTOptions(clientID string) (transport.MQTTOptions, error) {
	opts := transport.MQTTOptions{
		Hostname: c.MQTTHostname,
		Port:     c.MQTTPort,
		Username: c.MQTTUsername,
		Password: c.MQTTPassword,
		ClientID: clientID,
		QoS:      DefaultMQTTQoS,
	}
	if c.MQTTQoS != nil {
		opts.QoS = byte(*c.MQTTQoS)
	}
	if c.MQTTDisableTLS {
		return opts, nil
	}

	tlsConfig, err := transport.BuildTLSConfig(transport.TLSOptions{
		CACertsFile: c.MQTTCACerts,
		CertFile:    c.MQTTCertFile,
		KeyFile:     c.MQTTKeyFile,
		Ciphers:     c.MQTTCiphers,
	})
	if err != nil {
		return opts, err
	}
	opts.TLS = tlsConfig
	return opts, nil
}

// PlaybackOptions returns the orchestrator options described by the playback section.
func (c *Config) PlaybackOptions() playback.Options {
	return playback.Options{
		MaxInflight:            c.Playback.MaxInflightMessages,
		Timeout:                c.Timeout(),
		ResetTimeoutOnProgress: c.Playback.ResetTimeoutOnProgress,
		StrictPublish:          c.Playback.StrictPublish,
	}
}
