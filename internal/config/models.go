package config

import (
	"sync"
	"time"
)

const (
	// CurrentVersion is the only schema version this package reads.
	CurrentVersion = 1

	DefaultPollInterval    = 10 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultDiscoverTimeout = 10 * time.Second

	DefaultTopicPrefix = "miyo"
	DefaultClientID    = "miyo-bridge"
	DefaultQoS         = 1
)

// Registry represents the entire user configuration file.
type Registry struct {
	Version     int              `yaml:"version"`
	Cubes       map[string]*Cube `yaml:"cubes,omitempty"` // Keyed by user-chosen cube name
	MQTT        *MQTTConfig      `yaml:"mqtt,omitempty"`
	Metrics     *MetricsConfig   `yaml:"metrics,omitempty"`
	Preferences *Preferences     `yaml:"preferences,omitempty"`

	mu   sync.Mutex
	path string
}

// Cube holds the connection settings for one MIYO cube.
type Cube struct {
	Host           string    `yaml:"host"`                      // IP address or hostname
	Token          string    `yaml:"token,omitempty"`           // API key obtained by pairing
	PollInterval   int       `yaml:"poll_interval,omitempty"`   // Seconds between poll cycles
	RequestTimeout int       `yaml:"request_timeout,omitempty"` // HTTP request timeout in seconds
	LastSeen       time.Time `yaml:"last_seen,omitempty"`
}

// MQTTConfig configures the optional MQTT publisher and command subscriber.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`              // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id,omitempty"` // A random suffix is appended
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	QoS         int    `yaml:"qos"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"` // e.g. ":9108"; empty disables the endpoint
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	DiscoverTimeout int `yaml:"discover_timeout"` // mDNS discovery timeout in seconds
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Cubes:       make(map[string]*Cube),
		MQTT:        defaultMQTT(),
		Metrics:     &MetricsConfig{},
		Preferences: defaultPreferences(),
	}
}

func defaultMQTT() *MQTTConfig {
	return &MQTTConfig{
		Broker:      "tcp://localhost:1883",
		ClientID:    DefaultClientID,
		TopicPrefix: DefaultTopicPrefix,
		QoS:         DefaultQoS,
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{DiscoverTimeout: int(DefaultDiscoverTimeout / time.Second)}
}

// PollIntervalDuration returns the poll interval, defaulting to 10s.
func (c *Cube) PollIntervalDuration() time.Duration {
	return seconds(c.PollInterval, DefaultPollInterval)
}

// RequestTimeoutDuration returns the HTTP timeout, defaulting to 5s.
func (c *Cube) RequestTimeoutDuration() time.Duration {
	return seconds(c.RequestTimeout, DefaultRequestTimeout)
}

// DiscoverTimeoutDuration returns the mDNS browse timeout, defaulting to 10s.
func (p *Preferences) DiscoverTimeoutDuration() time.Duration {
	if p == nil {
		return DefaultDiscoverTimeout
	}
	return seconds(p.DiscoverTimeout, DefaultDiscoverTimeout)
}

// Prefix returns the MQTT topic prefix.
func (m *MQTTConfig) Prefix() string {
	if m == nil || m.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return m.TopicPrefix
}

// Active reports whether the MQTT integration should be started.
func (m *MQTTConfig) Active() bool {
	return m != nil && m.Enabled
}

// Active reports whether the metrics endpoint should be served.
func (m *MetricsConfig) Active() bool {
	return m != nil && m.Listen != ""
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}
