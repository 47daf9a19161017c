package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when KNXROUTER_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the router.
// Values are loaded from YAML and can be overridden by environment variables.
type Config struct {
	Router    RouterConfig    `yaml:"router"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RouterConfig contains the KNXnet/IP routing engine settings.
type RouterConfig struct {
	// ID names this router instance in MQTT topics and telemetry.
	ID string `yaml:"id"`

	// Interface pins the multicast socket to a named interface.
	// Empty selects the first up, multicast-capable interface with IPv4.
	Interface string `yaml:"interface"`

	MulticastAddress string `yaml:"multicast_address"`
	Port             int    `yaml:"port"`

	// IndividualAddress is the router's own address, "area.line.0".
	// Empty leaves the address unset.
	IndividualAddress string `yaml:"individual_address"`

	// RoutingMode is one of "filter", "route_all" or "block".
	RoutingMode string `yaml:"routing_mode"`

	// FilterTable lists group addresses ("main/middle/sub") passed in filter mode.
	FilterTable []string `yaml:"filter_table"`

	BusyWaitTimeMS int `yaml:"busy_wait_time_ms"`

	// HealthInterval is how often the bridge publishes health, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Sizes are in megabytes, ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern KNXROUTER_SECTION_KEY,
// for example KNXROUTER_ROUTER_INTERFACE or KNXROUTER_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns KNXROUTER_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if v := os.Getenv("KNXROUTER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func defaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			ID:               "router-001",
			MulticastAddress: "224.0.23.12",
			Port:             3671,
			RoutingMode:      "route_all",
			BusyWaitTimeMS:   100,
			HealthInterval:   30,
		},
		Database: DatabaseConfig{
			Path:        "./data/knxrouter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxrouter",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/knxrouter.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
	}
}

// envOverrides maps KNXROUTER_* variables onto config fields. Integers
// that fail to parse are ignored.
func envOverrides(cfg *Config) map[string]func(string) {
	str := func(dst *string) func(string) { return func(v string) { *dst = v } }
	num := func(dst *int) func(string) {
		return func(v string) {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(dst *bool) func(string) { return func(v string) { *dst = v == "true" || v == "1" } }

	return map[string]func(string){
		"KNXROUTER_ROUTER_ID":                 str(&cfg.Router.ID),
		"KNXROUTER_ROUTER_INTERFACE":          str(&cfg.Router.Interface),
		"KNXROUTER_ROUTER_MULTICAST_ADDRESS":  str(&cfg.Router.MulticastAddress),
		"KNXROUTER_ROUTER_INDIVIDUAL_ADDRESS": str(&cfg.Router.IndividualAddress),
		"KNXROUTER_ROUTER_ROUTING_MODE":       str(&cfg.Router.RoutingMode),
		"KNXROUTER_ROUTER_PORT":               num(&cfg.Router.Port),
		"KNXROUTER_DATABASE_PATH":             str(&cfg.Database.Path),
		"KNXROUTER_MQTT_ENABLED":              flag(&cfg.MQTT.Enabled),
		"KNXROUTER_MQTT_HOST":                 str(&cfg.MQTT.Broker.Host),
		"KNXROUTER_MQTT_USERNAME":             str(&cfg.MQTT.Auth.Username),
		"KNXROUTER_MQTT_PASSWORD":             str(&cfg.MQTT.Auth.Password),
		"KNXROUTER_API_HOST":                  str(&cfg.API.Host),
		"KNXROUTER_API_PORT":                  num(&cfg.API.Port),
		"KNXROUTER_INFLUXDB_TOKEN":            str(&cfg.InfluxDB.Token),
		"KNXROUTER_LOGGING_LEVEL":             str(&cfg.Logging.Level),
	}
}

// applyEnvOverrides copies every non-empty KNXROUTER_* variable into cfg.
func applyEnvOverrides(cfg *Config) {
	for key, apply := range envOverrides(cfg) {
		if v := os.Getenv(key); v != "" {
			apply(v)
		}
	}
}

// Validate checks the configuration for errors.
// All problems are reported together in a single error.
func (c *Config) Validate() error {
	var errs []string

	// Router
	if c.Router.ID == "" {
		errs = append(errs, "router.id is required")
	} else if strings.ContainsAny(c.Router.ID, "/+#") {
		errs = append(errs, "router.id must not contain MQTT topic characters (/, +, #)")
	}
	if ip := net.ParseIP(c.Router.MulticastAddress); ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		errs = append(errs, "router.multicast_address must be an IPv4 multicast address")
	}
	if c.Router.Port < 0 || c.Router.Port > 65535 {
		errs = append(errs, "router.port must be between 0 and 65535")
	}
	switch c.Router.RoutingMode {
	case "filter", "route_all", "block":
	default:
		errs = append(errs, "router.routing_mode must be filter, route_all or block")
	}
	if c.Router.BusyWaitTimeMS < 20 || c.Router.BusyWaitTimeMS > 100 {
		errs = append(errs, "router.busy_wait_time_ms must be between 20 and 100")
	}
	if c.Router.HealthInterval < 1 {
		errs = append(errs, "router.health_interval must be at least 1 second")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr or file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BusyWaitTime returns the configured busy wait time as a Duration.
func (c *Config) BusyWaitTime() time.Duration {
	return time.Duration(c.Router.BusyWaitTimeMS) * time.Millisecond
}

// HealthInterval returns the bridge health publishing interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Router.HealthInterval) * time.Second
}

// ReadTimeout is the read timeout, also used for request headers.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
