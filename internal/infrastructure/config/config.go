package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/indiserver"
)

// DefaultPath is used when neither --config nor STARPORT_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration for Starport.
type Config struct {
	Site      SiteConfig        `yaml:"site"`
	INDI      indiserver.Config `yaml:"indi"`
	FIFO      fifo.Config       `yaml:"fifo"`
	Profile   ProfileConfig     `yaml:"profile"`
	Database  DatabaseConfig    `yaml:"database"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	API       APIConfig         `yaml:"api"`
	WebSocket WebSocketConfig   `yaml:"websocket"`
	InfluxDB  InfluxDBConfig    `yaml:"influxdb"`
	Logging   LoggingConfig     `yaml:"logging"`
	Security  SecurityConfig    `yaml:"security"`
}

// SiteConfig identifies the observatory.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig is the observatory position.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation float64 `yaml:"elevation"`
}

// ProfileConfig controls the equipment profile and the driver snapshot.
type ProfileConfig struct {
	// Path to the equipment profile YAML. Empty disables profiles.
	Path string `yaml:"path"`

	// Watch reloads the profile when the file changes.
	Watch bool `yaml:"watch"`

	// Restore restarts the drivers recorded in StatePath on startup.
	Restore bool `yaml:"restore"`

	// StatePath is where the running driver set is persisted.
	StatePath string `yaml:"state_path"`
}

// DatabaseConfig contains SQLite settings for the event history.
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
	Commands  MQTTCommandConfig   `yaml:"commands"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTCommandConfig controls the driver command subscription.
type MQTTCommandConfig struct {
	Enabled bool `yaml:"enabled"`

	// Rate is the sustained number of commands accepted per second.
	Rate float64 `yaml:"rate"`

	// Burst is how many commands may arrive back to back.
	Burst int `yaml:"burst"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeouts, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists the browser origins allowed to call the API.
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

	// StatsInterval is how often server and channel statistics are written, in seconds.
	StatsInterval int `yaml:"stats_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text or auto
	Output string `yaml:"output"` // stdout or stderr
}

// SecurityConfig contains API token settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds the token signing secret.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ResolvePath picks the config file: the flag value, then STARPORT_CONFIG,
// then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("STARPORT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults, applies STARPORT_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "observatory-001",
			Name: "Starport",
		},
		INDI: indiserver.DefaultConfig(),
		FIFO: fifo.DefaultConfig(),
		Profile: ProfileConfig{
			StatePath: "./data/drivers.json",
		},
		Database: DatabaseConfig{
			Path:        "./data/starport.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "starport-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Commands: MQTTCommandConfig{
				Enabled: true,
				Rate:    2,
				Burst:   5,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8624,
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
			StatsInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("STARPORT_INDI_BINARY"); v != "" {
		cfg.INDI.Binary = v
	}
	if v := os.Getenv("STARPORT_INDI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STARPORT_INDI_PORT: %w", err)
		}
		cfg.INDI.Port = port
	}
	if v := os.Getenv("STARPORT_FIFO_PATH"); v != "" {
		cfg.INDI.FifoPath = v
	}
	if v := os.Getenv("STARPORT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STARPORT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("STARPORT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("STARPORT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("STARPORT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("STARPORT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STARPORT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	return nil
}

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if err := c.INDI.Validate(); err != nil {
		errs = append(errs, "indi: "+err.Error())
	}
	if c.FIFO.MaxQueueSize < 0 {
		errs = append(errs, "fifo.max_queue_size must not be negative")
	}
	if c.FIFO.RetryDelay < 0 || c.FIFO.WriteTimeout < 0 {
		errs = append(errs, "fifo durations must not be negative")
	}

	if c.Profile.Watch && c.Profile.Path == "" {
		errs = append(errs, "profile.watch requires profile.path")
	}
	if c.Profile.Restore && c.Profile.StatePath == "" {
		errs = append(errs, "profile.restore requires profile.state_path")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Commands.Enabled && (c.MQTT.Commands.Rate <= 0 || c.MQTT.Commands.Burst < 1) {
			errs = append(errs, "mqtt.commands.rate must be positive and burst at least 1")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		switch {
		case c.Security.JWT.Secret == "":
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set STARPORT_JWT_SECRET)")
		case len(c.Security.JWT.Secret) < minJWTSecretLength:
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
		}
		if c.InfluxDB.StatsInterval < 1 {
			errs = append(errs, "influxdb.stats_interval must be at least 1 second")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "auto", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json, text or auto", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ReadTimeout returns the API read timeout.
func (c *APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout.
func (c *APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout.
func (c *APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// Address returns host:port for the API listener.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
