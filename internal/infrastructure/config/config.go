package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Exohome bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig      `yaml:"site"`
	Accounts []AccountConfig `yaml:"accounts"`
	Exohome  ExohomeConfig   `yaml:"exohome"`
	Database DatabaseConfig  `yaml:"database"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AccountConfig contains the credentials for one Sampo Exohome account.
// Each account gets its own independent polling session.
type AccountConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// ExohomeConfig contains vendor cloud connection settings.
type ExohomeConfig struct {
	// APIBase is the HTTP REST base URL (login, firmware list).
	APIBase string `yaml:"api_base"`

	// WSSBase is the websocket gateway base URL.
	WSSBase string `yaml:"wss_base"`

	// PollInterval is the catalog refresh interval in seconds.
	PollInterval int `yaml:"poll_interval"`

	// SetupTimeout bounds the first connection attempt, in seconds.
	SetupTimeout int `yaml:"setup_timeout"`

	// CallTimeout bounds a single websocket request/response exchange, in seconds.
	CallTimeout int `yaml:"call_timeout"`

	// RecvAttempts is the number of frames read per call before giving up
	// on finding a matching response. The gateway multiplexes unsolicited
	// frames on the same stream, so a small bound absorbs a stray frame.
	RecvAttempts int `yaml:"recv_attempts"`

	// SettleDelay is the pause between a field mutation and the confirming
	// refresh, in milliseconds. Devices apply changes asynchronously.
	SettleDelay int `yaml:"settle_delay"`
}

// DatabaseConfig contains SQLite database settings for credential persistence.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for status history.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EXOHOME_SECTION_KEY
// For example: EXOHOME_DATABASE_PATH, EXOHOME_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Exohome Bridge",
		},
		Exohome: ExohomeConfig{
			APIBase:      "https://sampo.apps.exosite.io/api:1",
			WSSBase:      "wss://sampo.apps.exosite.io/api:1",
			PollInterval: 60,
			SetupTimeout: 10,
			CallTimeout:  10,
			RecvAttempts: 2,
			SettleDelay:  500,
		},
		Database: DatabaseConfig{
			Path:        "./data/exohome.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "exohome-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EXOHOME_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("EXOHOME_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Vendor endpoints (useful for pointing at a staging gateway)
	if v := os.Getenv("EXOHOME_API_BASE"); v != "" {
		cfg.Exohome.APIBase = v
	}
	if v := os.Getenv("EXOHOME_WSS_BASE"); v != "" {
		cfg.Exohome.WSSBase = v
	}

	// Account credentials (single-account deployments)
	if email := os.Getenv("EXOHOME_ACCOUNT_EMAIL"); email != "" {
		password := os.Getenv("EXOHOME_ACCOUNT_PASSWORD")
		cfg.Accounts = append(cfg.Accounts, AccountConfig{Email: email, Password: password})
	}

	// MQTT
	if v := os.Getenv("EXOHOME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EXOHOME_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("EXOHOME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EXOHOME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("EXOHOME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for invalid or inconsistent values.
//
// Returns:
//   - error: Describing the first validation failure, or nil if valid
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("site.id cannot be empty")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	for i, acct := range c.Accounts {
		if acct.Email == "" {
			return fmt.Errorf("accounts[%d].email cannot be empty", i)
		}
		if !strings.Contains(acct.Email, "@") {
			return fmt.Errorf("accounts[%d].email %q is not a valid address", i, acct.Email)
		}
		if acct.Password == "" {
			return fmt.Errorf("accounts[%d].password cannot be empty", i)
		}
	}

	if !strings.HasPrefix(c.Exohome.APIBase, "http://") && !strings.HasPrefix(c.Exohome.APIBase, "https://") {
		return fmt.Errorf("exohome.api_base must be an http(s) URL, got %q", c.Exohome.APIBase)
	}
	if !strings.HasPrefix(c.Exohome.WSSBase, "ws://") && !strings.HasPrefix(c.Exohome.WSSBase, "wss://") {
		return fmt.Errorf("exohome.wss_base must be a ws(s) URL, got %q", c.Exohome.WSSBase)
	}
	if c.Exohome.PollInterval <= 0 {
		return fmt.Errorf("exohome.poll_interval must be positive, got %d", c.Exohome.PollInterval)
	}
	if c.Exohome.RecvAttempts <= 0 {
		return fmt.Errorf("exohome.recv_attempts must be positive, got %d", c.Exohome.RecvAttempts)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return fmt.Errorf("mqtt.broker.host cannot be empty when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url cannot be empty when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.org and influxdb.bucket cannot be empty when influxdb is enabled")
		}
	}

	return nil
}

// GetPollInterval returns the catalog refresh interval as a time.Duration.
func (c *ExohomeConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// GetSetupTimeout returns the first-connection timeout as a time.Duration.
func (c *ExohomeConfig) GetSetupTimeout() time.Duration {
	return time.Duration(c.SetupTimeout) * time.Second
}

// GetCallTimeout returns the per-call timeout as a time.Duration.
func (c *ExohomeConfig) GetCallTimeout() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// GetSettleDelay returns the post-mutation settle delay as a time.Duration.
func (c *ExohomeConfig) GetSettleDelay() time.Duration {
	return time.Duration(c.SettleDelay) * time.Millisecond
}
