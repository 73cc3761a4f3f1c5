package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Access.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// SiteConfig identifies the household device.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// When enabled, every security event is mirrored to the broker.
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for security metrics.
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

// SecurityConfig contains the access-control tunables.
type SecurityConfig struct {
	Lockout   LockoutConfig   `yaml:"lockout"`
	Session   SessionConfig   `yaml:"session"`
	Timing    TimingConfig    `yaml:"timing"`
	Grants    GrantsConfig    `yaml:"grants"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// LockoutConfig controls brute-force throttling.
type LockoutConfig struct {
	// Threshold is the number of failures inside the window that locks a principal.
	Threshold int `yaml:"threshold"`

	// WindowSeconds is the trailing window failures are counted in.
	WindowSeconds int `yaml:"window_seconds"`

	// BaseSeconds is the first lockout duration; each further lockout doubles it.
	BaseSeconds int `yaml:"base_seconds"`

	// MaxSeconds caps the lockout duration.
	MaxSeconds int `yaml:"max_seconds"`

	// MaxLockCount caps the escalation counter.
	MaxLockCount int `yaml:"max_lock_count"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

// TimingConfig bounds the randomised delay applied to failed logins.
type TimingConfig struct {
	MinDelayMs int `yaml:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms"`
}

// GrantsConfig controls the technician grant sweeper.
type GrantsConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// BootstrapConfig controls first-boot seeding.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_LOCKOUT_THRESHOLD
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Access",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-access",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Lockout: LockoutConfig{
				Threshold:     5,
				WindowSeconds: 300,
				BaseSeconds:   30,
				MaxSeconds:    300,
				MaxLockCount:  10,
			},
			Session: SessionConfig{TTLMinutes: 60},
			Timing: TimingConfig{
				MinDelayMs: 100,
				MaxDelayMs: 250,
			},
			Grants:    GrantsConfig{SweepIntervalSeconds: 60},
			Bootstrap: BootstrapConfig{AdminUsername: "admin"},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Integer overrides are ignored when unparseable; Validate catches the rest.
	if n, ok := envInt("GRAYLOGIC_LOCKOUT_THRESHOLD"); ok {
		cfg.Security.Lockout.Threshold = n
	}
	if n, ok := envInt("GRAYLOGIC_SESSION_TTL_MINUTES"); ok {
		cfg.Security.Session.TTLMinutes = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	lo := c.Security.Lockout
	if lo.Threshold < 1 {
		errs = append(errs, "security.lockout.threshold must be at least 1")
	}
	if lo.WindowSeconds < 1 {
		errs = append(errs, "security.lockout.window_seconds must be positive")
	}
	if lo.BaseSeconds < 1 {
		errs = append(errs, "security.lockout.base_seconds must be positive")
	}
	if lo.MaxSeconds < lo.BaseSeconds {
		errs = append(errs, "security.lockout.max_seconds must not be below base_seconds")
	}
	if lo.MaxLockCount < 1 || lo.MaxLockCount > 10 {
		errs = append(errs, "security.lockout.max_lock_count must be between 1 and 10")
	}

	if c.Security.Session.TTLMinutes < 1 {
		errs = append(errs, "security.session.ttl_minutes must be positive")
	}

	tm := c.Security.Timing
	if tm.MinDelayMs < 0 || tm.MaxDelayMs < tm.MinDelayMs {
		errs = append(errs, "security.timing requires 0 <= min_delay_ms <= max_delay_ms")
	}

	if c.Security.Grants.SweepIntervalSeconds < 1 {
		errs = append(errs, "security.grants.sweep_interval_seconds must be positive")
	}

	if c.Security.Bootstrap.AdminUsername == "" {
		errs = append(errs, "security.bootstrap.admin_username is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LockoutWindow returns the failure-counting window as a Duration.
func (c *Config) LockoutWindow() time.Duration {
	return time.Duration(c.Security.Lockout.WindowSeconds) * time.Second
}

// SessionTTL returns the session lifetime as a Duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Security.Session.TTLMinutes) * time.Minute
}

// SweepInterval returns the grant sweeper period as a Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Security.Grants.SweepIntervalSeconds) * time.Second
}
