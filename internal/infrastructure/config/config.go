package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fleet sync core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig           `yaml:"site"`
	Database      DatabaseConfig       `yaml:"database"`
	MQTT          MQTTConfig           `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Logging       LoggingConfig        `yaml:"logging"`
	Sync          SyncConfig           `yaml:"sync"`
	Discovery     DiscoveryConfig      `yaml:"discovery"`
	Audit         AuditConfig          `yaml:"audit"`
	Manufacturers []ManufacturerConfig `yaml:"manufacturers"`
}

// SiteConfig identifies the deployment.
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

// MetricsConfig controls the Prometheus exposition listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SyncConfig controls the fleet sync loop.
type SyncConfig struct {
	// Interval between scheduled fleet syncs, in seconds. 0 disables scheduling.
	Interval int `yaml:"interval"`

	// Parallelism is the number of manufacturers polled concurrently.
	// 1 (the default) polls sequentially.
	Parallelism int `yaml:"parallelism"`

	// StaleAfter marks online records offline when unseen for this many seconds.
	// 0 disables the stale sweep.
	StaleAfter int `yaml:"stale_after"`

	// TransitionRetries bounds retries of a contended lifecycle transition.
	TransitionRetries int `yaml:"transition_retries"`
}

// DiscoveryConfig controls discovery reconciliation runs.
type DiscoveryConfig struct {
	// Interval between scheduled discovery runs, in seconds. 0 disables scheduling.
	Interval int `yaml:"interval"`

	// BatchSize is the number of candidates handled between progress
	// updates and cancellation checks.
	BatchSize int `yaml:"batch_size"`

	// MaxHosts is the default host bound applied to each CIDR range.
	MaxHosts int `yaml:"max_hosts"`
}

// AuditConfig controls the audit/event dispatcher.
type AuditConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// ManufacturerConfig describes one vendor and how to reach its API.
type ManufacturerConfig struct {
	Code            string                      `yaml:"code"`
	Name            string                      `yaml:"name"`
	Active          bool                        `yaml:"active"`
	Adapter         AdapterConfig               `yaml:"adapter"`
	Fields          FieldsConfig                `yaml:"fields"`
	DefaultRole     string                      `yaml:"default_role"`
	DefaultCapacity int                         `yaml:"default_capacity"`
	Capabilities    map[string]CapabilityConfig `yaml:"capabilities"`
	Discovery       ManufacturerDiscoveryConfig `yaml:"discovery"`
}

// AdapterConfig configures the vendor adapter for a manufacturer.
type AdapterConfig struct {
	Kind      string            `yaml:"kind"`
	BaseURL   string            `yaml:"base_url"`
	Token     string            `yaml:"token"`
	Timeout   int               `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`
	Retries   int               `yaml:"retries"`
	Paths     map[string]string `yaml:"paths"`
}

// FieldsConfig names the payload keys carrying identity fields.
// Empty entries fall back to the resolver defaults.
type FieldsConfig struct {
	VendorID string `yaml:"vendor_id"`
	Serial   string `yaml:"serial"`
	MAC      string `yaml:"mac"`
	IP       string `yaml:"ip"`
	Role     string `yaml:"role"`
	Model    string `yaml:"model"`
	Name     string `yaml:"name"`
	Firmware string `yaml:"firmware"`
	Capacity string `yaml:"capacity"`
}

// CapabilityConfig is the static channel capability of a device model.
type CapabilityConfig struct {
	Capacity int  `yaml:"capacity"`
	Exempt   bool `yaml:"exempt"`
}

// ManufacturerDiscoveryConfig lists the candidate sources for discovery runs.
type ManufacturerDiscoveryConfig struct {
	IncludeInventory *bool    `yaml:"include_inventory"`
	CIDRs            []string `yaml:"cidrs"`
	FQDNs            []string `yaml:"fqdns"`
	MaxHosts         int      `yaml:"max_hosts"`
}

// InventoryEnabled reports whether inventory IPs are discovery candidates.
// Defaults to true when unset.
func (d ManufacturerDiscoveryConfig) InventoryEnabled() bool {
	return d.IncludeInventory == nil || *d.IncludeInventory
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEETSYNC_SECTION_KEY
// For example: FLEETSYNC_DATABASE_PATH, FLEETSYNC_MQTT_HOST
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
			Name: "RF Fleet",
		},
		Database: DatabaseConfig{
			Path:        "./data/fleetsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetsync-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sync: SyncConfig{
			Interval:          300,
			Parallelism:       1,
			StaleAfter:        1800,
			TransitionRetries: 3,
		},
		Discovery: DiscoveryConfig{
			Interval:  3600,
			BatchSize: 25,
			MaxHosts:  256,
		},
		Audit: AuditConfig{
			QueueSize: 256,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEETSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("FLEETSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEETSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("FLEETSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Vendor API tokens: FLEETSYNC_<CODE>_TOKEN, e.g. FLEETSYNC_SHURE_TOKEN
	for i := range cfg.Manufacturers {
		m := &cfg.Manufacturers[i]
		key := "FLEETSYNC_" + envKey(m.Code) + "_TOKEN"
		if v := os.Getenv(key); v != "" {
			m.Adapter.Token = v
		}
	}
}

// envKey upper-cases a manufacturer code and replaces separators with underscores.
func envKey(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, code)
}

// Validate checks the configuration for errors.
// All problems are collected so operators can fix them in one pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Sync.Parallelism < 1 {
		errs = append(errs, "sync.parallelism must be at least 1")
	}
	if c.Sync.Interval < 0 || c.Sync.StaleAfter < 0 || c.Sync.TransitionRetries < 0 {
		errs = append(errs, "sync intervals and retries must not be negative")
	}

	if c.Discovery.BatchSize < 1 {
		errs = append(errs, "discovery.batch_size must be at least 1")
	}
	if c.Discovery.MaxHosts < 1 {
		errs = append(errs, "discovery.max_hosts must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	seen := make(map[string]struct{}, len(c.Manufacturers))
	for i, m := range c.Manufacturers {
		prefix := fmt.Sprintf("manufacturers[%d]", i)
		if m.Code == "" {
			errs = append(errs, prefix+".code is required")
			continue
		}
		if _, dup := seen[m.Code]; dup {
			errs = append(errs, fmt.Sprintf("%s.code %q is duplicated", prefix, m.Code))
		}
		seen[m.Code] = struct{}{}

		if m.DefaultCapacity < 0 {
			errs = append(errs, prefix+".default_capacity must not be negative")
		}
		for model, capCfg := range m.Capabilities {
			if capCfg.Capacity < 0 {
				errs = append(errs, fmt.Sprintf("%s.capabilities[%s].capacity must not be negative", prefix, model))
			}
		}
		if m.Discovery.MaxHosts < 0 {
			errs = append(errs, prefix+".discovery.max_hosts must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ActiveManufacturers returns the manufacturers enabled for polling.
func (c *Config) ActiveManufacturers() []ManufacturerConfig {
	var out []ManufacturerConfig
	for _, m := range c.Manufacturers {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// GetSyncInterval returns the fleet sync interval as a Duration.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Sync.Interval) * time.Second
}

// GetStaleAfter returns the stale sweep threshold as a Duration.
func (c *Config) GetStaleAfter() time.Duration {
	return time.Duration(c.Sync.StaleAfter) * time.Second
}

// GetDiscoveryInterval returns the discovery run interval as a Duration.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.Interval) * time.Second
}

// GetTimeout returns the adapter call timeout as a Duration (default 10s).
func (a AdapterConfig) GetTimeout() time.Duration {
	if a.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.Timeout) * time.Second
}
