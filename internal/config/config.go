// Package config loads the redisx client configuration record described
// in spec.md §6, mirroring the teacher's pkg/config.Load: a YAML file
// merged with environment overrides via viper, with optional .env
// support via godotenv.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/synnergy/redisx/internal/envutil"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// TLSConfig configures certificate verification for the "tls" scheme.
type TLSConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	VerifyMode string `mapstructure:"verify_mode" yaml:"verify_mode"` // "full", "ca", "none"
	CAFile     string `mapstructure:"ca_file" yaml:"ca_file"`
	CertFile   string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile    string `mapstructure:"key_file" yaml:"key_file"`
	MinVersion string `mapstructure:"min_version" yaml:"min_version"`
}

// PoolConfig mirrors pool/ tuning knobs.
type PoolConfig struct {
	Size             int `mapstructure:"size" yaml:"size"`
	WaitMs           int `mapstructure:"wait_ms" yaml:"wait_ms"`
	HealthIntervalMs int `mapstructure:"health_interval_ms" yaml:"health_interval_ms"`
}

// RetryConfig mirrors reliability.Policy tuning knobs.
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     string `mapstructure:"backoff" yaml:"backoff"` // "constant", "exponential", "full_jitter", "equal_jitter", "none"
}

// CircuitConfig mirrors reliability.CircuitBreaker tuning knobs.
type CircuitConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold" yaml:"success_threshold"`
	OpenMs           int `mapstructure:"open_ms" yaml:"open_ms"`
	HalfOpenMs       int `mapstructure:"half_open_ms" yaml:"half_open_ms"`
}

// TrackingConfig mirrors tracking.Config tuning knobs.
type TrackingConfig struct {
	Mode       string   `mapstructure:"mode" yaml:"mode"`
	Prefixes   []string `mapstructure:"prefixes" yaml:"prefixes"`
	MaxEntries int      `mapstructure:"max_entries" yaml:"max_entries"`
	TTLMs      int      `mapstructure:"ttl_ms" yaml:"ttl_ms"`
}

// SentinelConfig mirrors sentinel.Config tuning knobs.
type SentinelConfig struct {
	Endpoints   []string `mapstructure:"endpoints" yaml:"endpoints"`
	ServiceName string   `mapstructure:"service_name" yaml:"service_name"`
	Role        string   `mapstructure:"role" yaml:"role"` // "master" or "replica"
}

// ClusterConfig mirrors cluster.Table tuning knobs.
type ClusterConfig struct {
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	RefreshMs int  `mapstructure:"refresh_ms" yaml:"refresh_ms"`
}

// EventConfig mirrors event.Dispatcher tuning knobs.
type EventConfig struct {
	ExecutorPoolSize int    `mapstructure:"executor_pool_size" yaml:"executor_pool_size"`
	QueueSize        int    `mapstructure:"queue_size" yaml:"queue_size"`
	ErrorStrategy    string `mapstructure:"error_strategy" yaml:"error_strategy"` // "ignore", "log", "raise"
}

// Config is the unified redisx client configuration record, per
// spec.md §6's configuration surface table.
type Config struct {
	Address         []string `mapstructure:"address" yaml:"address"`
	ProtocolVersion int      `mapstructure:"protocol_version" yaml:"protocol_version"`
	Username        string   `mapstructure:"username" yaml:"username"`
	Password        string   `mapstructure:"password" yaml:"password"`
	DatabaseIndex   int      `mapstructure:"database_index" yaml:"database_index"`
	ClientName      string   `mapstructure:"client_name" yaml:"client_name"`
	TimeoutMs       int      `mapstructure:"timeout_ms" yaml:"timeout_ms"`

	TLS       TLSConfig      `mapstructure:"tls" yaml:"tls"`
	Pool      PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Retry     RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Circuit   CircuitConfig  `mapstructure:"circuit" yaml:"circuit"`
	Tracking  TrackingConfig `mapstructure:"tracking" yaml:"tracking"`
	Sentinel  SentinelConfig `mapstructure:"sentinel" yaml:"sentinel"`
	Cluster   ClusterConfig  `mapstructure:"cluster" yaml:"cluster"`
	Event     EventConfig    `mapstructure:"event" yaml:"event"`
}

// defaults matches spec.md §6's stated defaults (protocol_version: 3)
// plus the teacher's pattern of sane zero-value fallbacks applied
// before Unmarshal.
func defaults() Config {
	return Config{
		ProtocolVersion: 3,
		Pool:            PoolConfig{Size: 10, WaitMs: 1000},
		Retry:           RetryConfig{MaxAttempts: 3, Backoff: "full_jitter"},
		Circuit:         CircuitConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenMs: 5000, HalfOpenMs: 2000},
	}
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration from a YAML file named by configPath (if
// non-empty) with strict unknown-key rejection, layers environment
// variable overrides via viper on top, and stores the result in
// AppConfig.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, envutil.Wrap(err, "open config file")
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true) // spec.md §6: unknown options are rejected at construction
		if err := dec.Decode(&cfg); err != nil {
			return nil, envutil.Wrap(err, "parse config yaml")
		}
	}

	raw := map[string]interface{}{}
	if err := mapstructure.Decode(cfg, &raw); err != nil {
		return nil, envutil.Wrap(err, "encode config for env overlay")
	}

	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return nil, envutil.Wrap(err, "merge config defaults")
	}
	v.SetEnvPrefix("REDISX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, envutil.Wrap(err, "unmarshal merged config")
	}
	AppConfig = out
	return &out, nil
}

// LoadFromEnv loads configuration using the REDISX_CONFIG_PATH
// environment variable to locate the YAML file, if set.
func LoadFromEnv() (*Config, error) {
	return Load(envutil.OrDefault("REDISX_CONFIG_PATH", ""))
}

// Validate rejects contradictory option combinations among the keys this
// Config recognizes. Unknown YAML keys are already rejected earlier, by
// Load's strict yaml.v3 decode.
func (c *Config) Validate() error {
	if c.ProtocolVersion != 0 && c.ProtocolVersion != 2 && c.ProtocolVersion != 3 {
		return fmt.Errorf("config: protocol_version must be 2 or 3, got %d", c.ProtocolVersion)
	}
	if c.Sentinel.ServiceName != "" && len(c.Sentinel.Endpoints) == 0 {
		return fmt.Errorf("config: sentinel.service_name set without sentinel.endpoints")
	}
	if c.Sentinel.Role != "" && c.Sentinel.Role != "master" && c.Sentinel.Role != "replica" {
		return fmt.Errorf("config: sentinel.role must be \"master\" or \"replica\", got %q", c.Sentinel.Role)
	}
	return nil
}
