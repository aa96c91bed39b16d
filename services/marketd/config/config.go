package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"servicemarket/crypto"
	"servicemarket/storage"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for marketd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	GRPCAddress   string          `yaml:"grpc_listen" toml:"grpc_listen"`
	Storage       StorageConfig   `yaml:"storage" toml:"storage"`
	Journal       JournalConfig   `yaml:"journal" toml:"journal"`
	Market        MarketConfig    `yaml:"market" toml:"market"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Kafka         KafkaConfig     `yaml:"kafka" toml:"kafka"`
	Stream        StreamConfig    `yaml:"stream" toml:"stream"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// JournalConfig points at the event journal database.
type JournalConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// MarketConfig bootstraps the registry on first start.
type MarketConfig struct {
	Authority      string   `yaml:"authority" toml:"authority"`
	RoyaltyPercent *uint8   `yaml:"royalty_percent" toml:"royalty_percent"`
	PaymentAssets  []string `yaml:"payment_assets" toml:"payment_assets"`
}

// AuthConfig configures bearer authentication.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret" toml:"hmac_secret"`
	Issuer     string   `yaml:"issuer" toml:"issuer"`
	Audience   string   `yaml:"audience" toml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
	WriteTokens   int     `yaml:"write_tokens" toml:"write_tokens"`
}

// KafkaConfig enables the outbox relay when brokers are listed.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" toml:"brokers"`
	Topic    string   `yaml:"topic" toml:"topic"`
	Interval Duration `yaml:"interval" toml:"interval"`
	Batch    int      `yaml:"batch" toml:"batch"`
}

// StreamConfig sizes the websocket replay buffer.
type StreamConfig struct {
	History int `yaml:"history" toml:"history"`
}

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	lookupEnv func(string) (string, bool)
}

// WithLookupEnv replaces os.LookupEnv for environment overrides.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.lookupEnv = fn }
}

// Load reads configuration from the supplied path. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decode config: unknown key %q", undecoded[0].String())
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg, options.lookupEnv)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if value, ok := lookup("MARKET_AUTH_SECRET"); ok && strings.TrimSpace(value) != "" {
		cfg.Auth.HMACSecret = strings.TrimSpace(value)
	}
	if value, ok := lookup("MARKET_JOURNAL_DSN"); ok && strings.TrimSpace(value) != "" {
		cfg.Journal.DSN = strings.TrimSpace(value)
	}
	if value, ok := lookup("MARKET_KAFKA_BROKERS"); ok && strings.TrimSpace(value) != "" {
		cfg.Kafka.Brokers = splitList(value)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.GRPCAddress == "" {
		cfg.GRPCAddress = ":7081"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendPebble
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != storage.BackendMemory {
		cfg.Storage.Path = "/var/data/marketd/state"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = "file:/var/data/marketd/journal.sqlite?_busy_timeout=5000&_journal_mode=WAL"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.RateLimit.WriteTokens == 0 {
		cfg.RateLimit.WriteTokens = 2
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "market.events"
	}
	if cfg.Kafka.Interval.Duration == 0 {
		cfg.Kafka.Interval.Duration = time.Second
	}
	if cfg.Kafka.Batch == 0 {
		cfg.Kafka.Batch = 100
	}
	if cfg.Stream.History == 0 {
		cfg.Stream.History = 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func validate(cfg Config) error {
	var errs []error
	switch cfg.Storage.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt, storage.BackendPebble:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q not supported", cfg.Storage.Backend))
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("journal.driver %q not supported", cfg.Journal.Driver))
	}
	if strings.TrimSpace(cfg.Journal.DSN) == "" {
		errs = append(errs, errors.New("journal.dsn must be configured"))
	}
	if cfg.Market.Authority != "" {
		if _, err := crypto.ParsePrincipal(cfg.Market.Authority); err != nil {
			errs = append(errs, fmt.Errorf("market.authority: %w", err))
		}
	}
	if cfg.Market.RoyaltyPercent != nil && *cfg.Market.RoyaltyPercent > 100 {
		errs = append(errs, errors.New("market.royalty_percent must be between 0 and 100"))
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		errs = append(errs, errors.New("auth.hmac_secret must be configured when auth is enabled"))
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must be positive"))
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// AuthorityPrincipal returns the configured bootstrap authority, if any.
func (c MarketConfig) AuthorityPrincipal() ([20]byte, bool, error) {
	if strings.TrimSpace(c.Authority) == "" {
		return [20]byte{}, false, nil
	}
	principal, err := crypto.ParsePrincipal(c.Authority)
	if err != nil {
		return [20]byte{}, false, err
	}
	return principal, true, nil
}
