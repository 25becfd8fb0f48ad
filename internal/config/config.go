package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig tells the service where packet logs live.
type SourceConfig struct {
	// Path is the default source used when a caller does not name one.
	Path string `yaml:"path"`
	// DataDir, when set, resolves relative source ids against it. Without it only Path is served.
	DataDir string `yaml:"data_dir"`
}

// HighPortAllowList lists ports at or above the ephemeral floor that are normal per protocol.
type HighPortAllowList struct {
	TCP []int `yaml:"tcp"`
	UDP []int `yaml:"udp"`
}

// DetectionConfig holds the options of the parser, rule engine, outlier detector and aggregator.
type DetectionConfig struct {
	RuleSet                   []string          `yaml:"rule_set"`
	OversizedPayloadThreshold int               `yaml:"oversized_payload_threshold"`
	BurstRateWindow           string            `yaml:"burst_rate_window"`
	BurstRateCount            int               `yaml:"burst_rate_count"`
	BlockedPorts              []int             `yaml:"blocked_ports"`
	EphemeralPortFloor        int               `yaml:"ephemeral_port_floor"`
	AllowedHighPorts          HighPortAllowList `yaml:"allowed_high_ports"`

	ContaminationRatio float64 `yaml:"contamination_ratio"`
	MinSamples         int     `yaml:"min_samples"`
	NumTrees           int     `yaml:"num_trees"`
	SampleSize         int     `yaml:"sample_size"`
	MaxDepth           int     `yaml:"max_depth"`
	LogScalePayload    *bool   `yaml:"log_scale_payload"`
	Seed               int64   `yaml:"seed"`

	CacheTTL      string `yaml:"cache_ttl"`
	StrictParsing bool   `yaml:"strict_parsing"`
	TopNAlerts    int    `yaml:"top_n_alerts"`
}

// BurstWindow returns the parsed burst_rate_window.
func (d DetectionConfig) BurstWindow() time.Duration {
	w, _ := time.ParseDuration(d.BurstRateWindow)
	return w
}

// TTL returns the parsed cache_ttl.
func (d DetectionConfig) TTL() time.Duration {
	ttl, _ := time.ParseDuration(d.CacheTTL)
	return ttl
}

// LogScale reports whether payload sizes are log-scaled before scoring.
func (d DetectionConfig) LogScale() bool {
	return d.LogScalePayload == nil || *d.LogScalePayload
}

// CacheConfig holds the result cache behaviour that is not part of the detection options.
type CacheConfig struct {
	// Policy is "block" (waiters share the in-flight recompute) or "stale"
	// (serve the previous entry while refreshing in the background).
	Policy string `yaml:"policy"`
	// Watch invalidates entries on filesystem change events.
	Watch bool `yaml:"watch"`
}

// AlerterConfig holds the configuration for the periodic alerter.
type AlerterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CheckInterval string `yaml:"check_interval"`
	// Sources lists the source ids to check, relative to source.data_dir. Empty means the default source.
	Sources []string `yaml:"sources"`
}

// GobConfig holds the settings of the gob snapshot sink.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig holds the NATS publisher settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SinkDef defines one alert sink.
type SinkDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Gob        GobConfig        `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds the listen addresses of ns-api.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	HealthAddr     string `yaml:"health_addr"`
	RequestTimeout string `yaml:"request_timeout"`
}

// LoggingConfig holds zap and rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Detection DetectionConfig `yaml:"detection"`
	Cache     CacheConfig     `yaml:"cache"`
	Alerter   AlerterConfig   `yaml:"alerter"`
	Sinks     []SinkDef       `yaml:"sinks"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultRuleSet lists every built-in rule in canonical evaluation order.
var DefaultRuleSet = []string{
	"invalid_port",
	"unusual_high_port",
	"oversized_payload",
	"protocol_port_mismatch",
	"burst_rate",
}

// Default returns a configuration with every option at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := &c.Detection
	if d.RuleSet == nil {
		d.RuleSet = append([]string(nil), DefaultRuleSet...)
	}
	if d.OversizedPayloadThreshold == 0 {
		d.OversizedPayloadThreshold = 10000
	}
	if d.BurstRateWindow == "" {
		d.BurstRateWindow = "1s"
	}
	if d.BurstRateCount == 0 {
		d.BurstRateCount = 10
	}
	if d.BlockedPorts == nil {
		d.BlockedPorts = []int{666, 1234, 5555, 9999, 65535}
	}
	if d.EphemeralPortFloor == 0 {
		d.EphemeralPortFloor = 49152
	}
	if d.ContaminationRatio == 0 {
		d.ContaminationRatio = 0.2
	}
	if d.MinSamples == 0 {
		d.MinSamples = 10
	}
	if d.NumTrees == 0 {
		d.NumTrees = 100
	}
	if d.SampleSize == 0 {
		d.SampleSize = 256
	}
	if d.CacheTTL == "" {
		d.CacheTTL = "10s"
	}

	if c.Source.Path == "" {
		c.Source.Path = "network_logs.csv"
	}
	if c.Cache.Policy == "" {
		c.Cache.Policy = "block"
	}
	if c.Alerter.CheckInterval == "" {
		c.Alerter.CheckInterval = "30s"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8000"
	}
	if c.API.HealthAddr == "" {
		c.API.HealthAddr = ":8001"
	}
	if c.API.RequestTimeout == "" {
		c.API.RequestTimeout = "5s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks ranges and duration strings.
func (c *Config) Validate() error {
	d := c.Detection
	if d.OversizedPayloadThreshold < 0 {
		return fmt.Errorf("oversized_payload_threshold must not be negative")
	}
	if w, err := time.ParseDuration(d.BurstRateWindow); err != nil || w <= 0 {
		return fmt.Errorf("burst_rate_window must be a positive duration, got %q", d.BurstRateWindow)
	}
	if d.BurstRateCount < 1 {
		return fmt.Errorf("burst_rate_count must be at least 1")
	}
	if d.ContaminationRatio <= 0 || d.ContaminationRatio > 0.5 {
		return fmt.Errorf("contamination_ratio must be in (0, 0.5], got %v", d.ContaminationRatio)
	}
	if d.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2")
	}
	if d.NumTrees < 1 || d.SampleSize < 2 {
		return fmt.Errorf("num_trees must be >= 1 and sample_size >= 2")
	}
	if d.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if _, err := time.ParseDuration(d.CacheTTL); err != nil {
		return fmt.Errorf("invalid cache_ttl: %w", err)
	}
	if d.TopNAlerts < 0 {
		return fmt.Errorf("top_n_alerts must not be negative")
	}
	for _, p := range append(append([]int{}, d.BlockedPorts...), d.EphemeralPortFloor) {
		if p < 0 || p > 65535 {
			return fmt.Errorf("port %d out of range", p)
		}
	}

	switch c.Cache.Policy {
	case "block", "stale":
	default:
		return fmt.Errorf("unknown cache policy %q", c.Cache.Policy)
	}
	if _, err := time.ParseDuration(c.Alerter.CheckInterval); err != nil {
		return fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if _, err := time.ParseDuration(c.API.RequestTimeout); err != nil {
		return fmt.Errorf("invalid request_timeout: %w", err)
	}
	return nil
}
