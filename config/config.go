package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Logging   LoggingConfig             `yaml:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Admission AdmissionConfig           `yaml:"admission"`
	Retry     RetryConfig               `yaml:"retry"`
	Connector ConnectorConfig           `yaml:"connector"`
	Capture   CaptureConfig             `yaml:"capture"`
	Storage   StorageConfig             `yaml:"storage"`
	Perf      PerfConfig                `yaml:"perf"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	DashboardName  string        `yaml:"dashboard_name"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// ExchangeConfig holds per-exchange endpoints and connection settings.
// Credentials never live here; see LoadCredentials.
type ExchangeConfig struct {
	Disabled       bool                 `yaml:"disabled"`
	BaseURL        string               `yaml:"base_url"`
	FuturesBaseURL string               `yaml:"futures_base_url"`
	LocalIP        string               `yaml:"local_ip"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type AdmissionConfig struct {
	Quotas       map[string]int `yaml:"quotas"`
	DefaultQuota int            `yaml:"default_quota"`
	Window       time.Duration  `yaml:"window"`
	Backoff      time.Duration  `yaml:"backoff"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

type ConnectorConfig struct {
	DepthLimit         int           `yaml:"depth_limit"`
	LiquidityTolerance float64       `yaml:"liquidity_tolerance"`
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	BurstSize          int           `yaml:"burst_size"`
	UserAgent          string        `yaml:"user_agent"`
}

type CaptureConfig struct {
	Exchange    string        `yaml:"exchange"`
	Pair        string        `yaml:"pair"`
	Duration    time.Duration `yaml:"duration"`
	Interval    time.Duration `yaml:"interval"`
	OutputDir   string        `yaml:"output_dir"`
	Compression string        `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type PerfConfig struct {
	Pair       string  `yaml:"pair"`
	Iterations int     `yaml:"iterations"`
	Side       string  `yaml:"side"`
	Volume     float64 `yaml:"volume"`
}

// DefaultBaseURLs are the public REST roots of the supported exchanges.
var DefaultBaseURLs = map[string]string{
	"binance": "https://api.binance.com",
	"kucoin":  "https://api.kucoin.com",
	"bybit":   "https://api.bybit.com",
	"okx":     "https://www.okx.com",
	"bitmart": "https://api-cloud.bitmart.com",
}

const (
	DefaultBinanceFuturesURL = "https://fapi.binance.com"
	DefaultKucoinFuturesURL  = "https://api-futures.kucoin.com"
)

// DefaultFuturesURLs are the derivatives roots used for funding rates.
var DefaultFuturesURLs = map[string]string{
	"binance": DefaultBinanceFuturesURL,
	"kucoin":  DefaultKucoinFuturesURL,
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "exchangehub", Version: "dev"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Namespace:      "ExchangeHub",
			DashboardName:  "ExchangeHub",
			ReportInterval: time.Minute,
		},
		Admission: AdmissionConfig{
			DefaultQuota: 60,
			Window:       time.Minute,
			Backoff:      time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
		},
		Connector: ConnectorConfig{
			DepthLimit:         1000,
			LiquidityTolerance: 0.001,
			Timeout:            10 * time.Second,
			UserAgent:          "exchangehub/1.0",
		},
		Capture: CaptureConfig{
			Exchange:    "binance",
			Pair:        "BTC/USDT",
			Duration:    time.Minute,
			Interval:    time.Second,
			OutputDir:   "data",
			Compression: "snappy",
		},
		Perf: PerfConfig{
			Pair:       "BTC/USDT",
			Iterations: 10,
			Side:       "buy",
			Volume:     1000,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyExchangeDefaults(&config)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyExchangeDefaults runs after unmarshal because yaml replaces map
// entries wholesale instead of merging into them.
func applyExchangeDefaults(cfg *Config) {
	if cfg.Exchanges == nil {
		cfg.Exchanges = make(map[string]ExchangeConfig, len(DefaultBaseURLs))
	}
	normalised := make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for id, ex := range cfg.Exchanges {
		normalised[strings.ToLower(id)] = ex
	}
	for id, url := range DefaultBaseURLs {
		ex := normalised[id]
		if ex.BaseURL == "" {
			ex.BaseURL = url
		}
		normalised[id] = ex
	}
	for id, ex := range normalised {
		if ex.FuturesBaseURL == "" {
			ex.FuturesBaseURL = DefaultFuturesURLs[id]
		}
		if ex.ConnectionPool.MaxIdleConns == 0 {
			ex.ConnectionPool.MaxIdleConns = 10
		}
		if ex.ConnectionPool.MaxConnsPerHost == 0 {
			ex.ConnectionPool.MaxConnsPerHost = 10
		}
		if ex.ConnectionPool.IdleConnTimeout == 0 {
			ex.ConnectionPool.IdleConnTimeout = 90 * time.Second
		}
		normalised[id] = ex
	}
	cfg.Exchanges = normalised
}

// Exchange returns the settings for id with defaults applied.
func (c *Config) Exchange(id string) ExchangeConfig {
	return c.Exchanges[strings.ToLower(id)]
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	for id, ex := range cfg.Exchanges {
		if ex.BaseURL == "" {
			return fmt.Errorf("exchanges.%s.base_url is required", id)
		}
	}

	if cfg.Admission.DefaultQuota <= 0 {
		return fmt.Errorf("admission.default_quota must be greater than 0")
	}
	if cfg.Admission.Window <= 0 {
		return fmt.Errorf("admission.window must be greater than 0")
	}
	for id, q := range cfg.Admission.Quotas {
		if q <= 0 {
			return fmt.Errorf("admission.quotas.%s must be greater than 0", id)
		}
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if cfg.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}

	if cfg.Connector.DepthLimit <= 0 {
		return fmt.Errorf("connector.depth_limit must be greater than 0")
	}
	if cfg.Connector.LiquidityTolerance < 0 || cfg.Connector.LiquidityTolerance >= 1 {
		return fmt.Errorf("connector.liquidity_tolerance must be in [0, 1)")
	}

	if cfg.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be greater than 0")
	}
	if cfg.Capture.Duration <= 0 {
		return fmt.Errorf("capture.duration must be greater than 0")
	}
	switch strings.ToLower(cfg.Capture.Compression) {
	case "", "snappy", "gzip", "none":
	default:
		return fmt.Errorf("capture.compression '%s' is not supported", cfg.Capture.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
