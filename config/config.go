package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jaywantadh/msgvault/internal/compressor"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MSGVAULT_CONCURRENCY.
	EnvPrefix = "MSGVAULT"

	// Largest part the platform accepts for standard and premium accounts.
	StandardPartCeiling int64 = 2000 << 20
	PremiumPartCeiling  int64 = 4000 << 20
)

// RetryConfig mirrors transfer.RetryPolicy.
type RetryConfig struct {
	Attempts   int           `mapstructure:"attempts"`
	Backoff    time.Duration `mapstructure:"backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	Jitter     bool          `mapstructure:"jitter"`
}

// AppConfig holds the application-level configuration
type AppConfig struct {
	PartSize      string      `mapstructure:"part_size"`
	Premium       bool        `mapstructure:"premium"`
	Concurrency   int         `mapstructure:"concurrency"`
	Retry         RetryConfig `mapstructure:"retry"`
	LedgerPath    string      `mapstructure:"ledger_path"`
	StorageURL    string      `mapstructure:"storage_url"`
	Compression   string      `mapstructure:"compression"`
	VerifyUploads bool        `mapstructure:"verify_uploads"`
	ListenAddr    string      `mapstructure:"listen_addr"`
	Debug         bool        `mapstructure:"debug"`
}

var Config *AppConfig

func setDefaults(v *viper.Viper) {
	v.SetDefault("part_size", "512MiB")
	v.SetDefault("premium", false)
	v.SetDefault("concurrency", 4)
	v.SetDefault("retry.attempts", 5)
	v.SetDefault("retry.backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("ledger_path", "./data/ledger")
	v.SetDefault("storage_url", "./data/objects")
	v.SetDefault("compression", "none")
	v.SetDefault("verify_uploads", false)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("debug", false)
}

// LoadConfig reads config.yaml from path, applies MSGVAULT_* environment
// overrides and validates the result. A missing file means defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	return &appConfig, nil
}

// PartCeiling returns the largest part size the account may use.
func (c *AppConfig) PartCeiling() int64 {
	if c.Premium {
		return PremiumPartCeiling
	}
	return StandardPartCeiling
}

// PartSizeBytes parses PartSize, accepting forms like "512MiB" or "1.5 GB".
func (c *AppConfig) PartSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.PartSize)
	if err != nil {
		return 0, fmt.Errorf("invalid part_size %q: %w", c.PartSize, err)
	}
	return int64(n), nil
}

// CompressionAlgorithm returns the configured payload compression.
func (c *AppConfig) CompressionAlgorithm() (compressor.Algorithm, error) {
	return compressor.ParseAlgorithm(c.Compression)
}

// Validate checks ranges and that the part size fits the account ceiling.
func (c *AppConfig) Validate() error {
	size, err := c.PartSizeBytes()
	if err != nil {
		return err
	}
	if size < 1 {
		return fmt.Errorf("part_size must be positive")
	}
	if ceiling := c.PartCeiling(); size > ceiling {
		return fmt.Errorf("part_size %s exceeds the %s limit for this account",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(ceiling)))
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		return fmt.Errorf("retry.max_backoff (%s) must not be below retry.backoff (%s)", c.Retry.MaxBackoff, c.Retry.Backoff)
	}
	if _, err := c.CompressionAlgorithm(); err != nil {
		return err
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path is required")
	}
	if c.StorageURL == "" {
		return fmt.Errorf("storage_url is required")
	}
	return nil
}
