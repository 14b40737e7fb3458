package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete licensed daemon configuration
type Config struct {
	Core        CoreConfig        `yaml:"core" envconfig:"CORE"`
	Keys        KeysConfig        `yaml:"keys" envconfig:"KEYS"`
	Persistence PersistenceConfig `yaml:"persistence" envconfig:"PERSISTENCE"`
	License     LicenseConfig     `yaml:"license" envconfig:"LICENSE"`
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// CoreConfig selects the license core capabilities and behavior
type CoreConfig struct {
	Capabilities    []string `yaml:"capabilities" split_words:"true" validate:"dive,oneof=rsa pem aes clock nodelock persistence"`
	EnforceNodeLock bool     `yaml:"enforce_node_lock" split_words:"true"`
	DisableRSACache bool     `yaml:"disable_rsa_cache" split_words:"true"`
	ThreadSafe      bool     `yaml:"thread_safe" split_words:"true"`

	// DeviceID overrides the host derived device id.
	DeviceID string `yaml:"device_id" split_words:"true" validate:"omitempty,min=4,max=64"`
}

// KeysConfig locates vendor key material
type KeysConfig struct {
	// AESKey is the raw 16 byte key in hex.
	AESKey string `yaml:"aes_key" split_words:"true" validate:"omitempty,hexadecimal,len=32"`
	// AESKeyFile is a passphrase protected key file; it takes precedence
	// over AESKey.
	AESKeyFile string `yaml:"aes_key_file" split_words:"true"`
	Passphrase string `yaml:"passphrase" split_words:"true"`

	RSAPublicKeyFile string `yaml:"rsa_public_key_file" split_words:"true"`
}

// PersistenceConfig selects the update counter store
type PersistenceConfig struct {
	Backend  string `yaml:"backend" split_words:"true" validate:"oneof=none memory file redis"`
	Path     string `yaml:"path" split_words:"true"`
	PageSize int    `yaml:"page_size" split_words:"true" validate:"min=256"`

	RedisAddr     string `yaml:"redis_addr" split_words:"true" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redis_password" split_words:"true"`
	RedisDB       int    `yaml:"redis_db" split_words:"true" validate:"min=0"`
	RedisPrefix   string `yaml:"redis_prefix" split_words:"true"`
}

// LicenseConfig locates the license file
type LicenseConfig struct {
	File     string        `yaml:"file" split_words:"true" validate:"required"`
	Watch    bool          `yaml:"watch" split_words:"true"`
	Debounce time.Duration `yaml:"debounce" split_words:"true" validate:"min=0"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" split_words:"true"`
	MaxHeaderBytes  int             `yaml:"max_header_bytes" split_words:"true"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" split_words:"true"`
	MaxLicenseSize  int64           `yaml:"max_license_size" split_words:"true" validate:"gte=0"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true" validate:"gte=0"`
	Burst   int     `yaml:"burst" split_words:"true" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	Output      string `yaml:"output" split_words:"true" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" split_words:"true"`
	Development bool   `yaml:"development" split_words:"true"`
}

// TelemetryConfig controls OpenTelemetry export
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" split_words:"true"`
	EnableMetrics bool   `yaml:"enable_metrics" split_words:"true"`
	EnableTracing bool   `yaml:"enable_tracing" split_words:"true"`
}

// Load builds the configuration from defaults, the optional YAML file
// named by FIT_CONFIG and FIT_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigFile))
}

// LoadFile is Load with an explicit config file. An empty path skips the
// file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Environment variables win over the file
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath on cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New()

// Validate checks field rules and cross-section constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	caps := make(map[string]bool, len(c.Core.Capabilities))
	for _, name := range c.Core.Capabilities {
		caps[name] = true
	}

	switch c.Persistence.Backend {
	case "file":
		if c.Persistence.Path == "" {
			return fmt.Errorf("persistence backend file requires a path")
		}
	case "redis":
		if c.Persistence.RedisAddr == "" {
			return fmt.Errorf("persistence backend redis requires redis_addr")
		}
	}
	if caps["persistence"] && c.Persistence.Backend == "none" {
		return fmt.Errorf("persistence capability requires a persistence backend")
	}

	if c.Keys.AESKey == "" && c.Keys.AESKeyFile == "" && c.Keys.RSAPublicKeyFile == "" {
		return fmt.Errorf("at least one vendor key must be configured")
	}
	if (c.Keys.AESKey != "" || c.Keys.AESKeyFile != "") && !caps["aes"] {
		return fmt.Errorf("aes key configured without the aes capability")
	}
	if c.Keys.AESKeyFile != "" && c.Keys.Passphrase == "" {
		return fmt.Errorf("aes key file requires a passphrase")
	}
	if c.Keys.RSAPublicKeyFile != "" && !caps["rsa"] {
		return fmt.Errorf("rsa key configured without the rsa capability")
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output %s requires file_path", c.Logging.Output)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			Capabilities: []string{"aes", "clock"},
			ThreadSafe:   true,
		},
		Persistence: PersistenceConfig{
			Backend:     "none",
			PageSize:    DefaultPageSize,
			RedisPrefix: DefaultRedisPrefix,
		},
		License: LicenseConfig{
			File:     DefaultLicenseFile,
			Watch:    true,
			Debounce: DefaultWatchDebounce,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  DefaultHTTPTimeout,
			MaxLicenseSize:  DefaultMaxLicenseSize,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   AppName,
			EnableMetrics: true,
		},
	}
}
