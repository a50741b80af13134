package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Push providers understood by the push package.
const (
	ProviderFCM     = "fcm"
	ProviderWebPush = "webpush"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the announcement worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig selects and configures the push transport.
type PushConfig struct {
	Provider        string `yaml:"provider"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicKey       string `yaml:"vapid_public_key"`
	PrivateKey      string `yaml:"vapid_private_key"`
	Subject         string `yaml:"subject"`
	TTL             int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	// AllowedOrigins are host patterns browsers may open the live channel from,
	// in addition to the server's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ScannerConfig holds the due-item scanner configuration.
type ScannerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	IntervalSeconds   int           `yaml:"interval_seconds"`
	Interval          time.Duration `yaml:"-"`
	BatchSize         int           `yaml:"batch_size"`
	BatchIntervalMS   int           `yaml:"batch_interval_ms"`
	BatchInterval     time.Duration `yaml:"-"`
	RetryDelaySeconds int           `yaml:"retry_delay_seconds"`
	RetryDelay        time.Duration `yaml:"-"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path. Values from the
// environment (and an optional .env file) take precedence over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			log.Printf("ignoring invalid PORT %q: %v", v, err)
		}
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PUSH_PROVIDER"); v != "" {
		cfg.Push.Provider = v
	}
	if v := os.Getenv("FIREBASE_CREDENTIALS_PATH"); v != "" {
		cfg.Push.CredentialsFile = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, origin)
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Push.Provider == "" {
		cfg.Push.Provider = ProviderFCM
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Scanner.IntervalSeconds <= 0 {
		cfg.Scanner.IntervalSeconds = 60
	}
	cfg.Scanner.Interval = time.Duration(cfg.Scanner.IntervalSeconds) * time.Second

	if cfg.Scanner.BatchSize <= 0 {
		cfg.Scanner.BatchSize = 50
	}
	if cfg.Scanner.BatchIntervalMS <= 0 {
		cfg.Scanner.BatchIntervalMS = 1000
	}
	cfg.Scanner.BatchInterval = time.Duration(cfg.Scanner.BatchIntervalMS) * time.Millisecond

	if cfg.Scanner.RetryDelaySeconds <= 0 {
		cfg.Scanner.RetryDelaySeconds = 60
	}
	cfg.Scanner.RetryDelay = time.Duration(cfg.Scanner.RetryDelaySeconds) * time.Second

	if cfg.Scanner.MaxAttempts <= 0 {
		cfg.Scanner.MaxAttempts = 3
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	switch c.Push.Provider {
	case ProviderFCM:
		if c.Push.CredentialsFile == "" {
			return errors.New("push.credentials_file (or FIREBASE_CREDENTIALS_PATH) must be set")
		}
		if _, err := os.Stat(c.Push.CredentialsFile); err != nil {
			return fmt.Errorf("firebase credentials file not found at %s: %w", c.Push.CredentialsFile, err)
		}
	case ProviderWebPush:
		if c.Push.PublicKey == "" || c.Push.PrivateKey == "" {
			return errors.New("VAPID keys must be configured for the webpush provider")
		}
	default:
		return fmt.Errorf("unknown push provider %q", c.Push.Provider)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn must be set")
	}
	return nil
}
