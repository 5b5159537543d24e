package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/flaglink/flaglink-backend/pkg/redis"
)

type Config struct {
	Env string `mapstructure:"FLK_ENV"`

	Redis RedisConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	// URL is the store address: redis://[:password@]host:port/db.
	URL string `mapstructure:"FLK_REDIS_URL"`
	// Timeout bounds every command. Defaults to 10ms; the rest of the
	// platform assumes this value, so change it deliberately.
	Timeout time.Duration `mapstructure:"FLK_REDIS_TIMEOUT"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("FLK_ENV", "dev")
	viper.SetDefault("FLK_REDIS_URL", "redis://127.0.0.1:6379/0")
	viper.SetDefault("FLK_REDIS_TIMEOUT", redis.DefaultTimeout.String())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("FLK_REDIS_URL is required")
	}
	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("FLK_REDIS_TIMEOUT must be positive, got %s", c.Redis.Timeout)
	}
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("invalid FLK_ENV %q (must be dev or prod)", c.Env)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// NewClient builds the store client from the configuration. logger and m may
// be nil.
func (c *Config) NewClient(logger *zap.SugaredLogger, m redis.MetricsRecorder) (redis.Client, error) {
	opts := []redis.Option{redis.WithTimeout(c.Redis.Timeout)}
	if logger != nil {
		opts = append(opts, redis.WithLogger(logger))
	}
	if m != nil {
		opts = append(opts, redis.WithMetrics(m))
	}
	return redis.New(c.Redis.URL, opts...)
}
