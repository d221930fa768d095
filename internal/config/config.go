package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	wbfconfig "github.com/wb-go/wbf/config"
	"io/fs"
	"os"
	"time"
)

const DefaultPath = "./config/config.yaml"

type Config struct {
	Addr     string
	LogLevel string
	GinMode  string
	Gateway  GatewayConfig
	Users    UsersConfig
}

type GatewayConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

type UsersConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		GinMode:  "release",
		Gateway: GatewayConfig{
			BaseURL:       "http://localhost:5000",
			Timeout:       5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    100 * time.Millisecond,
		},
		Users: UsersConfig{
			CacheSize: 512,
			CacheTTL:  10 * time.Minute,
		},
	}
}

// EnvPrefix prefixes environment overrides: gateway.base_url is read from
// OPENLINE_GATEWAY_BASE_URL.
const EnvPrefix = "OPENLINE"

// Load reads an optional .env file, then the YAML file at path, with
// OPENLINE_* environment variables taking precedence. A missing file leaves
// the defaults in place.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	src := wbfconfig.New()
	setDefaults(src, Default())
	src.EnableEnv(EnvPrefix)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := src.LoadConfigFiles(path); err != nil {
				return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		Addr:     src.GetString("addr"),
		LogLevel: src.GetString("log_level"),
		GinMode:  src.GetString("gin_mode"),
		Gateway: GatewayConfig{
			BaseURL:       src.GetString("gateway.base_url"),
			Timeout:       src.GetDuration("gateway.timeout"),
			RetryAttempts: src.GetInt("gateway.retry_attempts"),
			RetryDelay:    src.GetDuration("gateway.retry_delay"),
		},
		Users: UsersConfig{
			CacheSize: src.GetInt("users.cache_size"),
			CacheTTL:  src.GetDuration("users.cache_ttl"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(src *wbfconfig.Config, d Config) {
	src.SetDefault("addr", d.Addr)
	src.SetDefault("log_level", d.LogLevel)
	src.SetDefault("gin_mode", d.GinMode)
	src.SetDefault("gateway.base_url", d.Gateway.BaseURL)
	src.SetDefault("gateway.timeout", d.Gateway.Timeout)
	src.SetDefault("gateway.retry_attempts", d.Gateway.RetryAttempts)
	src.SetDefault("gateway.retry_delay", d.Gateway.RetryDelay)
	src.SetDefault("users.cache_size", d.Users.CacheSize)
	src.SetDefault("users.cache_ttl", d.Users.CacheTTL)
}

// validate rejects values that viper could not convert, which it reports as
// zero.
func (c Config) validate() error {
	switch {
	case c.Gateway.BaseURL == "":
		return errors.New("invalid gateway.base_url: empty")
	case c.Gateway.Timeout <= 0:
		return fmt.Errorf("invalid gateway.timeout: %s", c.Gateway.Timeout)
	case c.Gateway.RetryAttempts < 1:
		return fmt.Errorf("invalid gateway.retry_attempts: %d", c.Gateway.RetryAttempts)
	case c.Gateway.RetryDelay < 0:
		return fmt.Errorf("invalid gateway.retry_delay: %s", c.Gateway.RetryDelay)
	case c.Users.CacheSize <= 0:
		return fmt.Errorf("invalid users.cache_size: %d", c.Users.CacheSize)
	case c.Users.CacheTTL <= 0:
		return fmt.Errorf("invalid users.cache_ttl: %s", c.Users.CacheTTL)
	}
	return nil
}
