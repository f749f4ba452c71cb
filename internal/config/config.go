package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the static runtime configuration, resolved once at startup.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	HTTP     HTTPConfig   `mapstructure:"http"`
	Kraken   KrakenConfig `mapstructure:"kraken"`
}

// HTTPConfig configures the read-only status server.
type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// KrakenConfig configures the private feed connection.
type KrakenConfig struct {
	WSURL string `mapstructure:"ws_url"`
	Token string `mapstructure:"token"`
}

// Load reads configuration from config.yaml in the given path (or the
// working directory) with KRAKENSYNC_* environment overrides. Missing file
// is fine; defaults and environment carry a minimal setup.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("KRAKENSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.enabled", true)
	v.SetDefault("kraken.ws_url", "wss://ws-auth.kraken.com")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
