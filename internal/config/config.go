package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/proj/proj/internal/paths"
)

// Config holds the daemon settings. Environment variables win over
// $PROJ_HOME/config.yaml, which wins over defaults.
type Config struct {
	Root     string
	HTTPPort int
	Socket   string
	LogLevel string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("http_port", 8080)
	v.SetDefault("socket", paths.SocketPath())
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(paths.Root())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("PROJ")
	_ = v.BindEnv("http_port")
	_ = v.BindEnv("socket")
	_ = v.BindEnv("log_level")

	cfg := &Config{
		Root:     paths.Root(),
		HTTPPort: v.GetInt("http_port"),
		Socket:   v.GetString("socket"),
		LogLevel: v.GetString("log_level"),
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid http_port %d", cfg.HTTPPort)
	}
	return cfg, nil
}
