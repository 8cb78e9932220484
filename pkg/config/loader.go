package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from defaults, an optional YAML file in the
// working directory, and GEOLOCATION_* environment variables, in that order
// of increasing precedence.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.session.mode", SessionModeSupersede)
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("log.level", "info")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GEOLOCATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		logger.Warn("config file not found, relying on defaults and env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch cfg.Server.Session.Mode {
	case SessionModeSupersede, SessionModeReject:
	default:
		return nil, fmt.Errorf("invalid server.session.mode %q", cfg.Server.Session.Mode)
	}

	return &cfg, nil
}
