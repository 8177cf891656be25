// Package config loads the gateway's runtime settings from environment
// variables (and an optional config file), via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the gateway reads at startup.
type Config struct {
	HTTPAddr     string
	LogLevel     string
	CORSOrigins  []string
	BridgeURL    string
	BridgeSecret string

	HeartbeatTimeout  time.Duration
	GhostPowerTimeout time.Duration

	LogExportDir string
}

// Load reads configuration from environment variables (prefixed
// OCPP_GATEWAY_) with sane defaults, and from ./config.yaml if present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ocpp_gateway")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	// BRIDGE_URL and BRIDGE_SECRET are read as their literal, unprefixed
	// names, matching how operators already set them for the bridge
	// webhook; OCPP_GATEWAY_BRIDGE_URL/_SECRET still work as a fallback.
	v.BindEnv("bridge_url", "BRIDGE_URL", "OCPP_GATEWAY_BRIDGE_URL")
	v.BindEnv("bridge_secret", "BRIDGE_SECRET", "OCPP_GATEWAY_BRIDGE_SECRET")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("bridge_url", "")
	v.SetDefault("bridge_secret", "")
	v.SetDefault("heartbeat_timeout", 60*time.Second)
	v.SetDefault("ghost_power_timeout", 30*time.Second)
	v.SetDefault("log_export_dir", "")

	cfg := &Config{
		HTTPAddr:          v.GetString("http_addr"),
		LogLevel:          v.GetString("log_level"),
		CORSOrigins:       v.GetStringSlice("cors_origins"),
		BridgeURL:         v.GetString("bridge_url"),
		BridgeSecret:      v.GetString("bridge_secret"),
		HeartbeatTimeout:  v.GetDuration("heartbeat_timeout"),
		GhostPowerTimeout: v.GetDuration("ghost_power_timeout"),
		LogExportDir:      v.GetString("log_export_dir"),
	}

	// PORT is the platform-convention override (Heroku/Render/etc.) and
	// takes precedence over OCPP_GATEWAY_HTTP_ADDR.
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}

	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("config: http_addr must not be empty")
	}

	return cfg, nil
}
