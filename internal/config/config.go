package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	DBPath      string        `envconfig:"DB_PATH" default:"./data/notify.db"`
	HTTPAddr    string        `envconfig:"HTTP_ADDR" default:":8080"`  // /healthz and /ws
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`   // debug|info|warn|error
	TickPeriod  time.Duration `envconfig:"TICK_PERIOD" default:"1m"`   // reminder punctuality bound
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"` // per channel-sender attempt
	AuthURL     string        `envconfig:"AUTH_INTROSPECT_URL"`        // token introspection endpoint
	AuthSecret  string        `envconfig:"AUTH_RESOURCE_SECRET"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
