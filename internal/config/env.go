package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists settings that may be supplied through MEDIAPUB_* variables.
// Unset variables leave the file values untouched.
type envOverrides struct {
	WorkDir         string   `env:"WORK_DIR"`
	PublicDir       string   `env:"PUBLIC_DIR"`
	StateDir        string   `env:"STATE_DIR"`
	LogDir          string   `env:"LOG_DIR"`
	LogLevel        string   `env:"LOG_LEVEL"`
	LogFormat       string   `env:"LOG_FORMAT"`
	DefaultPlatform string   `env:"DEFAULT_PLATFORM"`
	AnonymousUser   string   `env:"ANONYMOUS_USER"`
	MetricsBind     string   `env:"METRICS_BIND"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string   `env:"KAFKA_TOPIC"`
}

const envPrefix = "MEDIAPUB_"

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	override := func(dst *string, value string) {
		if strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	override(&c.Paths.WorkDir, o.WorkDir)
	override(&c.Paths.PublicDir, o.PublicDir)
	override(&c.Paths.StateDir, o.StateDir)
	override(&c.Paths.LogDir, o.LogDir)
	override(&c.Logging.Level, o.LogLevel)
	override(&c.Logging.Format, o.LogFormat)
	override(&c.Pipeline.DefaultPlatform, o.DefaultPlatform)
	override(&c.Supervisor.AnonymousUser, o.AnonymousUser)
	override(&c.Metrics.Bind, o.MetricsBind)
	override(&c.Notifications.Topic, o.KafkaTopic)
	if len(o.KafkaBrokers) > 0 {
		c.Notifications.Brokers = o.KafkaBrokers
	}
	return nil
}
