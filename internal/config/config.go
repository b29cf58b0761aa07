// Package config loads the IPC core's environment-driven settings through
// viper: broker connection tuning (REDIS_*) and logging (IPC_LOG_*), with
// an optional YAML config file (the --config flag) layered underneath the
// environment. The per-process node descriptor is a separate file, read by
// LoadNodeDescriptor.
//
// spec.md §6 also names REDIS_SUB_SLEEP and REDIS_GET_INTERVAL, polling
// intervals for the Python original's redis-py subscribe/get loops. This
// package deliberately does not parse them: every subscription in this
// tree (RedisBroker via go-redis's Channel(), membroker via plain Go
// channels) is push-delivered, so there is no poll loop anywhere for an
// interval to govern. See SPEC_FULL.md for the full account.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Broker holds the REDIS_* settings spec.md §6 pins down, each with the
// documented default.
type Broker struct {
	Host                string
	HealthCheckInterval time.Duration
}

// Logging holds the ambient logging knobs this module adds beyond the
// spec's external-interface list (IPC_LOG_LEVEL, IPC_LOG_JSON).
type Logging struct {
	Level string
	JSON  bool
}

// Config is every setting the ipcnode binary reads at startup.
type Config struct {
	Broker  Broker
	Logging Logging
}

// Load reads configuration from the environment (and, if configPath is
// non-empty, a YAML file layered underneath it — file values are defaults
// the environment overrides, never the reverse). configPath may be empty.
func Load(configPath string) (Config, error) {
	v := viper.New()

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.health_interval", 30.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", configPath, err)
		}
	}

	bind := func(key, env string) {
		_ = v.BindEnv(key, env)
	}
	bind("redis.host", "REDIS_HOST")
	bind("redis.health_interval", "REDIS_HEALTH_INTERVAL")
	bind("log.level", "IPC_LOG_LEVEL")
	bind("log.json", "IPC_LOG_JSON")

	return Config{
		Broker: Broker{
			Host:                v.GetString("redis.host"),
			HealthCheckInterval: durationSeconds(v.GetFloat64("redis.health_interval")),
		},
		Logging: Logging{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}, nil
}

func durationSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
