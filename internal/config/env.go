// Package config loads process configuration from environment variables
// and an optional YAML file, and serves it as an immutable snapshot that
// hot-reloads when the file changes on disk.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jiqinga/strmforge/internal/log"
)

// ParseString returns the environment variable named key, or fallback if
// unset. The chosen source is logged at debug for startup traceability.
func ParseString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		log.WithComponent("config").Debug().Str("key", key).Str("source", "env").Msg("config value resolved")
		return v
	}
	log.WithComponent("config").Debug().Str("key", key).Str("source", "default").Msg("config value resolved")
	return fallback
}

// ParseInt returns the environment variable named key parsed as an int,
// or fallback if unset or unparsable.
func ParseInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithComponent("config").Warn().Str("key", key).Str("value", v).Msg("invalid int config value, using default")
		return fallback
	}
	return n
}

// ParseBool returns the environment variable named key parsed as a bool,
// or fallback if unset or unparsable.
func ParseBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithComponent("config").Warn().Str("key", key).Str("value", v).Msg("invalid bool config value, using default")
		return fallback
	}
	return b
}

// ParseDuration returns the environment variable named key parsed as a
// Go duration, or fallback if unset or unparsable.
func ParseDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithComponent("config").Warn().Str("key", key).Str("value", v).Msg("invalid duration config value, using default")
		return fallback
	}
	return d
}
