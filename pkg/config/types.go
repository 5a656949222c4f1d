package config

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// decoderConfig composes the mapstructure decode hooks this schema needs:
// bkt's config carries duration fields (TTL, stale-lock threshold, cleanup
// interval) expressed as strings like "5m" in the JSON file.
func decoderConfig() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
}

// Settings is bkt's configuration schema.
type Settings struct {
	RootDir            string        `mapstructure:"root_dir"`
	Scope              string        `mapstructure:"scope"`
	DefaultTTL         time.Duration `mapstructure:"default_ttl"`
	StaleLockThreshold time.Duration `mapstructure:"stale_lock_threshold"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	StatsEnabled       bool          `mapstructure:"stats_enabled"`
}

// Defaults returns built-in configuration defaults, overridden in turn by
// a loaded config file and then by CLI flags.
func Defaults() Settings {
	return Settings{
		DefaultTTL:         60 * time.Second,
		StaleLockThreshold: 10 * time.Minute,
		CleanupInterval:    60 * time.Second,
		StatsEnabled:       true,
	}
}
