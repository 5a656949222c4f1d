// Package config loads bkt's CLI defaults (root dir, scope, TTL, lock/
// cleanup thresholds, stats toggle) from a JSON file via viper.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const DefaultConfigType = "json"

var (
	ErrInvalidDirectory  = errors.New("invalid directory path")
	ErrMissingConfigName = errors.New("config name not specified")
)

// Manager wraps a *viper.Viper configured to load a named JSON config file
// from a directory, with an optional environment-variable override prefix.
type Manager struct {
	App         string
	EnvPrefix   string
	Path        string
	Name        string
	WriteConfig bool

	Viper *viper.Viper
}

// New initializes the configuration settings: name, type, and path for the
// config file. An empty path defaults to ~/.<app>.
func New(app, path, name, envPrefix string, writeConfig bool) (*Manager, error) {
	if len(app) == 0 {
		return nil, ErrMissingConfigName
	}

	v := viper.New()
	v.SetConfigType(DefaultConfigType)
	var err error

	if len(path) == 0 {
		path, err = os.UserHomeDir()
		if err != nil {
			path = os.TempDir()
		}
		path += string(os.PathSeparator) + "." + app
	}
	if err := PrepareDir(path); err != nil {
		return nil, err
	}
	v.AddConfigPath(path)

	if len(name) == 0 {
		name = app
	}
	v.SetConfigName(name)

	if len(envPrefix) != 0 {
		v.SetEnvPrefix(strings.ToUpper(envPrefix))
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}

	return &Manager{
		App:         app,
		EnvPrefix:   envPrefix,
		Path:        path,
		Name:        name,
		Viper:       v,
		WriteConfig: writeConfig,
	}, nil
}

// Load loads the configuration from the previously initialized file,
// unmarshaling it into conf. A missing file is not an error; when
// WriteConfig is set, a default file is written in its place.
func (c *Manager) Load(conf interface{}) error {
	if err := c.Viper.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("read config failed")
		if c.WriteConfig {
			if err := c.Viper.SafeWriteConfig(); err != nil {
				return err
			}
		}
	}
	return c.Viper.Unmarshal(conf, decoderConfig())
}

// LoadFile loads the configuration from an explicit file path.
func (c *Manager) LoadFile(file string, conf interface{}) error {
	c.Viper.SetConfigFile(file)
	if err := c.Viper.ReadInConfig(); err != nil {
		return err
	}
	return c.Viper.Unmarshal(conf, decoderConfig())
}

// SetConfig sets a configuration key to a value, persisting it when
// WriteConfig is set.
func (c *Manager) SetConfig(key string, value interface{}) error {
	c.Viper.Set(key, value)
	if c.WriteConfig {
		return c.Viper.WriteConfig()
	}
	return nil
}

// GetConfig returns all configuration settings as a map.
func (c *Manager) GetConfig() map[string]interface{} {
	return c.Viper.AllSettings()
}

// PrepareDir ensures path exists as a directory, creating it if absent.
func PrepareDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0o755)
		}
		return err
	}
	if !stat.IsDir() {
		log.Debug().Msgf("%s is not a directory", path)
		return ErrInvalidDirectory
	}
	return nil
}
