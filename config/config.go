// Package config is the dot-path configuration store for the overlay client.
// Values come from built-in defaults, an optional config file, and
// EDMCOVERLAY_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultFile = "edmcoverlay.yaml"

// Store wraps a viper instance seeded with the overlay defaults. A Store is
// always usable: a missing or broken config file leaves the defaults intact.
type Store struct {
	v      *viper.Viper
	logger *zap.SugaredLogger
	path   string
}

type Option func(s *Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l.Named("config").Sugar()
	}
}

// Load builds a Store from the given config file. An empty path searches the
// working directory for edmcoverlay.yaml. A missing file is not an error;
// an unreadable or malformed one is reported but still returns a usable
// Store carrying the defaults.
func Load(path string, opts ...Option) (*Store, error) {
	s := &Store{
		v:      viper.New(),
		logger: zap.NewNop().Sugar(),
		path:   path,
	}
	for _, o := range opts {
		o(s)
	}

	setDefaults(s.v)

	s.v.SetEnvPrefix("EDMCOVERLAY")
	s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	s.v.AutomaticEnv()

	if path != "" {
		s.v.SetConfigFile(path)
	} else {
		s.path = defaultFile
		s.v.SetConfigName("edmcoverlay")
		s.v.SetConfigType("yaml")
		s.v.AddConfigPath(".")
	}

	err := s.v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			s.logger.Debugw("no config file found, using defaults")
			return s, nil
		}
		return s, fmt.Errorf("reading config: %w", err)
	}

	s.logger.Debugw("config loaded", "file", s.v.ConfigFileUsed())
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 5010)
	v.SetDefault("server.timeout", "5s")
	v.SetDefault("server.reconnect_attempts", 3)
	v.SetDefault("server.reconnect_delay", "1s")

	v.SetDefault("service.program", "EDMCOverlay.exe")
	v.SetDefault("service.search_paths", []string{})
	v.SetDefault("service.grace_period", "2s")
	v.SetDefault("service.stop_timeout", "5s")

	v.SetDefault("security.max_message_length", 1000)
	v.SetDefault("security.allowed_commands", []string{"exit", "clear", "status"})

	v.SetDefault("overlay.default_ttl", 4)
	v.SetDefault("overlay.default_color", "white")
	v.SetDefault("overlay.default_size", "normal")

	v.SetDefault("logging.level", "info")
}

// Get returns the value at a dotted path, or nil if unset.
func (s *Store) Get(path string) any {
	return s.v.Get(path)
}

// Set overrides the value at a dotted path for this Store instance.
func (s *Store) Set(path string, value any) {
	s.v.Set(path, value)
}

// Save writes the effective configuration back to the config file.
func (s *Store) Save() error {
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("writing config to %s: %w", s.path, err)
	}
	s.logger.Debugw("config saved", "file", s.path)
	return nil
}

// OnChange registers fn to run whenever the config file changes on disk.
func (s *Store) OnChange(fn func(e fsnotify.Event)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Debugw("config file changed", "file", e.Name, "op", e.Op.String())
		fn(e)
	})
	s.v.WatchConfig()
}

func (s *Store) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.v.GetString("server.address"), s.v.GetInt("server.port"))
}

func (s *Store) ConnectTimeout() time.Duration { return s.v.GetDuration("server.timeout") }
func (s *Store) ConnectAttempts() int          { return s.v.GetInt("server.reconnect_attempts") }
func (s *Store) ConnectDelay() time.Duration   { return s.v.GetDuration("server.reconnect_delay") }

func (s *Store) Program() string            { return s.v.GetString("service.program") }
func (s *Store) SearchPaths() []string      { return s.v.GetStringSlice("service.search_paths") }
func (s *Store) GracePeriod() time.Duration { return s.v.GetDuration("service.grace_period") }
func (s *Store) StopTimeout() time.Duration { return s.v.GetDuration("service.stop_timeout") }

func (s *Store) MaxMessageLength() int     { return s.v.GetInt("security.max_message_length") }
func (s *Store) AllowedCommands() []string { return s.v.GetStringSlice("security.allowed_commands") }

func (s *Store) DefaultTTL() int      { return s.v.GetInt("overlay.default_ttl") }
func (s *Store) DefaultColor() string { return s.v.GetString("overlay.default_color") }
func (s *Store) DefaultSize() string  { return s.v.GetString("overlay.default_size") }

func (s *Store) LogLevel() string { return s.v.GetString("logging.level") }
