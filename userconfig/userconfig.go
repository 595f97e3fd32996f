package userconfig

import (
	"fmt"
	"io"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ptgott/tablekv/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// DefaultLogLevel is used when no level is configured anywhere.
const DefaultLogLevel = "info"

var logLevels = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
}

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	Storage storage.KVConfig `yaml:"storage"`
	Logging Logging          `yaml:"logging"`
}

// Logging contains config options for the application's log output
type Logging struct {
	// "debug", "info", or "warn"
	Level string `yaml:"level"`
}

// CheckAndSetDefaults validates l and either returns a copy of l with default
// settings applied or returns an error due to an invalid configuration
func (l *Logging) CheckAndSetDefaults() (Logging, error) {
	c := *l
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = DefaultLogLevel
	}
	if _, ok := logLevels[c.Level]; !ok {
		return Logging{}, fmt.Errorf(
			`unknown log level %q, expected "debug", "info", or "warn"`,
			l.Level,
		)
	}
	return c, nil
}

// ZerologLevel returns the zerolog level named by l. Unknown or empty levels
// map to the default level.
func (l Logging) ZerologLevel() zerolog.Level {
	if lvl, ok := logLevels[l.Level]; ok {
		return lvl
	}
	return logLevels[DefaultLogLevel]
}

// envOverrides lists the environment variables that can replace settings
// from the config file. Unset variables leave the file's settings alone.
type envOverrides struct {
	Name     string `env:"TABLEKV_NAME"`
	DataDir  string `env:"TABLEKV_DATA_DIR"`
	DBName   string `env:"TABLEKV_DB_NAME"`
	LogLevel string `env:"TABLEKV_LOG_LEVEL"`
}

// ApplyEnv overlays any TABLEKV_* environment variables onto m.
func (m *Meta) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("can't read the environment: %w", err)
	}
	if o.Name != "" {
		m.Storage.Name = o.Name
	}
	if o.DataDir != "" {
		m.Storage.DataDir = o.DataDir
	}
	if o.DBName != "" {
		m.Storage.DBName = o.DBName
	}
	if o.LogLevel != "" {
		m.Logging.Level = o.LogLevel
	}
	return nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	s, err := m.Storage.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Storage = s

	l, err := m.Logging.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Logging = l

	return c, nil
}

// Parse reads a configuration from possibly arbitrary user input. An error
// indicates a problem with parsing. Validation happens later, in
// CheckAndSetDefaults, since settings can still come from the environment
// or the command line. The Reader r can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %w", err)
	}

	if m.Storage.DataDir == "" {
		log.Debug().Str("default", storage.DefaultDataDir).Msg(
			"no data directory configured, using the default",
		)
	}

	return &m, nil
}
