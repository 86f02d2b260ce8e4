package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/controlbus/errors"
)

// Config is the runner configuration: runtime settings plus the object tree
// that is built into the registry.
type Config struct {
	Runtime RuntimeConfig `yaml:"controlbus"`
	Objects *Node         `yaml:"objects"`
}

// RuntimeConfig holds process level settings
type RuntimeConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"` // 0 disables the metrics server
	NATSURL     string `yaml:"nats_url"`     // empty disables the NATS bridge
	// Exported lists registry names served to remote callers over the NATS bridge
	Exported []string `yaml:"exported"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch c.Runtime.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", errors.ErrInvalidConfig, c.Runtime.LogLevel)
	}
	switch c.Runtime.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log_format %q", errors.ErrInvalidConfig, c.Runtime.LogFormat)
	}
	if c.Runtime.MetricsPort < 0 || c.Runtime.MetricsPort > 65535 {
		return fmt.Errorf("%w: metrics_port %d", errors.ErrInvalidConfig, c.Runtime.MetricsPort)
	}
	if len(c.Runtime.Exported) > 0 && c.Runtime.NATSURL == "" {
		return fmt.Errorf("%w: exported objects require nats_url", errors.ErrInvalidConfig)
	}
	if c.Objects == nil {
		return fmt.Errorf("%w: objects", errors.ErrMissingConfig)
	}
	return nil
}

// Loader handles configuration loading with environment overrides
type Loader struct {
	envPrefix string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "CONTROLBUS"}
}

// LoadFile loads, overrides and validates configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := readTreeFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "config read")
	}
	return l.Load(data)
}

// Load parses configuration data and applies environment overrides
func (l *Loader) Load(data []byte) (*Config, error) {
	cfg := &Config{Runtime: RuntimeConfig{LogLevel: "info", LogFormat: "text"}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "config parse")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "environment override")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "config validation")
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(key string) (string, error) {
		name := l.envPrefix + "_" + key
		val := os.Getenv(name)
		return val, checkEnvValue(name, val)
	}

	if val, err := lookup("LOG_LEVEL"); err != nil {
		return err
	} else if val != "" {
		cfg.Runtime.LogLevel = strings.ToLower(val)
	}
	if val, err := lookup("LOG_FORMAT"); err != nil {
		return err
	} else if val != "" {
		cfg.Runtime.LogFormat = strings.ToLower(val)
	}
	if val, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_PORT=%q", errors.ErrInvalidConfig, l.envPrefix, val)
		}
		cfg.Runtime.MetricsPort = port
	}
	if val, err := lookup("NATS_URL"); err != nil {
		return err
	} else if val != "" {
		cfg.Runtime.NATSURL = val
	}
	return nil
}
