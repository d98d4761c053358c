package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "WORKBENCH"
	// keyDelimiter replaces viper's "." so model aliases such as "gpt-4.1"
	// survive as single map keys.
	keyDelimiter = "::"
)

// envKeys are the scalar settings that may be overridden from the
// environment, e.g. WORKBENCH_ENGINE_API_KEY for engine.api_key.
var envKeys = []string{
	"gateway.host",
	"gateway.port",
	"gateway.api_key",
	"gateway.public_access",
	"gateway.requests_per_minute",
	"gateway.max_concurrent_streams",
	"engine.provider",
	"engine.api_key",
	"engine.endpoint",
	"engine.api_version",
	"engine.max_turns",
	"engine.max_tokens",
	"tools.allow_inline_source",
	"tools.function_timeout_ms",
	"storage.max_conversations",
	"storage.max_traces",
	"orchestrator.serialize_conversations",
	"logging.level",
	"logging.pretty",
	"logging.file",
	"logging.audit_file",
	"tracing.enabled",
	"tracing.sample_ratio",
	"tracing.endpoint",
	"agents_file",
}

// Loader reads configuration from an optional file plus the environment.
type Loader struct {
	configPath string
}

func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load returns DefaultConfig overlaid with the config file (when present)
// and WORKBENCH_* environment variables.
func (l *Loader) Load() (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(strings.ReplaceAll(key, ".", keyDelimiter)); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err == nil {
			v.SetConfigFile(l.configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Models.Aliases == nil {
		cfg.Models.Aliases = map[string]string{}
	}

	return cfg, nil
}

// ConfigPath returns the file the loader reads, if any.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load is a convenience function that creates a loader and loads the config.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
