package config

import (
	"fmt"
	"strings"
)

// Validator checks individual configuration values.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key shape expected by provider.
func (v *Validator) ValidateAPIKey(key, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

func (v *Validator) ValidateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
}

// ValidateAliases rejects empty alias keys and targets.
func (v *Validator) ValidateAliases(aliases map[string]string) error {
	for alias, target := range aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("model alias cannot be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("model alias %s: deployment cannot be empty", alias)
		}
	}
	return nil
}

// ValidateConfig collects every value-level problem in cfg.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Engine.Provider == ProviderOpenAI || cfg.Engine.Provider == ProviderAnthropic {
		if err := v.ValidateAPIKey(cfg.Engine.APIKey, cfg.Engine.Provider); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
	}
	if cfg.Engine.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("engine.max_turns must be >= 0"))
	}
	if cfg.Engine.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("engine.max_tokens must be >= 0"))
	}
	if err := v.ValidateAliases(cfg.Models.Aliases); err != nil {
		errs = append(errs, err)
	}
	if cfg.Tools.FunctionTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("tools.function_timeout_ms must be >= 0"))
	}

	seen := make(map[string]bool, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("plugin %d: name is required", i))
			continue
		}
		if p.Path == "" {
			errs = append(errs, fmt.Errorf("plugin %s: path is required", p.Name))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("plugin %s: declared twice", p.Name))
		}
		seen[p.Name] = true
	}

	if cfg.Gateway.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("gateway.requests_per_minute must be >= 0"))
	}
	if cfg.Gateway.MaxConcurrentStreams < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_concurrent_streams must be >= 0"))
	}
	if cfg.Storage.MaxConversations < 0 {
		errs = append(errs, fmt.Errorf("storage.max_conversations must be >= 0"))
	}
	if cfg.Storage.MaxTraces < 0 {
		errs = append(errs, fmt.Errorf("storage.max_traces must be >= 0"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0, 1]"))
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
