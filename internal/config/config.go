package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// Config is the workbench process configuration.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway" mapstructure:"gateway"`
	Engine       EngineConfig       `json:"engine" mapstructure:"engine"`
	Models       ModelsConfig       `json:"models" mapstructure:"models"`
	Tools        ToolsConfig        `json:"tools" mapstructure:"tools"`
	Plugins      []PluginConfig     `json:"plugins" mapstructure:"plugins"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage"`
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`

	// AgentsFile is an optional YAML file of agents registered at startup.
	AgentsFile string `json:"agents_file" mapstructure:"agents_file"`
}

// GatewayConfig holds HTTP/WebSocket server settings.
type GatewayConfig struct {
	Host           string   `json:"host" mapstructure:"host"`
	Port           int      `json:"port" mapstructure:"port"`
	APIKey         string   `json:"api_key" mapstructure:"api_key"`
	PublicAccess   bool     `json:"public_access" mapstructure:"public_access"`
	AllowedOrigins []string `json:"allowed_origins" mapstructure:"allowed_origins"`

	// RequestsPerMinute limits run submissions and stream connects per client. Zero disables it.
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`

	// MaxConcurrentStreams caps open streams per client. Zero disables it.
	MaxConcurrentStreams int `json:"max_concurrent_streams" mapstructure:"max_concurrent_streams"`
}

// Addr returns the listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// EngineConfig selects and configures the execution engine.
type EngineConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"` // openai, azure, anthropic, scripted
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
	APIVersion string `json:"api_version" mapstructure:"api_version"`
	MaxTurns   int    `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens  int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// ModelsConfig maps logical model ids to provider deployment names.
type ModelsConfig struct {
	Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
}

type ToolsConfig struct {
	AllowInlineSource bool `json:"allow_inline_source" mapstructure:"allow_inline_source"`
	FunctionTimeoutMs int  `json:"function_timeout_ms" mapstructure:"function_timeout_ms"`
}

// PluginConfig declares an out-of-process capability plugin binary.
type PluginConfig struct {
	Name string `json:"name" mapstructure:"name"`
	Path string `json:"path" mapstructure:"path"`
}

// StorageConfig bounds the in-memory ledgers. Zero means unbounded.
type StorageConfig struct {
	MaxConversations int `json:"max_conversations" mapstructure:"max_conversations"`
	MaxTraces        int `json:"max_traces" mapstructure:"max_traces"`
}

type OrchestratorConfig struct {
	SerializeConversations bool `json:"serialize_conversations" mapstructure:"serialize_conversations"`
	ShutdownTimeoutSeconds int  `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// Endpoint is an OTLP/HTTP collector URL. Spans are not exported when empty.
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:                 "0.0.0.0",
			Port:                 8000,
			AllowedOrigins:       []string{"*"},
			RequestsPerMinute:    120,
			MaxConcurrentStreams: 10,
		},
		Engine: EngineConfig{
			Provider:   ProviderScripted,
			APIVersion: "2024-10-21",
			MaxTurns:   10,
			MaxTokens:  4096,
		},
		Models: ModelsConfig{
			Aliases: map[string]string{},
		},
		Tools: ToolsConfig{
			AllowInlineSource: true,
			FunctionTimeoutMs: 5000,
		},
		Orchestrator: OrchestratorConfig{
			SerializeConversations: true,
			ShutdownTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "workbench",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.APIKey != "" {
		masked.Gateway.APIKey = "***"
	}
	if masked.Engine.APIKey != "" {
		masked.Engine.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d is out of range", c.Gateway.Port)
	}
	if !c.Gateway.PublicAccess && strings.TrimSpace(c.Gateway.APIKey) == "" {
		return fmt.Errorf("gateway api_key is required unless public_access is enabled")
	}

	switch c.Engine.Provider {
	case ProviderScripted:
	case ProviderOpenAI, ProviderAnthropic:
		if c.Engine.APIKey == "" {
			return fmt.Errorf("engine api_key is required for provider %s", c.Engine.Provider)
		}
	case ProviderAzure:
		if c.Engine.APIKey == "" {
			return fmt.Errorf("engine api_key is required for provider %s", c.Engine.Provider)
		}
		if c.Engine.Endpoint == "" {
			return fmt.Errorf("engine endpoint is required for provider %s", c.Engine.Provider)
		}
	default:
		return fmt.Errorf("invalid engine provider %q (must be: openai, azure, anthropic, scripted)", c.Engine.Provider)
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
