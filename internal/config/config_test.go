package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, ProviderScripted, cfg.Engine.Provider)
	assert.True(t, cfg.Orchestrator.SerializeConversations)
	assert.True(t, cfg.Tools.AllowInlineSource)
	assert.NotNil(t, cfg.Models.Aliases)
}

func TestConfigValidate(t *testing.T) {
	t.Run("should require api key unless public", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")

		cfg.Gateway.PublicAccess = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.Engine.Provider = "gemini"
		assert.Error(t, cfg.Validate())
	})

	t.Run("azure without endpoint", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.Engine.Provider = ProviderAzure
		cfg.Engine.APIKey = "azure-key"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint")

		cfg.Engine.Endpoint = "https://example.openai.azure.com"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty alias target", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.Models.Aliases = map[string]string{"gpt-4.1": ""}
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate plugins", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Gateway.PublicAccess = true
		cfg.Plugins = []PluginConfig{{Name: "calc", Path: "/a"}, {Name: "calc", Path: "/b"}}
		assert.Error(t, cfg.Validate())
	})
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gateway.APIKey = "gateway-secret"
	cfg.Engine.APIKey = "sk-engine-secret"

	out := cfg.String()
	assert.NotContains(t, out, "gateway-secret")
	assert.NotContains(t, out, "sk-engine-secret")
	assert.Equal(t, "gateway-secret", cfg.Gateway.APIKey)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Gateway.Port, cfg.Gateway.Port)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workbench.yaml")
		content := strings.Join([]string{
			"gateway:",
			"  port: 9090",
			"  public_access: true",
			"engine:",
			"  provider: azure",
			"  endpoint: https://example.openai.azure.com",
			"models:",
			"  aliases:",
			"    gpt-4.1: prod-gpt41",
			"storage:",
			"  max_traces: 50",
		}, "\n")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Gateway.Port)
		assert.True(t, cfg.Gateway.PublicAccess)
		assert.Equal(t, ProviderAzure, cfg.Engine.Provider)
		assert.Equal(t, "prod-gpt41", cfg.Models.Aliases["gpt-4.1"])
		assert.Equal(t, 50, cfg.Storage.MaxTraces)
		assert.True(t, cfg.Orchestrator.SerializeConversations)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("WORKBENCH_ENGINE_API_KEY", "from-env")
		t.Setenv("WORKBENCH_GATEWAY_PORT", "7000")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Engine.APIKey)
		assert.Equal(t, 7000, cfg.Gateway.Port)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidatorAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc", ProviderAnthropic))
	assert.Error(t, v.ValidateAPIKey("sk-abc", ProviderAnthropic))
	assert.NoError(t, v.ValidateAPIKey("sk-abc", ProviderOpenAI))
	assert.Error(t, v.ValidateAPIKey("", ProviderOpenAI))
	assert.NoError(t, v.ValidateAPIKey("any-azure-key", ProviderAzure))
}
