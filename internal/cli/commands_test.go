package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func TestSubcommands(t *testing.T) {
	t.Run("should register serve, config and version", func(t *testing.T) {
		assert.True(t, hasCommand("serve"))
		assert.True(t, hasCommand("config"))
		assert.True(t, hasCommand("version"))
	})

	t.Run("should describe serve in its help", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"serve", "--help"})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "Start the workbench HTTP and WebSocket API")
	})

	t.Run("version subcommand", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"version"})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Equal(t, "workbench version "+GetVersion()+"\n", output.String())
	})
}

func TestConfigCommand(t *testing.T) {
	t.Run("should print the effective config with secrets masked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workbench.yaml")
		data := "gateway:\n  port: 9000\n  api_key: super-secret\nmodels:\n  aliases:\n    gpt-4.1: prod-gpt41\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0600))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"config", "--config", path})
		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		out := output.String()
		assert.Contains(t, out, `"port": 9000`)
		assert.Contains(t, out, "prod-gpt41")
		assert.Contains(t, out, `"api_key": "***"`)
		assert.NotContains(t, out, "super-secret")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workbench.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gateway:\n  port: 9000\n"), 0600))

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"config", "--config", path})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key is required")
	})
}
