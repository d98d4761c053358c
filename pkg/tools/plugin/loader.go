package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/harun/workbench/pkg/tools"
)

// Declaration names a plugin binary to load.
type Declaration struct {
	Name string
	Path string
}

// Loader starts plugin processes and registers their functions.
type Loader struct {
	logger   zerolog.Logger
	registry *tools.Registry

	mu      sync.Mutex
	clients map[string]*plugin.Client
	exports map[string][]string
}

func NewLoader(registry *tools.Registry, logger zerolog.Logger) (*Loader, error) {
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	return &Loader{
		logger:   logger.With().Str("component", "plugin-loader").Logger(),
		registry: registry,
		clients:  make(map[string]*plugin.Client),
		exports:  make(map[string][]string),
	}, nil
}

// LoadAll loads every declaration. A plugin that fails to load is logged
// and skipped.
func (l *Loader) LoadAll(ctx context.Context, decls []Declaration) int {
	loaded := 0
	for _, d := range decls {
		if err := l.Load(ctx, d); err != nil {
			l.logger.Warn().Err(err).Str("plugin", d.Name).Msg("Skipping plugin")
			continue
		}
		loaded++
	}
	return loaded
}

// Load starts the plugin binary, checks its manifest and registers the
// functions it describes.
func (l *Loader) Load(ctx context.Context, decl Declaration) error {
	manifest, err := LoadManifest(ManifestPath(decl.Path))
	if err != nil {
		return err
	}
	if manifest.Name != decl.Name {
		return fmt.Errorf("manifest name %s does not match declared plugin %s", manifest.Name, decl.Name)
	}
	if _, err := os.Stat(decl.Path); err != nil {
		return fmt.Errorf("plugin executable not found: %s", decl.Path)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.CommandContext(ctx, decl.Path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(dispenseName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	capability, ok := raw.(Capability)
	if !ok {
		client.Kill()
		return fmt.Errorf("unexpected plugin type %T", raw)
	}

	names, err := l.Register(decl.Name, manifest, capability)
	if err != nil {
		client.Kill()
		return err
	}

	l.mu.Lock()
	l.clients[decl.Name] = client
	l.mu.Unlock()

	l.logger.Info().
		Str("plugin", decl.Name).
		Str("version", manifest.Version).
		Strs("functions", names).
		Msg("Plugin loaded")
	return nil
}

// Register adds the functions described by capability to the registry
// under the plugin's namespace. When the manifest lists functions, only
// those are registered.
func (l *Loader) Register(name string, manifest *Manifest, capability Capability) ([]string, error) {
	specs, err := capability.Describe()
	if err != nil {
		return nil, fmt.Errorf("failed to describe plugin %s: %w", name, err)
	}

	allowed := map[string]bool{}
	if manifest != nil {
		for _, fn := range manifest.Functions {
			allowed[fn] = true
		}
	}

	var names []string
	for _, spec := range specs {
		if len(allowed) > 0 && !allowed[spec.Name] {
			l.logger.Warn().Str("plugin", name).Str("function", spec.Name).Msg("Function not listed in manifest, skipping")
			continue
		}

		var params map[string]any
		if spec.Parameters != "" {
			if err := json.Unmarshal([]byte(spec.Parameters), &params); err != nil {
				l.logger.Warn().Err(err).Str("plugin", name).Str("function", spec.Name).Msg("Invalid parameter schema, skipping")
				continue
			}
		}

		fnName := spec.Name
		fn, err := tools.NewFunction(fnName, spec.Description, params, "plugin:"+name,
			tools.InvokerFunc(func(ctx context.Context, args json.RawMessage) (string, error) {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				return capability.Invoke(fnName, args)
			}))
		if err != nil {
			return nil, err
		}
		if err := l.registry.Register(fn); err != nil {
			l.logger.Warn().Err(err).Str("plugin", name).Msg("Function name collision, skipping")
			continue
		}
		names = append(names, fnName)
	}

	l.mu.Lock()
	l.exports[name] = append(l.exports[name], names...)
	l.mu.Unlock()

	return names, nil
}

// Exports returns the function names registered for a plugin.
func (l *Loader) Exports(name string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.exports[name]...)
}

// Close unregisters every plugin function and stops plugin processes.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, fns := range l.exports {
		for _, fn := range fns {
			l.registry.Unregister(fn)
		}
		delete(l.exports, name)
	}
	for name, client := range l.clients {
		client.Kill()
		delete(l.clients, name)
	}
}
