package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/config"
	"github.com/harun/workbench/pkg/agentcache"
	"github.com/harun/workbench/pkg/agentconfig"
	"github.com/harun/workbench/pkg/conversation"
	"github.com/harun/workbench/pkg/gateway"
	"github.com/harun/workbench/pkg/orchestrator"
	"github.com/harun/workbench/pkg/runqueue"
	"github.com/harun/workbench/pkg/tools"
	"github.com/harun/workbench/pkg/tools/plugin"
	"github.com/harun/workbench/pkg/tools/script"
	"github.com/harun/workbench/pkg/toolsynth"
	"github.com/harun/workbench/pkg/trace"
)

// App is the assembled workbench process.
type App struct {
	cfg        *config.Config
	configPath string

	store    *agentconfig.Store
	plugins  *plugin.Loader
	resolver *agentcache.ModelResolver
	cache    *agentcache.Cache
	queue    *runqueue.Queue
	orch     *orchestrator.Orchestrator
	gateway  *gateway.Server
	watcher  *config.Watcher

	logger zerolog.Logger
}

// NewApp wires every component from cfg. Nothing listens until Start.
func NewApp(ctx context.Context, cfg *config.Config, configPath string, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath, logger: logger}

	a.store = agentconfig.NewStore(logger)
	if cfg.AgentsFile != "" {
		seeded, err := a.store.LoadSeedFile(cfg.AgentsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load agents file: %w", err)
		}
		logger.Info().Int("agents", len(seeded)).Str("path", cfg.AgentsFile).Msg("Seeded agent configurations")
	}

	registry := tools.NewRegistry()
	plugins, err := plugin.NewLoader(registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin loader: %w", err)
	}
	a.plugins = plugins
	if len(cfg.Plugins) > 0 {
		decls := make([]plugin.Declaration, 0, len(cfg.Plugins))
		for _, p := range cfg.Plugins {
			decls = append(decls, plugin.Declaration{Name: p.Name, Path: p.Path})
		}
		loaded := plugins.LoadAll(ctx, decls)
		logger.Info().Int("loaded", loaded).Int("declared", len(decls)).Msg("Capability plugins loaded")
	}

	synth, err := toolsynth.New(toolsynth.Config{
		Compiler: script.NewCompiler(script.Config{
			Timeout: time.Duration(cfg.Tools.FunctionTimeoutMs) * time.Millisecond,
			Logger:  logger,
		}),
		Registry:          registry,
		AllowInlineSource: cfg.Tools.AllowInlineSource,
		Logger:            logger,
	})
	if err != nil {
		plugins.Close()
		return nil, err
	}

	a.resolver = agentcache.NewModelResolver(cfg.Models.Aliases)
	a.cache, err = agentcache.New(agentcache.Config{
		Source:      a.store,
		Synthesizer: synth,
		Resolver:    a.resolver,
		Logger:      logger,
	})
	if err != nil {
		plugins.Close()
		return nil, err
	}

	eng, err := newEngine(cfg.Engine, logger)
	if err != nil {
		plugins.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if cfg.Orchestrator.SerializeConversations {
		a.queue = runqueue.New(runqueue.Config{WarnAfter: 30 * time.Second, Logger: logger})
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Store:     a.store,
		Instances: a.cache,
		Engine:    eng,
		Ledger:    conversation.NewLedger(conversation.Config{MaxConversations: cfg.Storage.MaxConversations, Logger: logger}),
		Traces:    trace.NewRecorder(trace.Config{MaxTraces: cfg.Storage.MaxTraces, Logger: logger}),
		Queue:     a.queue,
		Logger:    logger,
	})
	if err != nil {
		a.closeQueue()
		plugins.Close()
		return nil, err
	}

	a.gateway, err = gateway.NewServer(gateway.Config{
		Addr:                 cfg.Gateway.Addr(),
		APIKey:               cfg.Gateway.APIKey,
		PublicAccess:         cfg.Gateway.PublicAccess,
		AllowedOrigins:       cfg.Gateway.AllowedOrigins,
		RequestsPerMinute:    cfg.Gateway.RequestsPerMinute,
		MaxConcurrentStreams: cfg.Gateway.MaxConcurrentStreams,
		Orchestrator:         a.orch,
		Health:               a.health,
		Logger:               logger,
	})
	if err != nil {
		a.closeQueue()
		plugins.Close()
		return nil, err
	}

	return a, nil
}

// Start opens the listener and begins watching the config file.
func (a *App) Start() error {
	if err := a.gateway.Start(); err != nil {
		return err
	}
	if a.configPath == "" {
		return nil
	}
	if _, err := os.Stat(a.configPath); err != nil {
		a.logger.Debug().Str("path", a.configPath).Msg("Config file not present, hot reload disabled")
		return nil
	}

	w, err := config.NewWatcher(config.WatcherConfig{
		Path:     a.configPath,
		OnReload: a.reload,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	a.watcher = w
	return nil
}

// reload applies the parts of a changed config that are safe to swap live.
func (a *App) reload(cfg *config.Config) {
	a.resolver.Replace(cfg.Models.Aliases)
	a.cache.InvalidateAll()
	a.logger.Info().Int("aliases", len(cfg.Models.Aliases)).Msg("Model aliases reloaded")
}

// Shutdown stops accepting work, drains runs and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher: %w", err))
		}
	}
	if err := a.gateway.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := a.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator: %w", err))
	}
	a.closeQueue()
	a.plugins.Close()
	return errors.Join(errs...)
}

func (a *App) closeQueue() {
	if a.queue != nil {
		a.queue.Close()
	}
}

func (a *App) health(ctx context.Context) gateway.HealthResponse {
	status := "ok"
	if a.cfg.Engine.Provider != config.ProviderScripted && a.cfg.Engine.APIKey == "" {
		status = "degraded"
	}

	aliases := a.resolver.Aliases()
	models := make([]string, 0, len(aliases))
	seen := make(map[string]bool, len(aliases))
	for _, deployment := range aliases {
		if !seen[deployment] {
			seen[deployment] = true
			models = append(models, deployment)
		}
	}
	sort.Strings(models)

	return gateway.HealthResponse{
		Status:   status,
		Provider: a.cfg.Engine.Provider,
		Models:   models,
	}
}

// Handler exposes the gateway routes without a listener.
func (a *App) Handler() http.Handler {
	return a.gateway.Handler()
}
