package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/workbench/internal/config"
	"github.com/harun/workbench/pkg/engine"
	"github.com/harun/workbench/pkg/engine/anthropic"
	"github.com/harun/workbench/pkg/engine/openai"
	"github.com/harun/workbench/pkg/engine/scripted"
)

// newEngine builds the execution engine selected by cfg.Provider.
func newEngine(cfg config.EngineConfig, logger zerolog.Logger) (engine.Engine, error) {
	var (
		eng engine.Engine
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		eng, err = openai.New(openai.Config{
			APIKey:    cfg.APIKey,
			MaxTurns:  cfg.MaxTurns,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		})
	case config.ProviderAzure:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint")
		}
		eng, err = openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			Endpoint:   cfg.Endpoint,
			APIVersion: cfg.APIVersion,
			MaxTurns:   cfg.MaxTurns,
			MaxTokens:  cfg.MaxTokens,
			Logger:     logger,
		})
	case config.ProviderAnthropic:
		eng, err = anthropic.New(anthropic.Config{
			APIKey:    cfg.APIKey,
			MaxTurns:  cfg.MaxTurns,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		})
	case config.ProviderScripted:
		eng = scripted.New(scripted.Config{})
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return eng, nil
}
