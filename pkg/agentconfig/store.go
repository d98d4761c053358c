package agentconfig

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/workbench/internal/observability"
	"github.com/rs/zerolog"
)

// ChangeFunc is notified with the id of a configuration that was replaced or removed.
type ChangeFunc func(id string)

// Store holds agent configurations keyed by id.
type Store struct {
	mu        sync.RWMutex
	configs   map[string]AgentConfig
	listeners []ChangeFunc
	now       func() time.Time
	logger    zerolog.Logger
}

// NewStore creates an empty configuration store.
func NewStore(logger zerolog.Logger) *Store {
	observability.EnsureRegistered()

	return &Store{
		configs: make(map[string]AgentConfig),
		now:     time.Now,
		logger:  logger.With().Str("component", "agent-config-store").Logger(),
	}
}

// OnChange registers fn to be called after every Update and Delete.
func (s *Store) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Create stores a new configuration, generating an id when none is given.
func (s *Store) Create(cfg AgentConfig) (AgentConfig, error) {
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, fmt.Errorf("invalid agent config: %w", err)
	}

	cfg = cfg.Clone()
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	now := s.now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = now
	}

	s.mu.Lock()
	if _, exists := s.configs[cfg.ID]; exists {
		s.mu.Unlock()
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrConflict, cfg.ID)
	}
	s.configs[cfg.ID] = cfg
	count := len(s.configs)
	s.mu.Unlock()

	observability.SetAgentConfigs(count)
	s.logger.Info().Str("agent_id", cfg.ID).Str("name", cfg.Name).Msg("Agent config created")

	return cfg.Clone(), nil
}

// Get returns the configuration stored under id.
func (s *Store) Get(id string) (AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cfg.Clone(), nil
}

// Exists reports whether a configuration is stored under id.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.configs[id]
	return ok
}

// List returns every configuration ordered by creation time, then id.
func (s *Store) List() []AgentConfig {
	s.mu.RLock()
	out := make([]AgentConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update replaces the configuration stored under id. The id and creation
// time are preserved; the update time is stamped.
func (s *Store) Update(id string, cfg AgentConfig) (AgentConfig, error) {
	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, fmt.Errorf("invalid agent config: %w", err)
	}

	cfg = cfg.Clone()
	cfg.ID = id
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	s.mu.Lock()
	existing, ok := s.configs[id]
	if !ok {
		s.mu.Unlock()
		return AgentConfig{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = s.now()
	s.configs[id] = cfg
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	s.notify(listeners, id)
	s.logger.Info().Str("agent_id", id).Msg("Agent config updated")

	return cfg.Clone(), nil
}

// Delete removes the configuration stored under id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.configs[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.configs, id)
	count := len(s.configs)
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	observability.SetAgentConfigs(count)
	s.notify(listeners, id)
	s.logger.Info().Str("agent_id", id).Msg("Agent config deleted")

	return nil
}

func (s *Store) notify(listeners []ChangeFunc, id string) {
	for _, fn := range listeners {
		fn(id)
	}
}
