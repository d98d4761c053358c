package agentconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of an agent seed file.
type seedFile struct {
	Agents []AgentConfig `yaml:"agents"`
}

// ParseSeed decodes YAML agent definitions.
func ParseSeed(data []byte) ([]AgentConfig, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent seed: %w", err)
	}
	for i, cfg := range file.Agents {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
	}
	return file.Agents, nil
}

// LoadSeedFile registers every agent defined in the YAML file at path and
// returns the stored configurations.
func (s *Store) LoadSeedFile(path string) ([]AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent seed file: %w", err)
	}

	agents, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}

	created := make([]AgentConfig, 0, len(agents))
	for _, cfg := range agents {
		stored, err := s.Create(cfg)
		if err != nil {
			return created, fmt.Errorf("failed to register agent %q: %w", cfg.Name, err)
		}
		created = append(created, stored)
	}

	s.logger.Info().Str("path", path).Int("agents", len(created)).Msg("Loaded agent seed file")
	return created, nil
}
