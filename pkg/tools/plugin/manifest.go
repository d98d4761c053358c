package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
)

// HostAPIConstraint is the range of plugin API versions this host speaks.
const HostAPIConstraint = "^1.0.0"

var ErrIncompatibleAPI = errors.New("plugin api_version is not supported by host")

// ManifestSchema validates plugin manifests.
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "api_version"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9_-]+$"},
    "version": {"type": "string", "minLength": 1},
    "api_version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "functions": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

// Manifest is the JSON document shipped next to a plugin binary.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	APIVersion  string   `json:"api_version"`
	Description string   `json:"description,omitempty"`
	Functions   []string `json:"functions,omitempty"`
}

// ManifestPath returns the manifest location for a plugin binary.
func ManifestPath(binary string) string {
	return strings.TrimSuffix(binary, ".exe") + ".manifest.json"
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest validates data against ManifestSchema and the host API
// constraint.
func ParseManifest(data []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ManifestSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("manifest schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("manifest schema validation errors: %s", strings.Join(msgs, "; "))
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return nil, fmt.Errorf("invalid plugin version %q: %w", m.Version, err)
	}
	if err := CheckAPIVersion(m.APIVersion); err != nil {
		return nil, err
	}

	return &m, nil
}

// CheckAPIVersion reports whether version satisfies HostAPIConstraint.
func CheckAPIVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid api_version %q: %w", version, err)
	}
	constraint, err := semver.NewConstraint(HostAPIConstraint)
	if err != nil {
		return fmt.Errorf("invalid host constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleAPI, version, HostAPIConstraint)
	}
	return nil
}
