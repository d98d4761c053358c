package agentcache

import (
	"strings"
	"sync"
)

// ModelResolver maps logical model ids to provider deployment names.
// Lookups are case-insensitive and unmapped ids pass through unchanged.
type ModelResolver struct {
	mu      sync.RWMutex
	aliases map[string]string
}

func NewModelResolver(aliases map[string]string) *ModelResolver {
	r := &ModelResolver{}
	r.Replace(aliases)
	return r
}

// Resolve returns the deployment for model.
func (r *ModelResolver) Resolve(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[strings.ToLower(model)]; ok {
		return target
	}
	return model
}

// Replace swaps the alias table atomically.
func (r *ModelResolver) Replace(aliases map[string]string) {
	next := make(map[string]string, len(aliases))
	for alias, target := range aliases {
		next[strings.ToLower(alias)] = target
	}

	r.mu.Lock()
	r.aliases = next
	r.mu.Unlock()
}

// Aliases returns a copy of the alias table.
func (r *ModelResolver) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}
