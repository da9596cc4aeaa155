package sorting

import (
	"sort"
	"sync"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Registry maps algorithm names to specs. Registration is additive and
// idempotent by name.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*AlgorithmSpec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*AlgorithmSpec)}
}

// Register installs a spec, replacing any prior spec of the same name.
func (r *Registry) Register(spec *AlgorithmSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get returns the spec for a name.
func (r *Registry) Get(name string) (*AlgorithmSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return nil, errors.UnknownAlgorithm(name)
	}
	return spec, nil
}

// EnsureAvailable returns the spec only if it can actually run.
func (r *Registry) EnsureAvailable(name string) (*AlgorithmSpec, error) {
	spec, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if !spec.Available || spec.Run == nil {
		return nil, errors.Unavailable(name)
	}
	return spec, nil
}

// List returns all specs sorted by display name.
func (r *Registry) List() []*AlgorithmSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AlgorithmSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

// SpecInfo is the wire form of a spec.
type SpecInfo struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"displayName"`
	Description string                 `json:"description"`
	Available   bool                   `json:"available"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Serialise renders the registry for API responses, in List order.
func (r *Registry) Serialise() []SpecInfo {
	specs := r.List()
	out := make([]SpecInfo, len(specs))
	for i, spec := range specs {
		params := make(map[string]interface{}, len(spec.Defaults))
		for k, v := range spec.Defaults {
			params[k] = v
		}
		out[i] = SpecInfo{
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Description: spec.Description,
			Available:   spec.Available,
			Parameters:  params,
		}
	}
	return out
}
