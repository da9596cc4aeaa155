// Package sorting hosts the pluggable spike-sorting algorithm registry and
// the background job orchestrator that executes algorithms off the request
// path.
package sorting

import (
	"context"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Params carries algorithm parameters as loosely typed key/value pairs, the
// shape they arrive in from JSON request bodies.
type Params map[string]interface{}

// Merge layers overrides on top of p. Override keys win. Neither input is
// mutated.
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// String reads a string parameter, falling back when absent or mistyped.
func (p Params) String(key, fallback string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return fallback
}

// Float reads a numeric parameter. JSON numbers decode as float64; integer
// values stored directly are accepted too.
func (p Params) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// Int reads an integer parameter.
func (p Params) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// Result is an algorithm's output: the input it consumed, optional filtered
// data, and any named intermediate products. Immutable once the owning job
// reaches a terminal state.
type Result struct {
	Raw           *model.RawBlock
	Filtered      *model.FilteredBlock
	Intermediates map[string]interface{}
}

// Runner executes an algorithm over one raw block. Implementations honour
// ctx cancellation at their convenience; the orchestrator never preempts.
type Runner func(ctx context.Context, block *model.RawBlock, params Params) (*Result, error)

// AlgorithmSpec describes one registered algorithm. Available is resolved at
// registration time: a spec registered without a runner, or explicitly marked
// unavailable, is listed but refuses to run.
type AlgorithmSpec struct {
	Name        string
	DisplayName string
	Description string
	Available   bool
	Defaults    Params
	Run         Runner
}

// Execute merges caller params over the spec's defaults and invokes the
// runner. Fails with Unavailable before touching the block if the spec
// cannot run.
func (s *AlgorithmSpec) Execute(ctx context.Context, block *model.RawBlock, params Params) (*Result, error) {
	if !s.Available || s.Run == nil {
		return nil, errors.Unavailable(s.Name)
	}
	return s.Run(ctx, block, s.Defaults.Merge(params))
}
