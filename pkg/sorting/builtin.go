package sorting

import (
	"context"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
	"github.com/spikeflow/spikeflow/pkg/filter"
)

// FilterOnlyName is the always-available built-in algorithm.
const FilterOnlyName = "filter_only"

// RegisterBuiltins installs the built-in algorithms. The filter-only
// algorithm runs the window filter independently over every channel row and
// returns the result with no sorting step.
func RegisterBuiltins(r *Registry, opts filter.Options) {
	r.Register(&AlgorithmSpec{
		Name:        FilterOnlyName,
		DisplayName: "Filter Only",
		Description: "Bandpass filter each channel without sorting",
		Available:   true,
		Defaults: Params{
			"filterType":   string(filter.Bandpass),
			"samplingRate": float64(opts.SamplingRate),
			"order":        float64(opts.Order),
		},
		Run: filterOnlyRunner(opts),
	})
}

func filterOnlyRunner(base filter.Options) Runner {
	return func(ctx context.Context, block *model.RawBlock, params Params) (*Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled(FilterOnlyName)
		}
		opts := base
		opts.SamplingRate = params.Float("samplingRate", base.SamplingRate)
		opts.Order = params.Int("order", base.Order)
		kind := filter.ParseKind(params.String("filterType", string(filter.Bandpass)))

		filtered, err := filter.BlockParallel(ctx, block, kind, opts)
		if err != nil {
			return nil, errors.ContextCanceled(FilterOnlyName)
		}
		return &Result{
			Raw:      block,
			Filtered: filtered,
			Intermediates: map[string]interface{}{
				"filterType": string(kind),
			},
		}, nil
	}
}

// RegisterExternal installs a placeholder spec for an algorithm whose
// implementation is not bundled. It lists with available=false and refuses
// to run until a real runner replaces it.
func RegisterExternal(r *Registry, name, displayName, description string, defaults Params) {
	r.Register(&AlgorithmSpec{
		Name:        name,
		DisplayName: displayName,
		Description: description,
		Available:   false,
		Defaults:    defaults,
	})
}
