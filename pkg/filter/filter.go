// Package filter provides zero-phase Butterworth window filtering with
// edge-effect compensation and DC-baseline restoration.
package filter

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/spikeflow/spikeflow/internal/model"
)

// Kind selects the filter shape applied to a window.
type Kind string

const (
	None     Kind = "none"
	Highpass Kind = "highpass"
	Lowpass  Kind = "lowpass"
	Bandpass Kind = "bandpass"
)

// RemovesDC reports whether the kind eliminates the DC component, requiring
// the baseline to be restored after filtering.
func (k Kind) RemovesDC() bool {
	return k == Highpass || k == Bandpass
}

// ParseKind maps a request string to a Kind, defaulting to None.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case Highpass, Lowpass, Bandpass, None:
		return Kind(s)
	default:
		return None
	}
}

// Options carries the filter parameters. Zero values fall back to defaults.
type Options struct {
	SamplingRate float64 // Hz
	Order        int
	EdgePad      int // samples of surround used to absorb edge artifacts
	HighpassHz   float64
	LowpassHz    float64
}

// DefaultOptions returns the standard extracellular recording setup:
// 30 kHz sampling, 4th order, 100-sample edge pad, 300 Hz / 3 kHz corners.
func DefaultOptions() Options {
	return Options{
		SamplingRate: 30000,
		Order:        4,
		EdgePad:      100,
		HighpassHz:   300,
		LowpassHz:    3000,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.SamplingRate <= 0 {
		o.SamplingRate = d.SamplingRate
	}
	if o.Order <= 0 {
		o.Order = d.Order
	}
	if o.EdgePad <= 0 {
		o.EdgePad = d.EdgePad
	}
	if o.HighpassHz <= 0 {
		o.HighpassHz = d.HighpassHz
	}
	if o.LowpassHz <= 0 {
		o.LowpassHz = d.LowpassHz
	}
	return o
}

// Result is the outcome of filtering one window.
type Result struct {
	// Samples is the filtered segment, exactly window-length long.
	Samples []float64
	// Baseline is the DC level that was added back (zero for DC-preserving
	// kinds and for fallbacks).
	Baseline float64
	// Degraded is set when filtering failed and Samples is the raw segment.
	Degraded bool
}

// Apply filters the sub-range win of samples. win indexes into samples; the
// surround available in the slice (up to EdgePad on each side, clamped to the
// slice extents) is used to absorb edge artifacts, and only the requested
// range is returned.
//
// DC-removing kinds record the mean of the unpadded requested segment and add
// it back so amplitude scale is preserved for display. Filtering failure is
// recovered by returning the unfiltered segment with Degraded set; it is
// never an error. Each call designs its own coefficients and carries its own
// state, so concurrent calls are independent.
func Apply(samples []float64, win model.TimeWindow, kind Kind, opts Options) Result {
	win = win.Clamp(len(samples), 0)
	segment := samples[win.Start:win.End]

	if kind == None || len(segment) == 0 {
		out := make([]float64, len(segment))
		copy(out, segment)
		return Result{Samples: out}
	}

	opts = opts.normalized()
	nyquist := opts.SamplingRate / 2

	b, a, err := design(kind, opts.Order, opts.HighpassHz/nyquist, opts.LowpassHz/nyquist)
	if err != nil {
		return fallback(segment)
	}

	padStart := win.Start - opts.EdgePad
	if padStart < 0 {
		padStart = 0
	}
	padEnd := win.End + opts.EdgePad
	if padEnd > len(samples) {
		padEnd = len(samples)
	}

	filtered, err := filtfilt(b, a, samples[padStart:padEnd])
	if err != nil {
		return fallback(segment)
	}

	offset := win.Start - padStart
	out := make([]float64, len(segment))
	copy(out, filtered[offset:offset+len(segment)])

	var baseline float64
	if kind.RemovesDC() {
		baseline = mean(segment)
		for i := range out {
			out[i] += baseline
		}
	}

	return Result{Samples: out, Baseline: baseline}
}

// ApplyRow is Apply over an int16 row, converting once.
func ApplyRow(row []int16, win model.TimeWindow, kind Kind, opts Options) Result {
	samples := make([]float64, len(row))
	for i, v := range row {
		samples[i] = float64(v)
	}
	return Apply(samples, win, kind, opts)
}

// Block filters every row of a raw block independently. The block rows are
// expected to already include the window's samples only (no surround), so
// edge padding is limited to what each row carries.
func Block(block *model.RawBlock, kind Kind, opts Options) *model.FilteredBlock {
	out := &model.FilteredBlock{
		Channels:  block.Channels,
		Window:    block.Window,
		Samples:   make([][]float64, len(block.Samples)),
		Baselines: make([]float64, len(block.Samples)),
	}
	for i, row := range block.Samples {
		res := ApplyRow(row, model.TimeWindow{Start: 0, End: len(row)}, kind, opts)
		out.Samples[i] = res.Samples
		out.Baselines[i] = res.Baseline
	}
	return out
}

// BlockParallel is Block spread across cores. Rows are independent, so a
// full-recording job filters one channel per goroutine. Returns early with
// the context error when cancelled; rows past that point are skipped.
func BlockParallel(ctx context.Context, block *model.RawBlock, kind Kind, opts Options) (*model.FilteredBlock, error) {
	out := &model.FilteredBlock{
		Channels:  block.Channels,
		Window:    block.Window,
		Samples:   make([][]float64, len(block.Samples)),
		Baselines: make([]float64, len(block.Samples)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, row := range block.Samples {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := ApplyRow(row, model.TimeWindow{Start: 0, End: len(row)}, kind, opts)
			out.Samples[i] = res.Samples
			out.Baselines[i] = res.Baseline
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fallback(segment []float64) Result {
	out := make([]float64, len(segment))
	copy(out, segment)
	return Result{Samples: out, Degraded: true}
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}
