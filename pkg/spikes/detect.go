// Package spikes detects spike peaks in windowed signal data, either by
// threshold crossing on the samples themselves or by lookup against a
// precomputed spike-time source.
package spikes

import (
	"sort"

	"github.com/spikeflow/spikeflow/internal/model"
)

// DefaultDilation is the radius, in samples, by which a precomputed peak is
// widened on both sides when building the per-sample spike mask.
const DefaultDilation = 5

// Annotation carries detection output for one channel over one window.
// Peaks are window-relative sample offsets in ascending order; Mask flags
// every sample considered part of a spike.
type Annotation struct {
	Channel model.ChannelID
	Peaks   []int
	Mask    []bool
}

// Threshold runs threshold-crossing detection over every row of the block.
// A sample is in a spike when it is at or below the threshold; with inverted
// set, at or above. Each contiguous run yields one peak at the run's extreme
// sample. A nil threshold yields empty annotations for every channel.
func Threshold(block *model.FilteredBlock, threshold *float64, inverted bool) []Annotation {
	out := make([]Annotation, len(block.Channels))
	for i, ch := range block.Channels {
		out[i] = Annotation{Channel: ch}
		if threshold == nil {
			out[i].Mask = make([]bool, len(block.Samples[i]))
			continue
		}
		out[i].Peaks, out[i].Mask = runPeaks(block.Samples[i], *threshold, inverted)
	}
	return out
}

// runPeaks extracts contiguous threshold-crossing runs and their peak
// offsets. A run still open at the final sample is closed there.
func runPeaks(samples []float64, threshold float64, inverted bool) ([]int, []bool) {
	mask := make([]bool, len(samples))
	for i, v := range samples {
		if inverted {
			mask[i] = v >= threshold
		} else {
			mask[i] = v <= threshold
		}
	}

	var peaks []int
	runStart := -1
	closeRun := func(end int) {
		peak := runStart
		for j := runStart + 1; j < end; j++ {
			if inverted {
				if samples[j] > samples[peak] {
					peak = j
				}
			} else if samples[j] < samples[peak] {
				peak = j
			}
		}
		peaks = append(peaks, peak)
	}
	for i, in := range mask {
		switch {
		case in && runStart < 0:
			runStart = i
		case !in && runStart >= 0:
			closeRun(i)
			runStart = -1
		}
	}
	if runStart >= 0 {
		closeRun(len(samples))
	}
	return peaks, mask
}

// Precomputed annotates each channel with the source's spike times falling
// inside win, converted to window-relative offsets, with each peak dilated by
// the given radius in the mask. dilation < 0 uses DefaultDilation.
func Precomputed(src *Source, channels []model.ChannelID, win model.TimeWindow, dilation int) []Annotation {
	if dilation < 0 {
		dilation = DefaultDilation
	}
	out := make([]Annotation, len(channels))
	for i, ch := range channels {
		times := src.Times(ch)
		peaks := make([]int, 0, len(times))
		for _, t := range times {
			if t >= win.Start && t < win.End {
				peaks = append(peaks, t-win.Start)
			}
		}
		sort.Ints(peaks)

		mask := make([]bool, win.Len())
		for _, p := range peaks {
			lo := p - dilation
			if lo < 0 {
				lo = 0
			}
			hi := p + dilation
			if hi >= len(mask) {
				hi = len(mask) - 1
			}
			for j := lo; j <= hi; j++ {
				mask[j] = true
			}
		}
		out[i] = Annotation{Channel: ch, Peaks: peaks, Mask: mask}
	}
	return out
}
