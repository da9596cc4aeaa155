// Package model defines core data structures for SpikeFlow.
package model

// ChannelID identifies a recording electrode. Channel ids are 1-based;
// channel N maps to row N-1 of the sample matrix.
type ChannelID int

// Index returns the 0-based row index for the channel.
func (c ChannelID) Index() int {
	return int(c) - 1
}

// Valid reports whether the channel maps to a row within a matrix of
// channelCount rows.
func (c ChannelID) Valid(channelCount int) bool {
	idx := c.Index()
	return idx >= 0 && idx < channelCount
}

// TimeWindow is a half-open range of sample indices [Start, End).
type TimeWindow struct {
	Start int
	End   int
}

// Len returns the number of samples in the window.
func (w TimeWindow) Len() int {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// Clamp bounds the window to [0, total] and optionally caps its span.
// maxSpan <= 0 means no cap. The original end is pulled in, never pushed out.
func (w TimeWindow) Clamp(total, maxSpan int) TimeWindow {
	out := w
	if out.Start < 0 {
		out.Start = 0
	}
	if out.End > total {
		out.End = total
	}
	if maxSpan > 0 && out.End > out.Start+maxSpan {
		out.End = out.Start + maxSpan
	}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// Contains reports whether other lies fully inside w.
func (w TimeWindow) Contains(other TimeWindow) bool {
	return other.Start >= w.Start && other.End <= w.End
}

// RawBlock holds samples for a set of channels over one time window.
// Rows parallel Channels: Samples[i] is the sample sequence of Channels[i].
// A block is owned by the request that extracted it; detection and filtering
// read it without mutating it.
type RawBlock struct {
	Channels []ChannelID
	Window   TimeWindow
	Samples  [][]int16
}

// Row returns the sample row for a channel, or nil if the channel is not in
// the block.
func (b *RawBlock) Row(ch ChannelID) []int16 {
	for i, c := range b.Channels {
		if c == ch {
			return b.Samples[i]
		}
	}
	return nil
}

// Float64Rows converts the block's samples to float64 rows. The result is a
// fresh allocation; the block is untouched.
func (b *RawBlock) Float64Rows() [][]float64 {
	rows := make([][]float64, len(b.Samples))
	for i, s := range b.Samples {
		row := make([]float64, len(s))
		for j, v := range s {
			row[j] = float64(v)
		}
		rows[i] = row
	}
	return rows
}

// FilteredBlock is the filtered counterpart of a RawBlock. Baselines carries
// the per-row DC level that was subtracted by a DC-removing filter and added
// back for display continuity; it is zero for DC-preserving filters.
type FilteredBlock struct {
	Channels  []ChannelID
	Window    TimeWindow
	Samples   [][]float64
	Baselines []float64
}

// SpikeEvent marks one detected spike: the peak sample offset relative to the
// window it was detected in. Events are emitted per request and never
// persisted.
type SpikeEvent struct {
	Channel ChannelID
	Offset  int
}

// Direction selects which neighbouring spike a navigation query looks for.
type Direction string

const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)
