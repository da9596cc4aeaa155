package spikes

import (
	"sort"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Source is a precomputed spike-time container, resolved to one of two
// shapes at load time: a single global time list applied to every channel,
// or a per-channel mapping.
type Source struct {
	global  []int
	channel map[model.ChannelID][]int
}

// NewGlobalSource wraps one time list shared by all channels.
func NewGlobalSource(times []int) *Source {
	return &Source{global: times}
}

// NewPerChannelSource wraps a channel-to-times mapping.
func NewPerChannelSource(m map[model.ChannelID][]int) *Source {
	return &Source{channel: m}
}

// PerChannel reports whether the source distinguishes channels.
func (s *Source) PerChannel() bool {
	return s.channel != nil
}

// Times returns the spike times applicable to a channel. Global sources
// return the shared list for any channel; per-channel sources return nil for
// channels with no entry. Callers must not mutate the result.
func (s *Source) Times(ch model.ChannelID) []int {
	if s.channel != nil {
		return s.channel[ch]
	}
	return s.global
}

// Channels lists the channels a per-channel source covers, ascending. Global
// sources return nil.
func (s *Source) Channels() []model.ChannelID {
	if s.channel == nil {
		return nil
	}
	out := make([]model.ChannelID, 0, len(s.channel))
	for ch := range s.channel {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the total number of stored times.
func (s *Source) Count() int {
	if s.channel == nil {
		return len(s.global)
	}
	n := 0
	for _, times := range s.channel {
		n += len(times)
	}
	return n
}

// Has reports whether the source carries any times for the channel.
func (s *Source) Has(ch model.ChannelID) bool {
	return len(s.Times(ch)) > 0
}

// Collect merges the times for a channel set into one deduplicated ascending
// list.
func (s *Source) Collect(channels []model.ChannelID) []int {
	seen := make(map[int]struct{})
	for _, ch := range channels {
		for _, t := range s.Times(ch) {
			seen[t] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// FindAdjacent locates the spike nearest to current in the given direction
// across the channel set, wrapping around at either end. A nil source fails
// with NoSpikesLoaded; an empty collected set with NoSpikesFound.
func FindAdjacent(src *Source, channels []model.ChannelID, current int, dir model.Direction) (int, error) {
	if src == nil {
		return 0, errors.NoSpikesLoaded()
	}
	times := src.Collect(channels)
	if len(times) == 0 {
		return 0, errors.NoSpikesFound()
	}

	if dir == model.DirectionPrev {
		for i := len(times) - 1; i >= 0; i-- {
			if times[i] < current {
				return times[i], nil
			}
		}
		return times[len(times)-1], nil
	}
	for _, t := range times {
		if t > current {
			return t, nil
		}
	}
	return times[0], nil
}
