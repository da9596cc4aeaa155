package dataset

import "github.com/spikeflow/spikeflow/internal/model"

// snapshot is one immutable loaded dataset. Readers hand a snapshot to the
// store, which serves extractions from it until the next swap.
type snapshot struct {
	name string
	data []int16
	rows int // channels
	cols int // samples per channel

	// interleaved marks frame-major storage (sample t of every channel
	// stored together), the layout of raw binary captures. Row-major
	// storage keeps each channel's samples contiguous.
	interleaved bool

	// close releases a memory mapping, if any. Called only once no reader
	// can still observe the snapshot.
	close func() error
}

// row copies the channel's samples over win into a fresh slice.
func (s *snapshot) row(channelIdx int, win model.TimeWindow) []int16 {
	out := make([]int16, win.Len())
	if s.interleaved {
		for i := 0; i < win.Len(); i++ {
			out[i] = s.data[(win.Start+i)*s.rows+channelIdx]
		}
		return out
	}
	copy(out, s.data[channelIdx*s.cols+win.Start:channelIdx*s.cols+win.End])
	return out
}
