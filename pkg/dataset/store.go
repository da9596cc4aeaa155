package dataset

import (
	"sync"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Store owns the active sample buffer. Extractions read the current snapshot
// under a read lock; Load swaps the snapshot under the write lock, so readers
// always see one dataset in full, never a mix. Loading a new source fully
// replaces the previous one.
type Store struct {
	mu       sync.RWMutex
	snap     *snapshot
	version  uint64
	registry *Registry

	swapMu sync.Mutex
	onSwap []func(dataset string)
}

// NewStore creates an empty store with the built-in readers.
func NewStore() *Store {
	return &Store{registry: NewRegistry()}
}

// LoadResult describes the loaded dataset.
type LoadResult struct {
	Name         string
	ChannelCount int
	TotalSamples int
	Version      uint64
}

// Load replaces the active buffer with the descriptor's contents. Dependents
// registered via OnSwap are notified afterwards so cached label state tied to
// the previous dataset gets dropped.
func (s *Store) Load(desc Descriptor) (LoadResult, error) {
	if desc.Format == "" || desc.Format == FormatUnknown {
		desc.Format = Detect(desc.Path)
	}

	reader, err := s.registry.Get(desc.Format)
	if err != nil {
		return LoadResult{}, err
	}

	snap, err := reader.Read(desc)
	if err != nil {
		return LoadResult{}, err
	}

	s.mu.Lock()
	old := s.snap
	s.snap = snap
	s.version++
	result := LoadResult{
		Name:         snap.name,
		ChannelCount: snap.rows,
		TotalSamples: snap.cols,
		Version:      s.version,
	}
	s.mu.Unlock()

	// The write lock guarantees no extraction still reads the old mapping.
	if old != nil && old.close != nil {
		old.close()
	}

	s.notifySwap(snap.name)
	return result, nil
}

// Unload drops the active buffer, returning the store to its empty state.
func (s *Store) Unload() {
	s.mu.Lock()
	old := s.snap
	s.snap = nil
	s.version++
	s.mu.Unlock()

	if old != nil && old.close != nil {
		old.close()
	}
	s.notifySwap("")
}

// OnSwap registers a callback invoked after every buffer swap with the new
// dataset name ("" for unload).
func (s *Store) OnSwap(fn func(dataset string)) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.onSwap = append(s.onSwap, fn)
}

func (s *Store) notifySwap(name string) {
	s.swapMu.Lock()
	fns := make([]func(string), len(s.onSwap))
	copy(fns, s.onSwap)
	s.swapMu.Unlock()

	for _, fn := range fns {
		fn(name)
	}
}

// Extract copies the requested window for the requested channels out of the
// active buffer. Channel ids outside [1, channelCount] are silently skipped;
// the returned list holds the surviving ids in request order. The window is
// clamped to the buffer extent. Errors only when no dataset is loaded or the
// window is empty after validation.
func (s *Store) Extract(channels []model.ChannelID, win model.TimeWindow) ([]model.ChannelID, *model.RawBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return extract(s.snap, channels, win)
}

// extract reads one snapshot; callers hold the lock (or own the snapshot).
func extract(snap *snapshot, channels []model.ChannelID, win model.TimeWindow) ([]model.ChannelID, *model.RawBlock, error) {
	if snap == nil {
		return nil, nil, errors.NotLoaded()
	}
	if win.End <= win.Start {
		return nil, nil, errors.InvalidWindow(win.Start, win.End)
	}

	win = win.Clamp(snap.cols, 0)

	valid := make([]model.ChannelID, 0, len(channels))
	rows := make([][]int16, 0, len(channels))
	for _, ch := range channels {
		if !ch.Valid(snap.rows) {
			continue
		}
		valid = append(valid, ch)
		rows = append(rows, snap.row(ch.Index(), win))
	}

	return valid, &model.RawBlock{Channels: valid, Window: win, Samples: rows}, nil
}

// ExtractPadded extracts win plus up to pad samples of surround on each side
// (clamped to the buffer), returning the padded block and the requested
// window clamped the same way. Rows of the padded block line up with
// block.Window, so callers filter with the requested window expressed
// relative to the padded start. Clamp and extraction read the same snapshot
// under one lock hold; a concurrent Load cannot split them.
func (s *Store) ExtractPadded(channels []model.ChannelID, win model.TimeWindow, pad int) ([]model.ChannelID, *model.RawBlock, model.TimeWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, nil, model.TimeWindow{}, errors.NotLoaded()
	}

	clamped := win.Clamp(s.snap.cols, 0)
	padded := model.TimeWindow{Start: clamped.Start - pad, End: clamped.End + pad}

	valid, block, err := extract(s.snap, channels, padded)
	if err != nil {
		return nil, nil, model.TimeWindow{}, err
	}
	return valid, block, clamped, nil
}

// ChannelCount returns the number of channels in the active buffer, 0 when
// nothing is loaded.
func (s *Store) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.rows
}

// TotalSamples returns the per-channel sample count of the active buffer.
func (s *Store) TotalSamples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.cols
}

// CurrentDataset returns the active dataset's name, "" when empty.
func (s *Store) CurrentDataset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return ""
	}
	return s.snap.name
}

// Version returns the swap counter; it increments on every Load/Unload.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Loaded reports whether a dataset is active.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap != nil
}
