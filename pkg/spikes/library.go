package spikes

import "sync"

// Library holds the precomputed source for the active dataset. A dataset
// swap invalidates it; callers re-resolve the label file lazily on the next
// request.
type Library struct {
	mu      sync.Mutex
	dataset string
	source  *Source
	label   string
}

// Set installs a source loaded from the given label file for a dataset.
func (l *Library) Set(dataset, labelPath string, src *Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dataset = dataset
	l.label = labelPath
	l.source = src
}

// Get returns the cached source if it belongs to the dataset.
func (l *Library) Get(dataset string) (*Source, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.source == nil || l.dataset != dataset {
		return nil, false
	}
	return l.source, true
}

// LabelPath returns the file the cached source was loaded from.
func (l *Library) LabelPath(dataset string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.source == nil || l.dataset != dataset {
		return "", false
	}
	return l.label, true
}

// Invalidate drops the cached source. Wired to the dataset store's swap
// notification so stale labels never outlive their buffer.
func (l *Library) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dataset = ""
	l.label = ""
	l.source = nil
}
