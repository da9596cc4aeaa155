// Package dataset owns the active channel-by-time sample buffer and
// abstracts the on-disk layouts it can be loaded from.
package dataset

import (
	"sync"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Format identifies an on-disk dataset layout.
type Format string

const (
	// FormatBinary is a flat interleaved int16 blob: frames of one sample
	// per channel, channel count supplied externally.
	FormatBinary Format = "binary"

	// FormatTensor is an Arrow IPC file holding a 2D numeric array whose
	// orientation is resolved at load time.
	FormatTensor Format = "tensor"

	// FormatMapped is a precomputed cache pair: a raw flat int16 buffer
	// plus a comma-separated shape sidecar, accessed via memory mapping.
	FormatMapped Format = "mapped"

	// FormatUnknown means detection failed.
	FormatUnknown Format = "unknown"
)

// Descriptor names a dataset source to load.
type Descriptor struct {
	// Path to the dataset file (for FormatMapped, the flat buffer file).
	Path string

	// Format of the file; FormatUnknown triggers detection by extension.
	Format Format

	// BinaryRows is the channel count used to reshape FormatBinary blobs.
	BinaryRows int
}

// Reader loads one source shape into an in-memory snapshot.
type Reader interface {
	// Formats returns the formats this reader handles.
	Formats() []Format

	// Read loads the descriptor into a snapshot.
	Read(desc Descriptor) (*snapshot, error)
}

// Registry maps formats to readers.
type Registry struct {
	mu      sync.RWMutex
	readers map[Format]Reader
}

// NewRegistry creates a reader registry with the built-in readers installed.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[Format]Reader)}
	r.Register(&binaryReader{})
	r.Register(&tensorReader{})
	r.Register(&mappedReader{})
	return r
}

// Register registers a reader for its formats.
func (r *Registry) Register(reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, format := range reader.Formats() {
		r.readers[format] = reader
	}
}

// Get returns the reader for a format.
func (r *Registry) Get(format Format) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reader, ok := r.readers[format]; ok {
		return reader, nil
	}
	return nil, errors.New(errors.CodeInvalidFormat, "no reader for format").
		WithContext("format", string(format))
}
