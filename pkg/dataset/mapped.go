package dataset

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// mappedReader serves the precomputed cache pair: a raw flat int16 buffer
// memory-mapped read-only, with a plain-text comma-separated shape sidecar.
// The converter writes the buffer channels-major, so no reshape happens here.
type mappedReader struct{}

func (r *mappedReader) Formats() []Format {
	return []Format{FormatMapped}
}

func (r *mappedReader) Read(desc Descriptor) (*snapshot, error) {
	buffer, shapePath := CachePair(desc.Path)
	if buffer == "" {
		return nil, errors.Malformed("path is not a cache pair").
			WithContext("path", desc.Path)
	}

	rows, cols, err := readShape(shapePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(buffer)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(buffer)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "open cache buffer")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "stat cache buffer")
	}
	want := int64(rows) * int64(cols) * 2
	if info.Size() != want {
		return nil, errors.Malformed("cache buffer size does not match shape").
			WithContext("size", info.Size()).
			WithContext("want", want)
	}

	mapped, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()),
		syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "map cache buffer")
	}

	data := unsafe.Slice((*int16)(unsafe.Pointer(&mapped[0])), len(mapped)/2)

	return &snapshot{
		name: filepath.Base(desc.Path),
		data: data,
		rows: rows,
		cols: cols,
		close: func() error {
			return syscall.Munmap(mapped)
		},
	}, nil
}

// readShape parses "rows,cols" from the sidecar.
func readShape(path string) (rows, cols int, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, errors.FileNotFound(path)
		}
		return 0, 0, errors.Wrap(err, errors.CodeStorage, "read shape sidecar")
	}

	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(parts) != 2 {
		return 0, 0, errors.Malformed("shape sidecar must hold two dimensions").
			WithContext("content", strings.TrimSpace(string(raw)))
	}

	rows, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err == nil {
		cols, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	if err != nil || rows <= 0 || cols <= 0 {
		return 0, 0, errors.Malformed("invalid shape sidecar").
			WithContext("content", strings.TrimSpace(string(raw)))
	}
	return rows, cols, nil
}
