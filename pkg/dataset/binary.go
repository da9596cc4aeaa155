package dataset

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// binaryReader loads flat interleaved int16 capture blobs. The channel count
// cannot be recovered from the file and must come from the descriptor.
type binaryReader struct{}

func (r *binaryReader) Formats() []Format {
	return []Format{FormatBinary}
}

func (r *binaryReader) Read(desc Descriptor) (*snapshot, error) {
	rows := desc.BinaryRows
	if rows <= 0 {
		return nil, errors.Malformed("binary source needs a channel count")
	}

	raw, err := os.ReadFile(desc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(desc.Path)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "read dataset")
	}

	if len(raw)%2 != 0 {
		return nil, errors.Malformed("odd byte count for int16 samples").
			WithContext("bytes", len(raw))
	}
	values := len(raw) / 2
	if values%rows != 0 {
		return nil, errors.Malformed("sample count not divisible by channel count").
			WithContext("values", values).
			WithContext("rows", rows)
	}

	data := make([]int16, values)
	for i := range data {
		data[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}

	return &snapshot{
		name:        filepath.Base(desc.Path),
		data:        data,
		rows:        rows,
		cols:        values / rows,
		interleaved: true,
	}, nil
}
