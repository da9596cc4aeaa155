package dataset

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/spikeflow/spikeflow/pkg/errors"
)

// tensorReader loads a 2D numeric array from an Arrow IPC container. The
// array's orientation is not trusted: whichever dimension is smaller becomes
// the channel axis.
type tensorReader struct{}

func (r *tensorReader) Formats() []Format {
	return []Format{FormatTensor}
}

func (r *tensorReader) Read(desc Descriptor) (*snapshot, error) {
	f, err := os.Open(desc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(desc.Path)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "open tensor container")
	}
	defer f.Close()

	cols, err := readColumns(f)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, errors.Malformed("tensor container holds no data")
	}

	numCols := len(cols)
	numRows := len(cols[0])
	for _, c := range cols {
		if len(c) != numRows {
			return nil, errors.Malformed("ragged tensor columns").
				WithContext("expected", numRows).
				WithContext("got", len(c))
		}
	}

	// Orient so the smaller dimension is channels and each channel's
	// samples are contiguous.
	var snap *snapshot
	if numCols <= numRows {
		data := make([]int16, numCols*numRows)
		for ch, col := range cols {
			copy(data[ch*numRows:], col)
		}
		snap = &snapshot{data: data, rows: numCols, cols: numRows}
	} else {
		data := make([]int16, numCols*numRows)
		for t, col := range cols {
			for ch, v := range col {
				data[ch*numCols+t] = v
			}
		}
		snap = &snapshot{data: data, rows: numRows, cols: numCols}
	}
	snap.name = filepath.Base(desc.Path)
	return snap, nil
}

// readColumns drains every record in the container, file format first with a
// stream-format fallback, concatenating each column across records.
func readColumns(f *os.File) ([][]int16, error) {
	alloc := memory.NewGoAllocator()

	if rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(alloc)); err == nil {
		defer rdr.Close()
		return drainReader(func() (arrow.Record, error) { return rdr.Read() })
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "rewind tensor container")
	}
	rdr, err := ipc.NewReader(f, ipc.WithAllocator(alloc))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "not an Arrow IPC container")
	}
	defer rdr.Release()

	return drainReader(func() (arrow.Record, error) {
		if !rdr.Next() {
			if err := rdr.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rdr.Record(), nil
	})
}

func drainReader(next func() (arrow.Record, error)) ([][]int16, error) {
	var cols [][]int16
	for {
		rec, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformed, "read tensor record")
		}

		if cols == nil {
			cols = make([][]int16, rec.NumCols())
		}
		if int(rec.NumCols()) != len(cols) {
			return nil, errors.Malformed("record column count changed mid-container")
		}

		for j := 0; j < int(rec.NumCols()); j++ {
			values, err := columnValues(rec.Column(j))
			if err != nil {
				return nil, err
			}
			cols[j] = append(cols[j], values...)
		}
	}
	return cols, nil
}

func columnValues(col arrow.Array) ([]int16, error) {
	out := make([]int16, col.Len())
	switch c := col.(type) {
	case *array.Int16:
		copy(out, c.Int16Values())
	case *array.Int32:
		for i := 0; i < c.Len(); i++ {
			out[i] = clampInt16(float64(c.Value(i)))
		}
	case *array.Int64:
		for i := 0; i < c.Len(); i++ {
			out[i] = clampInt16(float64(c.Value(i)))
		}
	case *array.Float32:
		for i := 0; i < c.Len(); i++ {
			out[i] = clampInt16(float64(c.Value(i)))
		}
	case *array.Float64:
		for i := 0; i < c.Len(); i++ {
			out[i] = clampInt16(c.Value(i))
		}
	default:
		return nil, errors.Malformed("unsupported tensor column type").
			WithContext("type", col.DataType().Name())
	}
	return out, nil
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
