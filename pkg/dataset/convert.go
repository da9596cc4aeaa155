package dataset

import (
	"encoding/binary"
	"fmt"
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

// ConvertResult reports what BuildCache produced.
type ConvertResult struct {
	BufferPath string
	ShapePath  string
	Rows       int
	Cols       int
	// Scale is the divisor applied when the source range exceeds int16;
	// 1 when the data fit as-is.
	Scale float64
}

// BuildCache converts a tensor container into its memory-mapped cache pair:
// a flat channels-major int16 buffer plus a shape sidecar. Values outside
// the int16 range are rescaled by the max absolute value. progress, when
// non-nil, is called once per channel written.
func BuildCache(path string, overwrite bool, progress func(done, total int)) (ConvertResult, error) {
	buffer, shape := CachePair(path)
	if buffer == "" {
		return ConvertResult{}, errors.New(errors.CodeInvalidFormat, "not a tensor container").
			WithContext("path", path)
	}
	if !overwrite {
		if _, err := os.Stat(buffer); err == nil {
			return ConvertResult{}, errors.New(errors.CodeStorage, "cache pair already exists").
				WithContext("path", buffer)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConvertResult{}, errors.FileNotFound(path)
		}
		return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "open tensor container")
	}
	defer f.Close()

	cols, err := readFloatColumns(f)
	if err != nil {
		return ConvertResult{}, err
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return ConvertResult{}, errors.Malformed("tensor container holds no data")
	}
	numCols := len(cols)
	numRows := len(cols[0])
	for _, c := range cols {
		if len(c) != numRows {
			return ConvertResult{}, errors.Malformed("ragged tensor columns")
		}
	}

	// Channels on the smaller axis, matching the load path.
	var rows [][]float64
	if numCols <= numRows {
		rows = cols
	} else {
		rows = make([][]float64, numRows)
		for ch := range rows {
			rows[ch] = make([]float64, numCols)
			for t, col := range cols {
				rows[ch][t] = col[ch]
			}
		}
	}

	scale := rescaleFactor(rows)

	result := ConvertResult{
		BufferPath: buffer,
		ShapePath:  shape,
		Rows:       len(rows),
		Cols:       len(rows[0]),
		Scale:      scale,
	}

	tmp, err := os.CreateTemp(filepath.Dir(buffer), ".convert-*.npy")
	if err != nil {
		return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "create cache buffer")
	}
	defer os.Remove(tmp.Name())

	out := make([]byte, 2*result.Cols)
	for ch, row := range rows {
		for i, v := range row {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(clampInt16(v/scale)))
		}
		if _, err := tmp.Write(out); err != nil {
			tmp.Close()
			return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "write cache buffer")
		}
		if progress != nil {
			progress(ch+1, result.Rows)
		}
	}
	if err := tmp.Close(); err != nil {
		return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "close cache buffer")
	}
	if err := os.Rename(tmp.Name(), buffer); err != nil {
		return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "place cache buffer")
	}

	shapeContent := fmt.Sprintf("%d,%d", result.Rows, result.Cols)
	if err := os.WriteFile(shape, []byte(shapeContent), 0644); err != nil {
		return ConvertResult{}, errors.Wrap(err, errors.CodeStorage, "write shape sidecar")
	}
	return result, nil
}

// rescaleFactor returns the divisor that brings the data into int16 range,
// or 1 when it already fits.
func rescaleFactor(rows [][]float64) float64 {
	maxAbs := 0.0
	for _, row := range rows {
		for _, v := range row {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	if maxAbs <= math.MaxInt16 {
		return 1
	}
	return maxAbs / math.MaxInt16
}

// readFloatColumns mirrors readColumns but keeps full float precision so
// out-of-range data can be rescaled rather than clamped.
func readFloatColumns(f *os.File) ([][]float64, error) {
	alloc := memory.NewGoAllocator()

	if rdr, err := ipc.NewFileReader(f, ipc.WithAllocator(alloc)); err == nil {
		defer rdr.Close()
		return drainFloat(func() (arrow.Record, error) { return rdr.Read() })
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorage, "rewind tensor container")
	}
	rdr, err := ipc.NewReader(f, ipc.WithAllocator(alloc))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidFormat, "not an Arrow IPC container")
	}
	defer rdr.Release()

	return drainFloat(func() (arrow.Record, error) {
		if !rdr.Next() {
			if err := rdr.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rdr.Record(), nil
	})
}

func drainFloat(next func() (arrow.Record, error)) ([][]float64, error) {
	var cols [][]float64
	for {
		rec, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformed, "read tensor record")
		}

		if cols == nil {
			cols = make([][]float64, rec.NumCols())
		}
		if int(rec.NumCols()) != len(cols) {
			return nil, errors.Malformed("record column count changed mid-container")
		}

		for j := 0; j < int(rec.NumCols()); j++ {
			values, err := floatValues(rec.Column(j))
			if err != nil {
				return nil, err
			}
			cols[j] = append(cols[j], values...)
		}
	}
	return cols, nil
}

func floatValues(col arrow.Array) ([]float64, error) {
	out := make([]float64, col.Len())
	switch c := col.(type) {
	case *array.Int16:
		for i, v := range c.Int16Values() {
			out[i] = float64(v)
		}
	case *array.Int32:
		for i := 0; i < c.Len(); i++ {
			out[i] = float64(c.Value(i))
		}
	case *array.Int64:
		for i := 0; i < c.Len(); i++ {
			out[i] = float64(c.Value(i))
		}
	case *array.Float32:
		for i := 0; i < c.Len(); i++ {
			out[i] = float64(c.Value(i))
		}
	case *array.Float64:
		copy(out, c.Float64Values())
	default:
		return nil, errors.Malformed("unsupported tensor column type").
			WithContext("type", col.DataType().Name())
	}
	return out, nil
}
