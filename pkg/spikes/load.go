package spikes

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

// Load reads a spike-time label file. JSON files hold either a flat array of
// times (global) or an object keyed by channel id (per-channel); Arrow IPC
// files hold one column per channel, or a single column treated as global.
func Load(path string) (*Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadJSON(path)
	case ".arrow", ".arrows", ".feather":
		return loadArrow(path)
	}
	return nil, errors.New(errors.CodeInvalidFormat,
		fmt.Sprintf("unsupported label file %q", filepath.Base(path)))
}

func loadJSON(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "read label file")
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Malformed("label file is not valid JSON")
	}

	switch val := v.(type) {
	case []interface{}:
		times, err := jsonTimes(val)
		if err != nil {
			return nil, err
		}
		return NewGlobalSource(times), nil
	case map[string]interface{}:
		m := make(map[model.ChannelID][]int, len(val))
		for key, entry := range val {
			ch, err := strconv.Atoi(strings.TrimPrefix(key, "ch"))
			if err != nil {
				return nil, errors.Malformed(fmt.Sprintf("label key %q is not a channel id", key))
			}
			list, ok := entry.([]interface{})
			if !ok {
				return nil, errors.Malformed(fmt.Sprintf("labels for channel %d are not a list", ch))
			}
			times, err := jsonTimes(list)
			if err != nil {
				return nil, err
			}
			m[model.ChannelID(ch)] = times
		}
		return NewPerChannelSource(m), nil
	}
	return nil, errors.Malformed("label file must hold a list or a channel mapping")
}

func jsonTimes(list []interface{}) ([]int, error) {
	times := make([]int, 0, len(list))
	for _, item := range list {
		num, ok := item.(json.Number)
		if !ok {
			return nil, errors.Malformed("label entry is not a number")
		}
		f, err := num.Float64()
		if err != nil {
			return nil, errors.Malformed("label entry is not a number")
		}
		times = append(times, int(f))
	}
	return times, nil
}

func loadArrow(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeStorage, "open label file")
	}
	defer f.Close()

	cols, names, err := readLabelColumns(f)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, errors.Malformed("label container holds no columns")
	}
	if len(cols) == 1 {
		return NewGlobalSource(cols[0]), nil
	}

	m := make(map[model.ChannelID][]int, len(cols))
	for i, col := range cols {
		ch, err := strconv.Atoi(strings.TrimPrefix(names[i], "ch"))
		if err != nil {
			// Positional fallback: column i holds channel i+1.
			ch = i + 1
		}
		m[model.ChannelID(ch)] = col
	}
	return NewPerChannelSource(m), nil
}

func readLabelColumns(f *os.File) ([][]int, []string, error) {
	pool := memory.NewGoAllocator()
	var cols [][]int
	var names []string

	appendRecord := func(rec arrow.Record) error {
		schema := rec.Schema()
		for len(cols) < int(rec.NumCols()) {
			cols = append(cols, nil)
			names = append(names, schema.Field(len(names)).Name)
		}
		for i := 0; i < int(rec.NumCols()); i++ {
			vals, err := labelValues(rec.Column(i))
			if err != nil {
				return err
			}
			cols[i] = append(cols[i], vals...)
		}
		return nil
	}

	if fr, err := ipc.NewFileReader(f, ipc.WithAllocator(pool)); err == nil {
		defer fr.Close()
		for i := 0; i < fr.NumRecords(); i++ {
			rec, err := fr.Record(i)
			if err != nil {
				return nil, nil, errors.Malformed("label container record unreadable")
			}
			if err := appendRecord(rec); err != nil {
				return nil, nil, err
			}
		}
		return cols, names, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeStorage, "rewind label file")
	}
	sr, err := ipc.NewReader(f, ipc.WithAllocator(pool))
	if err != nil {
		return nil, nil, errors.Malformed("label file is not an Arrow container")
	}
	defer sr.Release()
	for sr.Next() {
		if err := appendRecord(sr.Record()); err != nil {
			return nil, nil, err
		}
	}
	if err := sr.Err(); err != nil && err != io.EOF {
		return nil, nil, errors.Malformed("label container stream truncated")
	}
	return cols, names, nil
}

func labelValues(col arrow.Array) ([]int, error) {
	out := make([]int, 0, col.Len())
	switch a := col.(type) {
	case *array.Int16:
		for i := 0; i < a.Len(); i++ {
			out = append(out, int(a.Value(i)))
		}
	case *array.Int32:
		for i := 0; i < a.Len(); i++ {
			out = append(out, int(a.Value(i)))
		}
	case *array.Int64:
		for i := 0; i < a.Len(); i++ {
			out = append(out, int(a.Value(i)))
		}
	case *array.Float32:
		for i := 0; i < a.Len(); i++ {
			out = append(out, int(a.Value(i)))
		}
	case *array.Float64:
		for i := 0; i < a.Len(); i++ {
			out = append(out, int(a.Value(i)))
		}
	default:
		return nil, errors.Malformed(fmt.Sprintf("label column type %s unsupported", col.DataType()))
	}
	return out, nil
}
