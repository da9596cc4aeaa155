package dataset

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

// writeBinary writes an interleaved int16 blob: frame t holds sample t of
// every channel. data[ch][t] indexes channel-major for convenience.
func writeBinary(t *testing.T, path string, data [][]int16) {
	t.Helper()
	rows := len(data)
	cols := len(data[0])
	buf := make([]byte, rows*cols*2)
	for ti := 0; ti < cols; ti++ {
		for ch := 0; ch < rows; ch++ {
			binary.LittleEndian.PutUint16(buf[(ti*rows+ch)*2:], uint16(data[ch][ti]))
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testData(rows, cols int) [][]int16 {
	data := make([][]int16, rows)
	for ch := range data {
		data[ch] = make([]int16, cols)
		for ti := range data[ch] {
			data[ch][ti] = int16(ch*1000 + ti)
		}
	}
	return data
}

func TestBinaryLoadExtract(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	data := testData(4, 50)
	writeBinary(t, path, data)

	store := NewStore()
	res, err := store.Load(Descriptor{Path: path, BinaryRows: 4})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.ChannelCount != 4 || res.TotalSamples != 50 {
		t.Fatalf("shape = %dx%d, want 4x50", res.ChannelCount, res.TotalSamples)
	}

	valid, block, err := store.Extract([]model.ChannelID{2, 4}, model.TimeWindow{Start: 10, End: 20})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(valid) != 2 {
		t.Fatalf("valid = %v", valid)
	}
	for i, ch := range valid {
		row := block.Samples[i]
		want := data[ch.Index()][10:20]
		for j := range row {
			if row[j] != want[j] {
				t.Fatalf("channel %d sample %d = %d, want %d", ch, j, row[j], want[j])
			}
		}
	}
}

func TestExtractSkipsInvalidChannels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	writeBinary(t, path, testData(3, 20))

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 3}); err != nil {
		t.Fatal(err)
	}

	valid, block, err := store.Extract([]model.ChannelID{0, 2, 99, 3}, model.TimeWindow{Start: 0, End: 5})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(valid) != 2 || valid[0] != 2 || valid[1] != 3 {
		t.Fatalf("valid = %v, want [2 3]", valid)
	}
	if len(block.Samples) != 2 {
		t.Fatalf("rows = %d, want 2", len(block.Samples))
	}
}

func TestExtractErrors(t *testing.T) {
	store := NewStore()
	if _, _, err := store.Extract([]model.ChannelID{1}, model.TimeWindow{Start: 0, End: 10}); !errors.IsCode(err, errors.CodeNotLoaded) {
		t.Fatalf("empty store err = %v, want CodeNotLoaded", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	writeBinary(t, path, testData(2, 20))
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 2}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Extract([]model.ChannelID{1}, model.TimeWindow{Start: 10, End: 10}); !errors.IsCode(err, errors.CodeInvalidWindow) {
		t.Fatalf("empty window err = %v, want CodeInvalidWindow", err)
	}
}

func TestExtractClampsWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	writeBinary(t, path, testData(2, 30))

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 2}); err != nil {
		t.Fatal(err)
	}

	_, block, err := store.Extract([]model.ChannelID{1}, model.TimeWindow{Start: 25, End: 100})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(block.Samples[0]); got != 5 {
		t.Fatalf("clamped length = %d, want 5", got)
	}
	if block.Window.End != 30 {
		t.Fatalf("window end = %d, want 30", block.Window.End)
	}
}

func TestExtractPadded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	writeBinary(t, path, testData(2, 200))

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 2}); err != nil {
		t.Fatal(err)
	}

	req := model.TimeWindow{Start: 50, End: 80}
	_, block, clamped, err := store.ExtractPadded([]model.ChannelID{1}, req, 20)
	if err != nil {
		t.Fatal(err)
	}
	if clamped != req {
		t.Fatalf("clamped = %+v, want %+v", clamped, req)
	}
	if block.Window.Start != 30 || block.Window.End != 100 {
		t.Fatalf("padded window = %+v, want [30,100)", block.Window)
	}

	// Near the start the pad truncates at zero.
	_, block, _, err = store.ExtractPadded([]model.ChannelID{1}, model.TimeWindow{Start: 5, End: 15}, 20)
	if err != nil {
		t.Fatal(err)
	}
	if block.Window.Start != 0 {
		t.Fatalf("padded start = %d, want 0", block.Window.Start)
	}
}

// A swap during in-flight extractions must never mix rows from two buffers:
// every row comes from the snapshot visible when the extraction began.
func TestSwapConsistency(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")

	rows, cols := 4, 100
	mkUniform := func(v int16) [][]int16 {
		data := make([][]int16, rows)
		for ch := range data {
			data[ch] = make([]int16, cols)
			for ti := range data[ch] {
				data[ch][ti] = v
			}
		}
		return data
	}
	writeBinary(t, pathA, mkUniform(1))
	writeBinary(t, pathB, mkUniform(2))

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: pathA, BinaryRows: rows}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	fail := make(chan string, 1)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channels := []model.ChannelID{1, 2, 3, 4}
			win := model.TimeWindow{Start: 0, End: cols}
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, block, err := store.Extract(channels, win)
				if err != nil {
					continue
				}
				first := block.Samples[0][0]
				for _, row := range block.Samples {
					for _, v := range row {
						if v != first {
							select {
							case fail <- fmt.Sprintf("mixed buffers: saw %d and %d", first, v):
							default:
							}
							return
						}
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		path := pathA
		if i%2 == 0 {
			path = pathB
		}
		if _, err := store.Load(Descriptor{Path: path, BinaryRows: rows}); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-fail:
		t.Fatal(msg)
	default:
	}
}

// The clamp and the padded extraction must come from one snapshot: a swap
// to a shorter buffer between them would hand back a clamped window wider
// than the rows, and callers slicing row[offset:offset+clamped.Len()] would
// run past the end.
func TestExtractPaddedConsistentAcrossSwap(t *testing.T) {
	dir := t.TempDir()
	longPath := filepath.Join(dir, "long.bin")
	shortPath := filepath.Join(dir, "short.bin")

	rows := 4
	writeBinary(t, longPath, testData(rows, 2000))
	writeBinary(t, shortPath, testData(rows, 50))

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: longPath, BinaryRows: rows}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	fail := make(chan string, 1)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channels := []model.ChannelID{1, 2, 3, 4}
			win := model.TimeWindow{Start: 1900, End: 1950}
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, block, clamped, err := store.ExtractPadded(channels, win, 100)
				if err != nil {
					continue
				}
				offset := clamped.Start - block.Window.Start
				for _, row := range block.Samples {
					if offset < 0 || offset+clamped.Len() > len(row) {
						select {
						case fail <- fmt.Sprintf("clamped %+v does not fit row of %d (block window %+v)",
							clamped, len(row), block.Window):
						default:
						}
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		path := longPath
		if i%2 == 0 {
			path = shortPath
		}
		if _, err := store.Load(Descriptor{Path: path, BinaryRows: rows}); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-fail:
		t.Fatal(msg)
	default:
	}
}

func TestSwapNotifiesAndBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.bin")
	writeBinary(t, path, testData(2, 20))

	store := NewStore()
	var swapped []string
	store.OnSwap(func(name string) { swapped = append(swapped, name) })

	v0 := store.Version()
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 2}); err != nil {
		t.Fatal(err)
	}
	if store.Version() != v0+1 {
		t.Fatalf("version = %d, want %d", store.Version(), v0+1)
	}
	if len(swapped) != 1 || swapped[0] != "capture.bin" {
		t.Fatalf("swap notifications = %v", swapped)
	}

	store.Unload()
	if store.Loaded() {
		t.Fatal("store still loaded after Unload")
	}
	if len(swapped) != 2 || swapped[1] != "" {
		t.Fatalf("unload notification = %v", swapped)
	}
}

func TestTensorLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensor.arrow")

	// 3 channels x 8 samples, one column per channel so columns are the
	// smaller dimension.
	rows, cols := 3, 8
	pool := memory.NewGoAllocator()
	fields := make([]arrow.Field, rows)
	for i := range fields {
		fields[i] = arrow.Field{Name: fmt.Sprintf("ch%d", i), Type: arrow.PrimitiveTypes.Int16}
	}
	schema := arrow.NewSchema(fields, nil)
	bld := array.NewRecordBuilder(pool, schema)
	defer bld.Release()
	for ch := 0; ch < rows; ch++ {
		fb := bld.Field(ch).(*array.Int16Builder)
		for ti := 0; ti < cols; ti++ {
			fb.Append(int16(ch*100 + ti))
		}
	}
	rec := bld.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	store := NewStore()
	res, err := store.Load(Descriptor{Path: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.ChannelCount != rows || res.TotalSamples != cols {
		t.Fatalf("shape = %dx%d, want %dx%d", res.ChannelCount, res.TotalSamples, rows, cols)
	}

	_, block, err := store.Extract([]model.ChannelID{2}, model.TimeWindow{Start: 2, End: 6})
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{102, 103, 104, 105}
	for i, v := range block.Samples[0] {
		if v != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestMappedLoad(t *testing.T) {
	dir := t.TempDir()
	buffer := filepath.Join(dir, "cache_mmap.npy")
	shape := filepath.Join(dir, "cache_shape.txt")

	rows, cols := 3, 10
	raw := make([]byte, rows*cols*2)
	for ch := 0; ch < rows; ch++ {
		for ti := 0; ti < cols; ti++ {
			binary.LittleEndian.PutUint16(raw[(ch*cols+ti)*2:], uint16(ch*10+ti))
		}
	}
	if err := os.WriteFile(buffer, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(shape, []byte(fmt.Sprintf("%d,%d", rows, cols)), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore()
	res, err := store.Load(Descriptor{Path: buffer})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.ChannelCount != rows || res.TotalSamples != cols {
		t.Fatalf("shape = %dx%d, want %dx%d", res.ChannelCount, res.TotalSamples, rows, cols)
	}

	_, block, err := store.Extract([]model.ChannelID{3}, model.TimeWindow{Start: 4, End: 8})
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{24, 25, 26, 27}
	for i, v := range block.Samples[0] {
		if v != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, v, want[i])
		}
	}

	store.Unload()
}

func TestBinaryMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bin")
	// 7 bytes is not an even int16 count.
	if err := os.WriteFile(path, []byte{1, 2, 3, 4, 5, 6, 7}, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore()
	if _, err := store.Load(Descriptor{Path: path, BinaryRows: 4}); !errors.IsCode(err, errors.CodeMalformed) {
		t.Fatalf("err = %v, want CodeMalformed", err)
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		path string
		want Format
	}{
		{"capture.bin", FormatBinary},
		{"capture.dat", FormatBinary},
		{"capture.raw", FormatBinary},
		{"tensor.arrow", FormatTensor},
		{"tensor.feather", FormatTensor},
		{"cache_mmap.npy", FormatMapped},
		{"notes.txt", FormatUnknown},
	}
	for _, tc := range cases {
		if got := Detect(tc.path); got != tc.want {
			t.Errorf("Detect(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	mk := func(name string, size int) {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mk("a.bin", 100)
	mk("b.arrow", 200)
	mk("b_mmap.npy", 200)
	mk("b_shape.txt", 8)
	mk("orphan_mmap.npy", 50)
	mk("notes.txt", 10)

	entries, err := Catalog(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"a.bin", "b.arrow", "orphan_mmap.npy"}
	if len(names) != len(want) {
		t.Fatalf("catalog = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("catalog = %v, want %v", names, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512.00 B"},
		{2048, "2.00 KB"},
		{3 * 1024 * 1024, "3.00 MB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
