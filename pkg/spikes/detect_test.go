package spikes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
)

func block(channels []model.ChannelID, rows [][]float64) *model.FilteredBlock {
	return &model.FilteredBlock{
		Channels:  channels,
		Window:    model.TimeWindow{Start: 0, End: len(rows[0])},
		Samples:   rows,
		Baselines: make([]float64, len(rows)),
	}
}

func ptr(v float64) *float64 { return &v }

func TestThresholdRunPeak(t *testing.T) {
	b := block([]model.ChannelID{1}, [][]float64{{5, -2, -9, -3, 4}})
	ann := Threshold(b, ptr(-1), false)

	wantMask := []bool{false, true, true, true, false}
	for i, m := range ann[0].Mask {
		if m != wantMask[i] {
			t.Fatalf("mask[%d] = %v, want %v", i, m, wantMask[i])
		}
	}
	if len(ann[0].Peaks) != 1 || ann[0].Peaks[0] != 2 {
		t.Fatalf("peaks = %v, want [2]", ann[0].Peaks)
	}
}

func TestThresholdTable(t *testing.T) {
	cases := []struct {
		name      string
		samples   []float64
		threshold float64
		inverted  bool
		wantPeaks []int
	}{
		{
			name:      "two runs",
			samples:   []float64{0, -5, -3, 0, 0, -2, -8, -1, 0},
			threshold: -1,
			wantPeaks: []int{1, 6},
		},
		{
			name:      "run at final sample closes",
			samples:   []float64{0, 0, -4, -7},
			threshold: -1,
			wantPeaks: []int{3},
		},
		{
			name:      "inverted takes maximum",
			samples:   []float64{0, 3, 9, 4, 0},
			threshold: 2,
			inverted:  true,
			wantPeaks: []int{2},
		},
		{
			name:      "boundary sample included",
			samples:   []float64{0, -1, 0},
			threshold: -1,
			wantPeaks: []int{1},
		},
		{
			name:      "nothing crosses",
			samples:   []float64{1, 2, 3},
			threshold: -1,
			wantPeaks: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ann := Threshold(block([]model.ChannelID{1}, [][]float64{tc.samples}), ptr(tc.threshold), tc.inverted)
			got := ann[0].Peaks
			if len(got) != len(tc.wantPeaks) {
				t.Fatalf("peaks = %v, want %v", got, tc.wantPeaks)
			}
			for i := range got {
				if got[i] != tc.wantPeaks[i] {
					t.Fatalf("peaks = %v, want %v", got, tc.wantPeaks)
				}
			}
		})
	}
}

func TestThresholdNilThreshold(t *testing.T) {
	ann := Threshold(block([]model.ChannelID{1}, [][]float64{{-10, -20, -30}}), nil, false)
	if len(ann[0].Peaks) != 0 {
		t.Fatalf("peaks = %v, want none", ann[0].Peaks)
	}
	for i, m := range ann[0].Mask {
		if m {
			t.Fatalf("mask[%d] set without a threshold", i)
		}
	}
}

func TestPrecomputedWindowAndDilation(t *testing.T) {
	src := NewGlobalSource([]int{3, 50, 120, 199, 200})
	win := model.TimeWindow{Start: 100, End: 200}
	ann := Precomputed(src, []model.ChannelID{1}, win, 5)

	if len(ann[0].Peaks) != 2 || ann[0].Peaks[0] != 20 || ann[0].Peaks[1] != 99 {
		t.Fatalf("peaks = %v, want [20 99]", ann[0].Peaks)
	}

	mask := ann[0].Mask
	if len(mask) != 100 {
		t.Fatalf("mask length = %d, want 100", len(mask))
	}
	for i := 15; i <= 25; i++ {
		if !mask[i] {
			t.Fatalf("mask[%d] unset inside dilation", i)
		}
	}
	if mask[14] || mask[26] {
		t.Fatal("dilation leaked past its radius")
	}
	// Peak at 99 dilates to the window edge without overflowing.
	for i := 94; i <= 99; i++ {
		if !mask[i] {
			t.Fatalf("mask[%d] unset at window edge", i)
		}
	}
}

func TestPrecomputedPerChannel(t *testing.T) {
	src := NewPerChannelSource(map[model.ChannelID][]int{
		1: {10, 20},
		2: {30},
	})
	win := model.TimeWindow{Start: 0, End: 50}
	ann := Precomputed(src, []model.ChannelID{1, 2, 3}, win, 2)

	if len(ann[0].Peaks) != 2 {
		t.Fatalf("channel 1 peaks = %v", ann[0].Peaks)
	}
	if len(ann[1].Peaks) != 1 || ann[1].Peaks[0] != 30 {
		t.Fatalf("channel 2 peaks = %v", ann[1].Peaks)
	}
	if len(ann[2].Peaks) != 0 {
		t.Fatalf("channel 3 peaks = %v, want none", ann[2].Peaks)
	}
}

func TestFindAdjacent(t *testing.T) {
	src := NewGlobalSource([]int{10, 3, 17, 10})
	ch := []model.ChannelID{1}

	cases := []struct {
		current int
		dir     model.Direction
		want    int
	}{
		{10, model.DirectionNext, 17},
		{10, model.DirectionPrev, 3},
		{17, model.DirectionNext, 3},  // wraps
		{3, model.DirectionPrev, 17},  // wraps
		{0, model.DirectionNext, 3},
		{100, model.DirectionPrev, 17},
	}
	for _, tc := range cases {
		got, err := FindAdjacent(src, ch, tc.current, tc.dir)
		if err != nil {
			t.Fatalf("FindAdjacent(%d, %s): %v", tc.current, tc.dir, err)
		}
		if got != tc.want {
			t.Errorf("FindAdjacent(%d, %s) = %d, want %d", tc.current, tc.dir, got, tc.want)
		}
	}
}

func TestFindAdjacentErrors(t *testing.T) {
	if _, err := FindAdjacent(nil, []model.ChannelID{1}, 0, model.DirectionNext); !errors.IsCode(err, errors.CodeNoSpikesLoaded) {
		t.Fatalf("nil source err = %v, want CodeNoSpikesLoaded", err)
	}

	src := NewPerChannelSource(map[model.ChannelID][]int{1: {5}})
	if _, err := FindAdjacent(src, []model.ChannelID{7}, 0, model.DirectionNext); !errors.IsCode(err, errors.CodeNoSpikesFound) {
		t.Fatalf("empty set err = %v, want CodeNoSpikesFound", err)
	}
}

func TestFindAdjacentMergesChannels(t *testing.T) {
	src := NewPerChannelSource(map[model.ChannelID][]int{
		1: {5, 40},
		2: {20, 5},
	})
	got, err := FindAdjacent(src, []model.ChannelID{1, 2}, 5, model.DirectionNext)
	if err != nil {
		t.Fatal(err)
	}
	if got != 20 {
		t.Fatalf("next across channels = %d, want 20", got)
	}
}

func TestLoadJSONGlobal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.json")
	if err := os.WriteFile(path, []byte(`[3, 10.0, 17]`), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if src.PerChannel() {
		t.Fatal("flat array loaded as per-channel")
	}
	times := src.Times(1)
	want := []int{3, 10, 17}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("times = %v, want %v", times, want)
		}
	}
}

func TestLoadJSONPerChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.json")
	if err := os.WriteFile(path, []byte(`{"1": [5, 9], "ch3": [12]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !src.PerChannel() {
		t.Fatal("mapping loaded as global")
	}
	if got := src.Times(3); len(got) != 1 || got[0] != 12 {
		t.Fatalf("channel 3 times = %v, want [12]", got)
	}
	if src.Has(2) {
		t.Fatal("channel 2 should have no times")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "labels.json")
	if err := os.WriteFile(bad, []byte(`"nope"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); !errors.IsCode(err, errors.CodeMalformed) {
		t.Fatalf("scalar JSON err = %v, want CodeMalformed", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Fatalf("missing file err = %v, want CodeFileNotFound", err)
	}

	if _, err := Load(filepath.Join(dir, "labels.csv")); !errors.IsCode(err, errors.CodeInvalidFormat) {
		t.Fatalf("unknown extension err = %v, want CodeInvalidFormat", err)
	}
}

func TestLibraryInvalidation(t *testing.T) {
	var lib Library
	lib.Set("a.bin", "a_labels.json", NewGlobalSource([]int{1}))

	if _, ok := lib.Get("a.bin"); !ok {
		t.Fatal("source missing for its own dataset")
	}
	if _, ok := lib.Get("b.bin"); ok {
		t.Fatal("source returned for a different dataset")
	}

	lib.Invalidate()
	if _, ok := lib.Get("a.bin"); ok {
		t.Fatal("source survived invalidation")
	}
}
