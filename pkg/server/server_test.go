package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/filter"
	"github.com/spikeflow/spikeflow/pkg/mappings"
	"github.com/spikeflow/spikeflow/pkg/sorting"
)

// testContext stands in for testing.T.Context (Go 1.24+): a context canceled
// when the test ends.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// newTestServer builds a server over a temp datasets directory holding one
// 4-channel binary dataset with a known ramp per channel.
func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Dataset.Dir = dir
	cfg.Dataset.LabelsDir = filepath.Join(dir, "labels")
	cfg.Dataset.BinaryRows = 4
	cfg.Mappings.Path = filepath.Join(dir, "labels", "mapping.json")

	rows, cols := 4, 1000
	buf := make([]byte, rows*cols*2)
	for ti := 0; ti < cols; ti++ {
		for ch := 0; ch < rows; ch++ {
			binary.LittleEndian.PutUint16(buf[(ti*rows+ch)*2:], uint16(int16(ch*100+ti%50)))
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "ramp.bin"), buf, 0o644); err != nil {
		t.Fatal(err)
	}

	store := dataset.NewStore()
	backend, err := mappings.NewFileBackend(cfg.Mappings.Path)
	if err != nil {
		t.Fatal(err)
	}
	mapStore, err := mappings.NewStore(testContext(t), backend)
	if err != nil {
		t.Fatal(err)
	}

	registry := sorting.NewRegistry()
	sorting.RegisterBuiltins(registry, filter.DefaultOptions())
	orch := sorting.NewOrchestrator(registry, cfg.Sorting.Workers, cfg.Sorting.QueueDepth)
	t.Cleanup(orch.Close)

	s := NewServer(cfg, store, mapStore, registry, orch)
	if _, err := s.loadDataset("ramp.bin"); err != nil {
		t.Fatal(err)
	}
	return s, cfg
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestDatasetInfo(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/api/dataset-info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var info struct {
		TotalChannels   int `json:"totalChannels"`
		TotalDataPoints int `json:"totalDataPoints"`
	}
	decode(t, w, &info)
	if info.TotalChannels != 4 || info.TotalDataPoints != 1000 {
		t.Fatalf("info = %+v", info)
	}
}

func TestSpikeDataThreshold(t *testing.T) {
	s, _ := newTestServer(t)

	threshold := 10.0
	w := doJSON(t, s, "POST", "/api/spike-data", map[string]interface{}{
		"channels":       []int{1, 99},
		"spikeThreshold": threshold,
		"startTime":      0,
		"endTime":        100,
		"filterType":     "none",
		"dataType":       "raw",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var payload map[string]struct {
		Data       []int  `json:"data"`
		IsSpike    []bool `json:"isSpike"`
		SpikePeaks []int  `json:"spikePeaks"`
		ChannelID  int    `json:"channelId"`
		StartTime  int    `json:"startTime"`
		EndTime    int    `json:"endTime"`
	}
	decode(t, w, &payload)

	// Channel 99 is silently skipped.
	if _, ok := payload["99"]; ok {
		t.Fatal("invalid channel present in response")
	}
	ch := payload["1"]
	if len(ch.Data) != 100 || ch.StartTime != 0 || ch.EndTime != 100 {
		t.Fatalf("channel window = %+v", ch)
	}
	// Channel 1 ramps 0..49 repeating; values <= 10 within each cycle.
	if len(ch.SpikePeaks) == 0 {
		t.Fatal("ramp produced no threshold runs")
	}
	if !ch.IsSpike[0] || ch.IsSpike[20] {
		t.Fatalf("isSpike = %v...", ch.IsSpike[:25])
	}
}

func TestSpikeDataFilteredMode(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/spike-data", map[string]interface{}{
		"channels":   []int{2},
		"startTime":  100,
		"endTime":    400,
		"filterType": "highpass",
		"dataType":   "filtered",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var payload map[string]struct {
		Data         []int `json:"data"`
		FilteredData []int `json:"filteredData"`
	}
	decode(t, w, &payload)
	ch := payload["2"]
	if len(ch.Data) != 300 || len(ch.FilteredData) != 300 {
		t.Fatalf("lengths = %d raw, %d filtered", len(ch.Data), len(ch.FilteredData))
	}
	// Raw series is untouched in filtered mode.
	if ch.Data[0] != 100+100%50 {
		t.Fatalf("raw[0] = %d", ch.Data[0])
	}
}

func TestSpikeDataPrecomputed(t *testing.T) {
	s, cfg := newTestServer(t)

	// Install a label file and mapping for the active dataset.
	if err := os.MkdirAll(cfg.Dataset.LabelsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	labelPath := filepath.Join(cfg.Dataset.LabelsDir, "ramp_labels.json")
	if err := os.WriteFile(labelPath, []byte(`[150, 250, 900]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.mapStore.Set(testContext(t), "ramp.bin", "ramp_labels.json"); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, "POST", "/api/spike-data", map[string]interface{}{
		"channels":       []int{1},
		"startTime":      100,
		"endTime":        300,
		"filterType":     "none",
		"usePrecomputed": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var payload map[string]struct {
		SpikePeaks  []int  `json:"spikePeaks"`
		IsSpike     []bool `json:"isSpike"`
		Precomputed bool   `json:"precomputed"`
	}
	decode(t, w, &payload)
	ch := payload["1"]
	if !ch.Precomputed {
		t.Fatal("precomputed flag unset")
	}
	if len(ch.SpikePeaks) != 2 || ch.SpikePeaks[0] != 50 || ch.SpikePeaks[1] != 150 {
		t.Fatalf("peaks = %v, want [50 150]", ch.SpikePeaks)
	}
	if !ch.IsSpike[50] || !ch.IsSpike[55] || ch.IsSpike[60] {
		t.Fatal("dilation mask wrong around peak 50")
	}
}

func TestNavigateSpike(t *testing.T) {
	s, cfg := newTestServer(t)

	if err := os.MkdirAll(cfg.Dataset.LabelsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	labelPath := filepath.Join(cfg.Dataset.LabelsDir, "ramp_labels.json")
	if err := os.WriteFile(labelPath, []byte(`[3, 10, 17]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.mapStore.Set(testContext(t), "ramp.bin", "ramp_labels.json"); err != nil {
		t.Fatal(err)
	}

	var resp struct {
		SpikeTime   int `json:"spikeTime"`
		TotalSpikes int `json:"totalSpikes"`
	}

	w := doJSON(t, s, "POST", "/api/navigate-spike", map[string]interface{}{
		"currentTime": 10, "direction": "prev", "channels": []int{1},
	})
	decode(t, w, &resp)
	if resp.SpikeTime != 3 || resp.TotalSpikes != 3 {
		t.Fatalf("prev from 10 = %+v", resp)
	}

	w = doJSON(t, s, "POST", "/api/navigate-spike", map[string]interface{}{
		"currentTime": 17, "direction": "next", "channels": []int{1},
	})
	decode(t, w, &resp)
	if resp.SpikeTime != 3 {
		t.Fatalf("next from 17 = %d, want wrap to 3", resp.SpikeTime)
	}
}

func TestNavigateSpikeWithoutLabels(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, "POST", "/api/navigate-spike", map[string]interface{}{
		"currentTime": 0, "direction": "next", "channels": []int{1},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSpikeTimesAvailable(t *testing.T) {
	s, cfg := newTestServer(t)

	var resp struct {
		Available bool   `json:"available"`
		Type      string `json:"type"`
		Count     int    `json:"count"`
	}
	w := doJSON(t, s, "GET", "/api/spike-times-available", nil)
	decode(t, w, &resp)
	if resp.Available || resp.Type != "none" {
		t.Fatalf("unmapped dataset = %+v", resp)
	}

	if err := os.MkdirAll(cfg.Dataset.LabelsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	labelPath := filepath.Join(cfg.Dataset.LabelsDir, "ramp_labels.json")
	if err := os.WriteFile(labelPath, []byte(`{"1": [5], "2": [9, 12]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.mapStore.Set(testContext(t), "ramp.bin", "ramp_labels.json"); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, s, "GET", "/api/spike-times-available", nil)
	decode(t, w, &resp)
	if !resp.Available || resp.Type != "channel_specific" || resp.Count != 3 {
		t.Fatalf("mapped dataset = %+v", resp)
	}
}

func TestDatasetLifecycle(t *testing.T) {
	s, cfg := newTestServer(t)

	// Upload a second dataset via multipart.
	rows, cols := 4, 100
	raw := make([]byte, rows*cols*2)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "second.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(raw); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/dataset/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}
	var up struct {
		Success    bool `json:"success"`
		AutoLoaded bool `json:"autoLoaded"`
	}
	decode(t, w, &up)
	if !up.Success || !up.AutoLoaded {
		t.Fatalf("upload = %+v", up)
	}
	if s.store.CurrentDataset() != "second.bin" {
		t.Fatalf("current = %q", s.store.CurrentDataset())
	}

	// Listing shows both files.
	w = doJSON(t, s, "GET", "/api/datasets", nil)
	var list struct {
		Datasets []dataset.Entry `json:"datasets"`
		Current  string          `json:"current"`
	}
	decode(t, w, &list)
	if len(list.Datasets) != 2 || list.Current != "second.bin" {
		t.Fatalf("list = %+v", list)
	}

	// Switch back.
	w = doJSON(t, s, "POST", "/api/dataset/set", map[string]string{"dataset": "ramp.bin"})
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", w.Code, w.Body.String())
	}

	// Deleting the active dataset switches to the remaining one.
	w = doJSON(t, s, "DELETE", "/api/dataset/delete", map[string]string{"dataset": "ramp.bin"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	var del struct {
		Success           bool   `json:"success"`
		NewCurrentDataset string `json:"newCurrentDataset"`
	}
	decode(t, w, &del)
	if !del.Success || del.NewCurrentDataset != "second.bin" {
		t.Fatalf("delete = %+v", del)
	}
	if _, err := os.Stat(filepath.Join(cfg.Dataset.Dir, "ramp.bin")); !os.IsNotExist(err) {
		t.Fatal("deleted file still on disk")
	}
}

func TestLabelMappingsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/label-mappings", map[string]string{
		"dataset": "ramp.bin", "label": "ramp_labels.json",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", w.Code, w.Body.String())
	}

	var list struct {
		Mappings map[string]string `json:"mappings"`
		Count    int               `json:"count"`
	}
	w = doJSON(t, s, "GET", "/api/label-mappings", nil)
	decode(t, w, &list)
	if list.Count != 1 || list.Mappings["ramp.bin"] != "ramp_labels.json" {
		t.Fatalf("mappings = %+v", list)
	}

	w = doJSON(t, s, "DELETE", "/api/label-mappings/ramp.bin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, "DELETE", "/api/label-mappings/ramp.bin", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}

func TestSortFlow(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/api/algorithms", nil)
	var algos struct {
		Algorithms []sorting.SpecInfo `json:"algorithms"`
	}
	decode(t, w, &algos)
	if len(algos.Algorithms) != 1 || algos.Algorithms[0].Name != sorting.FilterOnlyName {
		t.Fatalf("algorithms = %+v", algos.Algorithms)
	}

	w = doJSON(t, s, "POST", "/api/sort", map[string]interface{}{
		"algorithm": sorting.FilterOnlyName,
		"channels":  []int{1, 2},
		"startTime": 0,
		"endTime":   500,
		"params":    map[string]interface{}{"filterType": "none"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", w.Code, w.Body.String())
	}
	var submitted struct {
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	decode(t, w, &submitted)
	id := submitted.Job.ID

	var job struct {
		Status string `json:"status"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		w = doJSON(t, s, "GET", "/api/sort/jobs/"+id, nil)
		decode(t, w, &job)
		if job.Status == "completed" || job.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job.Status != "completed" {
		t.Fatalf("status = %s", job.Status)
	}

	path := fmt.Sprintf("/api/sort/jobs/%s/window?channels=1&startTime=100&endTime=200", id)
	w = doJSON(t, s, "GET", path, nil)
	var win struct {
		FilteredData map[string][]int `json:"filteredData"`
	}
	decode(t, w, &win)
	if len(win.FilteredData["1"]) != 100 {
		t.Fatalf("window rows = %v", len(win.FilteredData["1"]))
	}

	// Unknown algorithm is rejected before scheduling.
	w = doJSON(t, s, "POST", "/api/sort", map[string]interface{}{
		"algorithm": "nope", "channels": []int{1},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown algorithm status = %d, want 404", w.Code)
	}
}

func TestSpikePreview(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/api/spike-preview", map[string]interface{}{
		"spikeTime":  500,
		"channelId":  1,
		"window":     10,
		"filterType": "none",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Waveform  []int `json:"waveform"`
		SpikeTime int   `json:"spikeTime"`
	}
	decode(t, w, &resp)
	if len(resp.Waveform) != 21 || resp.SpikeTime != 500 {
		t.Fatalf("preview = %d points at %d", len(resp.Waveform), resp.SpikeTime)
	}
}
