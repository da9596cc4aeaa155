package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spikeflow/spikeflow/pkg/dataset"
)

// handleDatasetInfo reports the active dataset's dimensions.
func (s *Server) handleDatasetInfo(w http.ResponseWriter, r *http.Request) {
	if !s.store.Loaded() {
		jsonError(w, "Data not loaded", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"totalChannels":   s.store.ChannelCount(),
		"totalDataPoints": s.store.TotalSamples(),
		"maxTimeRange":    s.store.TotalSamples(),
	})
}

// handleListDatasets lists loadable files in the datasets folder.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	entries, err := dataset.Catalog(s.cfg.Dataset.Dir)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []dataset.Entry{}
	}

	jsonResponse(w, map[string]interface{}{
		"datasets": entries,
		"current":  s.store.CurrentDataset(),
	})
}

// handleSetDataset swaps the active dataset.
func (s *Server) handleSetDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Dataset string `json:"dataset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dataset == "" {
		jsonError(w, "No dataset name provided", http.StatusBadRequest)
		return
	}

	result, err := s.loadDataset(req.Dataset)
	if err != nil {
		respondError(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"success":         true,
		"dataset":         req.Dataset,
		"totalChannels":   result.ChannelCount,
		"totalDataPoints": result.TotalSamples,
	})
}

// handleUploadDataset receives a dataset file, optionally with a spike label
// file, and auto-loads the dataset afterwards.
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "Failed to parse upload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		jsonError(w, "No file selected", http.StatusBadRequest)
		return
	}
	if !dataset.AllowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		jsonError(w, "File type not allowed", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.cfg.Dataset.Dir, 0755); err != nil {
		jsonError(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	path := filepath.Join(s.cfg.Dataset.Dir, filename)
	size, err := saveStream(path, file)
	if err != nil {
		jsonError(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	log.Printf("uploaded dataset %s (%s)", filename, dataset.FormatBytes(size))

	// Optional spike label companion.
	var labelName string
	if labelFile, labelHeader, err := r.FormFile("spike_times_file"); err == nil {
		defer labelFile.Close()
		labelName = filepath.Base(labelHeader.Filename)
		if err := os.MkdirAll(s.cfg.Dataset.LabelsDir, 0755); err == nil {
			labelPath := filepath.Join(s.cfg.Dataset.LabelsDir, labelName)
			if _, err := saveStream(labelPath, labelFile); err == nil {
				if err := s.mapStore.Set(r.Context(), filename, labelName); err != nil {
					log.Printf("mapping for %s not saved: %v", filename, err)
				}
			} else {
				labelName = ""
			}
		}
	}

	payload := map[string]interface{}{
		"success":        true,
		"filename":       filename,
		"size":           size,
		"sizeFormatted":  dataset.FormatBytes(size),
		"spikeTimesFile": labelName,
		"autoLoaded":     false,
	}

	if result, err := s.loadDataset(filename); err != nil {
		payload["autoLoadError"] = "Dataset saved but automatic load failed. Select it from the dataset menu to retry."
		log.Printf("auto-load of %s failed: %v", filename, err)
	} else {
		payload["autoLoaded"] = true
		payload["totalChannels"] = result.ChannelCount
		payload["totalDataPoints"] = result.TotalSamples
	}

	jsonResponse(w, payload)
}

// handleDeleteDataset removes a dataset file. Deleting the active dataset
// first switches to another one, or unloads the store when none remains.
func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != "DELETE" && r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Dataset string `json:"dataset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dataset == "" {
		jsonError(w, "No dataset name provided", http.StatusBadRequest)
		return
	}

	filename := filepath.Base(req.Dataset)
	path := filepath.Join(s.cfg.Dataset.Dir, filename)
	if _, err := os.Stat(path); err != nil {
		jsonError(w, "Dataset not found", http.StatusNotFound)
		return
	}

	if filename == s.store.CurrentDataset() {
		if next := s.nextDataset(filename); next != "" {
			log.Printf("switching from %s to %s before deletion", filename, next)
			if _, err := s.loadDataset(next); err != nil {
				s.store.Unload()
			}
		} else {
			s.store.Unload()
		}
	}

	if err := os.Remove(path); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Drop the associated label file and mapping, if any.
	if label, ok := s.mapStore.Get(filename); ok {
		labelPath := filepath.Join(s.cfg.Dataset.LabelsDir, filepath.Base(label))
		if err := os.Remove(labelPath); err != nil && !os.IsNotExist(err) {
			log.Printf("label file %s not removed: %v", label, err)
		}
		if err := s.mapStore.Delete(r.Context(), filename); err != nil {
			log.Printf("mapping for %s not removed: %v", filename, err)
		}
	}
	log.Printf("deleted dataset %s", filename)

	jsonResponse(w, map[string]interface{}{
		"success":           true,
		"message":           "Dataset " + filename + " deleted successfully",
		"newCurrentDataset": s.store.CurrentDataset(),
	})
}

// nextDataset picks a replacement dataset, skipping the one being deleted.
func (s *Server) nextDataset(skip string) string {
	entries, err := dataset.Catalog(s.cfg.Dataset.Dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Name != skip {
			return e.Name
		}
	}
	return ""
}

func saveStream(path string, src io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, src)
}
