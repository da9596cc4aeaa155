// Package server provides the HTTP API for the spike visualizer UI.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/errors"
	"github.com/spikeflow/spikeflow/pkg/filter"
	"github.com/spikeflow/spikeflow/pkg/mappings"
	"github.com/spikeflow/spikeflow/pkg/sorting"
	"github.com/spikeflow/spikeflow/pkg/spikes"
)

// Server handles HTTP requests against the active dataset.
type Server struct {
	cfg      *config.Config
	store    *dataset.Store
	library  *spikes.Library
	mapStore *mappings.Store
	registry *sorting.Registry
	orch     *sorting.Orchestrator
	broker   *SSEBroker
	mux      *http.ServeMux
}

// NewServer wires the API around an already-constructed core. A dataset swap
// invalidates the label cache through the store's swap notification.
func NewServer(cfg *config.Config, store *dataset.Store, mapStore *mappings.Store, registry *sorting.Registry, orch *sorting.Orchestrator) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		library:  &spikes.Library{},
		mapStore: mapStore,
		registry: registry,
		orch:     orch,
		broker:   NewSSEBroker(),
		mux:      http.NewServeMux(),
	}

	store.OnSwap(func(string) { s.library.Invalidate() })
	orch.OnUpdate(s.broker.PublishStatus)
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/dataset-info", s.handleDatasetInfo)
	s.mux.HandleFunc("/api/spike-data", s.handleSpikeData)
	s.mux.HandleFunc("/api/spike-times-available", s.handleSpikeTimesAvailable)
	s.mux.HandleFunc("/api/navigate-spike", s.handleNavigateSpike)
	s.mux.HandleFunc("/api/spike-preview", s.handleSpikePreview)
	s.mux.HandleFunc("/api/datasets", s.handleListDatasets)
	s.mux.HandleFunc("/api/dataset/set", s.handleSetDataset)
	s.mux.HandleFunc("/api/dataset/upload", s.handleUploadDataset)
	s.mux.HandleFunc("/api/dataset/delete", s.handleDeleteDataset)
	s.mux.HandleFunc("/api/label-mappings", s.handleLabelMappings)
	s.mux.HandleFunc("/api/label-mappings/", s.handleDeleteLabelMapping)
	s.mux.HandleFunc("/api/algorithms", s.handleAlgorithms)
	s.mux.HandleFunc("/api/sort", s.handleSortSubmit)
	s.mux.HandleFunc("/api/sort/jobs", s.handleSortJobs)
	s.mux.HandleFunc("/api/sort/jobs/", s.handleSortJob)
	s.mux.HandleFunc("/api/sort/events", s.handleSortEvents)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := "*"
	if len(s.cfg.Server.CORSOrigins) > 0 {
		origin = s.cfg.Server.CORSOrigins[0]
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// LoadDataset swaps the active dataset by catalog name.
func (s *Server) LoadDataset(name string) (dataset.LoadResult, error) {
	return s.loadDataset(name)
}

// InvalidateLabels drops the cached label source when it belongs to the
// named dataset, forcing a reload on next use.
func (s *Server) InvalidateLabels(name string) {
	if name == s.store.CurrentDataset() {
		s.library.Invalidate()
	}
}

// filterOptions builds filter parameters from configuration.
func (s *Server) filterOptions() filter.Options {
	return filter.Options{
		SamplingRate: s.cfg.Filter.SamplingRate,
		Order:        s.cfg.Filter.Order,
		EdgePad:      s.cfg.Filter.EdgePad,
		HighpassHz:   s.cfg.Filter.HighpassHz,
		LowpassHz:    s.cfg.Filter.LowpassHz,
	}
}

// labelSource resolves the precomputed spike source for the active dataset,
// loading it through the mapping store on first use and caching until the
// next dataset swap.
func (s *Server) labelSource() *spikes.Source {
	name := s.store.CurrentDataset()
	if name == "" {
		return nil
	}
	if src, ok := s.library.Get(name); ok {
		return src
	}

	label, ok := s.mapStore.Get(name)
	if !ok {
		return nil
	}
	path := filepath.Join(s.cfg.Dataset.LabelsDir, filepath.Base(label))
	src, err := spikes.Load(path)
	if err != nil {
		log.Printf("labels for %s unavailable: %v", name, err)
		return nil
	}
	s.library.Set(name, path, src)
	log.Printf("loaded spike times for %s from %s", name, filepath.Base(path))
	return src
}

// loadDataset swaps the active dataset by catalog name.
func (s *Server) loadDataset(name string) (dataset.LoadResult, error) {
	path := filepath.Join(s.cfg.Dataset.Dir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		return dataset.LoadResult{}, errors.FileNotFound(name)
	}
	return s.store.Load(dataset.Descriptor{
		Path:       path,
		BinaryRows: s.cfg.Dataset.BinaryRows,
	})
}

// Helper functions

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// codeStatus maps an error to its HTTP status.
func codeStatus(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeNotLoaded, errors.CodeNoSpikesLoaded, errors.CodeInvalidWindow,
		errors.CodeInvalidChannelSet, errors.CodeInvalidFormat:
		return http.StatusBadRequest
	case errors.CodeFileNotFound, errors.CodeNoSpikesFound, errors.CodeJobNotFound,
		errors.CodeUnknownAlgorithm:
		return http.StatusNotFound
	case errors.CodeUnavailable:
		return http.StatusConflict
	case errors.CodeBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	var msg string
	if e, ok := err.(*errors.Error); ok {
		msg = e.Message
	} else {
		msg = err.Error()
	}
	jsonError(w, msg, codeStatus(err))
}
