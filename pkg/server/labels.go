package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
)

// handleLabelMappings serves the dataset-to-label mapping collection.
func (s *Server) handleLabelMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		all := s.mapStore.All()
		jsonResponse(w, map[string]interface{}{
			"mappings": all,
			"count":    len(all),
		})
	case "POST":
		var req struct {
			Dataset string `json:"dataset"`
			Label   string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dataset == "" || req.Label == "" {
			jsonError(w, "Both dataset and label names are required", http.StatusBadRequest)
			return
		}
		if err := s.mapStore.Set(r.Context(), req.Dataset, req.Label); err != nil {
			respondError(w, err)
			return
		}
		// A remapped active dataset picks up the new labels on next use.
		if req.Dataset == s.store.CurrentDataset() {
			s.library.Invalidate()
		}
		jsonResponse(w, map[string]interface{}{
			"success": true,
			"message": "Mapping added: " + req.Dataset + " -> " + req.Label,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeleteLabelMapping removes one mapping: DELETE /api/label-mappings/{dataset}.
func (s *Server) handleDeleteLabelMapping(w http.ResponseWriter, r *http.Request) {
	if r.Method != "DELETE" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/api/label-mappings/"))
	if name == "" || name == "." {
		jsonError(w, "Dataset name required", http.StatusBadRequest)
		return
	}
	if _, ok := s.mapStore.Get(name); !ok {
		jsonError(w, "Mapping not found", http.StatusNotFound)
		return
	}
	if err := s.mapStore.Delete(r.Context(), name); err != nil {
		respondError(w, err)
		return
	}
	if name == s.store.CurrentDataset() {
		s.library.Invalidate()
	}
	jsonResponse(w, map[string]interface{}{
		"success": true,
		"message": "Mapping removed for: " + name,
	})
}
