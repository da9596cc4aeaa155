package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/errors"
	"github.com/spikeflow/spikeflow/pkg/sorting"
)

// jobPayload is the wire form of a job snapshot.
type jobPayload struct {
	ID        string                 `json:"id"`
	Algorithm string                 `json:"algorithm"`
	Params    sorting.Params         `json:"params"`
	Channels  []int                  `json:"channels"`
	StartTime int                    `json:"startTime"`
	EndTime   int                    `json:"endTime"`
	Status    string                 `json:"status"`
	CreatedAt float64                `json:"createdAt"`
	UpdatedAt float64                `json:"updatedAt"`
	Error     string                 `json:"error,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
}

func toJobPayload(j sorting.Job) jobPayload {
	channels := make([]int, len(j.Channels))
	for i, ch := range j.Channels {
		channels[i] = int(ch)
	}
	p := jobPayload{
		ID:        j.ID,
		Algorithm: j.Algorithm,
		Params:    j.Params,
		Channels:  channels,
		StartTime: j.Window.Start,
		EndTime:   j.Window.End,
		Status:    string(j.Status),
		CreatedAt: float64(j.CreatedAt.UnixNano()) / float64(time.Second),
		UpdatedAt: float64(j.UpdatedAt.UnixNano()) / float64(time.Second),
		Error:     j.Error,
	}
	if j.Result != nil {
		keys := make([]string, 0, len(j.Result.Intermediates))
		for k := range j.Result.Intermediates {
			keys = append(keys, k)
		}
		p.Result = map[string]interface{}{
			"jobId":         j.ID,
			"channels":      channels,
			"startTime":     j.Window.Start,
			"endTime":       j.Window.End,
			"hasFiltered":   j.Result.Filtered != nil,
			"intermediates": keys,
		}
	}
	return p
}

// handleAlgorithms lists registered algorithms with availability flags.
func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"algorithms": s.registry.Serialise(),
	})
}

// handleSortSubmit starts a background sorting job over a window.
func (s *Server) handleSortSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := struct {
		Algorithm string         `json:"algorithm"`
		Channels  []int          `json:"channels"`
		StartTime int            `json:"startTime"`
		EndTime   int            `json:"endTime"`
		Params    sorting.Params `json:"params"`
	}{EndTime: s.cfg.Dataset.MaxWindowSpan}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Algorithm == "" {
		jsonError(w, "No algorithm provided", http.StatusBadRequest)
		return
	}
	if !s.store.Loaded() {
		respondError(w, errors.NotLoaded())
		return
	}

	win := model.TimeWindow{Start: req.StartTime, End: req.EndTime}
	win = win.Clamp(s.store.TotalSamples(), s.cfg.Dataset.MaxWindowSpan)

	channels := make([]model.ChannelID, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = model.ChannelID(c)
	}
	valid := make([]model.ChannelID, 0, len(channels))
	for _, ch := range channels {
		if ch.Valid(s.store.ChannelCount()) {
			valid = append(valid, ch)
		}
	}
	if len(valid) == 0 {
		respondError(w, errors.InvalidChannelSet())
		return
	}

	provider := func(ctx context.Context) (*model.RawBlock, error) {
		_, block, err := s.store.Extract(valid, win)
		return block, err
	}

	job, err := s.orch.Submit(req.Algorithm, provider, req.Params, valid, win)
	if err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, map[string]interface{}{
		"success": true,
		"job":     toJobPayload(job),
	})
}

// handleSortJobs lists all retained jobs.
func (s *Server) handleSortJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orch.List()
	payload := make([]jobPayload, len(jobs))
	for i, j := range jobs {
		payload[i] = toJobPayload(j)
	}
	jsonResponse(w, map[string]interface{}{"jobs": payload})
}

// handleSortJob dispatches /api/sort/jobs/{id} and
// /api/sort/jobs/{id}/window.
func (s *Server) handleSortJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sort/jobs/")
	if rest == "" {
		jsonError(w, "Job ID required", http.StatusBadRequest)
		return
	}

	if strings.HasSuffix(rest, "/window") {
		s.handleJobWindow(w, r, strings.TrimSuffix(rest, "/window"))
		return
	}

	switch r.Method {
	case "GET":
		job, err := s.orch.Get(rest)
		if err != nil {
			respondError(w, err)
			return
		}
		jsonResponse(w, toJobPayload(job))
	case "DELETE":
		if !s.orch.Cancel(rest) {
			jsonError(w, "Job not cancellable", http.StatusConflict)
			return
		}
		job, err := s.orch.Get(rest)
		if err != nil {
			respondError(w, err)
			return
		}
		jsonResponse(w, map[string]interface{}{
			"success": true,
			"job":     toJobPayload(job),
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobWindow slices a completed job's filtered result for a window.
func (s *Server) handleJobWindow(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.orch.Get(id); err != nil {
		respondError(w, err)
		return
	}

	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("startTime"))
	end, _ := strconv.Atoi(q.Get("endTime"))
	var channels []model.ChannelID
	for _, part := range strings.Split(q.Get("channels"), ",") {
		if part == "" {
			continue
		}
		if c, err := strconv.Atoi(part); err == nil {
			channels = append(channels, model.ChannelID(c))
		}
	}

	rows := s.orch.ResultWindow(id, channels, model.TimeWindow{Start: start, End: end})
	payload := make(map[string][]int, len(rows))
	for ch, row := range rows {
		payload[strconv.Itoa(int(ch))] = roundInts(row)
	}
	jsonResponse(w, map[string]interface{}{
		"jobId":        id,
		"startTime":    start,
		"endTime":      end,
		"filteredData": payload,
	})
}
