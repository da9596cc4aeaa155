package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/filter"
	"github.com/spikeflow/spikeflow/pkg/spikes"
)

// channelPayload is the per-channel slice of a spike-data response. Field
// names match what the UI has always consumed.
type channelPayload struct {
	Data         []int  `json:"data"`
	IsSpike      []bool `json:"isSpike"`
	SpikePeaks   []int  `json:"spikePeaks"`
	ChannelID    int    `json:"channelId"`
	StartTime    int    `json:"startTime"`
	EndTime      int    `json:"endTime"`
	FilteredData []int  `json:"filteredData,omitempty"`
	Precomputed  bool   `json:"precomputed,omitempty"`
}

type spikeDataRequest struct {
	Channels       []int    `json:"channels"`
	SpikeThreshold *float64 `json:"spikeThreshold"`
	InvertData     bool     `json:"invertData"`
	StartTime      int      `json:"startTime"`
	EndTime        int      `json:"endTime"`
	UsePrecomputed bool     `json:"usePrecomputed"`
	DataType       string   `json:"dataType"`   // raw, filtered, spikes
	FilterType     string   `json:"filterType"` // none, highpass, lowpass, bandpass
	JobID          string   `json:"jobId"`
}

// handleSpikeData is the main windowed data endpoint: raw or filtered
// samples with threshold or precomputed spike annotations per channel.
func (s *Server) handleSpikeData(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := spikeDataRequest{EndTime: s.cfg.Dataset.MaxWindowSpan, DataType: "raw", FilterType: "highpass"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	win := model.TimeWindow{Start: req.StartTime, End: req.EndTime}
	win = win.Clamp(s.store.TotalSamples(), s.cfg.Dataset.MaxWindowSpan)

	channels := make([]model.ChannelID, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = model.ChannelID(c)
	}

	var src *spikes.Source
	if req.UsePrecomputed {
		src = s.labelSource()
	}

	payload, err := s.windowResponse(channels, win, req, src)
	if err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, payload)
}

// windowResponse assembles per-channel payloads for one window request.
func (s *Server) windowResponse(channels []model.ChannelID, win model.TimeWindow, req spikeDataRequest, src *spikes.Source) (map[string]*channelPayload, error) {
	kind := filter.ParseKind(req.FilterType)
	opts := s.filterOptions()

	valid, padded, clamped, err := s.store.ExtractPadded(channels, win, opts.EdgePad)
	if err != nil {
		return nil, err
	}

	// A completed background job's filtered rows pre-empt on-the-fly
	// filtering for the channels it covers.
	var spliced map[model.ChannelID][]float64
	if req.JobID != "" {
		spliced = s.orch.ResultWindow(req.JobID, valid, clamped)
	}

	out := make(map[string]*channelPayload, len(valid))
	offset := clamped.Start - padded.Window.Start
	relWin := model.TimeWindow{Start: offset, End: offset + clamped.Len()}

	for i, ch := range valid {
		row := padded.Samples[i]
		raw := make([]float64, clamped.Len())
		for j := range raw {
			raw[j] = float64(row[offset+j])
		}

		var filtered []float64
		if f, ok := spliced[ch]; ok {
			filtered = f
		} else if kind != filter.None {
			res := filter.Apply(toFloat(row), relWin, kind, opts)
			filtered = res.Samples
		}

		// spikes mode displays the filtered trace; filtered and raw modes
		// keep the raw trace as the primary series.
		data := raw
		if req.DataType == "spikes" && filtered != nil {
			data = append([]float64(nil), filtered...)
		}

		if req.InvertData {
			data = negate(data)
			if filtered != nil {
				filtered = negate(filtered)
			}
		}

		p := &channelPayload{
			Data:      roundInts(data),
			ChannelID: int(ch),
			StartTime: clamped.Start,
			EndTime:   clamped.End,
		}
		if filtered != nil {
			p.FilteredData = roundInts(filtered)
		}

		if src != nil {
			ann := spikes.Precomputed(src, []model.ChannelID{ch}, clamped, s.cfg.Spikes.Dilation)
			p.SpikePeaks = ann[0].Peaks
			p.IsSpike = ann[0].Mask
			p.Precomputed = true
		} else {
			block := &model.FilteredBlock{
				Channels: []model.ChannelID{ch},
				Window:   clamped,
				Samples:  [][]float64{data},
			}
			ann := spikes.Threshold(block, req.SpikeThreshold, req.InvertData)
			p.SpikePeaks = ann[0].Peaks
			p.IsSpike = ann[0].Mask
		}
		if p.SpikePeaks == nil {
			p.SpikePeaks = []int{}
		}

		out[strconv.Itoa(int(ch))] = p
	}
	return out, nil
}

// handleSpikeTimesAvailable reports whether a precomputed source is loaded
// for the active dataset and its shape.
func (s *Server) handleSpikeTimesAvailable(w http.ResponseWriter, r *http.Request) {
	src := s.labelSource()

	kind := "none"
	count := 0
	channelIDs := []int{}
	if src != nil {
		count = src.Count()
		if src.PerChannel() {
			kind = "channel_specific"
			for _, ch := range src.Channels() {
				channelIDs = append(channelIDs, int(ch))
			}
		} else {
			kind = "global"
		}
	}

	jsonResponse(w, map[string]interface{}{
		"available": src != nil,
		"type":      kind,
		"count":     count,
		"channels":  channelIDs,
	})
}

// handleNavigateSpike finds the adjacent spike time across a channel set.
func (s *Server) handleNavigateSpike(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CurrentTime int    `json:"currentTime"`
		Direction   string `json:"direction"`
		Channels    []int  `json:"channels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	src := s.labelSource()
	channels := make([]model.ChannelID, len(req.Channels))
	for i, c := range req.Channels {
		channels[i] = model.ChannelID(c)
	}

	dir := model.DirectionNext
	if req.Direction == "prev" {
		dir = model.DirectionPrev
	}

	target, err := spikes.FindAdjacent(src, channels, req.CurrentTime, dir)
	if err != nil {
		respondError(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"spikeTime":   target,
		"totalSpikes": len(src.Collect(channels)),
	})
}

// handleSpikePreview returns a short filtered waveform around one spike.
func (s *Server) handleSpikePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := struct {
		SpikeTime  *int   `json:"spikeTime"`
		ChannelID  int    `json:"channelId"`
		Window     int    `json:"window"`
		FilterType string `json:"filterType"`
		PointIndex int    `json:"pointIndex"`
	}{ChannelID: 1, Window: 10, FilterType: "highpass"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.SpikeTime == nil {
		jsonError(w, "No spike time provided", http.StatusBadRequest)
		return
	}
	if !s.store.Loaded() {
		jsonError(w, "No data loaded", http.StatusBadRequest)
		return
	}

	ch := model.ChannelID(req.ChannelID)
	if !ch.Valid(s.store.ChannelCount()) {
		jsonError(w, "Invalid channel", http.StatusBadRequest)
		return
	}

	win := model.TimeWindow{Start: *req.SpikeTime - req.Window, End: *req.SpikeTime + req.Window + 1}
	opts := s.filterOptions()
	_, padded, clamped, err := s.store.ExtractPadded([]model.ChannelID{ch}, win, opts.EdgePad)
	if err != nil {
		respondError(w, err)
		return
	}

	offset := clamped.Start - padded.Window.Start
	relWin := model.TimeWindow{Start: offset, End: offset + clamped.Len()}
	res := filter.Apply(toFloat(padded.Samples[0]), relWin, filter.ParseKind(req.FilterType), opts)

	jsonResponse(w, map[string]interface{}{
		"waveform":   roundInts(res.Samples),
		"pointIndex": req.PointIndex,
		"spikeTime":  *req.SpikeTime,
		"channelId":  req.ChannelID,
		"window":     req.Window,
		"filterType": req.FilterType,
	})
}

func toFloat(row []int16) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v)
	}
	return out
}

func negate(s []float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = -v
	}
	return out
}

func roundInts(s []float64) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(math.Round(v))
	}
	return out
}
