// Package export writes spike reports as Excel workbooks for analysis
// outside the viewer.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/spikeflow/spikeflow/internal/model"
	"github.com/spikeflow/spikeflow/pkg/spikes"
)

const (
	summarySheet = "Summary"
	timesSheet   = "Spike Times"
)

// Report carries everything the workbook needs.
type Report struct {
	Dataset      string
	Channels     int
	TotalSamples int
	SamplingRate float64
	Source       *spikes.Source
}

// WriteWorkbook writes the report to path as an .xlsx workbook with a
// summary sheet and one row per spike time.
func WriteWorkbook(r Report, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if err := writeSummary(f, r); err != nil {
		return err
	}
	if _, err := f.NewSheet(timesSheet); err != nil {
		return err
	}
	if err := writeTimes(f, r); err != nil {
		return err
	}

	return f.SaveAs(path)
}

func writeSummary(f *excelize.File, r Report) error {
	duration := 0.0
	if r.SamplingRate > 0 {
		duration = float64(r.TotalSamples) / r.SamplingRate
	}

	rows := [][]interface{}{
		{"Dataset", r.Dataset},
		{"Channels", r.Channels},
		{"Total samples", r.TotalSamples},
		{"Sampling rate (Hz)", r.SamplingRate},
		{"Duration (s)", duration},
		{"Total spikes", r.Source.Count()},
	}

	if r.Source.PerChannel() {
		rows = append(rows, []interface{}{}, []interface{}{"Channel", "Spikes"})
		for _, ch := range r.Source.Channels() {
			rows = append(rows, []interface{}{int(ch), len(r.Source.Times(ch))})
		}
	}

	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(summarySheet, cell, v); err != nil {
				return err
			}
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 20)
}

func writeTimes(f *excelize.File, r Report) error {
	headers := []string{"Channel", "Spike time (samples)", "Spike time (s)"}
	for j, h := range headers {
		cell, err := excelize.CoordinatesToCellName(j+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(timesSheet, cell, h); err != nil {
			return err
		}
	}

	row := 2
	for _, ch := range reportChannels(r.Source) {
		label := "all"
		times := r.Source.Times(0)
		if ch != 0 {
			label = fmt.Sprintf("%d", int(ch))
			times = r.Source.Times(ch)
		}
		for _, t := range times {
			values := []interface{}{label, t, seconds(t, r.SamplingRate)}
			for j, v := range values {
				cell, err := excelize.CoordinatesToCellName(j+1, row)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(timesSheet, cell, v); err != nil {
					return err
				}
			}
			row++
		}
	}
	return f.SetColWidth(timesSheet, "A", "C", 22)
}

// reportChannels returns the channels to emit; channel 0 stands for a
// global source.
func reportChannels(src *spikes.Source) []model.ChannelID {
	if !src.PerChannel() {
		return []model.ChannelID{0}
	}
	return src.Channels()
}

func seconds(sample int, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(sample) / rate
}
