package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/export"
	"github.com/spikeflow/spikeflow/pkg/spikes"
	"github.com/spikeflow/spikeflow/pkg/tui"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <dataset>",
	Short: "Write a spike report workbook for a dataset",
	Long: `Load a dataset and its mapped label file, then write an .xlsx
workbook with a summary sheet and every spike time in samples and
seconds.

Examples:
  spikeflow export rec001.bin
  spikeflow export rec001.bin -o reports/rec001.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output path (default: <dataset>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	name := filepath.Base(args[0])

	store := dataset.NewStore()
	result, err := store.Load(dataset.Descriptor{
		Path:       filepath.Join(cfg.Dataset.Dir, name),
		BinaryRows: cfg.Dataset.BinaryRows,
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	defer store.Unload()

	mapStore, err := openMappings(cmd)
	if err != nil {
		return err
	}
	defer mapStore.Close()

	label, ok := mapStore.Get(name)
	if !ok {
		return fmt.Errorf("no label mapping for %s", name)
	}
	src, err := spikes.Load(filepath.Join(cfg.Dataset.LabelsDir, filepath.Base(label)))
	if err != nil {
		return fmt.Errorf("load labels %s: %w", label, err)
	}

	out := exportOutput
	if out == "" {
		out = strings.TrimSuffix(name, filepath.Ext(name)) + ".xlsx"
	}

	report := export.Report{
		Dataset:      name,
		Channels:     result.ChannelCount,
		TotalSamples: result.TotalSamples,
		SamplingRate: cfg.Filter.SamplingRate,
		Source:       src,
	}
	if err := export.WriteWorkbook(report, out); err != nil {
		return err
	}

	tui.Field("Spikes", fmt.Sprintf("%d", src.Count()))
	tui.Success("wrote " + out)
	return nil
}
