package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/tui"
)

var convertOverwrite bool

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Build the memory-mapped cache for a tensor container",
	Long: `Convert an Arrow tensor container into its cache pair: a flat
int16 channel buffer plus a shape sidecar. Once the cache exists the
server maps the buffer directly instead of decoding the container on
every load.

Values outside the int16 range are rescaled by the maximum absolute
value; the applied scale is reported.

Examples:
  spikeflow convert datasets/rec001.arrow
  spikeflow convert datasets/rec001.arrow --overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().BoolVar(&convertOverwrite, "overwrite", false, "Rebuild an existing cache")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	path := args[0]

	tui.Section("Convert")
	tui.Field("Source", path)

	start := time.Now()
	var bar *progressbar.ProgressBar
	result, err := dataset.BuildCache(path, convertOverwrite, func(done, total int) {
		if bar == nil {
			bar = tui.CountBar(int64(total), "channels")
		}
		bar.Add(1)
	})
	if err != nil {
		tui.Failure(fmt.Sprintf("convert failed: %v", err))
		return err
	}

	tui.Field("Buffer", result.BufferPath)
	tui.Field("Shape", fmt.Sprintf("%d x %d", result.Rows, result.Cols))
	if result.Scale != 1 {
		tui.Field("Scale", fmt.Sprintf("%.6g", result.Scale))
	}
	tui.Success(fmt.Sprintf("cache built in %s", tui.FormatDuration(time.Since(start))))
	return nil
}
