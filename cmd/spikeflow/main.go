// SpikeFlow - multi-channel recording server and toolkit.
// Serves windowed neural data with filtering and spike detection, and
// manages the dataset folder from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spikeflow",
	Short: "SpikeFlow - serve and manage multi-channel recordings",
	Long: `SpikeFlow serves windowed views of multi-channel electrophysiology
recordings: raw samples, zero-phase filtered traces, and spike annotations
from thresholds or precomputed label files.

Commands cover the full workflow:
  serve     start the HTTP API
  convert   build a memory-mapped cache pair from a tensor container
  mappings  manage dataset-to-label pairings
  export    write a spike report workbook
  archive   move recordings to and from shared S3 storage`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}
