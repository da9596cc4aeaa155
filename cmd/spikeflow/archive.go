package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/storage"
	"github.com/spikeflow/spikeflow/pkg/tui"
)

var (
	archiveLabels     bool
	archiveWithLabels bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move recordings between the dataset folder and object storage",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		arc, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		recs, err := arc.Recordings(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			tui.Note("archive is empty")
			return nil
		}
		tui.Section(fmt.Sprintf("Archive (%d)", len(recs)))
		for _, r := range recs {
			detail := fmt.Sprintf("%d bytes", r.Size)
			if r.HasLabels {
				detail += ", labels"
			}
			tui.Field(r.Name, detail)
		}
		return nil
	},
}

var archiveFetchCmd = &cobra.Command{
	Use:   "fetch <name>",
	Short: "Download a recording into the dataset folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Global().Get()
		arc, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		name := args[0]

		size, err := arc.Size(cmd.Context(), name)
		if err != nil {
			return err
		}
		bar := tui.TransferBar(size, "fetch "+name)
		path, err := arc.Fetch(cmd.Context(), name, fetchDir(cfg), bar)
		if err != nil {
			return err
		}
		tui.Success("fetched " + path)

		if archiveWithLabels {
			ln, err := arc.LabelName(cmd.Context(), name)
			if err != nil {
				return err
			}
			if ln == "" {
				tui.Note("no labels archived for " + name)
				return nil
			}
			lp, err := arc.FetchLabels(cmd.Context(), ln, cfg.Dataset.LabelsDir, nil)
			if err != nil {
				return fmt.Errorf("labels: %w", err)
			}
			tui.Success("fetched " + lp)
		}
		return nil
	},
}

var archivePushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Upload a recording or label file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arc, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		path := args[0]

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		bar := tui.TransferBar(info.Size(), "push "+filepath.Base(path))
		if archiveLabels {
			err = arc.PushLabels(cmd.Context(), path, bar)
		} else {
			err = arc.Push(cmd.Context(), path, bar)
		}
		if err != nil {
			return err
		}
		tui.Success("pushed " + filepath.Base(path))
		return nil
	},
}

var archiveRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a recording and its labels from the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arc, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		if err := arc.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		tui.Success("removed " + args[0])
		return nil
	},
}

func openArchive(ctx context.Context) (*storage.Archive, error) {
	cfg := config.Global().Get()
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is not configured")
	}
	sc := storage.DefaultConfig(cfg.Storage.Bucket, cfg.Storage.Region)
	sc.Endpoint = cfg.Storage.Endpoint
	sc.UsePathStyle = cfg.Storage.Endpoint != ""
	client, err := storage.NewClient(ctx, sc)
	if err != nil {
		return nil, err
	}
	return storage.NewArchive(client), nil
}

// fetchDir prefers the configured cache folder so large recordings stay
// off the watched dataset folder until they are wanted.
func fetchDir(cfg *config.Config) string {
	if cfg.Storage.CacheDir != "" {
		return cfg.Storage.CacheDir
	}
	return cfg.Dataset.Dir
}

func init() {
	archiveFetchCmd.Flags().BoolVar(&archiveWithLabels, "with-labels", false, "Also fetch the paired label file")
	archivePushCmd.Flags().BoolVar(&archiveLabels, "labels", false, "Upload under the labels prefix")
	archiveCmd.AddCommand(archiveListCmd, archiveFetchCmd, archivePushCmd, archiveRemoveCmd)
	rootCmd.AddCommand(archiveCmd)
}
