package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/mappings"
	"github.com/spikeflow/spikeflow/pkg/tui"
	"github.com/spikeflow/spikeflow/pkg/watch"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage dataset-to-label mappings",
}

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMappings(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		all := store.All()
		if len(all) == 0 {
			tui.Note("no mappings")
			return nil
		}
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)

		tui.Section(fmt.Sprintf("Mappings (%d)", len(names)))
		for _, name := range names {
			tui.Field(name, all[name])
		}
		return nil
	},
}

var mappingsAddCmd = &cobra.Command{
	Use:   "add <dataset> <label>",
	Short: "Map a dataset to a label file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMappings(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		tui.Success(fmt.Sprintf("%s -> %s", args[0], args[1]))
		return nil
	},
}

var mappingsRemoveCmd = &cobra.Command{
	Use:   "remove <dataset>",
	Short: "Drop the mapping for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMappings(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, ok := store.Get(args[0]); !ok {
			return fmt.Errorf("no mapping for %s", args[0])
		}
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		tui.Success("removed " + args[0])
		return nil
	},
}

var mappingsAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Pair unmapped label files with datasets by name",
	Long: `Scan the labels folder and map each label file whose name stem
matches exactly one dataset. Existing mappings are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Global().Get()
		store, err := openMappings(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := dataset.Catalog(cfg.Dataset.Dir)
		if err != nil {
			return err
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		mapped := make(map[string]bool)
		for _, label := range store.All() {
			mapped[label] = true
		}

		labels, err := os.ReadDir(cfg.Dataset.LabelsDir)
		if err != nil {
			if os.IsNotExist(err) {
				tui.Note("no labels folder")
				return nil
			}
			return err
		}

		added := 0
		for _, l := range labels {
			if l.IsDir() || mapped[l.Name()] {
				continue
			}
			target := watch.MatchDataset(l.Name(), names)
			if target == "" {
				tui.Note("no match for " + l.Name())
				continue
			}
			if _, ok := store.Get(target); ok {
				continue
			}
			if err := store.Set(cmd.Context(), target, l.Name()); err != nil {
				return err
			}
			tui.Success(fmt.Sprintf("%s -> %s", target, l.Name()))
			added++
		}
		if added == 0 {
			tui.Note("nothing to pair")
		}
		return nil
	},
}

func openMappings(cmd *cobra.Command) (*mappings.Store, error) {
	cfg := config.Global().Get()
	backend, err := newMappingBackend(cfg)
	if err != nil {
		return nil, err
	}
	return mappings.NewStore(cmd.Context(), backend)
}

func init() {
	mappingsCmd.AddCommand(mappingsListCmd, mappingsAddCmd, mappingsRemoveCmd, mappingsAutoCmd)
	rootCmd.AddCommand(mappingsCmd)
}
