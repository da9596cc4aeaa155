package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spikeflow/spikeflow/pkg/config"
	"github.com/spikeflow/spikeflow/pkg/dataset"
	"github.com/spikeflow/spikeflow/pkg/filter"
	"github.com/spikeflow/spikeflow/pkg/mappings"
	"github.com/spikeflow/spikeflow/pkg/server"
	"github.com/spikeflow/spikeflow/pkg/sorting"
	"github.com/spikeflow/spikeflow/pkg/telemetry"
	"github.com/spikeflow/spikeflow/pkg/tui"
	"github.com/spikeflow/spikeflow/pkg/watch"
)

var (
	servePort    int
	serveHost    string
	serveDataset string
	serveWatch   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recording server",
	Long: `Start the HTTP API over the dataset folder.

The server provides:
  - Windowed raw and filtered data with spike annotations
  - Dataset upload, switching, and deletion
  - Background sorting jobs with SSE status streaming
  - Dataset-to-label mapping management

Examples:
  spikeflow serve                      # defaults from config
  spikeflow serve --port 8080
  spikeflow serve --dataset rec001.bin # load on startup
  spikeflow serve --watch              # pick up files copied in by hand`,
	RunE: runServe,
}

func init() {
	cfg := config.Global().Get()

	serveCmd.Flags().IntVarP(&servePort, "port", "p", cfg.Server.Port, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", cfg.Server.Host, "Host to bind to")
	serveCmd.Flags().StringVar(&serveDataset, "dataset", "", "Dataset to load on startup")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch the dataset folders for new files")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Options{
			Endpoint:       cfg.Telemetry.Endpoint,
			ServiceVersion: version,
			Environment:    "production",
			SamplingRatio:  1.0,
			BatchTimeout:   5 * time.Second,
			ExportTimeout:  30 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer shutdown(context.Background())
	}

	backend, err := newMappingBackend(cfg)
	if err != nil {
		return err
	}
	mapStore, err := mappings.NewStore(ctx, backend)
	if err != nil {
		return err
	}
	defer mapStore.Close()

	store := dataset.NewStore()
	registry := sorting.NewRegistry()
	sorting.RegisterBuiltins(registry, filterOptions(cfg))
	orch := sorting.NewOrchestrator(registry, cfg.Sorting.Workers, cfg.Sorting.QueueDepth)
	defer orch.Close()

	srv := server.NewServer(cfg, store, mapStore, registry, orch)

	if serveDataset != "" {
		result, err := srv.LoadDataset(serveDataset)
		if err != nil {
			return fmt.Errorf("load %s: %w", serveDataset, err)
		}
		log.Printf("loaded %s: %d channels, %d samples",
			result.Name, result.ChannelCount, result.TotalSamples)
	}

	if serveWatch {
		watcher, err := newFolderWatcher(cfg, srv, mapStore)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("watcher stopped: %v", err)
			}
		}()
	}

	var handler http.Handler = srv
	if cfg.Telemetry.Enabled {
		handler = telemetry.Middleware(srv)
	}

	addr := fmt.Sprintf("%s:%d", serveHost, servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	url := fmt.Sprintf("http://%s:%d", serveHost, servePort)
	if serveHost == "0.0.0.0" || serveHost == "" {
		url = fmt.Sprintf("http://localhost:%d", servePort)
	}

	tui.Banner(version)
	tui.Field("Local", url)
	tui.Field("Datasets", cfg.Dataset.Dir)
	tui.Rule()
	tui.Note("Press Ctrl+C to stop")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

func newMappingBackend(cfg *config.Config) (mappings.Backend, error) {
	switch cfg.Mappings.Backend {
	case "", "file":
		return mappings.NewFileBackend(cfg.Mappings.Path)
	case "redis":
		rc := mappings.DefaultRedisConfig(cfg.Mappings.Redis.Address)
		rc.Password = cfg.Mappings.Redis.Password
		rc.Database = cfg.Mappings.Redis.Database
		if cfg.Mappings.Redis.Prefix != "" {
			rc.Prefix = cfg.Mappings.Redis.Prefix
		}
		return mappings.NewRedisBackend(rc)
	default:
		return nil, fmt.Errorf("unknown mapping backend %q", cfg.Mappings.Backend)
	}
}

// newFolderWatcher wires folder events to the running server: new datasets
// get logged, new label files get auto-mapped to a dataset by stem.
func newFolderWatcher(cfg *config.Config, srv *server.Server, mapStore *mappings.Store) (*watch.DirWatcher, error) {
	watcher, err := watch.NewDirWatcher(cfg.Dataset.Dir, cfg.Dataset.LabelsDir, dataset.AllowedExtensions)
	if err != nil {
		return nil, err
	}

	watcher.OnDataset = func(name string) {
		log.Printf("new dataset in folder: %s", name)
	}
	watcher.OnLabels = func(name string) {
		entries, err := dataset.Catalog(cfg.Dataset.Dir)
		if err != nil {
			log.Printf("catalog scan failed: %v", err)
			return
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		target := watch.MatchDataset(name, names)
		if target == "" {
			log.Printf("label file %s has no matching dataset", name)
			return
		}
		if err := mapStore.Set(context.Background(), target, name); err != nil {
			log.Printf("auto-mapping %s failed: %v", target, err)
			return
		}
		srv.InvalidateLabels(target)
		log.Printf("auto-mapped %s -> %s", target, name)
	}
	watcher.OnError = func(err error) {
		log.Printf("watch: %v", err)
	}
	return watcher, nil
}

func filterOptions(cfg *config.Config) filter.Options {
	return filter.Options{
		SamplingRate: cfg.Filter.SamplingRate,
		Order:        cfg.Filter.Order,
		EdgePad:      cfg.Filter.EdgePad,
		HighpassHz:   cfg.Filter.HighpassHz,
		LowpassHz:    cfg.Filter.LowpassHz,
	}
}
