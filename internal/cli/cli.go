// ============================================================================
// LAPS CLI - Backend Command Line Interface
// ============================================================================
//
// Package: internal/cli
// Purpose: Cobra command tree for the coordination backend.
//
// Command structure:
//   laps                       # Root command
//   ├── run                    # Start the backend (registry loops + HTTP)
//   ├── modules                # List registered modules and worker counts
//   ├── maps                   # List stored maps
//   ├── --config, -c           # Config file path (persistent)
//   └── --version / --help
//
// The run command starts the registration and shutdown consumer loops and
// the web server, then waits for SIGINT/SIGTERM and shuts everything down
// through context cancellation.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/dispatch"
	"github.com/LAPS-Group/laps/internal/gate"
	"github.com/LAPS-Group/laps/internal/mapstore"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/registry"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/internal/web"
)

var configFile string

// BuildCLI assembles the laps command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "laps",
		Short: "LAPS: pathfinding module coordination backend",
		Long: `LAPS coordinates externally deployed pathfinding modules:
- module registry with per-worker counting
- job dispatch with dedup caching and opaque result tokens
- bounded result polling with admission control
- cancellation cascade on module shutdown`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildModulesCommand())
	rootCmd.AddCommand(buildMapsCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the LAPS backend",
		Long:  "Start the module registry event loops and the client-facing HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackend()
		},
	}
}

func runBackend() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to coordination store: %w", err)
	}
	defer st.Close()

	collector := metrics.NewCollector()
	reg := registry.New(st, cfg.Jobs, collector)
	maps := mapstore.New(st)
	disp := dispatch.New(st, reg, maps, cfg.Jobs, collector)
	g := gate.New(st, cfg.Jobs, collector)
	server := web.NewServer(cfg, reg, disp, g, maps, collector)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Run(ctx)
	}()

	err = server.Run(ctx)
	stop()
	wg.Wait()
	return err
}

func buildModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered modules",
		Long:  "List modules with live workers, with live and desired worker counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModules(cmd.Context())
		},
	}
}

func listModules(ctx context.Context) error {
	cfg, st, err := connect(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New(st, cfg.Jobs, metrics.NewCollector())
	modules, err := reg.RegisteredModules(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tVERSION\tWORKERS\tDESIRED")
	for _, m := range modules {
		workers, err := reg.WorkerCount(ctx, m)
		if err != nil {
			return err
		}
		desired, err := reg.DesiredWorkers(ctx, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", m.Name, m.Version, workers, desired)
	}
	return w.Flush()
}

func buildMapsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "maps",
		Short: "List stored maps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listMaps(cmd.Context())
		},
	}
}

func listMaps(ctx context.Context) error {
	_, st, err := connect(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	maps := mapstore.New(st)
	ids, err := maps.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MAP\tWIDTH\tHEIGHT")
	for _, id := range ids {
		meta, err := maps.Meta(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%d\t%d\n", id, meta.Width, meta.Height)
	}
	return w.Flush()
}

func connect(ctx context.Context) (config.Config, *store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := store.Connect(ctx, cfg.Redis)
	if err != nil {
		return cfg, nil, fmt.Errorf("connecting to coordination store: %w", err)
	}
	return cfg, st, nil
}
