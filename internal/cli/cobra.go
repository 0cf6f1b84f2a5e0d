package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"skyalign/internal/config"
	"skyalign/internal/pipeline"
	"skyalign/internal/server"
	"skyalign/internal/storage"
	"skyalign/internal/tools"
	"skyalign/internal/watch"
)

// NewRootCmd creates the root command tree.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store) *cobra.Command {
	root := NewRoot(cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "skyalign",
		Short: "skyalign registers astrophotos against the sky",
		Long: `skyalign solves the sky position of an RGB astrophoto using one or
more FITS reference images of the same field, then writes a copy of the
photo tagged with AVM metadata and optionally a tile pyramid.`,
	}

	rootCmd.AddCommand(newGoCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newGoCmd(root *Root) *cobra.Command {
	var (
		output    string
		tileDir   string
		workDir   string
		keepWork  bool
		binPrefix string
		parallel  int
	)

	cmd := &cobra.Command{
		Use:   "go <rgb-image> <fits-reference>...",
		Short: "Align one RGB image against FITS references",
		Long: `Align an RGB astrophoto against one or more FITS reference images.
Every reference is tried; the solution matching the most sources wins.

Examples:
  skyalign go m31.jpg m31-red.fits m31-blue.fits -o m31-aligned.jpg
  skyalign go field.png field.fits -o out/field.png -t out/tiles`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:         fmt.Sprintf("align-%d", time.Now().UnixNano()),
				RGBPath:    args[0],
				FITSPaths:  args[1:],
				OutputPath: output,
				TilePath:   tileDir,
			}

			coord := root.newCoordinator(coordinatorOverrides{
				binPrefix: binPrefix,
				workDir:   workDir,
				keepWork:  keepWork,
				parallel:  parallel,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return root.runJob(ctx, coord, job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "path of the AVM-tagged image to write (required)")
	cmd.Flags().StringVarP(&tileDir, "tile", "t", "", "directory to fill with a tile pyramid")
	cmd.Flags().StringVar(&workDir, "workdir", "", "scratch directory to use instead of a temp dir")
	cmd.Flags().BoolVar(&keepWork, "keep-workdir", false, "keep the scratch directory after the run")
	cmd.Flags().StringVar(&binPrefix, "bin-prefix", "", "prefix for the astrometry.net binaries")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "concurrent per-input work (default: CPU count)")
	cmd.MarkFlagRequired("output")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		outputDir string
		parallel  int
	)

	cmd := &cobra.Command{
		Use:   "watch <directory>...",
		Short: "Watch directories and align arriving images",
		Long: `Monitor directories for new RGB images. When an image arrives with
FITS files sharing its name stem, an alignment job is queued for it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord := root.newCoordinator(coordinatorOverrides{parallel: parallel})
			pipe := pipeline.New(ctx, root.cfg.Processing.ParallelJobs, coord, root.log, root.store)
			defer pipe.Stop()

			watcher, err := watch.New(args, pipe, root.log)
			if err != nil {
				return err
			}
			watcher.OutputDir = outputDir
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for aligned outputs (default: next to inputs)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "concurrent per-input work (default: CPU count)")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server with job history and live progress",
		Long: `Start an HTTP server exposing job history, per-input outcomes and
live progress over SSE and websocket.

Examples:
  skyalign serve --addr :8080
  skyalign serve --addr :8080 --watch /data/incoming`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord := root.newCoordinator(coordinatorOverrides{})
			pipe := pipeline.New(ctx, root.cfg.Processing.ParallelJobs, coord, root.log, root.store)
			defer pipe.Stop()

			if len(watchPaths) > 0 {
				watcher, err := watch.New(watchPaths, pipe, root.log)
				if err != nil {
					return err
				}
				if err := watcher.Start(); err != nil {
					return err
				}
				defer watcher.Stop()
			}

			return server.New(addr, root.store, pipe, root.log).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "server address (host:port)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new images")

	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show the status of the external solver binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ready := true
			for _, st := range tools.CheckAll(root.cfg.Solver.BinPrefix) {
				if st.Available {
					fmt.Printf("%-24s ok  %s\n", st.Name, st.Path)
					if st.Version != "" {
						fmt.Printf("%-24s     %s\n", "", st.Version)
					}
				} else {
					ready = false
					fmt.Printf("%-24s MISSING (%v)\n", st.Name, st.Error)
				}
			}
			if !ready {
				return fmt.Errorf("astrometry.net tools not fully available")
			}
			return nil
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Database Path:   %s\n", cfg.Paths.DatabasePath)
			fmt.Printf("Work Directory:  %s\n", orDefault(cfg.Processing.WorkDir, "(temp)"))
			fmt.Printf("Keep Work Dir:   %t\n", cfg.Processing.KeepWorkDir)
			fmt.Printf("Parallel Jobs:   %d\n", cfg.Processing.ParallelJobs)
			fmt.Printf("Solver Prefix:   %s\n", orDefault(cfg.Solver.BinPrefix, "(PATH)"))
			fmt.Printf("Sigma Threshold: %g\n", cfg.Extraction.SigmaThreshold)
			fmt.Printf("Max Sources:     %d\n", cfg.Extraction.MaxSources)
			fmt.Printf("Min Sources:     %d\n", cfg.Extraction.MinSources)
			fmt.Printf("Tile Size:       %d\n", cfg.Tiling.TileSize)
			fmt.Printf("Log Level:       %s\n", cfg.Logging.Level)
			fmt.Printf("Log Format:      %s\n", cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cfg.Extraction.SigmaThreshold <= 0 {
				return fmt.Errorf("extraction sigma threshold must be positive")
			}
			if cfg.Extraction.MinSources < 4 {
				return fmt.Errorf("minimum source count must allow quad matching (>= 4)")
			}
			if cfg.Tiling.TileSize < 16 {
				return fmt.Errorf("tile size %d is too small", cfg.Tiling.TileSize)
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("skyalign v1.0.0")
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
