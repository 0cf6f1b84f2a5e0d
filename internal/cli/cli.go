// Package cli wires configuration, storage and the pipeline behind the
// skyalign command tree.
package cli

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"

	"skyalign/internal/avm"
	"skyalign/internal/config"
	"skyalign/internal/fsutil"
	"skyalign/internal/imagio/magick"
	"skyalign/internal/pipeline"
	"skyalign/internal/solver"
	"skyalign/internal/sources"
	"skyalign/internal/storage"
	"skyalign/internal/tiles"
)

// Root carries the shared dependencies of every subcommand.
type Root struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.Store
}

// NewRoot constructs the CLI root state.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{cfg: cfg, log: logger, store: store}
}

// coordinatorOverrides are per-invocation deviations from config.
type coordinatorOverrides struct {
	binPrefix string
	workDir   string
	keepWork  bool
	parallel  int
}

func (r *Root) newCoordinator(ov coordinatorOverrides) *pipeline.Coordinator {
	binPrefix := r.cfg.Solver.BinPrefix
	if ov.binPrefix != "" {
		binPrefix = ov.binPrefix
	}
	workDir := r.cfg.Processing.WorkDir
	if ov.workDir != "" {
		workDir = ov.workDir
	}
	parallel := r.cfg.Processing.ParallelJobs
	if ov.parallel > 0 {
		parallel = ov.parallel
	}

	engine := solver.NewAstrometryEngine(binPrefix, r.log)
	engine.ExtraArgs = r.cfg.Solver.ExtraArgs

	return &pipeline.Coordinator{
		Engine:    engine,
		Raster:    magick.Reader{},
		Annotator: avm.NewAnnotator(magick.Converter{}),
		Tiler:     tiles.NewEmitter(r.cfg.Tiling.TileSize, encodePNG),
		Store:     r.store,
		Log:       r.log,
		Parallel:  parallel,
		WorkDir:   workDir,
		KeepWork:  ov.keepWork || r.cfg.Processing.KeepWorkDir,
		Extraction: sources.Options{
			SigmaThreshold: r.cfg.Extraction.SigmaThreshold,
			MaxSources:     r.cfg.Extraction.MaxSources,
			MinSources:     r.cfg.Extraction.MinSources,
		},
		Ownership: fsutil.OwnershipFromEnv(),
	}
}

func encodePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return err
	}
	return f.Close()
}

// runJob pushes one job through a dedicated pipeline and waits for it.
func (r *Root) runJob(ctx context.Context, coord *pipeline.Coordinator, job pipeline.Job) error {
	pipe := pipeline.New(ctx, 1, coord, r.log, r.store)
	defer pipe.Stop()

	resCh, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	if err := pipe.Submit(job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res.Error
			}
		}
	}
}
