package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"skyalign/internal/avm"
	"skyalign/internal/fits"
	"skyalign/internal/fsutil"
	"skyalign/internal/imagio"
	"skyalign/internal/logging"
	"skyalign/internal/solver"
	"skyalign/internal/sources"
	"skyalign/internal/storage"
	"skyalign/internal/tiles"
	"skyalign/internal/wcs"
	"skyalign/internal/workspace"
)

// Coordinator runs one alignment job end to end: ingest the FITS
// references, build per-input indexes, extract the RGB catalog, solve
// every input, pick the best solution, and write the tagged outputs.
// Per-input failures are recoverable; a stage failure aborts the job.
type Coordinator struct {
	Engine    solver.Engine
	Raster    imagio.Reader
	Annotator *avm.Annotator
	Tiler     *tiles.Emitter
	Store     *storage.Store
	Log       *slog.Logger

	// Parallel bounds concurrent per-input work; <1 means NumCPU.
	Parallel int
	// WorkDir overrides the scratch location; empty uses a temp dir.
	WorkDir  string
	KeepWork bool

	Extraction sources.Options
	Ownership  fsutil.HostOwnership
}

// inputState carries one FITS input across stages.
type inputState struct {
	index     int
	path      string
	status    InputStatus
	err       error
	transform *wcs.Transform
	sizeDeg   float64
	indexPath string
	candidate *solver.Candidate
}

// Run executes the job. The returned outcome is always populated; err
// mirrors Outcome.Err for callers that only care about success.
func (c *Coordinator) Run(ctx context.Context, job Job) (*Outcome, error) {
	out := &Outcome{Job: job, SelectedInput: -1}

	fail := func(stage Stage, err error) (*Outcome, error) {
		out.Stage = StageFailed
		out.Err = err
		logging.LogStage(c.Log, job.ID, string(stage), map[string]any{"error": err.Error()})
		return out, err
	}

	logging.LogStage(c.Log, job.ID, string(StageValidating), nil)
	if err := c.validate(job); err != nil {
		return fail(StageValidating, err)
	}

	ws, err := workspace.Acquire(c.WorkDir)
	if err != nil {
		return fail(StageValidating, &StageError{Stage: StageValidating, Err: err})
	}
	defer ws.Release(c.KeepWork)

	inputs := make([]*inputState, len(job.FITSPaths))
	for i, p := range job.FITSPaths {
		inputs[i] = &inputState{index: i, path: p, status: InputPending}
	}

	logging.LogStage(c.Log, job.ID, string(StageIngesting), map[string]any{"inputs": len(inputs)})
	c.forEachInput(len(inputs), func(i int) {
		c.prepareInput(ctx, ws, inputs[i])
	})
	if err := ctx.Err(); err != nil {
		out.Inputs = collectOutcomes(inputs)
		return fail(StageIngesting, &StageError{Stage: StageIngesting, Err: err})
	}

	// Gate: at least one index must exist before the RGB side is
	// touched. With zero indices nothing downstream can succeed, so
	// the job fails here with every per-input reason.
	built := 0
	for _, in := range inputs {
		if in.status == InputIndexBuilt {
			built++
		}
	}
	logging.LogStage(c.Log, job.ID, string(StageIndexBuilding), map[string]any{"built": built, "inputs": len(inputs)})
	if built == 0 {
		for _, in := range inputs {
			logging.LogInputOutcome(c.Log, job.ID, in.index, in.path, string(in.status), in.err)
		}
		out.Inputs = collectOutcomes(inputs)
		c.recordInputs(job, inputs)
		return fail(StageIndexBuilding, &StageError{Stage: StageIndexBuilding, Err: &NoSolutionError{Inputs: out.Inputs}})
	}

	logging.LogStage(c.Log, job.ID, string(StageExtracting), nil)
	catalog, err := c.extractRGB(job.RGBPath)
	if err != nil {
		out.Inputs = collectOutcomes(inputs)
		return fail(StageExtracting, &StageError{Stage: StageExtracting, Err: err})
	}
	c.snapshotCatalog(ws, catalog)

	logging.LogStage(c.Log, job.ID, string(StageSolving), map[string]any{"sources": len(catalog.Sources)})
	c.forEachInput(len(inputs), func(i int) {
		c.solveInput(ctx, ws, inputs[i], catalog)
	})
	if err := ctx.Err(); err != nil {
		out.Inputs = collectOutcomes(inputs)
		return fail(StageSolving, &StageError{Stage: StageSolving, Err: err})
	}

	// Barrier: every input has reached a terminal per-input state
	// before any solution is considered.
	candidates := make([]*solver.Candidate, 0, len(inputs))
	for _, in := range inputs {
		if in.candidate != nil {
			candidates = append(candidates, in.candidate)
		}
		logging.LogInputOutcome(c.Log, job.ID, in.index, in.path, string(in.status), in.err)
	}

	best := solver.Select(candidates)
	if best != nil {
		inputs[best.InputIndex].status = InputSelected
	}
	out.Inputs = collectOutcomes(inputs)
	c.recordInputs(job, inputs)

	if best == nil {
		err := &NoSolutionError{Inputs: out.Inputs}
		out.Stage = StageFailed
		out.Err = err
		return out, err
	}
	out.SelectedInput = best.InputIndex
	out.Matches = best.Matches
	out.ResidualPix = best.ResidualPix
	c.recordSolution(job, best)

	logging.LogStage(c.Log, job.ID, string(StageAnnotating), map[string]any{
		"input":   best.InputIndex,
		"matches": best.Matches,
	})
	pkt := avm.FromTransform(best.Transform, catalog.Width, catalog.Height)
	if err := c.Annotator.Annotate(ctx, job.RGBPath, job.OutputPath, pkt); err != nil {
		return fail(StageAnnotating, &StageError{Stage: StageAnnotating, Err: err})
	}
	c.applyOwnership(job.OutputPath)

	if job.TilePath != "" {
		logging.LogStage(c.Log, job.ID, string(StageTiling), map[string]any{"dest": job.TilePath})
		if err := c.emitTiles(job, best.Transform, catalog.Width, catalog.Height); err != nil {
			return fail(StageTiling, &StageError{Stage: StageTiling, Err: err})
		}
		c.applyOwnership(job.TilePath)
	}

	out.Stage = StageDone
	return out, nil
}

func (c *Coordinator) validate(job Job) error {
	verr := func(format string, args ...any) error {
		return &StageError{Stage: StageValidating, Err: fmt.Errorf(format, args...)}
	}
	if job.RGBPath == "" || !fsutil.FileExists(job.RGBPath) {
		return verr("RGB image %s does not exist", job.RGBPath)
	}
	if len(job.FITSPaths) == 0 {
		return verr("no FITS reference images given")
	}
	for _, p := range job.FITSPaths {
		if !fsutil.FileExists(p) {
			return verr("FITS image %s does not exist", p)
		}
	}
	if !avm.SupportedOutput(job.OutputPath) {
		return verr("output %s must be a .png, .jpg or .jpeg path", job.OutputPath)
	}
	if job.TilePath != "" {
		if err := tiles.CheckDestination(job.TilePath); err != nil {
			return verr("tile destination: %w", err)
		}
	}
	return nil
}

// prepareInput ingests one FITS reference and builds its index. All
// failures here are per-input: the job continues with the rest.
func (c *Coordinator) prepareInput(ctx context.Context, ws *workspace.Workspace, in *inputState) {
	img, err := fits.ReadImage(in.path)
	if err != nil {
		var noImage *fits.ErrNoImage
		if errors.As(err, &noImage) {
			in.status = InputSkippedNoImage
		} else {
			in.status = InputIndexFailed
		}
		in.err = err
		return
	}

	transform, err := wcs.FromHeader(img.Header)
	if err != nil {
		in.status = InputIndexFailed
		in.err = fmt.Errorf("no usable sky coordinates: %w", err)
		return
	}
	in.transform = transform
	in.sizeDeg = transform.DiagonalDeg(img.Width, img.Height)

	cat, err := sources.Extract(img.Pixels, img.Width, img.Height, c.Extraction)
	if err != nil {
		in.status = InputIndexFailed
		in.err = fmt.Errorf("source detection: %w", err)
		return
	}

	objects := make([]solver.SkyObject, len(cat.Sources))
	for i, s := range cat.Sources {
		ra, dec := transform.PixelToSky(s.X, s.Y)
		objects[i] = solver.SkyObject{RA: ra, Dec: dec, Flux: s.Flux}
	}

	area, err := ws.InputArea(in.index)
	if err != nil {
		in.status = InputIndexFailed
		in.err = err
		return
	}
	res, err := c.Engine.BuildIndex(ctx, solver.IndexRequest{
		Objects:    objects,
		SizeDeg:    in.sizeDeg,
		ScratchDir: area,
	})
	if err != nil {
		in.status = InputIndexFailed
		in.err = err
		return
	}
	in.indexPath = res.IndexPath
	in.status = InputIndexBuilt
}

func (c *Coordinator) extractRGB(path string) (*sources.Catalog, error) {
	raster, err := c.Raster.ReadLuminance(path)
	if err != nil {
		return nil, fmt.Errorf("read RGB image: %w", err)
	}
	cat, err := sources.Extract(raster.Pixels, raster.Width, raster.Height, c.Extraction)
	if err != nil {
		return nil, fmt.Errorf("RGB source detection: %w", err)
	}
	return cat, nil
}

// snapshotCatalog keeps the RGB source list beside the job's other
// intermediates so a kept workspace can be inspected after the fact.
func (c *Coordinator) snapshotCatalog(ws *workspace.Workspace, cat *sources.Catalog) {
	area, err := ws.SharedArea("rgb")
	if err == nil {
		x := make([]float64, len(cat.Sources))
		y := make([]float64, len(cat.Sources))
		flux := make([]float64, len(cat.Sources))
		for i, s := range cat.Sources {
			x[i], y[i], flux[i] = s.X, s.Y, s.Flux
		}
		err = fits.WriteBinTable(filepath.Join(area, "sources.xyls"), []fits.Column{
			{Name: "X", Values: x},
			{Name: "Y", Values: y},
			{Name: "FLUX", Values: flux},
		})
	}
	if err != nil && c.Log != nil {
		c.Log.Warn("RGB source list not kept", "error", err)
	}
}

// solveInput matches the RGB catalog against one built index.
func (c *Coordinator) solveInput(ctx context.Context, ws *workspace.Workspace, in *inputState, catalog *sources.Catalog) {
	if in.status != InputIndexBuilt {
		in.candidate = &solver.Candidate{InputIndex: in.index, InputPath: in.path, Err: in.err}
		return
	}

	area, err := ws.SolveArea(in.index)
	if err != nil {
		in.status = InputSolveFailed
		in.err = err
		in.candidate = &solver.Candidate{InputIndex: in.index, InputPath: in.path, Err: err}
		return
	}

	// The RGB field width is unknown until solved; span the RGB frame
	// with the reference transform to bound the search.
	fieldWidth := in.transform.FieldWidthDeg(catalog.Width, catalog.Height)
	sol, err := c.Engine.Solve(ctx, solver.SolveRequest{
		IndexPath:     in.indexPath,
		Catalog:       catalog,
		FieldWidthDeg: fieldWidth,
		ScratchDir:    area,
	})
	if err != nil {
		in.status = InputSolveFailed
		in.err = err
		diag := ""
		if sol != nil {
			diag = sol.Log
		}
		in.candidate = &solver.Candidate{InputIndex: in.index, InputPath: in.path, Err: err, Diagnostics: diag}
		return
	}

	in.status = InputSolved
	in.candidate = &solver.Candidate{
		InputIndex:  in.index,
		InputPath:   in.path,
		Transform:   sol.Transform,
		Matches:     sol.Matches,
		ResidualPix: sol.ResidualPix,
		Diagnostics: sol.Log,
	}
}

func (c *Coordinator) emitTiles(job Job, t *wcs.Transform, width, height int) error {
	img, err := decodeImage(job.OutputPath)
	if err != nil {
		return err
	}
	reg := tiles.RegistrationFrom(t, width, height)
	_, err = c.Tiler.Emit(job.TilePath, img, reg)
	return err
}

func (c *Coordinator) applyOwnership(path string) {
	if !c.Ownership.IsSet() {
		return
	}
	if err := c.Ownership.Apply(path); err != nil && c.Log != nil {
		c.Log.Warn("host ownership not applied", "path", path, "error", err)
	}
}

func (c *Coordinator) recordInputs(job Job, inputs []*inputState) {
	if c.Store == nil {
		return
	}
	for _, in := range inputs {
		rec := storage.InputRecord{
			JobID:      job.ID,
			InputIndex: in.index,
			FITSPath:   in.path,
			Status:     string(in.status),
		}
		if in.err != nil {
			rec.Error = in.err.Error()
		}
		if in.candidate != nil && in.candidate.Succeeded() {
			rec.Matches = in.candidate.Matches
			rec.ResidualPix = in.candidate.ResidualPix
		}
		if err := c.Store.RecordInputOutcome(rec); err != nil && c.Log != nil {
			c.Log.Warn("input outcome not recorded", "job", job.ID, "error", err)
		}
	}
}

func (c *Coordinator) recordSolution(job Job, best *solver.Candidate) {
	if c.Store == nil {
		return
	}
	rec := storage.SolutionRecord{
		JobID:       job.ID,
		InputIndex:  best.InputIndex,
		RefRA:       best.Transform.CRVal1,
		RefDec:      best.Transform.CRVal2,
		CRPix1:      best.Transform.CRPix1,
		CRPix2:      best.Transform.CRPix2,
		CD:          best.Transform.CD,
		Matches:     best.Matches,
		ResidualPix: best.ResidualPix,
	}
	if err := c.Store.RecordSolution(rec); err != nil && c.Log != nil {
		c.Log.Warn("solution not recorded", "job", job.ID, "error", err)
	}
}

// forEachInput runs fn over input indexes with bounded concurrency.
func (c *Coordinator) forEachInput(n int, fn func(i int)) {
	limit := c.Parallel
	if limit < 1 {
		limit = runtime.NumCPU()
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func collectOutcomes(inputs []*inputState) []InputOutcome {
	outs := make([]InputOutcome, len(inputs))
	for i, in := range inputs {
		outs[i] = InputOutcome{
			Index:  in.index,
			Path:   in.path,
			Status: in.status,
			Err:    in.err,
		}
		if in.candidate != nil && in.candidate.Succeeded() {
			outs[i].Matches = in.candidate.Matches
			outs[i].ResidualPix = in.candidate.ResidualPix
		}
	}
	return outs
}
