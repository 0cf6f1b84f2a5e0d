package solver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"skyalign/internal/fits"
	"skyalign/internal/wcs"
)

// File names used inside a scratch sub-area for one invocation.
const (
	objectsTableName = "objects.fits"
	indexFileName    = "index.fits"
	xylistName       = "sources.xyls"
	solverConfigName = "aligner.cfg"
	wcsFileName      = "wcs.fits"
)

// AstrometryEngine drives the astrometry.net command-line tools. Each
// invocation exchanges files through a private scratch sub-area and is
// judged by its exit status; all output is captured for diagnostics.
type AstrometryEngine struct {
	// BinPrefix is prepended to tool names, e.g. "/opt/astrometry/bin/".
	BinPrefix string
	ExtraArgs []string
	Log       *slog.Logger
}

// NewAstrometryEngine returns an engine using the given tool prefix.
func NewAstrometryEngine(binPrefix string, log *slog.Logger) *AstrometryEngine {
	return &AstrometryEngine{BinPrefix: binPrefix, Log: log}
}

// BuildIndexTool and SolveTool are the external binary names.
const (
	BuildIndexTool = "build-astrometry-index"
	SolveTool      = "solve-field"
)

// ScalePreset maps an angular image size to the indexer's scale preset:
// preset 6 covers about a degree, each +2 doubles the size.
func ScalePreset(sizeDeg float64) int {
	if sizeDeg <= 0 {
		return 0
	}
	p := 6 + 2*math.Log2(sizeDeg)
	return int(math.Round(p))
}

// BuildIndex writes the object table and runs the external indexer.
func (e *AstrometryEngine) BuildIndex(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	ra := make([]float64, len(req.Objects))
	dec := make([]float64, len(req.Objects))
	flux := make([]float64, len(req.Objects))
	for i, o := range req.Objects {
		ra[i], dec[i], flux[i] = o.RA, o.Dec, o.Flux
	}

	objectsPath := filepath.Join(req.ScratchDir, objectsTableName)
	if err := fits.WriteBinTable(objectsPath, []fits.Column{
		{Name: "RA", Values: ra},
		{Name: "DEC", Values: dec},
		{Name: "FLUX", Values: flux},
	}); err != nil {
		return nil, fmt.Errorf("write object table: %w", err)
	}

	indexPath := filepath.Join(req.ScratchDir, indexFileName)
	args := e.buildIndexArgs(objectsPath, indexPath, req.SizeDeg)

	out, err := e.run(ctx, args)
	if err != nil {
		return &IndexResult{Log: out}, fmt.Errorf("%s: %w", BuildIndexTool, err)
	}
	if _, statErr := os.Stat(indexPath); statErr != nil {
		return &IndexResult{Log: out}, fmt.Errorf("%s exited cleanly but produced no index", BuildIndexTool)
	}
	return &IndexResult{IndexPath: indexPath, Log: out}, nil
}

// buildIndexArgs mirrors the canonical invocation: the object table is
// far smaller than all-sky (-E) and sorted by a flux-like column (-f).
func (e *AstrometryEngine) buildIndexArgs(objectsPath, indexPath string, sizeDeg float64) []string {
	args := []string{
		e.BinPrefix + BuildIndexTool,
		"-i", objectsPath,
		"-o", indexPath,
		"-E",
		"-f",
		"-S", "FLUX",
		"-P", strconv.Itoa(ScalePreset(sizeDeg)),
	}
	return append(args, e.ExtraArgs...)
}

// Solve writes the RGB source list and solver config, runs solve-field,
// and reads the WCS solution back.
func (e *AstrometryEngine) Solve(ctx context.Context, req SolveRequest) (*Solution, error) {
	x := make([]float64, len(req.Catalog.Sources))
	y := make([]float64, len(req.Catalog.Sources))
	flux := make([]float64, len(req.Catalog.Sources))
	for i, s := range req.Catalog.Sources {
		x[i], y[i], flux[i] = s.X, s.Y, s.Flux
	}

	xylsPath := filepath.Join(req.ScratchDir, xylistName)
	if err := fits.WriteBinTable(xylsPath, []fits.Column{
		{Name: "X", Values: x},
		{Name: "Y", Values: y},
		{Name: "FLUX", Values: flux},
	}); err != nil {
		return nil, fmt.Errorf("write xylist: %w", err)
	}

	cfgPath := filepath.Join(req.ScratchDir, solverConfigName)
	if err := e.writeConfig(cfgPath, req.IndexPath); err != nil {
		return nil, err
	}

	wcsPath := filepath.Join(req.ScratchDir, wcsFileName)
	args := e.solveArgs(cfgPath, xylsPath, wcsPath, req)

	out, err := e.run(ctx, args)
	if err != nil {
		return &Solution{Log: out}, fmt.Errorf("%s: %w", SolveTool, err)
	}

	hdr, err := fits.ReadPrimaryHeader(wcsPath)
	if err != nil {
		return &Solution{Log: out}, fmt.Errorf("solver wrote no WCS solution: %w", err)
	}
	transform, err := wcs.FromHeader(hdr)
	if err != nil {
		return &Solution{Log: out}, fmt.Errorf("solver WCS unusable: %w", err)
	}

	matches, residual := parseSolveStats(out)
	return &Solution{
		Transform:   transform,
		Matches:     matches,
		ResidualPix: residual,
		Log:         out,
	}, nil
}

func (e *AstrometryEngine) solveArgs(cfgPath, xylsPath, wcsPath string, req SolveRequest) []string {
	widthArcmin := req.FieldWidthDeg * 60
	args := []string{
		e.BinPrefix + SolveTool,
		"--config", cfgPath,
		"--scale-units", "arcminwidth",
		"--scale-low", fits.FormatFloat(widthArcmin / 2),
		"--scale-high", fits.FormatFloat(widthArcmin * 2),
		"--width", strconv.Itoa(req.Catalog.Width),
		"--height", strconv.Itoa(req.Catalog.Height),
		"--x-column", "X",
		"--y-column", "Y",
		"--sort-column", "FLUX",
		"--wcs", wcsPath,
		"--no-plots",
		"--overwrite",
		xylsPath,
	}
	return append(args, e.ExtraArgs...)
}

// writeConfig emits the solver config binding exactly one index.
func (e *AstrometryEngine) writeConfig(path, indexPath string) error {
	content := fmt.Sprintf("add_path %s\ninparallel\nindex %s\n",
		filepath.Dir(indexPath), filepath.Base(indexPath))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write solver config: %w", err)
	}
	return nil
}

func (e *AstrometryEngine) run(ctx context.Context, args []string) (string, error) {
	if e.Log != nil {
		e.Log.Debug("invoking external tool", "argv", args)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

var (
	matchRe = regexp.MustCompile(`(\d+)\s+match`)
	rmsRe   = regexp.MustCompile(`RMS[^0-9]*([0-9]*\.?[0-9]+)`)
)

// parseSolveStats pulls the match count and positional RMS out of the
// solver's log. Missing numbers degrade to a usable default instead of
// failing a solve the tool itself reported as successful.
func parseSolveStats(out string) (matches int, residualPix float64) {
	matches = 1
	residualPix = 1.0
	if m := matchRe.FindStringSubmatch(out); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			matches = n
		}
	}
	if m := rmsRe.FindStringSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 {
			residualPix = v
		}
	}
	return matches, residualPix
}
