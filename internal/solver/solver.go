// Package solver owns the boundary to the external astrometric engine
// and the selection rule across its candidate solutions. The engine is
// an interface so pipeline logic never cares whether solving happens in
// a subprocess, a library, or a test stub.
package solver

import (
	"context"
	"math"

	"skyalign/internal/sources"
	"skyalign/internal/wcs"
)

// SkyObject is one catalog source with a sky position, used to build a
// per-input astrometric index.
type SkyObject struct {
	RA   float64
	Dec  float64
	Flux float64
}

// IndexRequest asks the engine to build an index from one FITS input's
// detected objects.
type IndexRequest struct {
	Objects []SkyObject
	// SizeDeg is the angular size of the source image, used to pick the
	// index scale preset.
	SizeDeg float64
	// ScratchDir is the input's private sub-area; all files created by
	// the invocation stay inside it.
	ScratchDir string
}

// IndexResult locates the built index artifacts.
type IndexResult struct {
	IndexPath string
	// Log holds the captured diagnostic output of the invocation.
	Log string
}

// SolveRequest asks the engine to match the RGB source catalog against
// one built index.
type SolveRequest struct {
	IndexPath string
	Catalog   *sources.Catalog
	// FieldWidthDeg is the estimated angular width of the RGB field,
	// used to bound the solver's scale search.
	FieldWidthDeg float64
	ScratchDir    string
}

// Solution is a successful solve: the pixel-to-sky transform plus the
// quality numbers selection runs on.
type Solution struct {
	Transform   *wcs.Transform
	Matches     int
	ResidualPix float64
	Log         string
}

// Engine is the external astrometric capability.
type Engine interface {
	BuildIndex(ctx context.Context, req IndexRequest) (*IndexResult, error)
	Solve(ctx context.Context, req SolveRequest) (*Solution, error)
}

// Candidate is one solve outcome for one FITS input.
type Candidate struct {
	InputIndex  int
	InputPath   string
	Transform   *wcs.Transform
	Matches     int
	ResidualPix float64
	Err         error
	Diagnostics string
}

// Succeeded reports whether the candidate carries a usable solution.
func (c *Candidate) Succeeded() bool {
	return c.Err == nil && c.Transform != nil
}

// Score is the scalar quality ordering: more matched sources are better,
// larger positional residuals are worse. Deterministic for a fixed
// candidate set.
func (c *Candidate) Score() float64 {
	if !c.Succeeded() {
		return math.Inf(-1)
	}
	return float64(c.Matches) / (1 + c.ResidualPix)
}

// Select applies the selection rule: discard failures, take the highest
// score, break exact ties by the earliest input index. Returns nil when
// no candidate succeeded.
func Select(cands []*Candidate) *Candidate {
	var best *Candidate
	for _, c := range cands {
		if !c.Succeeded() {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		s, bs := c.Score(), best.Score()
		if s > bs || (s == bs && c.InputIndex < best.InputIndex) {
			best = c
		}
	}
	return best
}
