package pipeline

import (
	"fmt"
	"strings"
)

// Stage enumerates the phases an alignment job moves through.
type Stage string

const (
	StageValidating    Stage = "validating"
	StageIngesting     Stage = "ingesting"
	StageIndexBuilding Stage = "index-building"
	StageExtracting    Stage = "extracting"
	StageSolving       Stage = "solving"
	StageAnnotating    Stage = "annotating"
	StageTiling        Stage = "tiling"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// InputStatus tracks one FITS input through the pipeline.
type InputStatus string

const (
	InputPending        InputStatus = "pending"
	InputSkippedNoImage InputStatus = "skipped-no-image"
	InputIndexFailed    InputStatus = "index-failed"
	InputIndexBuilt     InputStatus = "index-built"
	InputSolveFailed    InputStatus = "solve-failed"
	InputSolved         InputStatus = "solved"
	InputSelected       InputStatus = "selected"
)

// Job is one alignment request: register an RGB image against the sky
// described by one or more FITS references.
type Job struct {
	ID         string
	RGBPath    string
	FITSPaths  []string
	OutputPath string
	// TilePath names the tile pyramid destination; empty disables
	// tiling.
	TilePath string
}

// InputOutcome is the terminal state of one FITS input.
type InputOutcome struct {
	Index       int
	Path        string
	Status      InputStatus
	Matches     int
	ResidualPix float64
	Err         error
}

// Outcome summarizes a finished job.
type Outcome struct {
	Job           Job
	Stage         Stage
	Inputs        []InputOutcome
	SelectedInput int
	Matches       int
	ResidualPix   float64
	Err           error
}

// StageError marks a failure that aborts the whole job at a stage, as
// opposed to a recoverable per-input failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NoSolutionError reports that every FITS input failed to produce a
// usable solution, with the per-input reasons.
type NoSolutionError struct {
	Inputs []InputOutcome
}

func (e *NoSolutionError) Error() string {
	var b strings.Builder
	b.WriteString("no input produced a usable solution")
	for _, in := range e.Inputs {
		if in.Err != nil {
			fmt.Fprintf(&b, "; input %d (%s): %v", in.Index, in.Path, in.Err)
		} else {
			fmt.Fprintf(&b, "; input %d (%s): %s", in.Index, in.Path, in.Status)
		}
	}
	return b.String()
}
