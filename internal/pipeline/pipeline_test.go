package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skyalign/internal/solver"
)

func TestPipelineRunsSubmittedJobs(t *testing.T) {
	dir := t.TempDir()
	rgb := filepath.Join(dir, "field.png")
	out := filepath.Join(dir, "out.png")
	fitsPath := filepath.Join(dir, "a.fits")
	writeRGB(t, rgb)
	writeFITS(t, fitsPath)

	engine := &stubEngine{solutions: map[int]*solver.Solution{0: stubSolution(20, 0.5)}}
	coord := testCoordinator(engine)

	pipe := New(context.Background(), 2, coord, coord.Log, nil)
	defer pipe.Stop()

	resCh, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	job := Job{ID: "p1", RGBPath: rgb, FITSPaths: []string{fitsPath}, OutputPath: out}
	if err := pipe.Submit(job); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-resCh:
		if res.Job.ID != "p1" {
			t.Fatalf("unexpected job: %+v", res.Job)
		}
		if res.Error != nil {
			t.Fatalf("job failed: %v", res.Error)
		}
		if res.Outcome == nil || res.Outcome.Stage != StageDone {
			t.Fatalf("outcome: %+v", res.Outcome)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
}

func TestPipelineBroadcastsFailures(t *testing.T) {
	dir := t.TempDir()
	rgb := filepath.Join(dir, "field.png")
	fitsPath := filepath.Join(dir, "a.fits")
	writeRGB(t, rgb)
	writeFITS(t, fitsPath)

	coord := testCoordinator(&stubEngine{}) // no solutions configured
	pipe := New(context.Background(), 1, coord, coord.Log, nil)
	defer pipe.Stop()

	resCh, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	job := Job{ID: "p2", RGBPath: rgb, FITSPaths: []string{fitsPath}, OutputPath: filepath.Join(dir, "out.png")}
	if err := pipe.Submit(job); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-resCh:
		if res.Error == nil {
			t.Fatal("expected a failed result")
		}
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for job result")
	}
}
