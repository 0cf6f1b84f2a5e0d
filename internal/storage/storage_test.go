package storage

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordJobQueued(JobRecord{
		ID: "job-1", Status: "queued",
		RGBPath: "/in/field.png", OutputPath: "/out/field.png", FITSCount: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobStart("job-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobResult("job-1", "completed", ""); err != nil {
		t.Fatal(err)
	}

	recs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one job, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Status != "completed" || rec.FITSCount != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatal("timestamps not recorded")
	}
}

func TestInputOutcomesOrdered(t *testing.T) {
	s := openTestStore(t)

	if err := s.RecordJobQueued(JobRecord{ID: "job-2", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	// Insert out of order; reads come back in input order.
	for _, idx := range []int{1, 0, 2} {
		err := s.RecordInputOutcome(InputRecord{
			JobID: "job-2", InputIndex: idx, FITSPath: "/in/a.fits", Status: "solved", Matches: 10 + idx,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.JobInputs("job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected three inputs, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.InputIndex != i {
			t.Fatalf("inputs out of order: %+v", recs)
		}
	}
}

func TestSolutionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := SolutionRecord{
		JobID: "job-3", InputIndex: 1,
		RefRA: 83.8, RefDec: -5.4,
		CRPix1: 320, CRPix2: 240,
		CD:      [2][2]float64{{-2.8e-4, 1e-6}, {1e-6, 2.8e-4}},
		Matches: 23, ResidualPix: 0.4,
	}
	if err := s.RecordSolution(want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Solution("job-3")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != want {
		t.Fatalf("solution mismatch: got %+v want %+v", got, want)
	}

	// Unknown jobs report no solution without erroring.
	missing, err := s.Solution("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown job, got %+v", missing)
	}
}
