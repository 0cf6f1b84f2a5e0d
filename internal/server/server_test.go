package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"skyalign/internal/logging"
	"skyalign/internal/storage"
)

func testRouter(t *testing.T) (*mux.Router, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	s := New(":0", store, nil, logging.New("error", "text"))
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}/inputs", s.handleJobInputs).Methods("GET")
	r.HandleFunc("/jobs/{id}/solution", s.handleJobSolution).Methods("GET")
	return r, store
}

func TestHealthz(t *testing.T) {
	r, _ := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestJobsListing(t *testing.T) {
	r, store := testRouter(t)
	err := store.RecordJobQueued(storage.JobRecord{
		ID: "job-1", Status: "queued", RGBPath: "/in/f.png", OutputPath: "/out/f.png", FITSCount: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}

	var jobs []storage.JobRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" || jobs[0].FITSCount != 3 {
		t.Fatalf("unexpected listing: %+v", jobs)
	}
}

func TestJobInputsEndpoint(t *testing.T) {
	r, store := testRouter(t)
	if err := store.RecordJobQueued(storage.JobRecord{ID: "job-2", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	err := store.RecordInputOutcome(storage.InputRecord{
		JobID: "job-2", InputIndex: 0, FITSPath: "/in/a.fits", Status: "solved", Matches: 12,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/job-2/inputs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}

	var inputs []storage.InputRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &inputs); err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 1 || inputs[0].Matches != 12 {
		t.Fatalf("unexpected inputs: %+v", inputs)
	}
}

func TestSolutionNotFound(t *testing.T) {
	r, _ := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/nope/solution", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}
