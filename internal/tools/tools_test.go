package tools

import (
	"strings"
	"testing"
)

func TestCheckMissingTool(t *testing.T) {
	st := Check("definitely-not-a-real-binary", "/nonexistent/prefix/")
	if st.Available {
		t.Fatalf("expected unavailable, got %+v", st)
	}
	if st.Error == nil {
		t.Fatal("missing tool must carry its lookup error")
	}
}

func TestRequiredNamesSolverTools(t *testing.T) {
	req := Required()
	if len(req) != 2 {
		t.Fatalf("required tools: %v", req)
	}
	joined := strings.Join(req, " ")
	if !strings.Contains(joined, "solve-field") || !strings.Contains(joined, "build-astrometry-index") {
		t.Fatalf("required tools: %v", req)
	}
}

func TestExtractVersion(t *testing.T) {
	out := "This is solve-field.\nRevision 0.94, date unknown.\nUsage: ...\n"
	v := extractVersion(out)
	if !strings.Contains(v, "0.94") {
		t.Fatalf("version: %q", v)
	}
	if v := extractVersion(""); v != "" {
		t.Fatalf("empty output version: %q", v)
	}
}
