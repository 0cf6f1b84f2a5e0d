package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("SKYALIGN_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Extraction.SigmaThreshold != 3.0 {
		t.Fatalf("expected default sigma threshold, got %v", cfg.Extraction.SigmaThreshold)
	}
	if cfg.Tiling.TileSize != 256 {
		t.Fatalf("expected default tile size, got %d", cfg.Tiling.TileSize)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	payload := `{"solver":{"bin_prefix":"/opt/astrometry/bin/"},"extraction":{"sigma_threshold":5,"max_sources":200,"min_sources":4}}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SKYALIGN_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Solver.BinPrefix != "/opt/astrometry/bin/" {
		t.Fatalf("bin prefix not loaded: %q", cfg.Solver.BinPrefix)
	}
	if cfg.Extraction.MinSources != 4 {
		t.Fatalf("min sources not loaded: %d", cfg.Extraction.MinSources)
	}
}
