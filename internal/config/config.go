package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

const defaultConfigPath = "~/.config/skyalign/config.json"

// Config holds user-editable settings for the aligner.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Solver     Solver     `json:"solver"`
	Extraction Extraction `json:"extraction"`
	Tiling     Tiling     `json:"tiling"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"` // 0 means number of CPUs
	WorkDir      string `json:"work_dir"`      // scratch root override, empty for auto
	KeepWorkDir  bool   `json:"keep_work_dir"`
}

// Logging controls verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Paths configures default locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
}

// Solver configures the external astrometry tool invocations.
type Solver struct {
	BinPrefix string   `json:"bin_prefix"` // prefix applied to solver binary names
	ExtraArgs []string `json:"extra_args"`
}

// Extraction configures the point-source detector.
type Extraction struct {
	SigmaThreshold float64 `json:"sigma_threshold"` // detection threshold in stddevs above mean
	MaxSources     int     `json:"max_sources"`
	MinSources     int     `json:"min_sources"` // below this the RGB extraction is fatal
}

// Tiling configures pyramid emission.
type Tiling struct {
	TileSize int `json:"tile_size"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("SKYALIGN_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: runtime.NumCPU(),
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "skyalign.db"),
		},
		Solver: Solver{},
		Extraction: Extraction{
			SigmaThreshold: 3.0,
			MaxSources:     500,
			MinSources:     10,
		},
		Tiling: Tiling{
			TileSize: 256,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
