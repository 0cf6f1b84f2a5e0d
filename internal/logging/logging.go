package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs the beginning of an alignment job.
func LogJobStart(logger *slog.Logger, jobID, rgbPath string, fitsCount int, outputPath string) {
	logger.Info("job started",
		"id", jobID,
		"rgb", rgbPath,
		"fits_count", fitsCount,
		"output", outputPath,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobID string, duration time.Duration, outputPath, tileDir string) {
	logger.Info("job completed",
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"output", outputPath,
		"tiles", tileDir,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobID string, duration time.Duration, err error) {
	logger.Error("job failed",
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}

// LogStage logs a pipeline stage transition for a job.
func LogStage(logger *slog.Logger, jobID, stage string, details map[string]any) {
	logger.Info("pipeline stage",
		"job_id", jobID,
		"stage", stage,
		"details", details,
	)
}

// LogInputOutcome logs the resolution of a single FITS input within a stage.
func LogInputOutcome(logger *slog.Logger, jobID string, inputIndex int, path, status string, err error) {
	if err != nil {
		logger.Warn("input resolved",
			"job_id", jobID,
			"input", inputIndex,
			"path", path,
			"status", status,
			"error", err.Error(),
		)
		return
	}
	logger.Info("input resolved",
		"job_id", jobID,
		"input", inputIndex,
		"path", path,
		"status", status,
	)
}
