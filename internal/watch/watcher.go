// Package watch monitors directories and queues an alignment job when
// an RGB image arrives alongside its FITS references.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"skyalign/internal/fsutil"
	"skyalign/internal/pipeline"
)

// settleDelay lets a newly created file finish writing before pairing.
const settleDelay = 2 * time.Second

// Watcher queues alignment jobs for RGB images dropped into watched
// directories.
type Watcher struct {
	watcher  *fsnotify.Watcher
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	dirs     []string
	// OutputDir receives aligned outputs; empty writes next to inputs.
	OutputDir string
	done      chan struct{}
}

// New creates a watcher over the given directories.
func New(dirs []string, pipe *pipeline.Pipeline, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		pipeline: pipe,
		log:      log,
		dirs:     dirs,
		done:     make(chan struct{}),
	}, nil
}

// Start begins monitoring.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop stops monitoring.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch {
			case fsutil.IsRasterFile(event.Name) && !isAlignedOutput(event.Name):
				go w.queueAfterSettle(event.Name)
			case fsutil.IsFITSFile(event.Name):
				// A late-arriving reference re-pairs its image.
				if rgb := PairImage(event.Name); rgb != "" {
					go w.queueAfterSettle(rgb)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) queueAfterSettle(rgbPath string) {
	select {
	case <-time.After(settleDelay):
	case <-w.done:
		return
	}

	refs, err := PairReferences(rgbPath)
	if err != nil {
		w.log.Warn("pairing failed", "rgb", rgbPath, "error", err)
		return
	}
	if len(refs) == 0 {
		w.log.Info("no FITS references for image yet", "rgb", rgbPath)
		return
	}

	job := pipeline.Job{
		ID:         jobID(rgbPath),
		RGBPath:    rgbPath,
		FITSPaths:  refs,
		OutputPath: w.outputPath(rgbPath),
	}
	if err := w.pipeline.Submit(job); err != nil {
		w.log.Warn("job not queued", "rgb", rgbPath, "error", err)
		return
	}
	w.log.Info("queued alignment job", "id", job.ID, "rgb", rgbPath, "fits", len(refs))
}

// PairReferences finds the FITS files belonging to an RGB image: files
// in the same directory whose name starts with the image's stem.
func PairReferences(rgbPath string) ([]string, error) {
	dir := filepath.Dir(rgbPath)
	stem := strings.TrimSuffix(filepath.Base(rgbPath), filepath.Ext(rgbPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var refs []string
	for _, e := range entries {
		if e.IsDir() || !fsutil.IsFITSFile(e.Name()) {
			continue
		}
		refStem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if refStem == stem || strings.HasPrefix(refStem, stem+"-") || strings.HasPrefix(refStem, stem+"_") {
			refs = append(refs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// PairImage is the reverse lookup: the RGB image a FITS reference
// belongs to, or empty when none is present yet.
func PairImage(fitsPath string) string {
	dir := filepath.Dir(fitsPath)
	stem := strings.TrimSuffix(filepath.Base(fitsPath), filepath.Ext(fitsPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || !fsutil.IsRasterFile(e.Name()) || isAlignedOutput(e.Name()) {
			continue
		}
		imgStem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if stem == imgStem || strings.HasPrefix(stem, imgStem+"-") || strings.HasPrefix(stem, imgStem+"_") {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

func (w *Watcher) outputPath(rgbPath string) string {
	base := strings.TrimSuffix(filepath.Base(rgbPath), filepath.Ext(rgbPath)) + "-aligned" + filepath.Ext(rgbPath)
	if w.OutputDir != "" {
		return filepath.Join(w.OutputDir, base)
	}
	return filepath.Join(filepath.Dir(rgbPath), base)
}

// isAlignedOutput keeps the watcher from re-queueing its own outputs.
func isAlignedOutput(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(stem, "-aligned")
}

func jobID(rgbPath string) string {
	return fmt.Sprintf("watch-%s-%d",
		strings.TrimSuffix(filepath.Base(rgbPath), filepath.Ext(rgbPath)),
		time.Now().UnixNano())
}
