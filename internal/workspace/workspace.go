// Package workspace manages the scratch directory tree that a single
// alignment job mutates. Every stage that needs durable intermediate
// storage works inside a sub-area of one root, so teardown is a single
// recursive delete and concurrent per-input workers never share a
// directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the scratch root for one job.
type Workspace struct {
	root    string
	adopted bool // caller supplied the directory; never delete it
}

// Acquire creates a scratch root. If override is non-empty the directory
// is created if needed and adopted: Release will leave it in place
// regardless of outcome. Otherwise a fresh temporary directory is made.
func Acquire(override string) (*Workspace, error) {
	if override != "" {
		if err := os.MkdirAll(override, 0o755); err != nil {
			return nil, fmt.Errorf("create workdir %s: %w", override, err)
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return nil, err
		}
		return &Workspace{root: abs, adopted: true}, nil
	}

	root, err := os.MkdirTemp("", "skyalign-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root path.
func (w *Workspace) Root() string { return w.root }

// Adopted reports whether the root was supplied by the caller.
func (w *Workspace) Adopted() bool { return w.adopted }

// InputArea returns the private sub-area for the FITS input at position
// idx in the job's input sequence. Keyed by index, not basename, so two
// inputs that share a filename never collide.
func (w *Workspace) InputArea(idx int) (string, error) {
	return w.subarea(fmt.Sprintf("fits-%03d", idx))
}

// SolveArea returns the private sub-area for the solve attempt against
// input idx.
func (w *Workspace) SolveArea(idx int) (string, error) {
	return w.subarea(fmt.Sprintf("solve-%03d", idx))
}

// SharedArea returns a named sub-area for single-shot stages (source
// extraction, annotation staging).
func (w *Workspace) SharedArea(name string) (string, error) {
	return w.subarea(name)
}

func (w *Workspace) subarea(key string) (string, error) {
	dir := filepath.Join(w.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch sub-area %s: %w", key, err)
	}
	return dir, nil
}

// Release tears the tree down. Adopted roots always survive. Generated
// roots are removed unless keep is set; this includes failed jobs, since
// a caller who wants the evidence passes keep explicitly.
func (w *Workspace) Release(keep bool) error {
	if w.adopted || keep {
		return nil
	}
	return os.RemoveAll(w.root)
}
