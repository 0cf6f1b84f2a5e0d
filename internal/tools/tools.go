// Package tools probes the external astrometry.net binaries the
// solver boundary depends on.
package tools

import (
	"os/exec"
	"strings"

	"skyalign/internal/solver"
)

// Status reports the availability of one external tool.
type Status struct {
	Name      string
	Available bool
	Version   string
	Path      string
	Error     error
}

// Required lists the binaries an alignment run needs.
func Required() []string {
	return []string{solver.SolveTool, solver.BuildIndexTool}
}

// Check probes one tool, honoring an optional bin prefix.
func Check(name, binPrefix string) Status {
	binary := binPrefix + name
	st := Status{Name: name}

	path, err := exec.LookPath(binary)
	if err != nil {
		st.Error = err
		return st
	}
	st.Path = path
	st.Available = true

	// solve-field and build-astrometry-index both answer --help even
	// when no index files are installed.
	out, err := exec.Command(binary, "--help").CombinedOutput()
	if err == nil || len(out) > 0 {
		st.Version = extractVersion(string(out))
	}
	return st
}

// CheckAll probes every required tool.
func CheckAll(binPrefix string) []Status {
	var all []Status
	for _, name := range Required() {
		all = append(all, Check(name, binPrefix))
	}
	return all
}

// Ready reports whether every required tool is runnable.
func Ready(binPrefix string) bool {
	for _, st := range CheckAll(binPrefix) {
		if !st.Available {
			return false
		}
	}
	return true
}

// extractVersion pulls a version-looking token out of help output.
func extractVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "revision") || strings.Contains(lower, "version") {
			return strings.TrimSpace(line)
		}
	}
	if first := strings.SplitN(output, "\n", 2)[0]; len(first) < 120 {
		return strings.TrimSpace(first)
	}
	return ""
}
