// Package sources finds star-like point sources in a luminance plane.
// Detection is a statistical threshold over the background followed by
// connected-component blob tracing with flux-weighted centroids.
package sources

import (
	"fmt"
	"math"
	"sort"
)

// Source is one detected point source in pixel coordinates (1-based,
// FITS convention).
type Source struct {
	X    float64
	Y    float64
	Flux float64
}

// Catalog is the immutable result of one extraction run.
type Catalog struct {
	Width   int
	Height  int
	Sources []Source
}

// Options tunes the detector.
type Options struct {
	// SigmaThreshold is how many standard deviations above the mean a
	// pixel must be to count as source material.
	SigmaThreshold float64
	// MaxSources caps the catalog at the brightest N entries. Zero
	// means no cap.
	MaxSources int
	// MinSources below which Extract fails.
	MinSources int
}

// DefaultOptions mirror the config defaults.
func DefaultOptions() Options {
	return Options{SigmaThreshold: 3.0, MaxSources: 500, MinSources: 10}
}

// ErrTooFewSources reports an extraction that found fewer sources than
// the caller's floor.
type ErrTooFewSources struct {
	Found int
	Min   int
}

func (e *ErrTooFewSources) Error() string {
	return fmt.Sprintf("found %d point sources, need at least %d", e.Found, e.Min)
}

// Blobs smaller or larger than these pixel counts are noise or extended
// structure, not point sources.
const (
	minBlobPixels = 2
	maxBlobPixels = 1000
)

// Extract detects point sources in a row-major luminance plane.
func Extract(pixels []float32, width, height int, opts Options) (*Catalog, error) {
	if len(pixels) != width*height {
		return nil, fmt.Errorf("pixel buffer is %d samples, want %dx%d", len(pixels), width, height)
	}
	if opts.SigmaThreshold <= 0 {
		opts.SigmaThreshold = 3.0
	}

	mean, stddev := stats(pixels)
	threshold := mean + opts.SigmaThreshold*stddev

	visited := make([]bool, len(pixels))
	var found []Source

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if visited[idx] || float64(pixels[idx]) < threshold {
				continue
			}

			blob := traceBlob(pixels, visited, x, y, width, height, threshold)
			if len(blob) < minBlobPixels || len(blob) > maxBlobPixels {
				continue
			}

			// Flux-weighted centroid over the background-subtracted
			// blob.
			var sumX, sumY, sumFlux float64
			for _, p := range blob {
				w := float64(pixels[p.y*width+p.x]) - mean
				if w <= 0 {
					continue
				}
				sumX += float64(p.x) * w
				sumY += float64(p.y) * w
				sumFlux += w
			}
			if sumFlux <= 0 {
				continue
			}
			found = append(found, Source{
				X:    sumX/sumFlux + 1, // FITS pixels are 1-based
				Y:    sumY/sumFlux + 1,
				Flux: sumFlux,
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Flux > found[j].Flux })
	if opts.MaxSources > 0 && len(found) > opts.MaxSources {
		found = found[:opts.MaxSources]
	}
	if len(found) < opts.MinSources {
		return nil, &ErrTooFewSources{Found: len(found), Min: opts.MinSources}
	}

	return &Catalog{Width: width, Height: height, Sources: found}, nil
}

func stats(pixels []float32) (mean, stddev float64) {
	var sum float64
	for _, p := range pixels {
		sum += float64(p)
	}
	mean = sum / float64(len(pixels))

	var variance float64
	for _, p := range pixels {
		d := float64(p) - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(pixels)))
}

type point struct{ x, y int }

// traceBlob collects the connected set of above-threshold pixels
// reachable from (x, y), marking them visited.
func traceBlob(pixels []float32, visited []bool, startX, startY, width, height int, threshold float64) []point {
	var result []point
	stack := []point{{startX, startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.x < 0 || p.x >= width || p.y < 0 || p.y >= height {
			continue
		}
		idx := p.y*width + p.x
		if visited[idx] || float64(pixels[idx]) < threshold {
			continue
		}

		visited[idx] = true
		result = append(result, p)
		stack = append(stack,
			point{p.x + 1, p.y},
			point{p.x - 1, p.y},
			point{p.x, p.y + 1},
			point{p.x, p.y - 1},
		)
	}
	return result
}
