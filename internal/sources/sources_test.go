package sources

import (
	"errors"
	"math"
	"testing"
)

// starfield builds a flat background with 3x3 star stamps at the given
// centers (0-based pixel coordinates).
func starfield(width, height int, centers []point, peak float32) []float32 {
	pix := make([]float32, width*height)
	for i := range pix {
		pix[i] = 10 // flat background
	}
	for _, c := range centers {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				x, y := c.x+dx, c.y+dy
				if x < 0 || x >= width || y < 0 || y >= height {
					continue
				}
				v := peak
				if dx != 0 || dy != 0 {
					v = peak / 2
				}
				pix[y*width+x] += v
			}
		}
	}
	return pix
}

func TestExtractFindsStars(t *testing.T) {
	centers := []point{{20, 20}, {50, 30}, {70, 70}, {10, 80}, {40, 60},
		{80, 15}, {30, 90}, {90, 50}, {15, 45}, {60, 10}, {25, 65}, {85, 85}}
	pix := starfield(100, 100, centers, 200)

	cat, err := Extract(pix, 100, 100, Options{SigmaThreshold: 3, MinSources: 10})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(cat.Sources) != len(centers) {
		t.Fatalf("found %d sources, want %d", len(cat.Sources), len(centers))
	}

	// Centroids must land near a stamp center (1-based output coords).
	for _, s := range cat.Sources {
		best := math.Inf(1)
		for _, c := range centers {
			d := math.Hypot(s.X-1-float64(c.x), s.Y-1-float64(c.y))
			if d < best {
				best = d
			}
		}
		if best > 0.5 {
			t.Fatalf("centroid (%f,%f) is %f pixels from any stamp", s.X, s.Y, best)
		}
	}
}

func TestExtractSortsByFluxAndCaps(t *testing.T) {
	centers := []point{{20, 20}, {60, 60}, {80, 20}}
	pix := starfield(100, 100, centers[:1], 400)
	// Weaker companions.
	for _, c := range centers[1:] {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				pix[(c.y+dy)*100+c.x+dx] += 150
			}
		}
	}

	cat, err := Extract(pix, 100, 100, Options{SigmaThreshold: 3, MaxSources: 2, MinSources: 1})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(cat.Sources) != 2 {
		t.Fatalf("cap not applied: %d sources", len(cat.Sources))
	}
	if cat.Sources[0].Flux < cat.Sources[1].Flux {
		t.Fatal("catalog not sorted brightest-first")
	}
	if math.Hypot(cat.Sources[0].X-1-20, cat.Sources[0].Y-1-20) > 0.5 {
		t.Fatalf("brightest source misplaced: %+v", cat.Sources[0])
	}
}

func TestExtractMinSourceFloor(t *testing.T) {
	pix := starfield(64, 64, []point{{30, 30}}, 300)

	_, err := Extract(pix, 64, 64, Options{SigmaThreshold: 3, MinSources: 5})
	var tooFew *ErrTooFewSources
	if !errors.As(err, &tooFew) {
		t.Fatalf("expected ErrTooFewSources, got %v", err)
	}
	if tooFew.Found != 1 || tooFew.Min != 5 {
		t.Fatalf("unexpected counts: %+v", tooFew)
	}
}

func TestExtractRejectsBadBuffer(t *testing.T) {
	if _, err := Extract(make([]float32, 10), 10, 10, DefaultOptions()); err == nil {
		t.Fatal("expected error for short pixel buffer")
	}
}
