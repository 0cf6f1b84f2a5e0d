package tiles

import (
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"skyalign/internal/wcs"
)

func pngEncode(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func testRegistration() Registration {
	t := &wcs.Transform{
		CRPix1: 50, CRPix2: 50,
		CRVal1: 10, CRVal2: 20,
		CD: [2][2]float64{{-1e-3, 0}, {0, 1e-3}},
	}
	return RegistrationFrom(t, 100, 100)
}

func TestEmitBuildsPyramid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tiles")
	e := NewEmitter(64, pngEncode)
	img := image.NewRGBA(image.Rect(0, 0, 200, 120))

	m, err := e.Emit(dir, img, testRegistration())
	if err != nil {
		t.Fatal(err)
	}

	// 200x120 at 64 px tiles: 200 -> 100 -> 50, three levels.
	if m.Levels != 3 {
		t.Fatalf("levels: got %d want 3", m.Levels)
	}
	// Full-resolution level has ceil(200/64) x ceil(120/64) = 4x2 tiles.
	var full int
	for _, ref := range m.Tiles {
		if ref.Level == m.Levels-1 {
			full++
		}
		if _, err := os.Stat(filepath.Join(dir, ref.Path)); err != nil {
			t.Fatalf("manifest names missing tile %s: %v", ref.Path, err)
		}
	}
	if full != 8 {
		t.Fatalf("full-resolution tiles: got %d want 8", full)
	}

	// Manifest on disk round-trips with the registration intact.
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	var got Manifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != "skyalign-tiles" || got.Registration != m.Registration {
		t.Fatalf("manifest mismatch: %+v", got)
	}
	if got.Registration.ScaleDegPerPix == 0 {
		t.Fatal("registration lost its pixel scale")
	}
}

func TestEmitReplacesPriorPyramid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tiles")
	e := NewEmitter(64, pngEncode)

	if _, err := e.Emit(dir, image.NewRGBA(image.Rect(0, 0, 200, 200)), testRegistration()); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "2", "3_3.png")
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("expected tile from first run: %v", err)
	}

	// Second run over a smaller image keeps no stale tiles around.
	m, err := e.Emit(dir, image.NewRGBA(image.Rect(0, 0, 60, 60)), testRegistration())
	if err != nil {
		t.Fatal(err)
	}
	if m.Levels != 1 {
		t.Fatalf("levels after rerun: got %d want 1", m.Levels)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale tile from the larger run survived the rerun")
	}
}

func TestEmitRefusesForeignDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEmitter(64, pngEncode)
	_, err := e.Emit(dir, image.NewRGBA(image.Rect(0, 0, 32, 32)), testRegistration())
	if err == nil {
		t.Fatal("expected refusal for a non-empty unmanaged directory")
	}
	// And the foreign content is untouched.
	if _, statErr := os.Stat(filepath.Join(dir, "notes.txt")); statErr != nil {
		t.Fatalf("foreign file disturbed: %v", statErr)
	}
}

func TestCheckDestinationAllowsEmptyAndMissing(t *testing.T) {
	base := t.TempDir()
	if err := CheckDestination(filepath.Join(base, "missing")); err != nil {
		t.Fatalf("missing dir should be allowed: %v", err)
	}
	empty := filepath.Join(base, "empty")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := CheckDestination(empty); err != nil {
		t.Fatalf("empty dir should be allowed: %v", err)
	}
}
