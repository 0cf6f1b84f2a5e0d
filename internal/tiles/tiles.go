// Package tiles renders an aligned image into a pyramid of fixed-size
// tiles plus a JSON manifest carrying the sky registration. The
// manifest doubles as an ownership marker: a destination directory is
// only reused when it is empty or holds a manifest we wrote earlier.
package tiles

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"skyalign/internal/fsutil"
	"skyalign/internal/wcs"
)

const ManifestName = "tiles.json"

// manifestKind guards against clobbering unrelated directories.
const manifestKind = "skyalign-tiles"

// Registration locates the tiled image on the sky.
type Registration struct {
	CenterRA       float64 `json:"centerRa"`
	CenterDec      float64 `json:"centerDec"`
	ScaleDegPerPix float64 `json:"scaleDegPerPix"`
	RotationDeg    float64 `json:"rotationDeg"`
}

// TileRef names one emitted tile.
type TileRef struct {
	Level int    `json:"level"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Path  string `json:"path"`
}

// Manifest describes a complete pyramid.
type Manifest struct {
	Kind         string       `json:"kind"`
	TileSize     int          `json:"tileSize"`
	Levels       int          `json:"levels"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Registration Registration `json:"registration"`
	Tiles        []TileRef    `json:"tiles"`
}

// Emitter writes pyramids.
type Emitter struct {
	TileSize int
	Encode   func(path string, img image.Image) error
}

// NewEmitter returns an emitter with the given tile edge length.
func NewEmitter(tileSize int, encode func(string, image.Image) error) *Emitter {
	return &Emitter{TileSize: tileSize, Encode: encode}
}

// RegistrationFrom derives the manifest registration from a transform
// and the image center.
func RegistrationFrom(t *wcs.Transform, width, height int) Registration {
	ra, dec := t.PixelToSky(float64(width)/2, float64(height)/2)
	return Registration{
		CenterRA:       ra,
		CenterDec:      dec,
		ScaleDegPerPix: t.PixelScaleDeg(),
		RotationDeg:    t.RotationDeg(),
	}
}

// CheckDestination reports whether dir may be (re)used as a tile
// output. Allowed when missing, empty, or carrying our manifest.
func CheckDestination(dir string) error {
	empty, err := fsutil.DirIsEmpty(dir)
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return fmt.Errorf("tile directory %s is not empty and holds no prior tile manifest", dir)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil || m.Kind != manifestKind {
		return fmt.Errorf("tile directory %s holds an unrecognized %s", dir, ManifestName)
	}
	return nil
}

// Emit renders img into dir, replacing any earlier pyramid there. The
// previous contents are cleared first so stale tiles from a differently
// sized run never linger.
func (e *Emitter) Emit(dir string, img image.Image, reg Registration) (*Manifest, error) {
	if err := CheckDestination(dir); err != nil {
		return nil, err
	}
	if err := clearPyramid(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	levels := levelCount(width, height, e.TileSize)

	m := &Manifest{
		Kind:         manifestKind,
		TileSize:     e.TileSize,
		Levels:       levels,
		Width:        width,
		Height:       height,
		Registration: reg,
	}

	// Level n-1 is full resolution; each lower level halves.
	current := img
	for level := levels - 1; level >= 0; level-- {
		refs, err := e.emitLevel(dir, level, current)
		if err != nil {
			return nil, err
		}
		m.Tiles = append(m.Tiles, refs...)
		if level > 0 {
			current = halve(current)
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Emitter) emitLevel(dir string, level int, img image.Image) ([]TileRef, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	cols := (width + e.TileSize - 1) / e.TileSize
	rows := (height + e.TileSize - 1) / e.TileSize

	levelDir := filepath.Join(dir, fmt.Sprintf("%d", level))
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		return nil, err
	}

	var refs []TileRef
	for ty := 0; ty < rows; ty++ {
		for tx := 0; tx < cols; tx++ {
			tile := image.NewRGBA(image.Rect(0, 0, e.TileSize, e.TileSize))
			src := image.Rect(
				bounds.Min.X+tx*e.TileSize,
				bounds.Min.Y+ty*e.TileSize,
				min(bounds.Min.X+(tx+1)*e.TileSize, bounds.Max.X),
				min(bounds.Min.Y+(ty+1)*e.TileSize, bounds.Max.Y),
			)
			draw.Copy(tile, image.Point{}, img, src, draw.Src, nil)

			rel := filepath.Join(fmt.Sprintf("%d", level), fmt.Sprintf("%d_%d.png", tx, ty))
			if err := e.Encode(filepath.Join(dir, rel), tile); err != nil {
				return nil, fmt.Errorf("write tile %s: %w", rel, err)
			}
			refs = append(refs, TileRef{Level: level, X: tx, Y: ty, Path: rel})
		}
	}
	return refs, nil
}

// halve scales an image down by two with bilinear filtering.
func halve(img image.Image) image.Image {
	bounds := img.Bounds()
	w := max(bounds.Dx()/2, 1)
	h := max(bounds.Dy()/2, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// levelCount is the number of pyramid levels down to a single tile.
func levelCount(width, height, tileSize int) int {
	longest := max(width, height)
	levels := 1
	for longest > tileSize {
		longest = (longest + 1) / 2
		levels++
	}
	return levels
}

// clearPyramid removes a previous pyramid's contents.
func clearPyramid(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
