// Package magick backs the imagio interfaces with ImageMagick. It is
// the only package linking MagickWand, so importers that stick to the
// stdlib codecs never need the cgo toolchain.
package magick

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"skyalign/internal/imagio"
)

var magickInit sync.Once

func ensureMagick() {
	// Initialize is process-wide; Terminate is deliberately skipped so
	// concurrent jobs never race a teardown.
	magickInit.Do(imagick.Initialize)
}

// Reader reads any format ImageMagick understands.
type Reader struct{}

func (Reader) ReadLuminance(path string) (*imagio.Raster, error) {
	ensureMagick()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	width := int(mw.GetImageWidth())
	height := int(mw.GetImageHeight())
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("read %s: empty image", path)
	}

	raw, err := mw.ExportImagePixels(0, 0, uint(width), uint(height), "I", imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, fmt.Errorf("export pixels from %s: %w", path, err)
	}

	pixels := make([]float32, width*height)
	switch data := raw.(type) {
	case []float32:
		copy(pixels, data)
	case []float64:
		for i, v := range data {
			pixels[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("export pixels from %s: unexpected buffer type %T", path, raw)
	}

	return &imagio.Raster{Width: width, Height: height, Pixels: pixels}, nil
}

// Converter converts between any formats ImageMagick supports.
type Converter struct{}

func (Converter) Convert(ctx context.Context, src, dst string) error {
	ensureMagick()

	if err := ctx.Err(); err != nil {
		return err
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(src); err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	format := strings.ToUpper(strings.TrimPrefix(filepath.Ext(dst), "."))
	if format == "JPG" {
		format = "JPEG"
	}
	if err := mw.SetImageFormat(format); err != nil {
		return fmt.Errorf("set format %s: %w", format, err)
	}
	if err := mw.WriteImage(dst); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
