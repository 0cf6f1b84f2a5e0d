// Package imagio reads raster images into luminance buffers and
// converts between raster formats. Callers depend only on the
// interfaces; the magick subpackage handles arbitrary input formats,
// the Std types cover PNG and JPEG without cgo.
package imagio

import "context"

// Raster is a single-channel float image.
type Raster struct {
	Width  int
	Height int
	// Pixels holds luminance row by row, values in [0,1].
	Pixels []float32
}

// Reader loads a raster file as luminance.
type Reader interface {
	ReadLuminance(path string) (*Raster, error)
}

// Converter rewrites a raster file into the format implied by the
// destination extension.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}
