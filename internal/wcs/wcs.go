// Package wcs implements the gnomonic (TAN) pixel-to-sky transform used
// by astrometric solutions. Only the keywords the external solver
// actually emits are understood.
package wcs

import (
	"fmt"
	"math"

	"skyalign/internal/fits"
)

// Transform maps image pixel coordinates to ICRS sky coordinates under a
// TAN projection.
type Transform struct {
	// Reference pixel, 1-based per FITS convention.
	CRPix1, CRPix2 float64
	// Sky position of the reference pixel, degrees.
	CRVal1, CRVal2 float64
	// CD matrix, degrees per pixel.
	CD [2][2]float64
}

// FromHeader builds a Transform from WCS keywords. It accepts either a
// CD matrix or the older CDELT/CROTA2 form.
func FromHeader(h *fits.Header) (*Transform, error) {
	if !h.Has("CRVAL1") || !h.Has("CRVAL2") {
		return nil, fmt.Errorf("header carries no WCS reference value")
	}

	t := &Transform{
		CRPix1: h.Float("CRPIX1", 0),
		CRPix2: h.Float("CRPIX2", 0),
		CRVal1: h.Float("CRVAL1", 0),
		CRVal2: h.Float("CRVAL2", 0),
	}

	if h.Has("CD1_1") {
		t.CD[0][0] = h.Float("CD1_1", 0)
		t.CD[0][1] = h.Float("CD1_2", 0)
		t.CD[1][0] = h.Float("CD2_1", 0)
		t.CD[1][1] = h.Float("CD2_2", 0)
	} else if h.Has("CDELT1") {
		cdelt1 := h.Float("CDELT1", 0)
		cdelt2 := h.Float("CDELT2", 0)
		rot := h.Float("CROTA2", 0) * math.Pi / 180
		t.CD[0][0] = cdelt1 * math.Cos(rot)
		t.CD[0][1] = -cdelt2 * math.Sin(rot)
		t.CD[1][0] = cdelt1 * math.Sin(rot)
		t.CD[1][1] = cdelt2 * math.Cos(rot)
	} else {
		return nil, fmt.Errorf("header carries no CD matrix or CDELT scale")
	}

	if t.CD[0][0]*t.CD[1][1]-t.CD[0][1]*t.CD[1][0] == 0 {
		return nil, fmt.Errorf("degenerate CD matrix")
	}
	return t, nil
}

// PixelToSky maps a 1-based pixel position to (ra, dec) in degrees.
func (t *Transform) PixelToSky(x, y float64) (ra, dec float64) {
	dx := x - t.CRPix1
	dy := y - t.CRPix2

	// Intermediate world coordinates, radians.
	xi := (t.CD[0][0]*dx + t.CD[0][1]*dy) * math.Pi / 180
	eta := (t.CD[1][0]*dx + t.CD[1][1]*dy) * math.Pi / 180

	ra0 := t.CRVal1 * math.Pi / 180
	dec0 := t.CRVal2 * math.Pi / 180

	den := math.Cos(dec0) - eta*math.Sin(dec0)
	raRad := ra0 + math.Atan2(xi, den)
	decRad := math.Atan2(eta*math.Cos(dec0)+math.Sin(dec0), math.Hypot(xi, den))

	ra = raRad * 180 / math.Pi
	for ra < 0 {
		ra += 360
	}
	for ra >= 360 {
		ra -= 360
	}
	return ra, decRad * 180 / math.Pi
}

// PixelScaleDeg returns the mean linear scale in degrees per pixel.
func (t *Transform) PixelScaleDeg() float64 {
	det := t.CD[0][0]*t.CD[1][1] - t.CD[0][1]*t.CD[1][0]
	return math.Sqrt(math.Abs(det))
}

// RotationDeg returns the position angle of north in the image,
// degrees east of up.
func (t *Transform) RotationDeg() float64 {
	return math.Atan2(-t.CD[0][1], t.CD[1][1]) * 180 / math.Pi
}

// Separation returns the angular distance in degrees between two sky
// positions given in degrees.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	const d2r = math.Pi / 180
	sdd := math.Sin((dec2 - dec1) * d2r / 2)
	sdr := math.Sin((ra2 - ra1) * d2r / 2)
	a := sdd*sdd + math.Cos(dec1*d2r)*math.Cos(dec2*d2r)*sdr*sdr
	return 2 * math.Asin(math.Min(1, math.Sqrt(a))) / d2r
}

// FieldWidthDeg returns the angular width of a w×h image spanned by the
// transform, measured along the image's horizontal midline.
func (t *Transform) FieldWidthDeg(w, h int) float64 {
	midY := float64(h) / 2
	ra1, dec1 := t.PixelToSky(1, midY)
	ra2, dec2 := t.PixelToSky(float64(w), midY)
	return Separation(ra1, dec1, ra2, dec2)
}

// DiagonalDeg returns the angular size of the image diagonal.
func (t *Transform) DiagonalDeg(w, h int) float64 {
	ra1, dec1 := t.PixelToSky(1, 1)
	ra2, dec2 := t.PixelToSky(float64(w), float64(h))
	return Separation(ra1, dec1, ra2, dec2)
}
