// Package fits reads just enough of the FITS container format to drive
// the alignment pipeline: header cards, locating the first image-bearing
// HDU, and pulling its pixel plane out as float32 samples. It also writes
// the small binary tables the external solver consumes. It is not a
// general FITS library.
package fits

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// Card is one 80-byte header record.
type Card struct {
	Name  string
	Value string
}

// Header is an ordered set of cards for one HDU.
type Header struct {
	cards []Card
	index map[string]string
}

// Has reports whether the header carries the named keyword.
func (h *Header) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Str returns the string value of a keyword, unquoted and trimmed.
func (h *Header) Str(name string) string {
	return h.index[name]
}

// Float returns the numeric value of a keyword, or def if absent/bad.
func (h *Header) Float(name string, def float64) float64 {
	v, ok := h.index[name]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// Int returns the integer value of a keyword, or def if absent/bad.
func (h *Header) Int(name string, def int) int {
	v, ok := h.index[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (h *Header) add(name, value string) {
	h.cards = append(h.cards, Card{Name: name, Value: value})
	if h.index == nil {
		h.index = make(map[string]string)
	}
	if _, dup := h.index[name]; !dup {
		h.index[name] = value
	}
}

// readHeader consumes whole 2880-byte blocks until the END card.
func readHeader(r io.Reader) (*Header, error) {
	h := &Header{}
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("read header block: %w", err)
		}
		for i := 0; i < blockSize; i += cardSize {
			card := string(block[i : i+cardSize])
			name := strings.TrimRight(card[:8], " ")
			if name == "END" {
				return h, nil
			}
			if name == "" || name == "COMMENT" || name == "HISTORY" {
				continue
			}
			if len(card) < 10 || card[8:10] != "= " {
				continue
			}
			h.add(name, parseValue(card[10:]))
		}
	}
}

func parseValue(rest string) string {
	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, "'") {
		// Quoted string; '' escapes a quote.
		var b strings.Builder
		for i := 1; i < len(rest); i++ {
			if rest[i] == '\'' {
				if i+1 < len(rest) && rest[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				break
			}
			b.WriteByte(rest[i])
		}
		return strings.TrimRight(b.String(), " ")
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// dataSize returns the byte length of an HDU's data unit, before padding.
func dataSize(h *Header) int64 {
	bitpix := h.Int("BITPIX", 0)
	naxis := h.Int("NAXIS", 0)
	if naxis == 0 {
		return 0
	}
	n := int64(1)
	for i := 1; i <= naxis; i++ {
		n *= int64(h.Int(fmt.Sprintf("NAXIS%d", i), 0))
	}
	n += int64(h.Int("PCOUNT", 0))
	bytesPer := int64(abs(bitpix) / 8)
	return n * bytesPer
}

func padTo(n int64) int64 {
	if rem := n % blockSize; rem != 0 {
		return n + blockSize - rem
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Image is one extracted 2-D pixel plane.
type Image struct {
	Width  int
	Height int
	// Pixels holds the plane in FITS order (row-major, first row at the
	// bottom of the sky image), scaled by BZERO/BSCALE.
	Pixels []float32
	Header *Header
}

// ErrNoImage reports a well-formed FITS file with no usable 2-D pixel
// plane. Callers treat this as a skip, not a failure.
type ErrNoImage struct {
	Path string
}

func (e *ErrNoImage) Error() string {
	return fmt.Sprintf("%s: no image-bearing HDU with usable dimensions", e.Path)
}

const minImageDim = 16

// ReadImage opens a FITS file and extracts the first image-bearing HDU
// that passes a minimum-size check. Files that are not FITS at all return
// a plain error; well-formed files without a usable plane return
// *ErrNoImage.
func ReadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	first := true
	for {
		h, err := readHeader(f)
		if err != nil {
			if !first && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil, &ErrNoImage{Path: path}
			}
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if first {
			if h.Str("SIMPLE") != "T" {
				return nil, fmt.Errorf("%s: not a FITS file (missing SIMPLE)", path)
			}
			first = false
		}

		isImage := !h.Has("XTENSION") || strings.TrimSpace(h.Str("XTENSION")) == "IMAGE"
		naxis := h.Int("NAXIS", 0)
		w := h.Int("NAXIS1", 0)
		ht := h.Int("NAXIS2", 0)
		if isImage && naxis >= 2 && w >= minImageDim && ht >= minImageDim {
			img, err := readPlane(f, h, w, ht)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return img, nil
		}

		// Skip this HDU's data unit and continue to the next one.
		skip := padTo(dataSize(h))
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("%s: seek past HDU: %w", path, err)
		}
	}
}

// readPlane reads the first WxH plane of the current HDU's data unit.
func readPlane(r io.Reader, h *Header, w, ht int) (*Image, error) {
	bitpix := h.Int("BITPIX", 0)
	bzero := h.Float("BZERO", 0)
	bscale := h.Float("BSCALE", 1)

	count := w * ht
	bytesPer := abs(bitpix) / 8
	raw := make([]byte, count*bytesPer)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read pixel data: %w", err)
	}

	pix := make([]float32, count)
	switch bitpix {
	case 8:
		for i, b := range raw {
			pix[i] = float32(bscale*float64(b) + bzero)
		}
	case 16:
		for i := 0; i < count; i++ {
			v := int16(binary.BigEndian.Uint16(raw[i*2:]))
			pix[i] = float32(bscale*float64(v) + bzero)
		}
	case 32:
		for i := 0; i < count; i++ {
			v := int32(binary.BigEndian.Uint32(raw[i*4:]))
			pix[i] = float32(bscale*float64(v) + bzero)
		}
	case -32:
		for i := 0; i < count; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
			pix[i] = float32(bscale*float64(v) + bzero)
		}
	case -64:
		for i := 0; i < count; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
			pix[i] = float32(bscale*v + bzero)
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	return &Image{Width: w, Height: ht, Pixels: pix, Header: h}, nil
}

// ReadPrimaryHeader returns the primary HDU header only. Used to pick up
// the WCS solution the external solver writes.
func ReadPrimaryHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.Str("SIMPLE") != "T" {
		return nil, fmt.Errorf("%s: not a FITS file (missing SIMPLE)", path)
	}
	return h, nil
}
