package fits

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
)

// WriteImage writes img as a single-HDU float32 FITS file. Extra cards
// (WCS keywords and the like) are emitted verbatim after the mandatory
// ones.
func WriteImage(path string, img *Image, extra []Card) error {
	var buf bytes.Buffer

	cards := []string{
		card("SIMPLE", "T"),
		cardInt("BITPIX", -32),
		cardInt("NAXIS", 2),
		cardInt("NAXIS1", img.Width),
		cardInt("NAXIS2", img.Height),
	}
	for _, c := range extra {
		cards = append(cards, formatExtraCard(c))
	}
	writeCards(&buf, cards...)

	var scratch [4]byte
	for _, v := range img.Pixels {
		binary.BigEndian.PutUint32(scratch[:], math.Float32bits(v))
		buf.Write(scratch[:])
	}
	padBlock(&buf, 0)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func formatExtraCard(c Card) string {
	if _, err := strconv.ParseFloat(c.Value, 64); err == nil {
		return card(c.Name, c.Value)
	}
	if c.Value == "T" || c.Value == "F" {
		return card(c.Name, c.Value)
	}
	return cardStr(c.Name, c.Value)
}

// FormatFloat renders a float for use in a Card value.
func FormatFloat(v float64) string {
	return fmt.Sprintf("%.12G", v)
}
