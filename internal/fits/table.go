package fits

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

// Column is one float64 column of a binary table.
type Column struct {
	Name   string
	Values []float64
}

// WriteBinTable writes a single-extension FITS file holding one binary
// table of float64 columns. This is the interchange format the external
// indexer and solver read (object tables and xylists).
func WriteBinTable(path string, cols []Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("write %s: no columns", path)
	}
	rows := len(cols[0].Values)
	for _, c := range cols[1:] {
		if len(c.Values) != rows {
			return fmt.Errorf("write %s: ragged columns (%s has %d rows, want %d)", path, c.Name, len(c.Values), rows)
		}
	}

	var buf bytes.Buffer

	// Minimal primary HDU.
	writeCards(&buf,
		card("SIMPLE", "T"),
		cardInt("BITPIX", 8),
		cardInt("NAXIS", 0),
		card("EXTEND", "T"),
	)

	// Binary table extension.
	cards := []string{
		cardStr("XTENSION", "BINTABLE"),
		cardInt("BITPIX", 8),
		cardInt("NAXIS", 2),
		cardInt("NAXIS1", 8*len(cols)),
		cardInt("NAXIS2", rows),
		cardInt("PCOUNT", 0),
		cardInt("GCOUNT", 1),
		cardInt("TFIELDS", len(cols)),
	}
	for i, c := range cols {
		cards = append(cards,
			cardStr(fmt.Sprintf("TTYPE%d", i+1), c.Name),
			cardStr(fmt.Sprintf("TFORM%d", i+1), "D"),
		)
	}
	writeCards(&buf, cards...)

	// Row-major big-endian float64 data.
	data := make([]byte, 0, rows*len(cols)*8)
	var scratch [8]byte
	for r := 0; r < rows; r++ {
		for _, c := range cols {
			binary.BigEndian.PutUint64(scratch[:], math.Float64bits(c.Values[r]))
			data = append(data, scratch[:]...)
		}
	}
	buf.Write(data)
	padBlock(&buf, 0)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func writeCards(buf *bytes.Buffer, cards ...string) {
	for _, c := range cards {
		buf.WriteString(c)
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	padBlock(buf, ' ')
}

// padBlock completes the current 2880-byte block. Headers are padded
// with spaces, data units with zeros.
func padBlock(buf *bytes.Buffer, fill byte) {
	for buf.Len()%blockSize != 0 {
		buf.WriteByte(fill)
	}
}

func card(name, value string) string {
	return fmt.Sprintf("%-8s= %20s%50s", name, value, "")
}

func cardInt(name string, v int) string {
	return card(name, fmt.Sprintf("%d", v))
}

func cardStr(name, value string) string {
	quoted := fmt.Sprintf("'%-8s'", strings.ReplaceAll(value, "'", "''"))
	return fmt.Sprintf("%-8s= %-70s", name, quoted)[:cardSize]
}
