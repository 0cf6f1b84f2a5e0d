package avm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const xmpKeyword = "XML:com.adobe.xmp"

// embedPNG inserts the XMP document as an iTXt chunk before the first
// IDAT chunk, replacing any previous XMP chunk.
func embedPNG(data []byte, xmp string) ([]byte, error) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, fmt.Errorf("not a PNG stream")
	}

	chunk := buildITXt(xmp)

	var out bytes.Buffer
	out.Write(pngMagic)

	pos := len(pngMagic)
	inserted := false
	for pos+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		end := pos + 12 + length
		if end > len(data) {
			return nil, fmt.Errorf("truncated PNG chunk at offset %d", pos)
		}
		ctype := string(data[pos+4 : pos+8])

		if ctype == "iTXt" && bytes.HasPrefix(data[pos+8:end-4], []byte(xmpKeyword)) {
			pos = end
			continue
		}
		if ctype == "IDAT" && !inserted {
			out.Write(chunk)
			inserted = true
		}
		out.Write(data[pos:end])
		pos = end
		if ctype == "IEND" {
			break
		}
	}
	if !inserted {
		return nil, fmt.Errorf("PNG stream has no IDAT chunk")
	}
	return out.Bytes(), nil
}

func buildITXt(xmp string) []byte {
	// keyword NUL compression-flag compression-method NUL
	// language-tag NUL translated-keyword NUL text
	var payload bytes.Buffer
	payload.WriteString(xmpKeyword)
	payload.Write([]byte{0, 0, 0, 0, 0})
	payload.WriteString(xmp)

	var chunk bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(payload.Len()))
	chunk.Write(lenBuf[:])
	chunk.WriteString("iTXt")
	chunk.Write(payload.Bytes())

	crc := crc32.NewIEEE()
	crc.Write([]byte("iTXt"))
	crc.Write(payload.Bytes())
	binary.BigEndian.PutUint32(lenBuf[:], crc.Sum32())
	chunk.Write(lenBuf[:])
	return chunk.Bytes()
}

var jpegXMPNamespace = []byte("http://ns.adobe.com/xap/1.0/\x00")

// embedJPEG inserts the XMP document as an APP1 segment right after
// the leading SOI and any JFIF/EXIF segments.
func embedJPEG(data []byte, xmp string) ([]byte, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("not a JPEG stream")
	}

	segment := buildAPP1(xmp)
	if len(segment) > 2+0xFFFF {
		return nil, fmt.Errorf("XMP packet exceeds JPEG segment capacity")
	}

	// Walk APP0/APP1 segments so the new segment lands after them,
	// dropping any previous XMP segment on the way.
	pos := 2
	var kept [][]byte
	for pos+4 <= len(data) && data[pos] == 0xFF && (data[pos+1] == 0xE0 || data[pos+1] == 0xE1) {
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + length
		if end > len(data) {
			return nil, fmt.Errorf("truncated JPEG segment at offset %d", pos)
		}
		seg := data[pos:end]
		if !(data[pos+1] == 0xE1 && bytes.HasPrefix(seg[4:], jpegXMPNamespace)) {
			kept = append(kept, seg)
		}
		pos = end
	}

	var out bytes.Buffer
	out.Write(data[:2])
	for _, seg := range kept {
		out.Write(seg)
	}
	out.Write(segment)
	out.Write(data[pos:])
	return out.Bytes(), nil
}

func buildAPP1(xmp string) []byte {
	payload := append(append([]byte{}, jpegXMPNamespace...), xmp...)

	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xE1})
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)+2))
	out.Write(lenBuf[:])
	out.Write(payload)
	return out.Bytes()
}
