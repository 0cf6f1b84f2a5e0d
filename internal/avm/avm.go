package avm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"skyalign/internal/fsutil"
	"skyalign/internal/imagio"
)

// Annotator writes AVM-tagged copies of an aligned image. The output
// path's extension picks the container; only PNG and JPEG carry XMP.
type Annotator struct {
	Converter imagio.Converter
}

// NewAnnotator returns an annotator using the given format converter.
func NewAnnotator(conv imagio.Converter) *Annotator {
	return &Annotator{Converter: conv}
}

// SupportedOutput reports whether the path names a container the
// annotator can tag.
func SupportedOutput(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Annotate produces outputPath from srcPath with the packet embedded.
// The output appears atomically: a temp file in the destination
// directory is renamed over the final name only after the tagged bytes
// are fully written, so a failure leaves no partial output behind.
func (a *Annotator) Annotate(ctx context.Context, srcPath, outputPath string, pkt *Packet) error {
	if !SupportedOutput(outputPath) {
		return fmt.Errorf("output %s: only .png, .jpg and .jpeg can carry AVM tags", outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".skyalign-*"+filepath.Ext(outputPath))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := a.renderTo(ctx, srcPath, tmpPath); err != nil {
		return err
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return err
	}

	xmp := pkt.XMP()
	var tagged []byte
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".png":
		tagged, err = embedPNG(data, xmp)
	default:
		tagged, err = embedJPEG(data, xmp)
	}
	if err != nil {
		return fmt.Errorf("embed AVM into %s: %w", outputPath, err)
	}

	if err := os.WriteFile(tmpPath, tagged, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, outputPath)
}

// renderTo puts srcPath's pixels at dstPath in dstPath's format.
func (a *Annotator) renderTo(ctx context.Context, srcPath, dstPath string) error {
	if strings.EqualFold(normalizeExt(srcPath), normalizeExt(dstPath)) {
		return fsutil.CopyFile(srcPath, dstPath)
	}
	return a.Converter.Convert(ctx, srcPath, dstPath)
}

func normalizeExt(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}
