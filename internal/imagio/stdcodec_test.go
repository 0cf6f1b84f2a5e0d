package imagio

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestStdReaderLuminance(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.Black)
		}
	}
	img.Set(2, 1, color.White)

	path := filepath.Join(t.TempDir(), "in.png")
	writePNG(t, path, img)

	r, err := StdReader{}.ReadLuminance(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Width != 4 || r.Height != 2 {
		t.Fatalf("dimensions: got %dx%d", r.Width, r.Height)
	}
	if got := r.Pixels[1*4+2]; got < 0.99 {
		t.Fatalf("white pixel luma: got %v", got)
	}
	if got := r.Pixels[0]; got > 0.01 {
		t.Fatalf("black pixel luma: got %v", got)
	}
}

func TestStdConverterPNGToJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	dst := filepath.Join(dir, "out.jpg")
	writePNG(t, src, image.NewRGBA(image.Rect(0, 0, 8, 8)))

	if err := (StdConverter{}).Convert(context.Background(), src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("destination not written: %v", err)
	}
}

func TestStdConverterRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	writePNG(t, src, image.NewRGBA(image.Rect(0, 0, 2, 2)))

	err := StdConverter{}.Convert(context.Background(), src, filepath.Join(dir, "out.tiff"))
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
