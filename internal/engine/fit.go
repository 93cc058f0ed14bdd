package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Output size limits. Sizes come from the server, so they are bounded
// before any buffer is allocated.
const (
	MaxOutputSide   = 8192
	MaxOutputPixels = 4096 * 4096
)

// Fit decodes data, centre-crops it to the aspect ratio of width x height,
// scales it to exactly that size and re-encodes it as PNG. Images already at
// the target size are returned unchanged.
func Fit(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}
	if width > MaxOutputSide || height > MaxOutputSide || width*height > MaxOutputPixels {
		return nil, fmt.Errorf("output size %dx%d exceeds limit", width, height)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height && format == "png" {
		return data, nil
	}

	crop := cropRect(b, width, height)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return EncodePNG(dst)
}

// cropRect returns the largest centred rectangle inside b with the aspect
// ratio w:h.
func cropRect(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	// Compare sw/sh with w/h without floats.
	if sw*h > sh*w {
		cw := sh * w / h
		x0 := b.Min.X + (sw-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := sw * h / w
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
