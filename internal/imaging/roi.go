package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// MRZRegion crops the bottom fraction of the frame (where the machine
// readable zone sits), converts it to greyscale, stretches the contrast,
// and sharpens it. The result is PNG-encoded: recognition input must not
// pick up compression artifacts.
func MRZRegion(img image.Image, fraction float64) ([]byte, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("imaging: mrz fraction %v out of range", fraction)
	}

	b := img.Bounds()
	roiH := int(float64(b.Dy()) * fraction)
	if roiH < 1 {
		return nil, fmt.Errorf("imaging: image too small for mrz region")
	}
	roi := image.Rect(b.Min.X, b.Max.Y-roiH, b.Max.X, b.Max.Y)

	gray := toGray(img, roi)
	stretchContrast(gray)
	sharpened := sharpen(gray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, sharpened); err != nil {
		return nil, fmt.Errorf("imaging: encode mrz region: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image, r image.Rectangle) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return dst
}

// stretchContrast linearly remaps the intensity range onto 0..255 in place.
// A flat image (min == max) is left untouched.
func stretchContrast(img *image.Gray) {
	min, max := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if min >= max {
		return
	}
	span := int(max) - int(min)
	for i, p := range img.Pix {
		img.Pix[i] = uint8((int(p) - int(min)) * 255 / span)
	}
}

// sharpen applies a 3x3 unsharp kernel (center 5, cross -1).
func sharpen(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)
	copy(dst.Pix, src.Pix)

	at := func(x, y int) int { return int(src.GrayAt(x, y).Y) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := 5*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			dst.Pix[y*dst.Stride+x] = uint8(v)
		}
	}
	return dst
}
