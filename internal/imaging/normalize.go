// Package imaging turns raw document photos into display-ready renditions
// and prepares the machine readable zone for recognition.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif" // register stdlib decoders
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage indicates bytes that could not be decoded as an image.
var ErrUnsupportedImage = errors.New("imaging: unsupported or corrupt image")

// qualityLadder is the descending set of JPEG qualities tried until the
// result fits the byte budget.
var qualityLadder = [...]int{88, 82, 78, 72}

// Spec is the per-document-type normalization target.
type Spec struct {
	TargetWidth  int
	TargetHeight int
	ByteBudget   int
	// MRZFraction is the portion of the frame height, measured from the
	// bottom, expected to contain the machine readable zone.
	MRZFraction float64
}

// SpecFor returns the normalization spec for a document type.
func SpecFor(docType string) Spec {
	switch docType {
	case "VISA":
		return Spec{TargetWidth: 1200, TargetHeight: 840, ByteBudget: 400 << 10, MRZFraction: 0.28}
	default: // PASSPORT
		return Spec{TargetWidth: 1200, TargetHeight: 850, ByteBudget: 500 << 10, MRZFraction: 0.30}
	}
}

// Normalized is the output of the normalization pipeline.
type Normalized struct {
	Data     []byte
	Width    int
	Height   int
	MimeType string
	Quality  int
}

// Decode decodes raw photo bytes, honoring any embedded EXIF orientation so
// downstream stages see the image as the camera saw it.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return orient(img, orientationOf(data)), nil
}

// Normalize produces the display rendition: auto-rotated, resized with a
// crop-to-fill to the requested target dimensions, flattened onto white, and
// encoded as JPEG under the byte budget. When even the lowest quality level
// exceeds the budget the oversized result is returned anyway; size alone
// never fails the pipeline.
func Normalize(data []byte, spec Spec) (Normalized, error) {
	img, err := Decode(data)
	if err != nil {
		return Normalized{}, err
	}
	return NormalizeImage(img, spec)
}

// NormalizeImage is Normalize for an already-decoded (and oriented) image.
func NormalizeImage(img image.Image, spec Spec) (Normalized, error) {
	filled := cropToFill(img, spec.TargetWidth, spec.TargetHeight)

	var (
		buf     bytes.Buffer
		quality int
	)
	for _, q := range qualityLadder {
		buf.Reset()
		if err := jpeg.Encode(&buf, filled, &jpeg.Options{Quality: q}); err != nil {
			return Normalized{}, fmt.Errorf("imaging: encode jpeg: %w", err)
		}
		quality = q
		if buf.Len() <= spec.ByteBudget {
			break
		}
	}

	return Normalized{
		Data:     append([]byte(nil), buf.Bytes()...),
		Width:    spec.TargetWidth,
		Height:   spec.TargetHeight,
		MimeType: "image/jpeg",
		Quality:  quality,
	}, nil
}

// cropToFill scales the image to cover the target box and center-crops the
// overflow, compositing onto a white background so transparency flattens.
func cropToFill(img image.Image, targetW, targetH int) *image.RGBA {
	src := img.Bounds()
	srcW, srcH := src.Dx(), src.Dy()

	// Pick the largest centered source window with the target aspect ratio.
	cropW, cropH := srcW, srcH
	if srcW*targetH > srcH*targetW {
		cropW = srcH * targetW / targetH
	} else {
		cropH = srcW * targetH / targetW
	}
	x0 := src.Min.X + (srcW-cropW)/2
	y0 := src.Min.Y + (srcH-cropH)/2
	window := image.Rect(x0, y0, x0+cropW, y0+cropH)

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, window, draw.Over, nil)
	return dst
}
