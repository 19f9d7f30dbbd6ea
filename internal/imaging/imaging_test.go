package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func flatImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNormalizeTargetDimensionsAndBudget(t *testing.T) {
	raw := encodeJPEG(t, flatImage(4000, 3000, color.RGBA{40, 80, 120, 255}))
	spec := SpecFor("PASSPORT")

	out, err := Normalize(raw, spec)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Width != spec.TargetWidth || out.Height != spec.TargetHeight {
		t.Errorf("dims = %dx%d, want %dx%d", out.Width, out.Height, spec.TargetWidth, spec.TargetHeight)
	}
	if len(out.Data) > spec.ByteBudget {
		t.Errorf("size %d exceeds budget %d", len(out.Data), spec.ByteBudget)
	}
	if out.MimeType != "image/jpeg" {
		t.Errorf("mime = %q", out.MimeType)
	}

	decoded, _, err := image.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != spec.TargetWidth || b.Dy() != spec.TargetHeight {
		t.Errorf("decoded dims = %dx%d", b.Dx(), b.Dy())
	}
}

// Even when the lowest quality level cannot fit the budget, Normalize must
// return that result rather than fail.
func TestNormalizeQualityFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noisy := image.NewRGBA(image.Rect(0, 0, 600, 400))
	for i := range noisy.Pix {
		noisy.Pix[i] = uint8(rng.Intn(256))
	}
	raw := encodeJPEG(t, noisy)

	spec := Spec{TargetWidth: 600, TargetHeight: 400, ByteBudget: 64, MRZFraction: 0.3}
	out, err := Normalize(raw, spec)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(out.Data) <= spec.ByteBudget {
		t.Fatalf("test premise broken: noisy image fit a %d byte budget", spec.ByteBudget)
	}
	if out.Quality != qualityLadder[len(qualityLadder)-1] {
		t.Errorf("quality = %d, want ladder floor %d", out.Quality, qualityLadder[len(qualityLadder)-1])
	}
}

// Transparent pixels must flatten onto white, not black.
func TestNormalizeFlattensTransparency(t *testing.T) {
	transparent := image.NewRGBA(image.Rect(0, 0, 800, 600))
	var buf bytes.Buffer
	if err := png.Encode(&buf, transparent); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	spec := Spec{TargetWidth: 400, TargetHeight: 300, ByteBudget: 1 << 20, MRZFraction: 0.3}
	out, err := Normalize(buf.Bytes(), spec)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	decoded, _, err := image.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	r, g, b, _ := decoded.At(200, 150).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Errorf("center pixel = (%d,%d,%d), want near-white", r>>8, g>>8, b>>8)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image at all")); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("err = %v, want ErrUnsupportedImage", err)
	}
}

func TestRotate180(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	img.Set(1, 0, color.RGBA{0, 0, 255, 255})

	rotated := Rotate180(img)
	r, _, _, _ := rotated.At(0, 0).RGBA()
	_, _, b, _ := rotated.At(1, 0).RGBA()
	if r>>8 != 0 || b>>8 != 0 {
		// after a half turn the red pixel sits on the right
		t.Errorf("rotation did not swap pixels: left r=%d right b=%d", r>>8, b>>8)
	}
	if rr, _, _, _ := rotated.At(1, 0).RGBA(); rr>>8 != 255 {
		t.Errorf("right pixel r = %d, want 255", rr>>8)
	}
}

func TestMRZRegionCropAndContrast(t *testing.T) {
	img := flatImage(200, 100, color.Gray{Y: 120})
	// bottom band with a mild gradient so the stretch has work to do
	for y := 70; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.Gray{Y: uint8(100 + (x % 50))})
		}
	}

	data, err := MRZRegion(img, 0.30)
	if err != nil {
		t.Fatalf("MRZRegion: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("roi is not a png: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 200 || b.Dy() != 30 {
		t.Errorf("roi dims = %dx%d, want 200x30", b.Dx(), b.Dy())
	}

	gray, ok := decoded.(*image.Gray)
	if !ok {
		t.Fatalf("roi decoded as %T, want *image.Gray", decoded)
	}
	min, max := uint8(255), uint8(0)
	for _, p := range gray.Pix {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if min != 0 || max != 255 {
		t.Errorf("contrast range = [%d,%d], want [0,255]", min, max)
	}
}

func TestMRZRegionRejectsBadFraction(t *testing.T) {
	img := flatImage(10, 10, color.White)
	if _, err := MRZRegion(img, 0); err == nil {
		t.Error("fraction 0 accepted")
	}
	if _, err := MRZRegion(img, 1.5); err == nil {
		t.Error("fraction 1.5 accepted")
	}
}
