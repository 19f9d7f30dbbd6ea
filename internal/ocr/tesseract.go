package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// mrzWhitelist is the full alphabet of the machine readable zone. Restricting
// the engine to it removes most lookalike noise before cleanup even runs.
const mrzWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"

// TesseractEngine recognizes MRZ text through a long-lived gosseract client.
// It is not safe for concurrent use; the worker owns one per goroutine.
type TesseractEngine struct {
	client *gosseract.Client
}

// NewTesseractEngine constructs and configures a Tesseract-backed engine.
func NewTesseractEngine() (*TesseractEngine, error) {
	c := gosseract.NewClient()
	if err := c.SetLanguage("eng"); err != nil {
		c.Close()
		return nil, fmt.Errorf("ocr: set language: %w", err)
	}
	if err := c.SetWhitelist(mrzWhitelist); err != nil {
		c.Close()
		return nil, fmt.Errorf("ocr: set whitelist: %w", err)
	}
	// The MRZ crop is a single uniform block of text.
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		c.Close()
		return nil, fmt.Errorf("ocr: set page seg mode: %w", err)
	}
	return &TesseractEngine{client: c}, nil
}

// Recognize runs one pass over the image and reports the text together with
// the mean word confidence.
func (e *TesseractEngine) Recognize(ctx context.Context, image []byte) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if err := e.client.SetImageFromBytes(image); err != nil {
		return Result{}, fmt.Errorf("ocr: set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("ocr: recognize: %w", err)
	}
	return Result{Text: text, Confidence: meanConfidence(e.client)}, nil
}

// Close releases the native Tesseract handle.
func (e *TesseractEngine) Close() error {
	return e.client.Close()
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
