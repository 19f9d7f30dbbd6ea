// Package ocr recognizes machine readable zone text from prepared images.
package ocr

import "context"

// Result is a single recognition pass over an image.
type Result struct {
	// Text is the raw recognized text, lines separated by '\n'.
	Text string
	// Confidence is the mean word confidence in [0,100].
	Confidence float64
}

// Engine recognizes text from encoded image bytes. Implementations own
// whatever native resources they need; callers must Close when done.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (Result, error)
	Close() error
}
