package ocr

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned when a document cannot be turned into an image
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ProgressFunc receives recognition progress as a fraction between 0 and 1.
// It may be called from any goroutine.
type ProgressFunc func(fraction float64)

// Recognizer defines the interface for optical character recognition
type Recognizer interface {
	// Recognize reads the text of an image or PDF document.
	// A failure is always reported as an error, never as empty text.
	Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error)

	// Close releases engine resources
	Close() error
}

// report calls progress when it is set
func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}
