package scanning

import "context"

// Recognizer defines the interface for optical character recognition
type Recognizer interface {
	// Recognize returns all text visible in the image
	Recognize(ctx context.Context, img *Image) (string, error)

	// Close closes the recognizer and releases resources
	Close() error
}
