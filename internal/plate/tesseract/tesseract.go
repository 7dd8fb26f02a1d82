// Package tesseract recognizes plate text with the Tesseract OCR engine.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs Tesseract in single-word mode. A gosseract client is not
// safe for concurrent use, so each call opens its own.
type Recognizer struct {
	language string
}

// New creates a recognizer for the given Tesseract language, e.g. "eng"
func New(language string) *Recognizer {
	if language == "" {
		language = "eng"
	}
	return &Recognizer{language: language}
}

// Recognize returns the text Tesseract reads from png
func (r *Recognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	return client.Text()
}

// Version reports the linked Tesseract version
func Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}
