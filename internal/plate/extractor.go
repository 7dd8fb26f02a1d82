// Package plate reads a licence plate number from a detection box.
package plate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// NotDetected is returned whenever no plate text could be read
const NotDetected = "Not Detected"

// maxPixels bounds decoded image size
const maxPixels = 64 << 20

// Recognizer turns a PNG image of a plate into text
type Recognizer interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// Extractor crops the best plate box out of an image and runs OCR on it
type Extractor struct {
	recognizer Recognizer
	logger     *slog.Logger
}

// NewExtractor creates an extractor. A nil recognizer disables OCR and
// every extraction yields NotDetected.
func NewExtractor(recognizer Recognizer, log *slog.Logger) *Extractor {
	return &Extractor{recognizer: recognizer, logger: logger.OrDefault(log)}
}

// Extract returns the plate text for the highest-confidence prediction,
// or NotDetected. It never panics.
func (e *Extractor) Extract(ctx context.Context, preds repository.Predictions, img []byte) (plate string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Plate extraction panicked",
				slog.Any("panic", r),
				slog.String("correlation_id", logger.GetCorrelationID(ctx)),
			)
			plate = NotDetected
		}
		result := "detected"
		if plate == NotDetected {
			result = "not_detected"
		}
		metrics.PlatesTotal.WithLabelValues(result).Inc()
	}()

	text, err := e.extract(ctx, preds, img)
	if err != nil {
		e.logger.Warn("Plate not detected",
			slog.String("reason", err.Error()),
			slog.String("correlation_id", logger.GetCorrelationID(ctx)),
		)
		return NotDetected
	}
	return text
}

func (e *Extractor) extract(ctx context.Context, preds repository.Predictions, img []byte) (string, error) {
	best, ok := preds.Top()
	if !ok {
		return "", fmt.Errorf("no plate predictions")
	}
	if e.recognizer == nil {
		return "", fmt.Errorf("text recognition disabled")
	}

	crop, err := Crop(img, best)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}

	text, err := e.recognizer.Recognize(ctx, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty recognition result")
	}
	return text, nil
}

// Box returns the crop rectangle for pred inside an image of w x h pixels.
// Coordinates are truncated to integers before halving and the result is
// clamped to the image. An empty rectangle means nothing to crop.
func Box(pred repository.Prediction, w, h int) image.Rectangle {
	x, y := int(pred.X), int(pred.Y)
	bw, bh := int(pred.Width), int(pred.Height)

	x1 := max(0, x-bw/2)
	y1 := max(0, y-bh/2)
	x2 := min(w, x+bw/2)
	y2 := min(h, y+bh/2)

	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}
	}
	return image.Rect(x1, y1, x2, y2)
}

// Crop decodes img and returns the region selected by pred
func Crop(img []byte, pred repository.Prediction) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	box := Box(pred, bounds.Dx(), bounds.Dy())
	if box.Empty() {
		return nil, fmt.Errorf("empty crop")
	}

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min.Add(box.Min), draw.Src)
	return dst, nil
}
