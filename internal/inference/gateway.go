// Package inference calls the external object-detection API and normalises
// its answers into prediction lists.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// maxResponseBytes caps how much of a detection response is read
const maxResponseBytes = 8 << 20

// Status tags the outcome of an inference call
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Result is the outcome of one inference call. Predictions are sorted by
// confidence, highest first, and are empty unless Status is StatusOK.
type Result struct {
	Status      Status
	Predictions repository.Predictions
	Reason      string
}

// OK reports whether the call succeeded
func (r Result) OK() bool {
	return r.Status == StatusOK
}

func degraded(format string, args ...any) Result {
	return Result{Status: StatusDegraded, Predictions: repository.Predictions{}, Reason: fmt.Sprintf(format, args...)}
}

// ModelRef names a hosted model as project plus version
type ModelRef struct {
	Project string
	Version string
}

// ParseModelRef parses "project/version"
func ParseModelRef(s string) (ModelRef, error) {
	project, version, ok := strings.Cut(strings.Trim(s, "/ "), "/")
	if !ok || project == "" || version == "" || strings.Contains(version, "/") {
		return ModelRef{}, fmt.Errorf("invalid model reference %q, want project/version", s)
	}
	return ModelRef{Project: project, Version: version}, nil
}

func (m ModelRef) String() string {
	return m.Project + "/" + m.Version
}

// Config holds gateway settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Gateway is a client for the detection API. It never returns errors:
// every failure becomes a degraded Result.
type Gateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway creates a gateway. A nil client uses http.DefaultClient.
func NewGateway(cfg Config, client *http.Client, log *slog.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		client:  client,
		logger:  logger.OrDefault(log),
	}
}

// Infer sends image to model and returns the normalised predictions
func (g *Gateway) Infer(ctx context.Context, image []byte, filename string, model ModelRef) Result {
	start := time.Now()
	result := g.infer(ctx, image, filename, model)
	metrics.ObserveInference(model.String(), string(result.Status), time.Since(start))

	if !result.OK() {
		g.logger.Warn("Inference degraded",
			slog.String("model", model.String()),
			slog.String("status", string(result.Status)),
			slog.String("reason", result.Reason),
			slog.String("correlation_id", logger.GetCorrelationID(ctx)),
		)
	}
	return result
}

func (g *Gateway) infer(ctx context.Context, image []byte, filename string, model ModelRef) Result {
	if len(image) == 0 {
		return Result{Status: StatusFailed, Predictions: repository.Predictions{}, Reason: "empty image"}
	}
	if g.apiKey == "" {
		return degraded("detection API key not configured")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, contentType, err := multipartBody(image, filename)
	if err != nil {
		return degraded("encode request: %v", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s?api_key=%s",
		g.baseURL, url.PathEscape(model.Project), url.PathEscape(model.Version), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return degraded("build request: %v", redact(err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return degraded("request failed: %v", redact(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return degraded("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return degraded("detection API returned %d", resp.StatusCode)
	}

	preds, err := Normalize(data)
	if err != nil {
		return degraded("decode response: %v", err)
	}
	return Result{Status: StatusOK, Predictions: preds}
}

func multipartBody(image []byte, filename string) (io.Reader, string, error) {
	if filename == "" {
		filename = "image.jpg"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// redact drops the request URL, which carries the API key, from transport errors
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// ErrUnrecognized is returned by Normalize for bodies without predictions
var ErrUnrecognized = errors.New("unrecognized prediction payload")

// rawPrediction accepts centre boxes, corner boxes and bare classifications
type rawPrediction struct {
	Class       string   `json:"class"`
	Confidence  float64  `json:"confidence"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	X1          *float64 `json:"x1"`
	Y1          *float64 `json:"y1"`
	X2          *float64 `json:"x2"`
	Y2          *float64 `json:"y2"`
	DetectionID string   `json:"detection_id"`
}

func (r rawPrediction) normalize() repository.Prediction {
	p := repository.Prediction{Class: r.Class, Confidence: r.Confidence, DetectionID: r.DetectionID}
	switch {
	case r.Width != nil && r.Height != nil:
		p.Width, p.Height = *r.Width, *r.Height
		if r.X != nil {
			p.X = *r.X
		}
		if r.Y != nil {
			p.Y = *r.Y
		}
	case r.X1 != nil && r.Y1 != nil && r.X2 != nil && r.Y2 != nil:
		x1, x2 := min(*r.X1, *r.X2), max(*r.X1, *r.X2)
		y1, y2 := min(*r.Y1, *r.Y2), max(*r.Y1, *r.Y2)
		p.X, p.Y = (x1+x2)/2, (y1+y2)/2
		p.Width, p.Height = x2-x1, y2-y1
	}
	return p
}

type rawResponse struct {
	Predictions json.RawMessage `json:"predictions"`
	Top         string          `json:"top"`
	Confidence  float64         `json:"confidence"`
}

// Normalize converts a detection API body into centre-box predictions
// sorted by confidence, highest first. It accepts detection arrays,
// classification arrays, multi-label maps and single-label "top" answers.
func Normalize(body []byte) (repository.Predictions, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	out := repository.Predictions{}
	trimmed := bytes.TrimSpace(raw.Predictions)

	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		if raw.Top == "" {
			return nil, ErrUnrecognized
		}
	case trimmed[0] == '[':
		var items []rawPrediction
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			out = append(out, item.normalize())
		}
	case trimmed[0] == '{':
		var labels map[string]struct {
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(trimmed, &labels); err != nil {
			return nil, err
		}
		for class, v := range labels {
			out = append(out, repository.Prediction{Class: class, Confidence: v.Confidence})
		}
	default:
		return nil, ErrUnrecognized
	}

	if len(out) == 0 && raw.Top != "" {
		out = append(out, repository.Prediction{Class: raw.Top, Confidence: raw.Confidence})
	}

	SortByConfidence(out)
	return out, nil
}
