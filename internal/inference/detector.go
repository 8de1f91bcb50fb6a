// Package inference holds the HTTP clients for the external detection and
// tracking collaborators. Both are stateless request/response services; their
// algorithms are not this module's concern.
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
	"net/textproto"
	"strconv"
	"time"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/observability"
)

// ErrDetectorUnavailable marks a connection-level failure. Retryable by
// nature: the job pauses and resumes at the same batch on the next run.
var ErrDetectorUnavailable = errors.New("detection API unreachable")

// Model describes one model the detection collaborator can serve.
type Model struct {
	Name    string
	Classes []string
}

// Detector is the client for the detection collaborator.
type Detector struct {
	baseURL string
	client  *http.Client
	models  []Model
}

// NewDetector builds a detector client. It lists the available models on
// construction; an unreachable service fails with ErrDetectorUnavailable.
func NewDetector(ctx context.Context, baseURL string, timeout time.Duration) (*Detector, error) {
	d := &Detector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models/", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: unexpected status %s", resp.Status)
	}

	var raw map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}
	for name, classes := range raw {
		d.models = append(d.models, Model{Name: name, Classes: classes})
	}

	slog.Debug("detector client constructed", "url", baseURL, "models", len(d.models))
	return d, nil
}

// HasModel reports whether the collaborator serves the named model.
func (d *Detector) HasModel(name string) bool {
	for _, m := range d.models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// wireDetection is one detection tuple as the collaborator returns it.
type wireDetection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Label      int     `json:"label"`
}

// Predict sends one batch of JPEG frames to the detection collaborator and
// returns one Frame per batch-local position, in order. The response maps
// string frame numbers to detection lists; it is decoded into an ordered
// slice so no caller ever deals with string keys. An empty list is a frame
// with no detections and its key must still be present.
func (d *Detector) Predict(ctx context.Context, frames [][]byte, modelName string) ([]models.Frame, error) {
	if !d.HasModel(modelName) {
		return nil, fmt.Errorf("unknown model %q", modelName)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for i, frame := range frames {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="frame_%d.jpg"`, i))
		h.Set("Content-Type", "image/jpeg")
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create form part: %w", err)
		}
		if _, err := part.Write(frame); err != nil {
			return nil, fmt.Errorf("write frame data: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/predictions/%s/", d.baseURL, modelName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := d.client.Do(req)
	observability.CollaboratorDuration.WithLabelValues("detection").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detection API returned %s: %s", resp.Status, body)
	}

	var raw map[string][]wireDetection
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	if len(raw) != len(frames) {
		return nil, fmt.Errorf("detection response has %d frames for a batch of %d", len(raw), len(frames))
	}

	result := make([]models.Frame, 0, len(frames))
	for i := 0; i < len(frames); i++ {
		dets, ok := raw[strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("detection response missing frame %d", i)
		}

		frame := models.Frame{Idx: i, Detections: make([]models.Detection, 0, len(dets))}
		for _, det := range dets {
			frame.Detections = append(frame.Detections, models.Detection{
				BBox:        models.BBox{X1: det.X1, Y1: det.Y1, X2: det.X2, Y2: det.Y2},
				Probability: det.Confidence,
				Label:       det.Label,
				Frame:       i,
			})
		}
		result = append(result, frame)
	}

	return result, nil
}
