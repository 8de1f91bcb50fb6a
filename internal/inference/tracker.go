package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/observability"
)

// ErrTrackerUnavailable marks a connection-level failure to the tracking
// collaborator.
var ErrTrackerUnavailable = errors.New("tracking API unreachable")

// Tracker is the client for the tracking collaborator. It is called exactly
// once per job, after every detection batch has been committed.
type Tracker struct {
	baseURL string
	client  *http.Client
}

func NewTracker(baseURL string, timeout time.Duration) *Tracker {
	return &Tracker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// wireObject is one tracked object as the collaborator returns it.
type wireObject struct {
	TrackID    int                `json:"track_id"`
	Label      int                `json:"label"`
	Detections []models.Detection `json:"detections"`
}

// Track sends the complete ordered frame set of a job to the tracking
// collaborator and returns the aggregated objects. Frames must be ordered by
// absolute frame number; an object's TimeIn/TimeOut are derived from the
// timestamps of its earliest and latest frame.
func (t *Tracker) Track(ctx context.Context, frames []models.Frame) ([]*models.Object, error) {
	payload, err := json.Marshal(frames)
	if err != nil {
		return nil, fmt.Errorf("marshal frames: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tracking/track", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build track request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	observability.CollaboratorDuration.WithLabelValues("tracking").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tracking API returned %s: %s", resp.Status, body)
	}

	var raw []wireObject
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode track response: %w", err)
	}

	objects := make([]*models.Object, 0, len(raw))
	for _, wo := range raw {
		dets := reassociate(wo.Detections, frames)
		obj := models.NewObject(wo.TrackID, dets)

		times := make([]int, 0, len(dets))
		for _, d := range dets {
			times = append(times, d.Frame)
		}
		sort.Ints(times)

		if len(times) > 0 {
			in, err := timestampOf(frames, times[0])
			if err != nil {
				return nil, err
			}
			out, err := timestampOf(frames, times[len(times)-1])
			if err != nil {
				return nil, err
			}
			obj.TimeIn = in
			obj.TimeOut = out
		}

		objects = append(objects, obj)
	}

	return objects, nil
}

// reassociate replaces tracker-returned detections with the stored values
// they correspond to, matched by absolute frame, label, and tolerance-based
// bbox equality. Stored values stay canonical; tracker round-trip float noise
// never leaks into persisted detections.
func reassociate(returned []models.Detection, frames []models.Frame) []models.Detection {
	out := make([]models.Detection, 0, len(returned))
	for _, det := range returned {
		matched := det
		if det.Frame >= 0 && det.Frame < len(frames) {
			for _, stored := range frames[det.Frame].Detections {
				if stored.Label == det.Label && stored.BBox.AlmostEqual(det.BBox) {
					matched = stored
					break
				}
			}
		}
		out = append(out, matched)
	}
	return out
}

func timestampOf(frames []models.Frame, absFrame int) (time.Time, error) {
	if absFrame < 0 || absFrame >= len(frames) {
		return time.Time{}, fmt.Errorf("object references frame %d outside the %d tracked frames", absFrame, len(frames))
	}
	ts := frames[absFrame].Timestamp
	if ts == nil {
		return time.Time{}, fmt.Errorf("frame %d has no timestamp", absFrame)
	}
	return *ts, nil
}
