package inference

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vidtrack/internal/models"
)

const trackerURL = "http://tracker.test"

func trackedFrames() []models.Frame {
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	videoID := 1

	frames := make([]models.Frame, 3)
	for i := range frames {
		ts := base.Add(time.Duration(i) * time.Second)
		frames[i] = models.Frame{Idx: i, Timestamp: &ts, VideoID: &videoID}
	}

	frameID0, frameID2 := 0, 2
	frames[0].Detections = []models.Detection{{
		BBox:        models.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
		Probability: 0.9,
		Label:       1,
		Frame:       0,
		FrameID:     &frameID0,
		VideoID:     &videoID,
	}}
	frames[2].Detections = []models.Detection{{
		BBox:        models.BBox{X1: 12, Y1: 11, X2: 52, Y2: 51},
		Probability: 0.8,
		Label:       1,
		Frame:       2,
		FrameID:     &frameID2,
		VideoID:     &videoID,
	}}
	return frames
}

func TestTrack_BuildsObjects(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	// The collaborator echoes boxes with float round-trip noise.
	httpmock.RegisterResponder(http.MethodPost, trackerURL+"/tracking/track",
		httpmock.NewStringResponder(http.StatusOK, `[
			{
				"track_id": 5,
				"label": 1,
				"detections": [
					{"bbox": {"x1": 10.0001, "y1": 10, "x2": 50, "y2": 50}, "probability": 0.9, "label": 1, "frame": 0},
					{"bbox": {"x1": 12, "y1": 11, "x2": 52, "y2": 51.0002}, "probability": 0.8, "label": 1, "frame": 2}
				]
			}
		]`))

	frames := trackedFrames()
	tracker := NewTracker(trackerURL, time.Second)
	objects, err := tracker.Track(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	obj := objects[0]
	assert.Equal(t, 5, obj.TrackID)
	assert.Equal(t, 1, obj.Label)
	assert.Equal(t, 2, obj.DetectionCount())

	// Presence interval comes from the first and last member frames.
	assert.Equal(t, *frames[0].Timestamp, obj.TimeIn)
	assert.Equal(t, *frames[2].Timestamp, obj.TimeOut)

	// Stored detections stay canonical: the noisy echoed box is replaced
	// by the exact stored one, bookkeeping included.
	d, ok := obj.DetectionAt(0)
	require.True(t, ok)
	assert.Equal(t, 10.0, d.BBox.X1)
	require.NotNil(t, d.FrameID)
	assert.Equal(t, 0, *d.FrameID)
	require.NotNil(t, d.VideoID)
	assert.Equal(t, 1, *d.VideoID)
}

func TestTrack_ObjectOutsideFrames(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, trackerURL+"/tracking/track",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"track_id": 1, "label": 1, "detections": [
				{"bbox": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}, "probability": 0.5, "label": 1, "frame": 99}
			]}
		]`))

	tracker := NewTracker(trackerURL, time.Second)
	_, err := tracker.Track(context.Background(), trackedFrames())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

func TestTrack_Unreachable(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	tracker := NewTracker(trackerURL, time.Second)
	_, err := tracker.Track(context.Background(), trackedFrames())
	require.ErrorIs(t, err, ErrTrackerUnavailable)
}

func TestTrack_ErrorStatus(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, trackerURL+"/tracking/track",
		httpmock.NewStringResponder(http.StatusInternalServerError, "tracker exploded"))

	tracker := NewTracker(trackerURL, time.Second)
	_, err := tracker.Track(context.Background(), trackedFrames())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker exploded")
}

func TestTrack_EmptyResponse(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodPost, trackerURL+"/tracking/track",
		httpmock.NewStringResponder(http.StatusOK, `[]`))

	tracker := NewTracker(trackerURL, time.Second)
	objects, err := tracker.Track(context.Background(), trackedFrames())
	require.NoError(t, err)
	assert.Empty(t, objects)
}
