package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vidtrack/internal/models"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func TestRestoreFrames(t *testing.T) {
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	v, err := models.NewVideo("a.mp4", 3, 10, 1920, 1080, base, 640, 360)
	require.NoError(t, err)
	v.ID = 7

	// Join rows as the frames query yields them: ordered by frame index,
	// detection columns nil for frames without detections.
	rows := []frameRow{
		{idx: 0, ts: &base, absFrame: iptr(20), x1: fptr(10), y1: fptr(20), x2: fptr(30), y2: fptr(40), prob: fptr(0.9), label: iptr(1)},
		{idx: 0, ts: &base, absFrame: iptr(20), x1: fptr(1), y1: fptr(2), x2: fptr(3), y2: fptr(4), prob: fptr(0.5), label: iptr(2)},
		{idx: 1, ts: &base},
		{idx: 2, ts: &base, absFrame: iptr(22), x1: fptr(5), y1: fptr(6), x2: fptr(7), y2: fptr(8), prob: fptr(0.6), label: iptr(1)},
	}

	require.NoError(t, restoreFrames(v, rows))
	require.Len(t, v.Frames, 3)
	assert.True(t, v.IsProcessed())

	first := v.Frames[0]
	assert.Equal(t, 0, first.Idx)
	require.NotNil(t, first.VideoID)
	assert.Equal(t, 7, *first.VideoID)
	require.Len(t, first.Detections, 2)

	// A restored detection carries the frame's index within its video,
	// exactly as the live processing path writes it.
	d := first.Detections[0]
	assert.Equal(t, 20, d.Frame)
	require.NotNil(t, d.FrameID)
	assert.Equal(t, 0, *d.FrameID)
	require.NotNil(t, d.VideoID)
	assert.Equal(t, 7, *d.VideoID)
	assert.Equal(t, 10.0, d.BBox.X1)
	assert.Equal(t, 0.9, d.Probability)

	assert.Empty(t, v.Frames[1].Detections)

	last := v.Frames[2].Detections[0]
	assert.Equal(t, 22, last.Frame)
	require.NotNil(t, last.FrameID)
	assert.Equal(t, 2, *last.FrameID)
}

func TestRestoreFrames_Empty(t *testing.T) {
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	v, err := models.NewVideo("a.mp4", 3, 10, 1920, 1080, base, 640, 360)
	require.NoError(t, err)

	require.NoError(t, restoreFrames(v, nil))
	assert.Empty(t, v.Frames)
}
