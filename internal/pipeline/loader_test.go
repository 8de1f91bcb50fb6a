package pipeline

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/vidtrack/internal/models"
)

// fakeStream yields synthetic frames "path#n" from a start offset.
type fakeStream struct {
	path string
	next int
	stop int
}

func (s *fakeStream) Next() ([]byte, error) {
	if s.next >= s.stop {
		return nil, io.EOF
	}
	frame := []byte(fmt.Sprintf("%s#%d", s.path, s.next))
	s.next++
	return frame, nil
}

func (s *fakeStream) Close() {}

// fakeStreamer opens synthetic streams and records every open.
type fakeStreamer struct {
	opened []string
}

func (f *fakeStreamer) Stream(_ context.Context, v *models.Video, start int) (FrameStream, error) {
	f.opened = append(f.opened, fmt.Sprintf("%s@%d", v.Path, start))
	return &fakeStream{path: v.Path, next: start, stop: v.FrameCount}, nil
}

func loaderVideo(t *testing.T, path string, frameCount int, ts time.Time) *models.Video {
	t.Helper()
	v, err := models.NewVideo(path, frameCount, 10, 1920, 1080, ts, 640, 360)
	require.NoError(t, err)
	return v
}

func twoVideos(t *testing.T) []*models.Video {
	t.Helper()
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	return []*models.Video{
		loaderVideo(t, "a.mp4", 35, base),
		loaderVideo(t, "b.mp4", 15, base.Add(30*time.Minute)),
	}
}

func TestVideoLoaderTotals(t *testing.T) {
	l := NewVideoLoader(twoVideos(t), 15, &fakeStreamer{})
	assert.Equal(t, 50, l.TotalFrames())
	assert.Equal(t, 4, l.TotalBatches())

	// Exact multiple
	l = NewVideoLoader(twoVideos(t), 25, &fakeStreamer{})
	assert.Equal(t, 2, l.TotalBatches())
}

func TestVideoLoaderLocate(t *testing.T) {
	l := NewVideoLoader(twoVideos(t), 15, &fakeStreamer{})

	tests := []struct {
		frame    int
		wantVid  int
		wantOff  int
	}{
		{0, 0, 0},
		{34, 0, 34},
		{35, 1, 0}, // first frame of the second video
		{49, 1, 14},
	}
	for _, tt := range tests {
		vid, off, err := l.Locate(tt.frame)
		require.NoError(t, err, "frame %d", tt.frame)
		assert.Equal(t, tt.wantVid, vid, "frame %d", tt.frame)
		assert.Equal(t, tt.wantOff, off, "frame %d", tt.frame)
	}

	_, _, err := l.Locate(50)
	require.Error(t, err)
	_, _, err = l.Locate(-1)
	require.Error(t, err)
}

func TestGenerateBatches_FullRun(t *testing.T) {
	streamer := &fakeStreamer{}
	l := NewVideoLoader(twoVideos(t), 15, streamer)

	var batches []Batch
	err := l.GenerateBatches(context.Background(), 0, func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, batches, 4)
	assert.Equal(t, []string{"a.mp4@0", "b.mp4@0"}, streamer.opened)

	sizes := []int{15, 15, 15, 5}
	progress := []int{25, 50, 75, 100}
	for i, b := range batches {
		assert.Equal(t, i, b.Number)
		assert.Len(t, b.Frames, sizes[i])
		assert.Equal(t, progress[i], b.Progress)
		assert.Len(t, b.Timestamps, sizes[i])
		assert.Len(t, b.LocalFrames, sizes[i])
		assert.Len(t, b.Owners, sizes[i])
	}

	// Batch 2 spans the video boundary: frames 30..34 of a.mp4 then 0..9
	// of b.mp4.
	boundary := batches[2]
	assert.Equal(t, []byte("a.mp4#34"), boundary.Frames[4])
	assert.Equal(t, []byte("b.mp4#0"), boundary.Frames[5])
	assert.Equal(t, 34, boundary.LocalFrames[4])
	assert.Equal(t, 0, boundary.LocalFrames[5])
	assert.Equal(t, "a.mp4", boundary.Owners[4].Path)
	assert.Equal(t, "b.mp4", boundary.Owners[5].Path)

	// Timestamps restart at the second video's own start time.
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(3*time.Second), boundary.Timestamps[4])
	assert.Equal(t, base.Add(30*time.Minute), boundary.Timestamps[5])
}

func TestGenerateBatches_Resume(t *testing.T) {
	streamer := &fakeStreamer{}
	l := NewVideoLoader(twoVideos(t), 15, streamer)

	var batches []Batch
	err := l.GenerateBatches(context.Background(), 1, func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, 1, batches[0].Number)
	assert.Equal(t, 3, batches[2].Number)

	// Resumption seeks into the first video instead of replaying it.
	assert.Equal(t, []string{"a.mp4@15", "b.mp4@0"}, streamer.opened)
	assert.Equal(t, []byte("a.mp4#15"), batches[0].Frames[0])
	assert.Len(t, batches[2].Frames, 5)
	assert.Equal(t, 100, batches[2].Progress)
}

func TestGenerateBatches_ShortVideoOwnership(t *testing.T) {
	// A 3-frame video and the start of the next share one batch, so local
	// frame numbers 0..2 appear twice. Ownership must still be per frame.
	base := time.Date(2020, 3, 28, 12, 0, 0, 0, time.UTC)
	videos := []*models.Video{
		loaderVideo(t, "short.mp4", 3, base),
		loaderVideo(t, "long.mp4", 5, base.Add(30*time.Minute)),
	}
	l := NewVideoLoader(videos, 6, &fakeStreamer{})

	var batches []Batch
	err := l.GenerateBatches(context.Background(), 0, func(b Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, batches, 2)
	first := batches[0]
	require.Len(t, first.Frames, 6)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, first.LocalFrames)
	for n := 0; n < 3; n++ {
		assert.Equal(t, "short.mp4", first.Owners[n].Path, "frame %d", n)
		assert.Equal(t, "long.mp4", first.Owners[n+3].Path, "frame %d", n+3)
	}
	assert.Equal(t, base, first.Timestamps[2])
	assert.Equal(t, base.Add(30*time.Minute), first.Timestamps[3])
}

func TestGenerateBatches_StartAtEnd(t *testing.T) {
	l := NewVideoLoader(twoVideos(t), 15, &fakeStreamer{})

	calls := 0
	err := l.GenerateBatches(context.Background(), 4, func(Batch) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)

	err = l.GenerateBatches(context.Background(), 5, func(Batch) error { return nil })
	require.Error(t, err)
}

func TestGenerateBatches_CallbackErrorStops(t *testing.T) {
	l := NewVideoLoader(twoVideos(t), 15, &fakeStreamer{})

	calls := 0
	wantErr := fmt.Errorf("stop here")
	err := l.GenerateBatches(context.Background(), 0, func(b Batch) error {
		calls++
		if b.Number == 1 {
			return wantErr
		}
		return nil
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, calls)
}
