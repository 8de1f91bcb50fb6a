package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/your-org/vidtrack/internal/models"
	"github.com/your-org/vidtrack/internal/video"
)

// FrameStream yields consecutive decoded frames of one video.
type FrameStream interface {
	// Next returns the next frame, or io.EOF once exhausted.
	Next() ([]byte, error)
	Close()
}

// Streamer opens a frame stream over a video from a local frame offset. The
// production implementation decodes with ffmpeg; tests substitute synthetic
// frames.
type Streamer interface {
	Stream(ctx context.Context, v *models.Video, start int) (FrameStream, error)
}

type ffmpegStreamer struct{}

func (ffmpegStreamer) Stream(ctx context.Context, v *models.Video, start int) (FrameStream, error) {
	return video.NewSource(v).IterFrom(ctx, start)
}

// NewFFmpegStreamer returns the ffmpeg-backed frame streamer.
func NewFFmpegStreamer() Streamer {
	return ffmpegStreamer{}
}

// Batch is one fixed-size chunk of the absolute frame stream of a job.
type Batch struct {
	// Number is the absolute batch index across all videos.
	Number int
	// Progress is the percent of batches completed once this one commits.
	Progress int
	// Frames holds decoded frames in batch order.
	Frames [][]byte
	// Timestamps holds the per-frame timestamps, aligned with Frames.
	Timestamps []time.Time
	// Owners holds the video each frame belongs to, aligned with Frames.
	// A batch spanning a short video and the start of the next repeats
	// local frame numbers, so ownership cannot be keyed by them.
	Owners []*models.Video
	// LocalFrames holds the frame number within the owning video, aligned
	// with Frames.
	LocalFrames []int
}

// VideoLoader presents the videos of one job as a single contiguous,
// batch-chunked frame stream with one absolute frame counter, restartable
// from any batch offset.
//
// Precondition: videos must already be sorted by timestamp.
type VideoLoader struct {
	videos    []*models.Video
	batchSize int
	streamer  Streamer
}

func NewVideoLoader(videos []*models.Video, batchSize int, streamer Streamer) *VideoLoader {
	return &VideoLoader{videos: videos, batchSize: batchSize, streamer: streamer}
}

// TotalFrames sums the frame counts over all videos.
func (l *VideoLoader) TotalFrames() int {
	return lo.SumBy(l.videos, func(v *models.Video) int { return v.FrameCount })
}

// TotalBatches is the number of batches the frame stream chunks into.
func (l *VideoLoader) TotalBatches() int {
	return int(math.Ceil(float64(l.TotalFrames()) / float64(l.batchSize)))
}

// Locate resolves an absolute frame number to (video index, local offset).
// Videos own the half-open absolute ranges [cum, cum+frameCount).
func (l *VideoLoader) Locate(frame int) (int, int, error) {
	if frame < 0 || frame >= l.TotalFrames() {
		return 0, 0, fmt.Errorf("cannot find video for frame %d of %d", frame, l.TotalFrames())
	}

	cum := 0
	for i, v := range l.videos {
		if frame < cum+v.FrameCount {
			return i, frame - cum, nil
		}
		cum += v.FrameCount
	}
	return 0, 0, fmt.Errorf("cannot find video for frame %d of %d", frame, l.TotalFrames())
}

// BatchFunc receives one generated batch. Returning a non-nil error stops
// generation and surfaces the error from GenerateBatches.
type BatchFunc func(Batch) error

// GenerateBatches walks the absolute frame stream from startBatch onward,
// calling fn once per filled batch. The final partial batch, if any, is
// yielded with progress 100. Batches continue across video boundaries
// transparently; only batchSize frames are ever buffered.
func (l *VideoLoader) GenerateBatches(ctx context.Context, startBatch int, fn BatchFunc) error {
	total := l.TotalBatches()
	if startBatch > total {
		return fmt.Errorf("start batch %d is beyond the %d batches of this loader", startBatch, total)
	}
	if startBatch == total {
		return nil
	}

	startVid, startFrame, err := l.Locate(startBatch * l.batchSize)
	if err != nil {
		return err
	}

	batch := Batch{Number: startBatch}
	flush := func(progress int) error {
		batch.Progress = progress
		if err := fn(batch); err != nil {
			return err
		}
		batch = Batch{Number: batch.Number + 1}
		return nil
	}

	for _, vid := range l.videos[startVid:] {
		stream, err := l.streamer.Stream(ctx, vid, startFrame)
		if err != nil {
			return fmt.Errorf("open frame stream for %s: %w", vid.Path, err)
		}

		for n := startFrame; ; n++ {
			frame, err := stream.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				stream.Close()
				return fmt.Errorf("decode frame %d of %s: %w", n, vid.Path, err)
			}

			ts, err := vid.TimestampAt(n)
			if err != nil {
				stream.Close()
				return err
			}

			batch.Frames = append(batch.Frames, frame)
			batch.Timestamps = append(batch.Timestamps, ts)
			batch.LocalFrames = append(batch.LocalFrames, n)
			batch.Owners = append(batch.Owners, vid)

			if len(batch.Frames) == l.batchSize {
				progress := int(math.Round(float64(batch.Number+1) / float64(total) * 100))
				if err := flush(progress); err != nil {
					stream.Close()
					return err
				}
			}
		}
		stream.Close()
		startFrame = 0
	}

	if len(batch.Frames) > 0 {
		return flush(100)
	}
	return nil
}
