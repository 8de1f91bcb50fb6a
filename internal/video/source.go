package video

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/your-org/vidtrack/internal/models"
)

// Source provides decoded frame access to one video file. Every access path
// runs the same ffmpeg filter chain (scale to the video's output dimensions,
// RGB-ordered JPEG output), so FrameAt, FrameRange and IterFrom agree
// bit-for-bit on color space and resolution.
type Source struct {
	video *models.Video
}

func NewSource(v *models.Video) *Source {
	return &Source{video: v}
}

// ffmpegArgs builds the decode command starting at the given frame. The
// filter chain is shared by all access paths.
func (s *Source) ffmpegArgs(start int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", s.video.Path,
		"-vf", fmt.Sprintf("select=gte(n\\,%d),scale=%d:%d", start, s.video.OutputWidth, s.video.OutputHeight),
		"-vsync", "0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	}
}

// FrameAt returns the single decoded frame at index i.
func (s *Source) FrameAt(ctx context.Context, i int) ([]byte, error) {
	if i < 0 || i >= s.video.FrameCount {
		return nil, fmt.Errorf("frame index %d out of range for %d frames", i, s.video.FrameCount)
	}

	stream, err := s.IterFrom(ctx, i)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	return stream.Next()
}

// FrameRange returns the contiguous frames [start, stop). A nil stop means
// the end of the video; a negative stop is relative to the end.
func (s *Source) FrameRange(ctx context.Context, start int, stop *int) ([][]byte, error) {
	if start < 0 {
		return nil, fmt.Errorf("range start %d is negative", start)
	}

	end := s.video.FrameCount
	if stop != nil {
		end = *stop
		if end < 0 {
			end = s.video.FrameCount + end
		} else if end > s.video.FrameCount {
			return nil, fmt.Errorf("range stop %d beyond %d frames", end, s.video.FrameCount)
		}
	}
	if end < start {
		return nil, fmt.Errorf("range stop %d before start %d", end, start)
	}

	stream, err := s.IterFrom(ctx, start)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	frames := make([][]byte, 0, end-start)
	for i := start; i < end; i++ {
		frame, err := stream.Next()
		if err != nil {
			return nil, fmt.Errorf("read frame %d of %s: %w", i, s.video.Path, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// IterFrom starts a lazy, finite, non-restartable stream of frames from
// start to the end of the video. The caller owns the returned stream and
// must Close it.
func (s *Source) IterFrom(ctx context.Context, start int) (*Stream, error) {
	if start < 0 || start >= s.video.FrameCount {
		return nil, fmt.Errorf("start %d out of bounds for %d frames", start, s.video.FrameCount)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", s.ffmpegArgs(start)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "path", s.video.Path, "output", scanner.Text())
		}
	}()

	return &Stream{
		reader:    bufio.NewReaderSize(stdout, 512*1024),
		cmd:       cmd,
		cancel:    cancel,
		remaining: s.video.FrameCount - start,
	}, nil
}

// Stream yields consecutive JPEG frames from a running ffmpeg process.
type Stream struct {
	reader    *bufio.Reader
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	remaining int
	done      bool
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (st *Stream) Next() ([]byte, error) {
	if st.done || st.remaining == 0 {
		st.finish()
		return nil, io.EOF
	}

	if err := findJPEGStart(st.reader); err != nil {
		st.finish()
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("scan jpeg start: %w", err)
	}

	frame, err := readUntilJPEGEnd(st.reader)
	if err != nil {
		st.finish()
		return nil, fmt.Errorf("scan jpeg end: %w", err)
	}

	st.remaining--
	return frame, nil
}

// Close terminates the underlying decoder. Safe to call more than once.
func (st *Stream) Close() {
	st.finish()
}

func (st *Stream) finish() {
	if st.done {
		return
	}
	st.done = true
	st.cancel()
	_ = st.cmd.Wait()
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
