package models

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	VideoDefaultWidth  = 640
	VideoDefaultHeight = 360
)

// ErrTimestampNotFound is returned when no timestamp can be derived for a
// video. A video without a timestamp can never be attached to a job.
var ErrTimestampNotFound = errors.New("no timestamp found for video")

// Video is one recording owned by a job. Frames holds the positions that have
// been processed so far, in index order.
type Video struct {
	ID           int
	Path         string
	FrameCount   int
	FPS          int
	Width        int
	Height       int
	OutputWidth  int
	OutputHeight int
	// Timestamp marks frame 0. Required; construction fails without one.
	Timestamp time.Time
	Frames    []Frame
}

// NewVideo validates metadata and returns a Video. The timestamp marks frame
// zero and must be set; output dimensions must be positive.
func NewVideo(path string, frameCount, fps, width, height int, timestamp time.Time, outputWidth, outputHeight int) (*Video, error) {
	if timestamp.IsZero() {
		return nil, fmt.Errorf("video %s: %w", path, ErrTimestampNotFound)
	}
	if outputWidth <= 0 || outputHeight <= 0 {
		return nil, fmt.Errorf("video %s: output dimensions must be positive, got %dx%d", path, outputWidth, outputHeight)
	}
	if frameCount < 1 || fps < 1 || width < 1 || height < 1 {
		return nil, fmt.Errorf("video %s: invalid metadata (%d frames, %d fps, %dx%d)", path, frameCount, fps, width, height)
	}
	return &Video{
		Path:         path,
		FrameCount:   frameCount,
		FPS:          fps,
		Width:        width,
		Height:       height,
		OutputWidth:  outputWidth,
		OutputHeight: outputHeight,
		Timestamp:    timestamp,
	}, nil
}

// Exists reports whether the backing file is present on disk.
func (v *Video) Exists() bool {
	info, err := os.Stat(v.Path)
	return err == nil && info.Mode().IsRegular()
}

// TimestampAt returns the timestamp of frame idx, derived from the video's
// start timestamp and frame rate. Valid for 0 <= idx <= FrameCount.
func (v *Video) TimestampAt(idx int) (time.Time, error) {
	if idx < 0 || idx > v.FrameCount {
		return time.Time{}, fmt.Errorf("frame index %d out of range for %d frames", idx, v.FrameCount)
	}
	return v.Timestamp.Add(time.Duration(idx/v.FPS) * time.Second), nil
}

// AddFrame records one processed position. Re-adding a frame that is already
// present by (idx, videoID) is an error, as is an index beyond the video.
func (v *Video) AddFrame(frame Frame) error {
	for _, f := range v.Frames {
		if f.Same(frame) {
			return fmt.Errorf("frame %d already added to video %d", frame.Idx, v.ID)
		}
	}
	if frame.Idx >= v.FrameCount {
		return fmt.Errorf("frame %d is beyond the %d frames of video %d", frame.Idx, v.FrameCount, v.ID)
	}
	v.Frames = append(v.Frames, frame)
	return nil
}

// IsProcessed reports whether every index 0..FrameCount-1 has exactly one
// frame present in order. A check only; it never mutates the video.
func (v *Video) IsProcessed() bool {
	if len(v.Frames) != v.FrameCount {
		slog.Debug("video not fully processed",
			"path", v.Path, "frames", len(v.Frames), "frame_count", v.FrameCount)
		return false
	}
	for i := 0; i < v.FrameCount; i++ {
		if v.Frames[i].Idx != i {
			slog.Warn("frame index out of order",
				"path", v.Path, "idx", v.Frames[i].Idx, "expected", i)
			return false
		}
	}
	return true
}

// timestampPattern matches "[yyyy-mm-dd_hh-mm-ss]" with an optional
// three-digit chunk offset, e.g. "cam1-[2020-03-28_12-30-10]-001.mp4".
var timestampPattern = regexp.MustCompile(`\[\d{4}(-\d{2}){2}_(\d{2}-){2}\d{2}\](-\d{3})?`)

// ParseTimestamp derives a start timestamp from a video file name. Recorders
// split long recordings into numbered chunks; each increment of the trailing
// offset adds offsetMinutes to the bracketed timestamp.
func ParseTimestamp(name string, offsetMinutes int) (time.Time, bool) {
	match := timestampPattern.FindString(name)
	if match == "" {
		return time.Time{}, false
	}

	stamp := match
	offset := 0
	if i := strings.Index(match, "]-"); i >= 0 {
		stamp = match[:i+1]
		n, err := strconv.Atoi(match[i+2:])
		if err != nil {
			return time.Time{}, false
		}
		offset = n
	}
	stamp = strings.Trim(stamp, "[]")

	ts, err := time.Parse("2006-01-02_15-04-05", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts.Add(time.Duration(offset*offsetMinutes) * time.Minute), true
}

// TimestampFromPath applies ParseTimestamp to the file name component with
// the default 30 minute chunk offset.
func TimestampFromPath(path string) (time.Time, bool) {
	return ParseTimestamp(filepath.Base(path), 30)
}
