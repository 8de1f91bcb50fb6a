package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/your-org/vidtrack/internal/models"
)

// Probe reads video metadata with ffprobe. Every returned field is >= 1;
// anything less means the file is not a usable video and Probe fails.
func Probe(ctx context.Context, path string) (width, height, fps, frameCount int, err error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=width,height,r_frame_rate,nb_read_frames",
		"-of", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("probe %s: %w", path, err)
	}

	var res struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			FrameRate string `json:"r_frame_rate"`
			NbFrames  string `json:"nb_read_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse probe output for %s: %w", path, err)
	}
	if len(res.Streams) == 0 {
		return 0, 0, 0, 0, fmt.Errorf("no video stream in %s", path)
	}

	st := res.Streams[0]
	fps, err = parseFrameRate(st.FrameRate)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("probe %s: %w", path, err)
	}
	frameCount, _ = strconv.Atoi(st.NbFrames)

	for _, v := range []int{st.Width, st.Height, fps, frameCount} {
		if v < 1 {
			return 0, 0, 0, 0, fmt.Errorf("could not get metadata for %s", path)
		}
	}
	return st.Width, st.Height, fps, frameCount, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to whole frames per
// second.
func parseFrameRate(rate string) (int, error) {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		n, err := strconv.Atoi(rate)
		if err != nil {
			return 0, fmt.Errorf("bad frame rate %q", rate)
		}
		return n, nil
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q", rate)
	}
	d, err := strconv.Atoi(den)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("bad frame rate %q", rate)
	}
	return n / d, nil
}

// FromPath probes a file, derives its timestamp from the file name, and
// builds a Video. Fails fast on unreadable files or missing timestamps so a
// malformed video is never discovered mid-pipeline.
func FromPath(ctx context.Context, path string, outputWidth, outputHeight int) (*models.Video, error) {
	ts, ok := models.TimestampFromPath(path)
	if !ok {
		return nil, fmt.Errorf("video %s: %w", path, models.ErrTimestampNotFound)
	}

	width, height, fps, frameCount, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	return models.NewVideo(path, frameCount, fps, width, height, ts, outputWidth, outputHeight)
}
