package models

import (
	"math"
	"time"
)

// BBox is a bounding box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// AlmostEqual reports whether two boxes match within a 1% tolerance per
// coordinate. Used to re-associate tracker output with stored detections;
// persisted values always compare exactly.
func (b BBox) AlmostEqual(o BBox) bool {
	return within(b.X1, o.X1) && within(b.Y1, o.Y1) &&
		within(b.X2, o.X2) && within(b.Y2, o.Y2)
}

func within(a, b float64) bool {
	tol := math.Abs(a) * 0.01
	return math.Abs(a-b) <= tol
}

// Detection is one candidate object in one frame.
type Detection struct {
	BBox        BBox    `json:"bbox"`
	Probability float64 `json:"probability"`
	Label       int     `json:"label"`
	// Frame is the absolute frame number across all videos of a job.
	Frame int `json:"frame"`
	// FrameID is the frame index within the owning video.
	FrameID *int `json:"frame_id"`
	// VideoID is the owning video, nil until assigned.
	VideoID *int `json:"video_id"`
}

// SetFrame attaches frame bookkeeping to the detection. Called exactly once,
// after the detector response and before the detection is folded into a Frame.
func (d *Detection) SetFrame(frame, frameID, videoID int) {
	d.Frame = frame
	d.FrameID = &frameID
	d.VideoID = &videoID
}

// Frame is one decoded video position with its detections.
type Frame struct {
	Idx        int         `json:"idx"`
	Detections []Detection `json:"detections"`
	Timestamp  *time.Time  `json:"timestamp"`
	VideoID    *int        `json:"video_id"`
}

// Same reports frame identity. Only (idx, videoID) take part; detection
// contents are never compared.
func (f Frame) Same(o Frame) bool {
	if f.Idx != o.Idx {
		return false
	}
	if f.VideoID == nil || o.VideoID == nil {
		return f.VideoID == nil && o.VideoID == nil
	}
	return *f.VideoID == *o.VideoID
}
