package models

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Object is an aggregated tracked entity: all detections the tracker believes
// belong to the same physical thing, across frames and videos.
//
// Label and Probability are derived from the member detections and recomputed
// on every AddDetection, so they can never drift from the detection set.
type Object struct {
	ID          int
	TrackID     int
	Label       int
	Probability float64
	TimeIn      time.Time
	TimeOut     time.Time

	detections []Detection
}

// NewObject creates an object from tracker output.
func NewObject(trackID int, detections []Detection) *Object {
	o := &Object{TrackID: trackID, detections: detections}
	o.calcLabel()
	return o
}

// calcLabel derives the label as the statistical mode over member detections,
// ties broken by the lowest label value, and the probability as the mean
// probability over all detections of those carrying the derived label.
func (o *Object) calcLabel() {
	if len(o.detections) == 0 {
		return
	}

	counts := make(map[int]int, len(o.detections))
	for _, d := range o.detections {
		counts[d.Label]++
	}

	best, bestCount := 0, -1
	for label, count := range counts {
		if count > bestCount || (count == bestCount && label < best) {
			best, bestCount = label, count
		}
	}
	o.Label = best

	var sum float64
	for _, d := range o.detections {
		if d.Label == o.Label {
			sum += d.Probability
		}
	}
	o.Probability = sum / float64(len(o.detections))
}

// AddDetection appends a detection and rederives label and probability.
func (o *Object) AddDetection(d Detection) {
	o.detections = append(o.detections, d)
	o.calcLabel()
}

// Detections returns a copy of the member detections in insertion order.
func (o *Object) Detections() []Detection {
	out := make([]Detection, len(o.detections))
	copy(out, o.detections)
	return out
}

func (o *Object) DetectionCount() int {
	return len(o.detections)
}

// DetectionAt returns the detection at idx, or false when out of range.
func (o *Object) DetectionAt(idx int) (Detection, bool) {
	if idx < 0 || idx >= len(o.detections) {
		return Detection{}, false
	}
	return o.detections[idx], true
}

// VideoIDs derives the distinct videos this object spans, ascending.
func (o *Object) VideoIDs() []int {
	ids := lo.Uniq(lo.FilterMap(o.detections, func(d Detection, _ int) (int, bool) {
		if d.VideoID == nil {
			return 0, false
		}
		return *d.VideoID, true
	}))
	sort.Ints(ids)
	return ids
}

// FrameMembership lists (frameID, videoID, bbox) for every member detection.
func (o *Object) FrameMembership() []ObjectFrame {
	out := make([]ObjectFrame, 0, len(o.detections))
	for _, d := range o.detections {
		out = append(out, ObjectFrame{FrameID: d.FrameID, VideoID: d.VideoID, BBox: d.BBox})
	}
	return out
}

// ObjectFrame locates one member detection of an object.
type ObjectFrame struct {
	FrameID *int
	VideoID *int
	BBox    BBox
}
