package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectLabel_Mode(t *testing.T) {
	obj := NewObject(7, []Detection{
		{Label: 2, Probability: 0.9},
		{Label: 2, Probability: 0.8},
		{Label: 1, Probability: 0.99},
	})

	assert.Equal(t, 7, obj.TrackID)
	assert.Equal(t, 2, obj.Label)
	// Mean over all three detections, summing only the matching ones.
	assert.InDelta(t, (0.9+0.8)/3.0, obj.Probability, 1e-9)
}

func TestObjectLabel_TieBreaksLow(t *testing.T) {
	obj := NewObject(1, []Detection{
		{Label: 2, Probability: 0.8},
		{Label: 1, Probability: 0.9},
		{Label: 2, Probability: 0.7},
		{Label: 1, Probability: 1.0},
	})

	assert.Equal(t, 1, obj.Label)
	assert.InDelta(t, 0.475, obj.Probability, 1e-9)
}

func TestObjectAddDetection_Rederives(t *testing.T) {
	obj := NewObject(1, []Detection{
		{Label: 1, Probability: 1.0},
		{Label: 2, Probability: 0.6},
	})
	require.Equal(t, 1, obj.Label)

	obj.AddDetection(Detection{Label: 2, Probability: 0.8})
	obj.AddDetection(Detection{Label: 2, Probability: 0.9})

	assert.Equal(t, 2, obj.Label)
	assert.InDelta(t, (0.6+0.8+0.9)/4.0, obj.Probability, 1e-9)
	assert.Equal(t, 4, obj.DetectionCount())
}

func TestObjectEmpty(t *testing.T) {
	obj := NewObject(1, nil)
	assert.Equal(t, 0, obj.Label)
	assert.Zero(t, obj.Probability)
	assert.Empty(t, obj.Detections())
}

func TestObjectDetectionAt(t *testing.T) {
	obj := NewObject(1, []Detection{
		{Label: 1, Probability: 0.5, Frame: 3},
		{Label: 1, Probability: 0.6, Frame: 9},
	})

	d, ok := obj.DetectionAt(1)
	require.True(t, ok)
	assert.Equal(t, 9, d.Frame)

	_, ok = obj.DetectionAt(2)
	assert.False(t, ok)
	_, ok = obj.DetectionAt(-1)
	assert.False(t, ok)
}

func TestObjectVideoIDs(t *testing.T) {
	vid1, vid2 := 1, 2
	obj := NewObject(1, []Detection{
		{Label: 1, VideoID: &vid2},
		{Label: 1, VideoID: &vid1},
		{Label: 1, VideoID: &vid2},
		{Label: 1},
	})

	assert.Equal(t, []int{1, 2}, obj.VideoIDs())
}

func TestBBoxAlmostEqual(t *testing.T) {
	a := BBox{X1: 100, Y1: 200, X2: 300, Y2: 400}

	assert.True(t, a.AlmostEqual(a))
	assert.True(t, a.AlmostEqual(BBox{X1: 100.5, Y1: 201, X2: 301, Y2: 398}))
	assert.False(t, a.AlmostEqual(BBox{X1: 105, Y1: 200, X2: 300, Y2: 400}))
}
