package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/mouthless/internal/position"
)

func box(x1, y1, x2, y2 float32, score float32) Face {
	return Face{BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func TestIOU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1, iou(a, a), 1e-6)
	assert.Zero(t, iou(a, BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	assert.InDelta(t, 25.0/175.0, iou(a, BoundingBox{X1: 5, Y1: 5, X2: 15, Y2: 15}), 1e-6)
}

func TestNMS_KeepsBestOfOverlappingGroup(t *testing.T) {
	faces := []Face{
		box(0, 0, 100, 100, 0.7),
		box(200, 0, 300, 100, 0.6),
		box(5, 5, 105, 105, 0.9),
	}
	kept := nms(faces, 0.4)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-6)
	assert.InDelta(t, 0.6, kept[1].Score, 1e-6)
	assert.Empty(t, nms(nil, 0.4))
}

// syntheticFace places a 40x10 mouth centred at (200, 300) and eyes at y=200,
// then rotates everything by deg around the mouth centre.
func syntheticFace(deg float64) *Landmarks106 {
	var lm Landmarks106
	set := func(i int, x, y float64) {
		lm[i] = Point{X: float32(x), Y: float32(y)}
	}
	for _, i := range leftEyeIndices {
		set(i, 160, 200)
	}
	for _, i := range rightEyeIndices {
		set(i, 240, 200)
	}
	for k, i := range mouthIndices {
		// an ellipse of lip points
		a := 2 * math.Pi * float64(k) / float64(len(mouthIndices))
		set(i, 200+20*math.Cos(a), 300+5*math.Sin(a))
	}
	set(mouthLeftCorner, 180, 300)
	set(mouthRightCorner, 220, 300)

	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	for i := range lm {
		x, y := float64(lm[i].X)-200, float64(lm[i].Y)-300
		set(i, 200+x*cos-y*sin, 300+x*sin+y*cos)
	}
	return &lm
}

func TestMouthFromFace_Landmarks106(t *testing.T) {
	rec, ok := MouthFromFace(Face{Landmarks106: syntheticFace(0)}, 100, 100, 0.3)
	require.True(t, ok)
	assert.InDelta(t, 200, rec.CenterX, 0.5)
	assert.InDelta(t, 300, rec.CenterY, 0.5)
	assert.InDelta(t, 40*1.3, rec.Width, 1e-3)
	assert.InDelta(t, 10*1.3, rec.Height, 0.5)
	assert.InDelta(t, 0, rec.Rotation, 1e-6)
	assert.Equal(t, position.ConfidenceDetected, rec.Confidence)
}

func TestMouthFromFace_RotationFollowsEyes(t *testing.T) {
	rec, ok := MouthFromFace(Face{Landmarks106: syntheticFace(15)}, 100, 100, 0)
	require.True(t, ok)
	assert.InDelta(t, 15, rec.Rotation, 1e-3)
	assert.InDelta(t, 40, rec.Width, 1e-3, "width is measured along the corner axis")
	assert.InDelta(t, 10, rec.Height, 0.5)
}

func TestMouthFromFace_FivePointFallback(t *testing.T) {
	face := Face{Landmarks: Landmarks{
		LeftEye:    Point{X: 100, Y: 100},
		RightEye:   Point{X: 200, Y: 100},
		LeftMouth:  Point{X: 120, Y: 200},
		RightMouth: Point{X: 180, Y: 200},
	}}
	rec, ok := MouthFromFace(face, 100, 100, 0)
	require.True(t, ok)
	assert.InDelta(t, 150, rec.CenterX, 1e-6)
	assert.InDelta(t, 200, rec.CenterY, 1e-6)
	assert.InDelta(t, 60, rec.Width, 1e-6)
	assert.InDelta(t, 60*fivePointHeight, rec.Height, 1e-6)
}

func TestMouthFromFace_MinimumSize(t *testing.T) {
	face := Face{Landmarks: Landmarks{
		RightEye:   Point{X: 1},
		LeftMouth:  Point{X: 100, Y: 100},
		RightMouth: Point{X: 101, Y: 100},
	}}
	rec, ok := MouthFromFace(face, 640, 480, 0.3)
	require.True(t, ok)
	assert.InDelta(t, 640*minWidthShare, rec.Width, 1e-9)
	assert.InDelta(t, 480*minHeightShare, rec.Height, 1e-9)
}

func TestMouthFromFace_RejectsNaN(t *testing.T) {
	face := Face{Landmarks: Landmarks{LeftMouth: Point{X: float32(math.NaN())}}}
	_, ok := MouthFromFace(face, 640, 480, 0.3)
	assert.False(t, ok)
}

func TestFromCrop_InvertsCropTransform(t *testing.T) {
	c := Point{X: 320, Y: 240}
	scale := float32(0.8)
	m := cropTransform(c, scale)
	defer m.Close()

	// A point at crop pixel (96+48, 96-24) is (0.5, -0.25) in model units.
	out := make([]float32, 212)
	out[0], out[1] = 0.5, -0.25
	lm := fromCrop(out, c, scale)

	x := m.GetDoubleAt(0, 0)*float64(lm[0].X) + m.GetDoubleAt(0, 2)
	y := m.GetDoubleAt(1, 1)*float64(lm[0].Y) + m.GetDoubleAt(1, 2)
	assert.InDelta(t, 144, x, 1e-3)
	assert.InDelta(t, 72, y, 1e-3)
	assert.Equal(t, c, lm[1])
}
