package ui

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/position"
)

func TestDrawOverlay_MarksQuadAndCentre(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()

	rec := position.Record{CenterX: 100, CenterY: 120, Width: 50, Confidence: 1}
	DrawOverlay(&img, 7, rec, 1)

	centre := img.GetVecbAt(120, 100)
	assert.Equal(t, []uint8{0, 0, 255}, []uint8{centre[0], centre[1], centre[2]}, "red dot in BGR")

	// Left edge of the 50px square at x=75.
	edge := img.GetVecbAt(120, 75)
	assert.Equal(t, uint8(255), edge[1], "green outline")

	corner := img.GetVecbAt(190, 190)
	assert.Equal(t, uint8(0), corner[0]+corner[1]+corner[2])
}

func TestDrawOverlay_SkipsNonFiniteQuad(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()

	assert.NotPanics(t, func() {
		DrawOverlay(&img, 0, position.Record{CenterX: math.NaN(), CenterY: 50, Width: 20}, 1)
	})
}
