package ui

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/geometry"
	"github.com/dudu/mouthless/internal/position"
)

var (
	quadColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	centreColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	labelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// DrawOverlay draws the erase quad, its centre and a frame label onto img.
func DrawOverlay(img *gocv.Mat, index int, rec position.Record, scale float64) {
	q := geometry.ToQuad(rec, scale)
	if q.Finite() {
		pts := gocv.NewPointsVectorFromPoints([][]image.Point{q.Points()})
		gocv.Polylines(img, pts, true, quadColor, 2)
		pts.Close()
	}
	if !math.IsNaN(rec.CenterX) && !math.IsNaN(rec.CenterY) {
		gocv.Circle(img, image.Pt(int(rec.CenterX), int(rec.CenterY)), 3, centreColor, -1)
	}
	gocv.PutText(img, fmt.Sprintf("Frame: %d", index), image.Pt(10, 30),
		gocv.FontHersheySimplex, 0.7, labelColor, 2)
}
