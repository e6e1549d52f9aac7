// Package geometry maps rotated mouth quads to and from the fixed-size
// normalized patch space.
package geometry

import (
	"image"
	"math"

	"github.com/dudu/mouthless/internal/position"
)

// Point is a sub-pixel location in frame or patch coordinates.
type Point struct {
	X, Y float64
}

// Quad is a 4-point polygon ordered top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]Point

// ToQuad builds the rotated square covering a position record. The side is
// Width*scale; Height does not contribute, the region is always square.
func ToQuad(rec position.Record, scale float64) Quad {
	half := rec.Width * scale / 2
	rad := rec.Rotation * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	offsets := [4]Point{{-half, -half}, {half, -half}, {half, half}, {-half, half}}
	var q Quad
	for i, o := range offsets {
		q[i] = Point{
			X: o.X*cos - o.Y*sin + rec.CenterX,
			Y: o.X*sin + o.Y*cos + rec.CenterY,
		}
	}
	return q
}

// Position reduces the quad back to centre, mean edge lengths and the angle
// of the top edge in degrees. Confidence is left at zero.
func (q Quad) Position() position.Record {
	var cx, cy float64
	for _, p := range q {
		cx += p.X
		cy += p.Y
	}
	top := q[1].sub(q[0])
	bottom := q[2].sub(q[3])
	left := q[3].sub(q[0])
	right := q[2].sub(q[1])

	return position.Record{
		CenterX:  cx / 4,
		CenterY:  cy / 4,
		Width:    (top.norm() + bottom.norm()) / 2,
		Height:   (left.norm() + right.norm()) / 2,
		Rotation: math.Atan2(top.Y, top.X) * 180 / math.Pi,
	}
}

// Area returns the unsigned shoelace area.
func (q Quad) Area() float64 {
	var s float64
	for i := range q {
		j := (i + 1) % len(q)
		s += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(s) / 2
}

// Finite reports whether every corner has finite coordinates.
func (q Quad) Finite() bool {
	for _, p := range q {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}

// Bounds returns the integer rectangle enclosing the quad, padded by one
// pixel for bilinear support.
func (q Quad) Bounds() image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range q {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return image.Rect(
		int(math.Floor(minX))-1,
		int(math.Floor(minY))-1,
		int(math.Ceil(maxX))+2,
		int(math.Ceil(maxY))+2,
	)
}

// Points converts the quad to integer vertices for drawing.
func (q Quad) Points() []image.Point {
	pts := make([]image.Point, len(q))
	for i, p := range q {
		pts[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return pts
}

// square returns the corners of the n×n normalized patch in quad order.
func square(n int) Quad {
	s := float64(n - 1)
	return Quad{{0, 0}, {s, 0}, {s, s}, {0, s}}
}

func (p Point) sub(o Point) Point { return Point{p.X - o.X, p.Y - o.Y} }

func (p Point) norm() float64 { return math.Hypot(p.X, p.Y) }
