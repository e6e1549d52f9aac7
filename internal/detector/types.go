package detector

// Point is a landmark in frame pixels.
type Point struct {
	X, Y float32
}

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Landmarks are the five SCRFD keypoints, named as seen in the image.
type Landmarks struct {
	LeftEye    Point
	RightEye   Point
	Nose       Point
	LeftMouth  Point
	RightMouth Point
}

// Landmarks106 represents 106 facial landmark points from insightface
type Landmarks106 [106]Point

// Index ranges of the insightface 106-point layout.
var (
	leftEyeIndices  = span(33, 42) // image left
	rightEyeIndices = span(87, 96)
	mouthIndices    = span(52, 71)
)

const (
	mouthLeftCorner  = 52
	mouthRightCorner = 61
)

func span(from, to int) []int {
	idx := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		idx = append(idx, i)
	}
	return idx
}

// Centroid averages the points at indices.
func (l *Landmarks106) Centroid(indices []int) Point {
	var c Point
	for _, i := range indices {
		c.X += l[i].X
		c.Y += l[i].Y
	}
	n := float32(len(indices))
	return Point{X: c.X / n, Y: c.Y / n}
}

// Face represents a detected face
type Face struct {
	BoundingBox  BoundingBox
	Landmarks    Landmarks     // 5-point from SCRFD
	Landmarks106 *Landmarks106 // 106-point from 2d106det (optional)
	Score        float32
}
