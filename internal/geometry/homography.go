package geometry

import (
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateQuad is returned when a quad cannot define a projective
// mapping: non-finite corners, (near) zero area or a singular system.
var ErrDegenerateQuad = errors.New("degenerate quad")

// minQuadArea is the smallest quad area in px² accepted for projection.
const minQuadArea = 1.0

// Homography is a row-major 3×3 projective transform with h[8] == 1.
type Homography [9]float64

// ForwardHomography maps the quad onto the n×n normalized square.
func ForwardHomography(q Quad, n int) (Homography, error) {
	if err := checkQuad(q); err != nil {
		return Homography{}, err
	}
	return solveHomography(q, square(n))
}

// InverseHomography maps the n×n normalized square onto the quad. It is
// solved from the correspondences in the opposite direction rather than by
// inverting the forward matrix.
func InverseHomography(q Quad, n int) (Homography, error) {
	if err := checkQuad(q); err != nil {
		return Homography{}, err
	}
	return solveHomography(square(n), q)
}

func checkQuad(q Quad) error {
	if !q.Finite() {
		return errors.Wrap(ErrDegenerateQuad, "non-finite corner")
	}
	if a := q.Area(); a < minQuadArea {
		return errors.Wrapf(ErrDegenerateQuad, "area %.3g px²", a)
	}
	for i := range q {
		prev, next := q[(i+3)%4].sub(q[i]), q[(i+1)%4].sub(q[i])
		cross := prev.X*next.Y - prev.Y*next.X
		if math.Abs(cross) <= 1e-9*prev.norm()*next.norm() {
			return errors.Wrapf(ErrDegenerateQuad, "collinear corners at %d", i)
		}
	}
	return nil
}

// solveHomography solves the exact 8-unknown system A·h = b built from four
// correspondences src[i] -> dst[i], with h22 fixed to 1. Both point sets are
// first moved to their centroid and scaled to a mean radius of √2 so the
// system stays well conditioned at any frame resolution.
func solveHomography(src, dst Quad) (Homography, error) {
	srcN, srcT, _ := normalize(src)
	dstN, _, dstInv := normalize(dst)

	hn, err := solveNormalized(srcN, dstN)
	if err != nil {
		return Homography{}, err
	}

	H := mul(dstInv, mul(hn, srcT))
	w := H[8]
	if math.Abs(w) < 1e-12 {
		return Homography{}, errors.Wrap(ErrDegenerateQuad, "point at infinity")
	}
	for i := range H {
		H[i] /= w
	}
	for _, v := range H {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Homography{}, errors.Wrap(ErrDegenerateQuad, "non-finite solution")
		}
	}
	return H, nil
}

func solveNormalized(src, dst Quad) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		a.SetRow(r, []float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x})
		b.SetVec(r, x)
		a.SetRow(r+1, []float64{0, 0, 0, X, Y, 1, -X * y, -Y * y})
		b.SetVec(r+1, y)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Homography{}, errors.Wrap(ErrDegenerateQuad, err.Error())
	}

	var H Homography
	for i := range 8 {
		H[i] = h.AtVec(i)
	}
	H[8] = 1
	return H, nil
}

// normalize shifts the quad to its centroid and scales it isotropically. It
// returns the moved points, the applied transform and its inverse.
func normalize(q Quad) (Quad, Homography, Homography) {
	var cx, cy float64
	for _, p := range q {
		cx += p.X / 4
		cy += p.Y / 4
	}
	var mean float64
	for _, p := range q {
		mean += math.Hypot(p.X-cx, p.Y-cy) / 4
	}
	s := math.Sqrt2 / mean

	var out Quad
	for i, p := range q {
		out[i] = Point{(p.X - cx) * s, (p.Y - cy) * s}
	}
	fwd := Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
	inv := Homography{1 / s, 0, cx, 0, 1 / s, cy, 0, 0, 1}
	return out, fwd, inv
}

func mul(a, b Homography) Homography {
	var c Homography
	for r := range 3 {
		for k := range 3 {
			var sum float64
			for j := range 3 {
				sum += a[r*3+j] * b[j*3+k]
			}
			c[r*3+k] = sum
		}
	}
	return c
}

// apply maps a point through the transform.
func (h Homography) apply(p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return Point{}, false
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Translate returns the transform followed by a shift of (dx, dy).
func (h Homography) Translate(dx, dy float64) Homography {
	return Homography{
		h[0] + dx*h[6], h[1] + dx*h[7], h[2] + dx*h[8],
		h[3] + dy*h[6], h[4] + dy*h[7], h[5] + dy*h[8],
		h[6], h[7], h[8],
	}
}

// Mat copies the transform into a 3×3 CV_64F Mat. The caller owns it.
func (h Homography) Mat() gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for i, v := range h {
		m.SetDoubleAt(i/3, i%3, v)
	}
	return m
}
