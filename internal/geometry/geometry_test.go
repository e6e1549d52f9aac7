package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/raster"
)

const patchSize = 256

func record(cx, cy, w, rot float64) position.Record {
	return position.Record{CenterX: cx, CenterY: cy, Width: w, Height: w / 2, Rotation: rot, Confidence: 1}
}

func TestToQuad_AxisAligned(t *testing.T) {
	q := ToQuad(record(100, 50, 20, 0), 1.5)

	want := Quad{{85, 35}, {115, 35}, {115, 65}, {85, 65}}
	for i := range q {
		assert.InDelta(t, want[i].X, q[i].X, 1e-9)
		assert.InDelta(t, want[i].Y, q[i].Y, 1e-9)
	}
	assert.InDelta(t, 900.0, q.Area(), 1e-9)
}

func TestToQuad_RotationIsClockwiseInImageSpace(t *testing.T) {
	q := ToQuad(record(0, 0, 2, 90), 1)

	// A quarter turn clockwise with y pointing down moves top-left to top-right.
	assert.InDelta(t, 1.0, q[0].X, 1e-9)
	assert.InDelta(t, -1.0, q[0].Y, 1e-9)
}

func TestQuadPosition_RoundTrip(t *testing.T) {
	rec := record(320.5, 240.25, 64, -17)
	got := ToQuad(rec, 1).Position()

	assert.InDelta(t, rec.CenterX, got.CenterX, 1e-9)
	assert.InDelta(t, rec.CenterY, got.CenterY, 1e-9)
	assert.InDelta(t, rec.Width, got.Width, 1e-9)
	assert.InDelta(t, rec.Width, got.Height, 1e-9, "quads are square")
	assert.InDelta(t, rec.Rotation, got.Rotation, 1e-9)
}

func TestHomography_MapsCornersExactly(t *testing.T) {
	q := ToQuad(record(640, 360, 180, 33), 1.2)

	fwd, err := ForwardHomography(q, patchSize)
	require.NoError(t, err)
	inv, err := InverseHomography(q, patchSize)
	require.NoError(t, err)

	sq := square(patchSize)
	for i := range q {
		p, ok := fwd.apply(q[i])
		require.True(t, ok)
		assert.InDelta(t, sq[i].X, p.X, 1e-6)
		assert.InDelta(t, sq[i].Y, p.Y, 1e-6)

		back, ok := inv.apply(sq[i])
		require.True(t, ok)
		assert.InDelta(t, q[i].X, back.X, 1e-6)
		assert.InDelta(t, q[i].Y, back.Y, 1e-6)
	}

	// Solving each direction separately still composes to the identity.
	mid, _ := inv.apply(Point{100, 37})
	again, _ := fwd.apply(mid)
	assert.InDelta(t, 100.0, again.X, 1e-6)
	assert.InDelta(t, 37.0, again.Y, 1e-6)
}

func TestHomography_DegenerateQuads(t *testing.T) {
	cases := map[string]Quad{
		"zero width":  ToQuad(record(50, 50, 0, 0), 1.2),
		"tiny":        ToQuad(record(50, 50, 0.5, 0), 1),
		"nan":         ToQuad(record(math.NaN(), 50, 20, 0), 1),
		"infinite":    ToQuad(record(50, 50, math.Inf(1), 0), 1),
		"collinear":   {{0, 0}, {10, 0}, {20, 0}, {5, 10}},
		"single spot": {{3, 3}, {3, 3}, {3, 3}, {3, 3}},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ForwardHomography(q, patchSize)
			assert.True(t, errors.Is(err, ErrDegenerateQuad), "forward: %v", err)
			_, err = InverseHomography(q, patchSize)
			assert.True(t, errors.Is(err, ErrDegenerateQuad), "inverse: %v", err)
		})
	}
}

func TestHomography_Translate(t *testing.T) {
	h, err := InverseHomography(ToQuad(record(200, 120, 40, 12), 1), patchSize)
	require.NoError(t, err)

	p, _ := h.apply(Point{17, 230})
	shifted, _ := h.Translate(-150, -80).apply(Point{17, 230})
	assert.InDelta(t, p.X-150, shifted.X, 1e-9)
	assert.InDelta(t, p.Y-80, shifted.Y, 1e-9)
}

// smoothFrame renders a low-frequency colour pattern so resampling error
// stays small.
func smoothFrame(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	data := raster.Bytes(m)
	for y := range h {
		for x := range w {
			for c := range 3 {
				v := 128 + 60*math.Sin(float64(x)/17+float64(c))*math.Cos(float64(y)/23)
				data[(y*w+x)*3+c] = uint8(math.Round(v))
			}
		}
	}
	return m
}

func ones(n int) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), n, n, gocv.MatTypeCV32FC1)
	m.SetTo(gocv.NewScalar(1, 0, 0, 0))
	return m
}

func TestProjector_RoundTrip(t *testing.T) {
	const w, h = 400, 300
	frame := smoothFrame(w, h)
	defer frame.Close()

	rec := record(200, 150, 80, 20)
	q := ToQuad(rec, 1)
	p := NewProjector(patchSize)

	patch, err := p.WarpToNormalized(frame, q)
	require.NoError(t, err)
	defer patch.Close()
	assert.Equal(t, patchSize, patch.Rows())
	assert.Equal(t, patchSize, patch.Cols())

	alpha := ones(patchSize)
	defer alpha.Close()

	placed, err := p.WarpFromNormalized(patch, alpha, q, image.Pt(w, h))
	require.NoError(t, err)
	defer placed.Close()
	require.False(t, placed.Rect.Empty())
	assert.True(t, placed.Rect.In(image.Rect(0, 0, w, h)))

	src := raster.Bytes(frame)
	col := raster.Floats(placed.Color)
	al := raster.Floats(placed.Alpha)
	inner := ToQuad(rec, 0.8)
	rw := placed.Rect.Dx()

	var sum float64
	var count int
	for y := placed.Rect.Min.Y; y < placed.Rect.Max.Y; y++ {
		for x := placed.Rect.Min.X; x < placed.Rect.Max.X; x++ {
			i := (y-placed.Rect.Min.Y)*rw + (x - placed.Rect.Min.X)
			if !inside(inner, Point{float64(x), float64(y)}) {
				continue
			}
			assert.InDelta(t, 1.0, al[i], 1e-3)
			for c := range 3 {
				sum += math.Abs(float64(col[i*3+c]) - float64(src[(y*w+x)*3+c]))
				count++
			}
		}
	}
	require.NotZero(t, count)
	assert.Less(t, sum/float64(count), 2.0, "mean absolute reconstruction error")
}

func TestProjector_OffscreenQuadPlacesNothing(t *testing.T) {
	p := NewProjector(patchSize)
	patch := gocv.NewMatWithSize(patchSize, patchSize, gocv.MatTypeCV8UC3)
	defer patch.Close()
	alpha := ones(patchSize)
	defer alpha.Close()

	placed, err := p.WarpFromNormalized(patch, alpha, ToQuad(record(-500, -500, 60, 0), 1), image.Pt(320, 240))
	require.NoError(t, err)
	defer placed.Close()
	assert.True(t, placed.Rect.Empty())
}

func TestProjector_DegenerateQuadFails(t *testing.T) {
	frame := smoothFrame(64, 64)
	defer frame.Close()

	_, err := NewProjector(patchSize).WarpToNormalized(frame, ToQuad(record(32, 32, 0, 0), 1))
	assert.True(t, errors.Is(err, ErrDegenerateQuad))
}

// inside reports whether p lies within the convex quad.
func inside(q Quad, p Point) bool {
	var sign float64
	for i := range q {
		a, b := q[i], q[(i+1)%4]
		cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
		if cross == 0 {
			continue
		}
		if sign == 0 {
			sign = cross
		} else if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return true
}
