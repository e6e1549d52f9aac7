package mask

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const size = 256

func TestShapeForCoverage(t *testing.T) {
	s := ShapeForCoverage(0.5)
	assert.InDelta(t, 0.59, s.ScaleX, 1e-12)
	assert.InDelta(t, 0.51, s.ScaleY, 1e-12)
	assert.Equal(t, 0.8, s.TopClip)
	assert.Equal(t, 15, s.FeatherPx)
	assert.Equal(t, 21, s.RingPx)

	assert.Equal(t, 16, ShapeForCoverage(0).RingPx)
	assert.Equal(t, 26, ShapeForCoverage(1).RingPx)
}

func TestMasks_Invariants(t *testing.T) {
	for _, coverage := range []float64{0, 0.5, 1} {
		t.Run(fmt.Sprintf("coverage=%.1f", coverage), func(t *testing.T) {
			set := NewSet(size, ShapeForCoverage(coverage), DefaultChromaRingPx)
			defer set.Close()

			inner := Weights(set.Inner)
			ring := Weights(set.Ring)
			chroma := Weights(set.ChromaRing)
			require.Len(t, inner, size*size)
			require.Len(t, ring, size*size)

			for i := range inner {
				require.GreaterOrEqual(t, inner[i], float32(0))
				require.LessOrEqual(t, inner[i], float32(1)+1e-6)
				require.GreaterOrEqual(t, ring[i], float32(0))
				require.LessOrEqual(t, ring[i], float32(1))
				require.InDelta(t, 0, inner[i]*ring[i], 1e-2, "inner and ring overlap at %d", i)
				require.InDelta(t, 0, inner[i]*chroma[i], 1e-2, "inner and chroma ring overlap at %d", i)
			}

			for _, corner := range []int{0, size - 1, (size - 1) * size, size*size - 1} {
				assert.Zero(t, inner[corner], "inner corner %d", corner)
				assert.Zero(t, ring[corner], "ring corner %d", corner)
			}

			centre := (size/2)*size + size/2
			assert.InDelta(t, 1.0, inner[centre], 1e-3)
			assert.Zero(t, ring[centre])
		})
	}
}

func TestInner_ClipsAboveNose(t *testing.T) {
	s := ShapeForCoverage(0.5)
	s.FeatherPx = 0
	m := Inner(size, s)
	defer m.Close()
	w := Weights(m)

	ry := int(float64(size) * s.ScaleY / 2)
	clipY := int(float64(size/2) - float64(ry)*s.TopClip)
	c := size / 2

	assert.Zero(t, w[(clipY-1)*size+c], "row above the clip is cleared")
	assert.Equal(t, float32(1), w[clipY*size+c], "row at the clip is kept")
	assert.Equal(t, float32(1), w[(c+ry-2)*size+c], "lower ellipse is kept")
}

func TestRing_WidthGrowsWithRadius(t *testing.T) {
	inner := Inner(size, ShapeForCoverage(0.5))
	defer inner.Close()

	narrow := Ring(inner, 10)
	defer narrow.Close()
	wide := Ring(inner, 20)
	defer wide.Close()

	sum := func(v []float32) float64 {
		var s float64
		for _, x := range v {
			s += float64(x)
		}
		return s
	}
	assert.Greater(t, sum(Weights(narrow)), 0.0)
	assert.Greater(t, sum(Weights(wide)), sum(Weights(narrow)))
}
