// Package eraser replaces the mouth region of video frames with a clean,
// relit patch sourced once from a reference frame.
package eraser

import (
	"github.com/dudu/mouthless/internal/mask"
)

// ScoreWeights weigh the terms of the reference frame score. Lower scores
// are better.
type ScoreWeights struct {
	Height   float64 `yaml:"height"`
	Gradient float64 `yaml:"gradient"`
	Variance float64 `yaml:"variance"`
}

// Options configures reference selection, synthesis and erasure.
type Options struct {
	PatchSize     int
	Coverage      float64
	QuadScale     float64
	InpaintRadius int
	ChromaRingPx  int
	Samples       int
	MinConfidence float64
	Weights       ScoreWeights
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		PatchSize:     256,
		Coverage:      0.6,
		QuadScale:     1.2,
		InpaintRadius: 5,
		ChromaRingPx:  mask.DefaultChromaRingPx,
		Samples:       20,
		MinConfidence: 0.5,
		Weights:       ScoreWeights{Height: 0.1, Gradient: 0.5, Variance: 0.01},
	}
}

// Shape returns the mask shape for the configured coverage.
func (o Options) Shape() mask.Shape {
	return mask.ShapeForCoverage(o.Coverage)
}

// NewMasks builds the mask set shared by selection, synthesis and erasure.
func (o Options) NewMasks() *mask.Set {
	return mask.NewSet(o.PatchSize, o.Shape(), o.ChromaRingPx)
}
