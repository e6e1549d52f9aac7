// Package raster gives direct access to the pixel buffers of gocv Mats.
//
// Every Mat handled by this module is allocated by gocv itself (NewMat,
// NewMatWithSize or the destination of an OpenCV call), so buffers are
// continuous; a non-continuous Mat is a programming error and panics.
package raster

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Floats returns the float32 buffer of a CV_32F Mat without copying.
func Floats(m gocv.Mat) []float32 {
	data, err := m.DataPtrFloat32()
	if err != nil {
		panic(fmt.Sprintf("raster: float view of %v: %v", m.Type(), err))
	}
	return data
}

// Bytes returns the uint8 buffer of a CV_8U Mat without copying.
func Bytes(m gocv.Mat) []uint8 {
	data, err := m.DataPtrUint8()
	if err != nil {
		panic(fmt.Sprintf("raster: byte view of %v: %v", m.Type(), err))
	}
	return data
}

// Clip limits every element of v to [lo, hi].
func Clip(v []float32, lo, hi float32) {
	for i, x := range v {
		if x < lo {
			v[i] = lo
		} else if x > hi {
			v[i] = hi
		}
	}
}

// WeightedMean returns sum(v*w)/sum(w), with a tiny floor on the weight sum
// so an empty support yields 0 instead of NaN.
func WeightedMean(v, w []float32) float64 {
	var num, den float64
	for i := range w {
		if w[i] == 0 {
			continue
		}
		num += float64(v[i]) * float64(w[i])
		den += float64(w[i])
	}
	return num / (den + 1e-6)
}

// Channel copies channel c of an interleaved float buffer with n channels.
func Channel(data []float32, n, c int) []float32 {
	out := make([]float32, len(data)/n)
	for i := range out {
		out[i] = data[i*n+c]
	}
	return out
}

// SetChannel writes v into channel c of an interleaved float buffer.
func SetChannel(data []float32, n, c int, v []float32) {
	for i := range v {
		data[i*n+c] = v[i]
	}
}
