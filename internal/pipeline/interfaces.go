package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/position"
)

// Tracker estimates the mouth position in one frame. Trackers may carry
// temporal state, so they are called in frame order from a single goroutine.
// A failed detection is reported as a record with zero confidence, not an
// error; errors are logged and treated the same way.
type Tracker interface {
	Track(frame gocv.Mat, frameIndex int) (position.Record, error)
	Close() error
}

// FrameHook observes every output frame after it has been written, in
// frame order. Returning false stops the run; frames already written are
// kept and the output is finalized.
type FrameHook interface {
	OnFrame(index int, frame gocv.Mat, rec position.Record) bool
}

// FrameHookFunc adapts a function to FrameHook.
type FrameHookFunc func(index int, frame gocv.Mat, rec position.Record) bool

// OnFrame calls f.
func (f FrameHookFunc) OnFrame(index int, frame gocv.Mat, rec position.Record) bool {
	return f(index, frame, rec)
}
