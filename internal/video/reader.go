// Package video reads and writes frame streams through OpenCV.
package video

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrStreamOpen is returned when a video cannot be opened or decoded at all.
var ErrStreamOpen = errors.New("cannot open video stream")

// Reader decodes frames from a video file.
type Reader struct {
	capture *gocv.VideoCapture
	path    string
	fps     float64
	count   int
	width   int
	height  int
	next    int
	mu      sync.Mutex
}

// Open opens a video file and reads its stream properties.
func Open(path string) (*Reader, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrStreamOpen, "%s: %v", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Wrap(ErrStreamOpen, path)
	}

	return &Reader{
		capture: capture,
		path:    path,
		fps:     capture.Get(gocv.VideoCaptureFPS),
		count:   int(capture.Get(gocv.VideoCaptureFrameCount)),
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// Read decodes the next frame into frame. It returns false at end of stream
// or on any decode failure.
func (r *Reader) Read(frame *gocv.Mat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return false
	}
	if !r.capture.Read(frame) || frame.Empty() {
		return false
	}
	r.next++
	return true
}

// FrameAt decodes frame i into a new Mat owned by the caller. Sequential
// access avoids a seek.
func (r *Reader) FrameAt(i int) (gocv.Mat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return gocv.Mat{}, errors.New("reader is closed")
	}
	if i != r.next {
		r.capture.Set(gocv.VideoCapturePosFrames, float64(i))
		r.next = i
	}
	frame := gocv.NewMat()
	if !r.capture.Read(&frame) || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, errors.Errorf("failed to decode frame %d of %s", i, r.path)
	}
	r.next++
	return frame, nil
}

// Rewind seeks back to the first frame.
func (r *Reader) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		r.capture.Set(gocv.VideoCapturePosFrames, 0)
		r.next = 0
	}
}

// FPS returns the container frame rate, 0 when unknown.
func (r *Reader) FPS() float64 {
	return r.fps
}

// FrameCount returns the container's frame count estimate.
func (r *Reader) FrameCount() int {
	return r.count
}

// Width returns frame width
func (r *Reader) Width() int {
	return r.width
}

// Height returns frame height
func (r *Reader) Height() int {
	return r.height
}

// Close releases the decoder
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture != nil {
		err := r.capture.Close()
		r.capture = nil
		return err
	}
	return nil
}
