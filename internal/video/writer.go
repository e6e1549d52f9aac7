package video

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultCodec is the FourCC used when none is configured.
const DefaultCodec = "mp4v"

// Writer encodes frames into a video file.
type Writer struct {
	writer *gocv.VideoWriter
	path   string
	width  int
	height int
	count  int
}

// Create opens path for writing with the given FourCC codec.
func Create(path, codec string, fps float64, width, height int) (*Writer, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	if fps <= 0 {
		fps = 30
	}
	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create video writer %s", path)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, errors.Errorf("failed to create video writer %s (codec %s)", path, codec)
	}
	return &Writer{writer: w, path: path, width: width, height: height}, nil
}

// Write encodes one frame. Frames must match the writer's dimensions.
func (w *Writer) Write(frame gocv.Mat) error {
	if frame.Cols() != w.width || frame.Rows() != w.height {
		return errors.Errorf("frame %d is %dx%d, writer expects %dx%d",
			w.count, frame.Cols(), frame.Rows(), w.width, w.height)
	}
	if err := w.writer.Write(frame); err != nil {
		return errors.Wrapf(err, "failed to write frame %d to %s", w.count, w.path)
	}
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() int {
	return w.count
}

// Close finalizes the container.
func (w *Writer) Close() error {
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	w.writer = nil
	return err
}
