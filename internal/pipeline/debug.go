package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/ui"
	"github.com/dudu/mouthless/internal/video"
)

// debugHook writes a copy of every output frame with its quad drawn on.
type debugHook struct {
	writer *video.Writer
	scale  float64
	err    error
}

func (d *debugHook) OnFrame(index int, frame gocv.Mat, rec position.Record) bool {
	canvas := frame.Clone()
	defer canvas.Close()

	ui.DrawOverlay(&canvas, index, rec, d.scale)
	if err := d.writer.Write(canvas); err != nil {
		d.err = err
		return false
	}
	return true
}

// drawDebug writes the debug video for a tracking-only run by decoding the
// input again and drawing the conditioned positions.
func (p *Pipeline) drawDebug(ctx context.Context, reader *video.Reader, records []position.Record) error {
	dw, err := video.Create(p.config.DebugOutput, p.config.Codec, reader.FPS(), reader.Width(), reader.Height())
	if err != nil {
		return err
	}
	defer dw.Close()
	debug := &debugHook{writer: dw, scale: p.config.Erase.QuadScale}

	reader.Rewind()
	frame := gocv.NewMat()
	defer frame.Close()
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !reader.Read(&frame) {
			p.log.Warn().Int("frame", i).Int("expected", len(records)).Msg("input ended early")
			break
		}
		if !debug.OnFrame(i, frame, rec) {
			return debug.err
		}
	}
	return errors.Wrap(dw.Close(), "failed to finalize debug video")
}
