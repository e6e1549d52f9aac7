package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/eraser"
	"github.com/dudu/mouthless/internal/mask"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/video"
)

// errStopped ends the write loop when a hook asks to stop.
var errStopped = errors.New("stopped by hook")

// frameSource gives the second pass access to decoded frames, either from
// the in-memory cache or by decoding the input again.
type frameSource interface {
	// at returns a copy of frame i owned by the caller.
	at(i int) (gocv.Mat, error)
	// begin prepares sequential access from frame 0.
	begin()
	// next returns frame i in order. owned reports whether the caller must
	// close it.
	next(i int) (frame gocv.Mat, owned bool, ok bool)
	// release is called once frame i has been written.
	release(i int)
}

type cacheSource struct {
	cache *video.Cache
}

func (s *cacheSource) at(i int) (gocv.Mat, error) { return s.cache.FrameAt(i) }

func (s *cacheSource) begin() {}

func (s *cacheSource) next(i int) (gocv.Mat, bool, bool) {
	f, err := s.cache.Frame(i)
	return f, false, err == nil
}

func (s *cacheSource) release(i int) { s.cache.Release(i) }

type streamSource struct {
	reader *video.Reader
}

func (s *streamSource) at(i int) (gocv.Mat, error) { return s.reader.FrameAt(i) }

func (s *streamSource) begin() { s.reader.Rewind() }

func (s *streamSource) next(int) (gocv.Mat, bool, bool) {
	f := gocv.NewMat()
	if !s.reader.Read(&f) {
		f.Close()
		return gocv.Mat{}, false, false
	}
	return f, true, true
}

func (s *streamSource) release(int) {}

type task struct {
	index int
	frame gocv.Mat
	owned bool
}

type erased struct {
	index   int
	frame   gocv.Mat
	outcome eraser.Outcome
}

// erase is the second pass: pick the reference, synthesize the clean patch
// once, then erase every frame on a worker pool and write them in order.
func (p *Pipeline) erase(ctx context.Context, reader *video.Reader, frames frameSource, records []position.Record, res *Result) error {
	opts := p.config.Erase
	masks := opts.NewMasks()
	defer masks.Close()

	selectStart := time.Now()
	res.Reference = eraser.NewSelector(masks.Inner, opts, p.log).Select(frames.at, records)
	res.Timing.Select = time.Since(selectStart)

	synthStart := time.Now()
	er, bundle := p.prepare(frames, res.Reference.Index, records[res.Reference.Index], masks, opts)
	if bundle != nil {
		defer bundle.Close()
	}
	res.Timing.Synthesize = time.Since(synthStart)

	out, err := video.Create(p.config.Output, p.config.Codec, reader.FPS(), reader.Width(), reader.Height())
	if err != nil {
		return err
	}
	defer out.Close()

	hooks := p.hooks
	var debug *debugHook
	if p.config.DebugOutput != "" {
		dw, err := video.Create(p.config.DebugOutput, p.config.Codec, reader.FPS(), reader.Width(), reader.Height())
		if err != nil {
			return err
		}
		defer dw.Close()
		debug = &debugHook{writer: dw, scale: opts.QuadScale}
		hooks = append([]FrameHook{debug}, hooks...)
	}

	eraseStart := time.Now()
	err = p.fanOut(ctx, frames, records, er, out, hooks, &res.Stats)
	res.Timing.Erase = time.Since(eraseStart)
	if debug != nil && debug.err != nil {
		return debug.err
	}
	if err != nil {
		return err
	}
	return errors.Wrap(out.Close(), "failed to finalize output video")
}

// prepare builds the eraser from the selected reference frame. Any failure
// here leaves the run in pass-through mode rather than aborting it.
func (p *Pipeline) prepare(frames frameSource, index int, ref position.Record, masks *mask.Set, opts eraser.Options) (*eraser.Eraser, *eraser.Bundle) {
	frame, err := frames.at(index)
	if err != nil {
		p.log.Error().Err(err).Int("frame", index).Msg("cannot read reference frame, frames pass through")
		return nil, nil
	}
	defer frame.Close()

	bundle, err := eraser.Synthesize(frame, ref, masks, opts)
	if err != nil {
		p.log.Warn().Err(err).Int("frame", index).Msg("cannot synthesize clean patch, frames pass through")
		return nil, nil
	}
	if !bundle.Fitter.Valid() {
		p.log.Warn().Int("support", bundle.Fitter.Support()).Msg("ring too small for a plane fit, shading correction disabled")
	}
	p.log.Info().
		Int("reference", index).
		Float64("quality", bundle.Quality).
		Msg("clean patch ready")
	return eraser.NewEraser(bundle, opts, p.log), bundle
}

// fanOut runs the producer and the workers in an errgroup and the ordered
// writer on the calling goroutine, so hooks that drive a UI stay on the
// caller's thread.
func (p *Pipeline) fanOut(ctx context.Context, frames frameSource, records []position.Record,
	er *eraser.Eraser, out *video.Writer, hooks []FrameHook, stats *Stats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	workers := p.config.Workers
	tasks := make(chan task, workers)
	done := make(chan erased, workers)

	g.Go(func() error {
		defer close(tasks)
		frames.begin()
		for i := range records {
			f, owned, ok := frames.next(i)
			if !ok {
				p.log.Warn().Int("frame", i).Int("expected", len(records)).Msg("input ended early")
				return nil
			}
			select {
			case tasks <- task{index: i, frame: f, owned: owned}:
			case <-gctx.Done():
				if owned {
					f.Close()
				}
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for t := range tasks {
				e := eraseFrame(er, t, records[t.index])
				if t.owned {
					t.frame.Close()
				}
				select {
				case done <- e:
				case <-gctx.Done():
					e.frame.Close()
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	writeErr := p.write(done, frames, records, out, hooks, stats)
	if writeErr != nil {
		cancel()
	}
	for e := range done {
		e.frame.Close()
	}
	waitErr := g.Wait()
	for t := range tasks {
		if t.owned {
			t.frame.Close()
		}
	}

	switch {
	case errors.Is(writeErr, errStopped):
		stats.Stopped = true
		return nil
	case writeErr != nil:
		return writeErr
	case waitErr != nil:
		return waitErr
	}
	return nil
}

func eraseFrame(er *eraser.Eraser, t task, rec position.Record) erased {
	if er == nil {
		return erased{index: t.index, frame: t.frame.Clone(), outcome: eraser.OutcomeSkipped}
	}
	f, outcome := er.Erase(t.frame, rec)
	return erased{index: t.index, frame: f, outcome: outcome}
}

// write reorders finished frames by index and encodes them strictly in
// order.
func (p *Pipeline) write(done <-chan erased, frames frameSource, records []position.Record,
	out *video.Writer, hooks []FrameHook, stats *Stats) error {
	pending := make(map[int]erased)
	defer func() {
		for _, e := range pending {
			e.frame.Close()
		}
	}()

	next := 0
	for e := range done {
		pending[e.index] = e
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			err := out.Write(cur.frame)
			keep := err == nil
			if keep {
				stats.count(cur.outcome)
				for _, h := range hooks {
					if !h.OnFrame(next, cur.frame, records[next]) {
						keep = false
						break
					}
				}
			}
			cur.frame.Close()
			frames.release(next)
			next++

			if err != nil {
				return err
			}
			if !keep {
				return errStopped
			}
			if next%progressEvery == 0 {
				p.log.Info().Int("frame", next).Int("total", len(records)).Msg("erasing")
			}
		}
	}
	return nil
}

func (s *Stats) count(o eraser.Outcome) {
	s.Written++
	switch o {
	case eraser.OutcomeErased:
		s.Erased++
	case eraser.OutcomeSkipped:
		s.Skipped++
	case eraser.OutcomeDegenerate:
		s.Degenerate++
	case eraser.OutcomeOffscreen:
		s.Offscreen++
	case eraser.OutcomeFailed:
		s.Failed++
	}
}
