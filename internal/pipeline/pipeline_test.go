package pipeline

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/eraser"
	"github.com/dudu/mouthless/internal/position"
	"github.com/dudu/mouthless/internal/video"
)

const (
	side   = 256
	frames = 12
)

// fakeTracker reports a mouth drifting right by one pixel per frame and
// fails on the frames listed in misses.
type fakeTracker struct {
	misses map[int]bool
	calls  []int
	closed bool
}

func (f *fakeTracker) Track(_ gocv.Mat, i int) (position.Record, error) {
	f.calls = append(f.calls, i)
	if f.misses[i] {
		return position.Record{}, nil
	}
	if i == 7 {
		return position.Record{}, errors.New("landmarks lost")
	}
	return position.Record{CenterX: 120 + float64(i), CenterY: 180, Width: 60, Height: 24, Confidence: 1}, nil
}

func (f *fakeTracker) Close() error {
	f.closed = true
	return nil
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := video.Create(path, "MJPG", 25, side, side)
	require.NoError(t, err)
	for i := range frames {
		f := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), side, side, gocv.MatTypeCV8UC3)
		gocv.Ellipse(&f, image.Pt(120+i, 180), image.Pt(20, 6), 0, 0, 360, color.RGBA{R: 60, G: 30, B: 40, A: 255}, -1)
		require.NoError(t, w.Write(f))
		f.Close()
	}
	require.NoError(t, w.Close())
	return path
}

func testConfig(t *testing.T, input string) Config {
	dir := t.TempDir()
	return Config{
		Input:          input,
		Output:         filepath.Join(dir, "out.avi"),
		PositionsOut:   filepath.Join(dir, "out.mouth.json"),
		Codec:          "MJPG",
		BufferFrames:   true,
		Stride:         1,
		SmoothCutoffHz: 3,
		Workers:        3,
		Erase:          eraser.DefaultOptions(),
	}
}

func TestRun_ErasesEveryFrameInOrder(t *testing.T) {
	for _, buffered := range []bool{true, false} {
		name := "stream"
		if buffered {
			name = "buffered"
		}
		t.Run(name, func(t *testing.T) {
			input := writeClip(t)
			cfg := testConfig(t, input)
			cfg.BufferFrames = buffered
			tracker := &fakeTracker{misses: map[int]bool{3: true, 4: true}}

			p, err := New(cfg, tracker, zerolog.Nop())
			require.NoError(t, err)

			var order []int
			p.AddHook(FrameHookFunc(func(i int, frame gocv.Mat, _ position.Record) bool {
				order = append(order, i)
				assert.Equal(t, side, frame.Cols())
				return true
			}))

			res, err := p.Run(context.Background())
			require.NoError(t, err)
			require.NoError(t, p.Close())
			assert.True(t, tracker.closed)

			assert.Equal(t, frames, res.Stats.Frames)
			assert.Equal(t, frames-3, res.Stats.Detected)
			assert.Equal(t, frames, res.Stats.Written)
			assert.Equal(t, frames, res.Stats.Erased, "gaps are interpolated, so every frame is erased")
			assert.False(t, res.Stats.Stopped)
			assert.False(t, res.Reference.Fallback)

			want := make([]int, frames)
			for i := range want {
				want[i] = i
			}
			assert.Equal(t, want, order)

			require.NotNil(t, res.Document)
			assert.NotEmpty(t, res.Document.RunID)
			assert.Equal(t, "clip.avi", res.Document.VideoFileName)
			require.Len(t, res.Document.Positions, frames)
			assert.Equal(t, position.ConfidenceInterpolated, res.Document.Positions[3].Confidence)

			saved, err := position.Load(cfg.PositionsOut)
			require.NoError(t, err)
			assert.Len(t, saved.Positions, frames)

			r, err := video.Open(cfg.Output)
			require.NoError(t, err)
			defer r.Close()
			f := gocv.NewMat()
			defer f.Close()
			n := 0
			for r.Read(&f) {
				n++
			}
			assert.Equal(t, frames, n)
		})
	}
}

func TestRun_StrideSkipsTracking(t *testing.T) {
	cfg := testConfig(t, writeClip(t))
	cfg.Output = ""
	cfg.Stride = 4
	tracker := &fakeTracker{}

	p, err := New(cfg, tracker, zerolog.Nop())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4, 8}, tracker.calls)
	assert.Equal(t, 3, res.Stats.Detected)
	assert.Zero(t, res.Stats.Written, "tracking only")
}

func TestRun_HookStopsEarly(t *testing.T) {
	cfg := testConfig(t, writeClip(t))
	p, err := New(cfg, &fakeTracker{}, zerolog.Nop())
	require.NoError(t, err)
	p.AddHook(FrameHookFunc(func(i int, _ gocv.Mat, _ position.Record) bool {
		return i < 4
	}))

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stats.Stopped)
	assert.Equal(t, 5, res.Stats.Written)
}

func TestRun_PositionsDocumentInput(t *testing.T) {
	input := writeClip(t)
	cfg := testConfig(t, input)

	// Produce a positions document with a tracking-only run first.
	track := cfg
	track.Output = ""
	p, err := New(track, &fakeTracker{}, zerolog.Nop())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	replay := cfg
	replay.PositionsIn = track.PositionsOut
	replay.PositionsOut = ""
	p, err = New(replay, nil, zerolog.Nop())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frames, res.Stats.Detected)
	assert.Equal(t, frames, res.Stats.Erased)
}

func TestRun_ReplayMatchesFirstRun(t *testing.T) {
	allMissed := make(map[int]bool, frames)
	for i := range frames {
		allMissed[i] = true
	}
	cases := map[string]map[int]bool{
		"tracked":    {3: true, 4: true},
		"undetected": allMissed,
	}
	for name, misses := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, writeClip(t))
			p, err := New(cfg, &fakeTracker{misses: misses}, zerolog.Nop())
			require.NoError(t, err)
			first, err := p.Run(context.Background())
			require.NoError(t, err)

			replay := cfg
			replay.PositionsIn = cfg.PositionsOut
			replay.PositionsOut = ""
			replay.Output = filepath.Join(t.TempDir(), "replay.avi")
			p, err = New(replay, nil, zerolog.Nop())
			require.NoError(t, err)
			second, err := p.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, first.Stats.Erased, second.Stats.Erased)
			assert.Equal(t, first.Stats.Skipped, second.Stats.Skipped)
			require.Len(t, second.Document.Positions, frames)
			for i, want := range first.Document.Positions {
				got := second.Document.Positions[i]
				assert.Equal(t, want.Valid(), got.Valid(), "frame %d", i)
				assert.Equal(t, want.CenterX, got.CenterX, "frame %d", i)
				assert.Equal(t, want.CenterY, got.CenterY, "frame %d", i)
			}
		})
	}
}

func TestRun_DebugOutput(t *testing.T) {
	cfg := testConfig(t, writeClip(t))
	cfg.DebugOutput = filepath.Join(t.TempDir(), "debug.avi")
	p, err := New(cfg, &fakeTracker{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	r, err := video.Open(cfg.DebugOutput)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, side, r.Width())
}

func TestRun_DebugOutputTrackingOnly(t *testing.T) {
	cfg := testConfig(t, writeClip(t))
	cfg.Output = ""
	cfg.DebugOutput = filepath.Join(t.TempDir(), "debug.avi")
	p, err := New(cfg, &fakeTracker{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Written)

	r, err := video.Open(cfg.DebugOutput)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, side, r.Width())
	assert.Equal(t, frames, r.FrameCount())
}

func TestRun_MissingInput(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "nope.mp4"))
	p, err := New(cfg, &fakeTracker{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.True(t, errors.Is(err, video.ErrStreamOpen))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Input: "a.mp4"}, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(Config{}, &fakeTracker{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestStats_DetectionRate(t *testing.T) {
	assert.Zero(t, Stats{}.DetectionRate())
	assert.InDelta(t, 0.75, Stats{Frames: 4, Detected: 3}.DetectionRate(), 1e-12)
}
