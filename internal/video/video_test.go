package video

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solid(v float64, w, h int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamOpen))
}

func TestWriterReader_RoundTrip(t *testing.T) {
	const w, h, n = 64, 48, 6
	path := filepath.Join(t.TempDir(), "clip.avi")

	out, err := Create(path, "MJPG", 10, w, h)
	require.NoError(t, err)
	for i := range n {
		f := solid(float64(i*40), w, h)
		require.NoError(t, out.Write(f))
		f.Close()
	}
	assert.Equal(t, n, out.Count())
	require.NoError(t, out.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, w, r.Width())
	assert.Equal(t, h, r.Height())
	assert.InDelta(t, 10.0, r.FPS(), 0.01)

	frame := gocv.NewMat()
	defer frame.Close()
	read := 0
	for r.Read(&frame) {
		read++
	}
	assert.Equal(t, n, read)

	third, err := r.FrameAt(3)
	require.NoError(t, err)
	defer third.Close()
	assert.InDelta(t, 120, int(third.GetUCharAt(h/2, w/2*3)), 8)
}

func TestWriter_RejectsWrongSize(t *testing.T) {
	out, err := Create(filepath.Join(t.TempDir(), "clip.avi"), "MJPG", 10, 64, 48)
	require.NoError(t, err)
	defer out.Close()

	f := solid(0, 32, 32)
	defer f.Close()
	assert.Error(t, out.Write(f))
	assert.Zero(t, out.Count())
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	defer c.Close()
	c.Append(solid(10, 8, 8))
	c.Append(solid(20, 8, 8))
	require.Equal(t, 2, c.Len())

	borrowed, err := c.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(20), borrowed.GetUCharAt(0, 0))

	owned, err := c.FrameAt(0)
	require.NoError(t, err)
	c.Release(0)
	assert.Equal(t, uint8(10), owned.GetUCharAt(0, 0), "copies outlive release")
	owned.Close()

	_, err = c.Frame(0)
	assert.Error(t, err)
	_, err = c.FrameAt(5)
	assert.Error(t, err)
	c.Release(0)
}
