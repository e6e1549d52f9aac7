package video

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Cache keeps decoded frames in memory between the two processing passes.
type Cache struct {
	mu     sync.RWMutex
	frames []gocv.Mat
	live   []bool
}

// NewCache creates an empty cache with room for n frames.
func NewCache(n int) *Cache {
	return &Cache{
		frames: make([]gocv.Mat, 0, max(n, 0)),
		live:   make([]bool, 0, max(n, 0)),
	}
}

// Append stores a frame and takes ownership of it.
func (c *Cache) Append(frame gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = append(c.frames, frame)
	c.live = append(c.live, true)
}

// Len returns the number of frames appended.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.frames)
}

// Frame returns frame i without copying. The Mat stays owned by the cache
// and must not be modified or used after Release(i).
func (c *Cache) Frame(i int) (gocv.Mat, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i < 0 || i >= len(c.frames) || !c.live[i] {
		return gocv.Mat{}, errors.Errorf("frame %d not cached", i)
	}
	return c.frames[i], nil
}

// FrameAt returns a copy of frame i owned by the caller.
func (c *Cache) FrameAt(i int) (gocv.Mat, error) {
	f, err := c.Frame(i)
	if err != nil {
		return gocv.Mat{}, err
	}
	return f.Clone(), nil
}

// Release frees frame i once it is no longer needed.
func (c *Cache) Release(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i >= 0 && i < len(c.frames) && c.live[i] {
		c.frames[i].Close()
		c.live[i] = false
	}
}

// Close frees every frame still held.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.frames {
		if c.live[i] {
			c.frames[i].Close()
			c.live[i] = false
		}
	}
}
