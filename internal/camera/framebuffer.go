package camera

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

type slot struct {
	frame image.Image
	seq   uint64
	at    time.Time
}

// FrameBuffer holds the latest captured frame. Capture writes at full speed,
// the scheduler and the preview read when ready.
type FrameBuffer struct {
	latest  atomic.Pointer[slot]
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu               sync.RWMutex
	captureStartTime time.Time
}

// NewFrameBuffer creates a new frame buffer
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{captureStartTime: time.Now()}
}

// Write stores a new frame. It never blocks.
func (fb *FrameBuffer) Write(frame image.Image) {
	seq := fb.seq.Add(1)
	fb.latest.Store(&slot{frame: frame, seq: seq, at: time.Now()})
}

// Read returns the latest frame, or nil before the first write.
func (fb *FrameBuffer) Read() image.Image {
	if s := fb.latest.Load(); s != nil {
		return s.frame
	}
	return nil
}

// NextFrame returns the latest frame when it is newer than lastSeq.
func (fb *FrameBuffer) NextFrame(lastSeq uint64) (image.Image, uint64, bool) {
	s := fb.latest.Load()
	if s == nil || s.seq <= lastSeq {
		return nil, lastSeq, false
	}
	return s.frame, s.seq, true
}

// FrameCount returns the number of frames written since the last Reset.
func (fb *FrameBuffer) FrameCount() uint64 {
	return fb.seq.Load()
}

// LastFrameTime returns when the latest frame was written.
func (fb *FrameBuffer) LastFrameTime() time.Time {
	if s := fb.latest.Load(); s != nil {
		return s.at
	}
	return time.Time{}
}

// Stale reports whether no frame arrived within maxAge.
func (fb *FrameBuffer) Stale(maxAge time.Duration) bool {
	at := fb.LastFrameTime()
	return at.IsZero() || time.Since(at) > maxAge
}

// CaptureStats returns the average write rate since the last Reset.
func (fb *FrameBuffer) CaptureStats() (fps float64, totalFrames uint64, uptime time.Duration) {
	fb.mu.RLock()
	startTime := fb.captureStartTime
	fb.mu.RUnlock()

	uptime = time.Since(startTime)
	totalFrames = fb.seq.Load()
	if uptime.Seconds() > 0 {
		fps = float64(totalFrames) / uptime.Seconds()
	}
	return
}

// Reset clears the buffer and stats. Sequence numbers keep increasing so a
// reader never mistakes a frame from the next stream for one it has seen.
func (fb *FrameBuffer) Reset() {
	fb.mu.Lock()
	fb.latest.Store(nil)
	fb.dropped.Store(0)
	fb.captureStartTime = time.Now()
	fb.mu.Unlock()
}

// MarkDropped increments dropped frame counter
func (fb *FrameBuffer) MarkDropped() {
	fb.dropped.Add(1)
}

// DroppedCount returns number of dropped frames
func (fb *FrameBuffer) DroppedCount() uint64 {
	return fb.dropped.Load()
}
