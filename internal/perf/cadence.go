package perf

import (
	"math"
	"sync"
	"time"
)

// IdleTick is the re-check interval used when there is nothing to wait for.
const IdleTick = 16 * time.Millisecond

// MaxScanningFPS is the highest accepted target rate.
const MaxScanningFPS = 60

// Cadence tracks an exponential moving average of scan durations and derives
// the delay before the next submission.
type Cadence struct {
	mu      sync.Mutex
	avg     time.Duration
	samples int
}

// Record adds one scan duration. The first sample seeds the average.
func (c *Cadence) Record(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == 0 {
		c.avg = d
	} else {
		c.avg = time.Duration(math.Round(0.9*float64(c.avg) + 0.1*float64(d)))
	}
	c.samples++
}

// Average returns the current moving average.
func (c *Cadence) Average() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avg
}

// Reset forgets all samples.
func (c *Cadence) Reset() {
	c.mu.Lock()
	c.avg, c.samples = 0, 0
	c.mu.Unlock()
}

// NextDelay returns how long to wait before the next scan at targetFPS.
// Short delays and rates of MaxScanningFPS or more collapse to IdleTick.
func (c *Cadence) NextDelay(targetFPS int) time.Duration {
	if targetFPS <= 0 {
		targetFPS = 1
	}
	if targetFPS >= MaxScanningFPS {
		return IdleTick
	}
	delay := time.Second/time.Duration(targetFPS) - c.Average()
	if delay <= IdleTick {
		return IdleTick
	}
	return delay
}
