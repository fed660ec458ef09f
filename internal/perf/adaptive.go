// Package perf holds the scan cadence estimator and the optional load-aware
// throttle that caps the scanning rate on a stressed host.
package perf

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Thresholds decide when the host counts as stressed.
type Thresholds struct {
	Load        float64
	Temperature float64
}

// DefaultThresholds match a small ARM capture host.
var DefaultThresholds = Thresholds{Load: 1.5, Temperature: 70.0}

// Stressed reports whether snap exceeds t.
func (t Thresholds) Stressed(snap Snapshot) bool {
	return snap.LoadAverage > t.Load || snap.Temperature > t.Temperature
}

const fpsStep = 2

// AdaptiveController caps the scanning FPS while the host is under stress
// and releases the cap stepwise once it recovers.
type AdaptiveController struct {
	monitor    *Monitor
	thresholds Thresholds
	log        *logrus.Entry

	mu            sync.RWMutex
	limit         int
	minFPS        int
	maxFPS        int
	isUnderStress bool
	stressCount   int
	recoveryCount int
}

// NewAdaptiveController creates a controller whose cap moves between minFPS
// and maxFPS.
func NewAdaptiveController(monitor *Monitor, thresholds Thresholds, minFPS, maxFPS int, log *logrus.Entry) *AdaptiveController {
	if minFPS < 1 {
		minFPS = 1
	}
	if maxFPS < minFPS {
		maxFPS = minFPS
	}
	return &AdaptiveController{
		monitor:    monitor,
		thresholds: thresholds,
		log:        log.WithField("component", "perf"),
		limit:      maxFPS,
		minFPS:     minFPS,
		maxFPS:     maxFPS,
	}
}

// Run samples the monitor every interval until ctx is done.
func (ac *AdaptiveController) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := ac.monitor.UpdateStats()
			if err != nil {
				ac.log.WithError(err).Debug("stats unavailable")
				continue
			}
			ac.Observe(snap)
		}
	}
}

// Observe feeds one snapshot into the stress state machine.
func (ac *AdaptiveController) Observe(snap Snapshot) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	stressed := ac.thresholds.Stressed(snap)
	switch {
	case stressed && !ac.isUnderStress:
		ac.isUnderStress = true
		ac.stressCount++
		ac.recoveryCount = 0
		ac.step(-fpsStep, snap)
	case stressed:
		ac.stressCount++
		ac.recoveryCount = 0
		if ac.stressCount > 3 {
			ac.step(-fpsStep, snap)
		}
	case ac.isUnderStress:
		ac.recoveryCount++
		if ac.recoveryCount > 2 {
			ac.isUnderStress = false
			ac.recoveryCount = 0
			ac.stressCount = 0
			ac.step(fpsStep, snap)
		}
	default:
		if ac.limit < ac.maxFPS {
			ac.step(fpsStep, snap)
		}
	}
}

func (ac *AdaptiveController) step(delta int, snap Snapshot) {
	next := ac.limit + delta
	if next < ac.minFPS {
		next = ac.minFPS
	}
	if next > ac.maxFPS {
		next = ac.maxFPS
	}
	if next == ac.limit {
		return
	}
	ac.log.WithFields(logrus.Fields{
		"load": snap.LoadAverage,
		"temp": snap.Temperature,
		"from": ac.limit,
		"to":   next,
	}).Info("scan rate cap changed")
	ac.limit = next
}

// Limit returns the current cap.
func (ac *AdaptiveController) Limit() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.limit
}

// Cap returns target limited by the current cap.
func (ac *AdaptiveController) Cap(target int) int {
	if l := ac.Limit(); target > l {
		return l
	}
	return target
}

// Status returns the last snapshot and whether the host is stressed.
func (ac *AdaptiveController) Status() (Snapshot, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.monitor.Last(), ac.isUnderStress
}
