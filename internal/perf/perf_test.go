package perf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadenceMovingAverage(t *testing.T) {
	var c Cadence
	c.Record(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, c.Average())

	c.Record(200 * time.Millisecond)
	assert.Equal(t, 110*time.Millisecond, c.Average())

	c.Reset()
	assert.Zero(t, c.Average())
}

func TestCadenceNextDelay(t *testing.T) {
	tests := []struct {
		name   string
		sample time.Duration
		fps    int
		want   time.Duration
	}{
		{"no samples", 0, 10, 100 * time.Millisecond},
		{"subtracts average", 40 * time.Millisecond, 10, 60 * time.Millisecond},
		{"slow engine collapses to tick", 200 * time.Millisecond, 10, IdleTick},
		{"short delay collapses to tick", 20 * time.Millisecond, 30, IdleTick},
		{"sixty fps always ticks", 0, 60, IdleTick},
		{"non positive fps treated as one", 0, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Cadence
			if tt.sample > 0 {
				c.Record(tt.sample)
			}
			assert.Equal(t, tt.want, c.NextDelay(tt.fps))
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestMonitorReadsSources(t *testing.T) {
	dir := t.TempDir()
	m := NewMonitor(Sources{
		LoadAvg:  writeFile(t, dir, "loadavg", "0.75 0.50 0.25 1/100 42\n"),
		MemInfo:  writeFile(t, dir, "meminfo", "MemTotal: 1000 kB\nMemAvailable: 250 kB\n"),
		Thermals: []string{writeFile(t, dir, "t0", "50000\n"), writeFile(t, dir, "t1", "70000\n"), filepath.Join(dir, "missing")},
	})

	snap, err := m.UpdateStats()
	require.NoError(t, err)
	assert.InDelta(t, 0.75, snap.LoadAverage, 1e-9)
	assert.InDelta(t, 60.0, snap.Temperature, 1e-9)
	assert.InDelta(t, 75.0, snap.MemoryUsage, 1e-9)
	assert.Equal(t, snap, m.Last())
}

func TestMonitorErrors(t *testing.T) {
	dir := t.TempDir()
	m := NewMonitor(Sources{LoadAvg: writeFile(t, dir, "loadavg", "   \n"), Thermals: []string{filepath.Join(dir, "none")}})
	_, err := m.UpdateStats()
	assert.ErrorIs(t, err, ErrInvalidLoadAverage)

	_, err = readTemperature([]string{filepath.Join(dir, "none")})
	assert.ErrorIs(t, err, ErrTemperatureNotFound)
}

func TestAdaptiveControllerStepsUnderStress(t *testing.T) {
	ac := NewAdaptiveController(NewMonitor(Sources{}), DefaultThresholds, 5, 30, logrus.NewEntry(logrus.New()))
	stressed := Snapshot{LoadAverage: 3}
	calm := Snapshot{LoadAverage: 0.2, Temperature: 40}

	ac.Observe(stressed)
	assert.Equal(t, 28, ac.Limit())
	assert.Equal(t, 20, ac.Cap(20))
	assert.Equal(t, 28, ac.Cap(30))

	// Prolonged stress keeps stepping down after the grace period.
	for i := 0; i < 20; i++ {
		ac.Observe(stressed)
	}
	assert.Equal(t, 5, ac.Limit())

	ac.Observe(calm)
	ac.Observe(calm)
	assert.Equal(t, 5, ac.Limit())
	ac.Observe(calm)
	assert.Equal(t, 7, ac.Limit())

	for i := 0; i < 20; i++ {
		ac.Observe(calm)
	}
	assert.Equal(t, 30, ac.Limit())
}

func TestThresholdsTemperature(t *testing.T) {
	assert.True(t, DefaultThresholds.Stressed(Snapshot{Temperature: 71}))
	assert.False(t, DefaultThresholds.Stressed(Snapshot{Temperature: 69, LoadAverage: 1.5}))
}
