package perf

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrInvalidLoadAverage  = errors.New("invalid load average format")
	ErrTemperatureNotFound = errors.New("temperature sensors not found")
)

// DefaultThermalPaths are the sysfs files probed for the CPU temperature.
var DefaultThermalPaths = []string{
	"/sys/class/thermal/thermal_zone0/temp",
	"/sys/class/thermal/thermal_zone1/temp",
	"/sys/class/thermal/thermal_zone2/temp",
	"/sys/devices/virtual/thermal/thermal_zone0/temp",
}

// Sources names the files a Monitor reads. Empty fields use the Linux defaults.
type Sources struct {
	LoadAvg  string
	MemInfo  string
	Thermals []string
}

func (s Sources) withDefaults() Sources {
	if s.LoadAvg == "" {
		s.LoadAvg = "/proc/loadavg"
	}
	if s.MemInfo == "" {
		s.MemInfo = "/proc/meminfo"
	}
	if len(s.Thermals) == 0 {
		s.Thermals = DefaultThermalPaths
	}
	return s
}

// Snapshot is one reading of the host's health.
type Snapshot struct {
	LoadAverage float64
	Temperature float64 // Celsius, 0 when no sensor was readable
	MemoryUsage float64 // percent
	TakenAt     time.Time
}

// Monitor tracks system performance metrics
type Monitor struct {
	src Sources

	mu   sync.RWMutex
	last Snapshot
}

// NewMonitor creates a new performance monitor
func NewMonitor(src Sources) *Monitor {
	return &Monitor{src: src.withDefaults()}
}

// UpdateStats refreshes the snapshot. A missing load average is an error; a
// missing temperature sensor is not, since many capture hosts have none.
func (m *Monitor) UpdateStats() (Snapshot, error) {
	load, err := readLoadAverage(m.src.LoadAvg)
	if err != nil {
		return m.Last(), err
	}
	snap := Snapshot{LoadAverage: load, TakenAt: time.Now()}
	if temp, err := readTemperature(m.src.Thermals); err == nil {
		snap.Temperature = temp
	}
	if mem, err := readMemoryUsage(m.src.MemInfo); err == nil {
		snap.MemoryUsage = mem
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap, nil
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func readLoadAverage(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, ErrInvalidLoadAverage
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, ErrInvalidLoadAverage
	}
	return v, nil
}

// readTemperature averages every readable thermal zone.
func readTemperature(paths []string) (float64, error) {
	var total float64
	var count int
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			continue
		}
		if temp, err := strconv.ParseFloat(raw, 64); err == nil {
			// millidegrees
			total += temp / 1000.0
			count++
		}
	}
	if count == 0 {
		return 0, ErrTemperatureNotFound
	}
	return total / float64(count), nil
}

func readMemoryUsage(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var memTotal, memAvailable int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			memAvailable, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if memTotal <= 0 {
		return 0, nil
	}
	return 100.0 * float64(memTotal-memAvailable) / float64(memTotal), nil
}
