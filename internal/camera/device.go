package camera

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// Type tells whether a camera faces the user or away from them.
type Type int

const (
	Front Type = iota
	Back
)

func (t Type) String() string {
	if t == Back {
		return "back"
	}
	return "front"
}

// Camera represents a capture device.
type Camera struct {
	DeviceID   string // e.g. video0
	DevicePath string
	Label      string
	Type       Type
	Index      int
}

// Identity keys per-camera preferences such as mirroring.
func (c Camera) Identity() string {
	return c.DeviceID + "|" + c.Label
}

var backKeywords = []string{"rear", "back", "environment", "world", "external", "usb"}

// typeFromLabel guesses the camera type from its label. Built-in laptop and
// unnamed cameras count as front facing.
func typeFromLabel(label string) Type {
	l := strings.ToLower(label)
	if strings.Contains(l, "front") || strings.Contains(l, "integrated") || strings.Contains(l, "user") {
		return Front
	}
	for _, kw := range backKeywords {
		if strings.Contains(l, kw) {
			return Back
		}
	}
	return Front
}

// Paths locates the device and sysfs trees walked by Discover.
type Paths struct {
	Dev   string
	Sysfs string

	// AllowRegular accepts regular files named videoN, for fixtures.
	AllowRegular bool
}

// DefaultPaths are the Linux locations.
var DefaultPaths = Paths{Dev: "/dev", Sysfs: "/sys/class/video4linux"}

// Discover finds capture devices. Metadata nodes (sysfs index other than 0)
// are skipped. Cameras are ordered by device number.
func Discover(ctx context.Context, paths Paths) ([]Camera, error) {
	if paths.Dev == "" {
		paths = DefaultPaths
	}
	root := filepath.Clean(paths.Dev)

	var mu sync.Mutex
	var cameras []Camera
	conf := fastwalk.DefaultConfig
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			if path != root {
				return fs.SkipDir
			}
			return nil
		}
		name := d.Name()
		num, ok := videoNumber(name)
		if !ok || (d.Type()&fs.ModeDevice == 0 && !(paths.AllowRegular && d.Type().IsRegular())) {
			return nil
		}
		if idx := readSysfs(paths.Sysfs, name, "index"); idx != "" && idx != "0" {
			return nil
		}
		label := readSysfs(paths.Sysfs, name, "name")
		if label == "" {
			label = fmt.Sprintf("Camera %s", name)
		}
		mu.Lock()
		cameras = append(cameras, Camera{
			DeviceID:   name,
			DevicePath: path,
			Label:      label,
			Type:       typeFromLabel(label),
			Index:      num,
		})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Slice(cameras, func(i, j int) bool { return cameras[i].Index < cameras[j].Index })
	return cameras, nil
}

func videoNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "video")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

func readSysfs(sysfs, device, attr string) string {
	if sysfs == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(sysfs, device, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// PreferredCamera picks the first back camera, or the first camera.
func PreferredCamera(cameras []Camera) (Camera, bool) {
	for _, c := range cameras {
		if c.Type == Back {
			return c, true
		}
	}
	if len(cameras) > 0 {
		return cameras[0], true
	}
	return Camera{}, false
}
