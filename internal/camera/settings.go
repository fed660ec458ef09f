package camera

import (
	"fmt"
	"time"
)

// =============================================================================
// CAPTURE SETTINGS
// =============================================================================
// One stream is active at a time, so the bandwidth budget belongs to a single
// camera. Higher resolutions help dense 2D codes; 1D codes read fine at 640x480.
//
//   Resolution   | Pixels    | Use Case
//   -------------|-----------|------------------------------------------
//   1920x1080    | 2,073,600 | Small or dense codes, fast host only
//   1280x720     | 921,600   | Recommended default
//   640x480      | 307,200   | Low power hosts
// =============================================================================

// Resolution preference presets.
const (
	ResolutionHD     = "hd"
	ResolutionFullHD = "full-hd"
	ResolutionLow    = "low"
)

// Settings describe how a camera stream is opened.
type Settings struct {
	Width  int    `validate:"gte=160,lte=3840"`
	Height int    `validate:"gte=120,lte=2160"`
	FPS    int    `validate:"gte=1,lte=60"`
	Format string `validate:"capformat"`

	// TorchControl is the V4L2 control toggled for the torch, e.g.
	// "led1_mode". Empty means the torch is unsupported.
	TorchControl string

	// StartTimeout bounds how long acquisition waits for the first frame.
	StartTimeout time.Duration
}

// DefaultSettings is used when nothing else is configured.
var DefaultSettings = Settings{
	Width:        1280,
	Height:       720,
	FPS:          30,
	Format:       "mjpeg",
	StartTimeout: 5 * time.Second,
}

// ForResolution returns s with width and height set from a preference preset.
func (s Settings) ForResolution(pref string) (Settings, error) {
	switch pref {
	case ResolutionHD, "":
		s.Width, s.Height = 1280, 720
	case ResolutionFullHD:
		s.Width, s.Height = 1920, 1080
	case ResolutionLow:
		s.Width, s.Height = 640, 480
	default:
		return s, fmt.Errorf("unknown resolution preference %q", pref)
	}
	return s, nil
}

func (s Settings) withDefaults() Settings {
	if s.Width == 0 || s.Height == 0 {
		s.Width, s.Height = DefaultSettings.Width, DefaultSettings.Height
	}
	if s.FPS == 0 {
		s.FPS = DefaultSettings.FPS
	}
	if s.Format == "" {
		s.Format = DefaultSettings.Format
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = DefaultSettings.StartTimeout
	}
	return s
}

// Bandwidth estimates the USB bandwidth of the stream in MB/s.
//
//	MJPEG ≈ Width × Height × FPS × 0.15 bytes/sec (compressed)
//	YUYV  = Width × Height × FPS × 2 bytes/sec (uncompressed)
func (s Settings) Bandwidth() float64 {
	perPixel := 0.15
	if s.Format == "yuyv" {
		perPixel = 2
	}
	return float64(s.Width*s.Height*s.FPS) * perPixel / 1024 / 1024
}

// Check reports whether the settings are reasonable, with warnings.
func (s Settings) Check() (ok bool, warnings []string) {
	ok = true
	if s.Width*s.Height > 2073600 {
		warnings = append(warnings, "resolution above 1080p slows down every scan")
	}
	if s.FPS > 30 {
		warnings = append(warnings, "capture above 30 FPS is wasted, scanning is capped by the engine")
	}
	// USB 2.0 practical limit is ~35 MB/s
	switch bw := s.Bandwidth(); {
	case bw > 30:
		ok = false
		warnings = append(warnings, fmt.Sprintf("estimated USB bandwidth %.1f MB/s exceeds safe limits", bw))
	case bw > 20:
		warnings = append(warnings, fmt.Sprintf("estimated USB bandwidth %.1f MB/s is high", bw))
	}
	return ok, warnings
}
