// Package config manages configuration for the barcode picker.
//
// Handles loading config from INI files, environment variables,
// and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/camera"
	"barcode-picker-go/internal/perf"
	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
	"barcode-picker-go/internal/validate"
)

// =============================================================================
// Configuration struct
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	// Logging
	LogLevel       string `validate:"oneof=DEBUG INFO WARN WARNING ERROR"`
	LogFile        string
	LogMaxBytes    int `validate:"gte=1024"`
	LogBackupCount int `validate:"gte=1"`
	LogToStdout    bool

	// Scanner
	LicenseKey          string
	EngineLocation      string
	SettingsFile        string
	Symbologies         []string `validate:"dive,symbology"`
	CodeDuplicateFilter int      `validate:"gte=-1"`
	MaxCodesPerFrame    int      `validate:"gte=1,lte=10"`
	TargetScanningFPS   int      `validate:"gte=1,lte=60"`
	CopyFrameBuffers    bool

	// GUI
	GuiStyle              string `validate:"oneof=none laser viewfinder"`
	VideoFit              string `validate:"oneof=contain cover"`
	CameraSwitcherEnabled bool
	TorchToggleEnabled    bool
	SingleImageAlways     bool
	SingleImageFallback   bool
	ReloadOnShow          bool
	UIFPS                 int `validate:"gte=1,lte=60"`
	WindowWidth           int `validate:"gte=320"`
	WindowHeight          int `validate:"gte=240"`
	Fullscreen            bool

	// Camera
	Device               string
	Resolution           string `validate:"oneof=hd full-hd low"`
	CaptureFPS           int    `validate:"gte=1,lte=60"`
	CaptureFormat        string `validate:"capformat"`
	TorchControl         string
	FFmpegBinary         string
	KillDeviceHolders    bool
	StartTimeoutSec      float64 `validate:"gt=0"`
	StaleFrameTimeoutSec float64 `validate:"gt=0"`
	RestartCooldownSec   float64
	MaxRestartsPerWindow int `validate:"gte=1"`
	RestartWindowSec     float64
	HotplugIntervalMS    int `validate:"gte=500"`

	// Performance
	DynamicFPSEnabled    bool
	PerfCheckIntervalMS  int `validate:"gte=250"`
	MinDynamicFPS        int `validate:"gte=1"`
	CPULoadThreshold     float64
	CPUTempThresholdC    float64
	HealthLogIntervalSec float64
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		// Logging
		LogLevel:       "INFO",
		LogFile:        "./logs/barcode_picker.log",
		LogMaxBytes:    5 * 1024 * 1024, // 5 MB
		LogBackupCount: 3,
		LogToStdout:    true,

		// Scanner
		Symbologies:         []string{"ean13", "ean8", "upca", "upce", "code128", "code39", "qr"},
		CodeDuplicateFilter: 1000,
		MaxCodesPerFrame:    1,
		TargetScanningFPS:   picker.DefaultTargetFPS,

		// GUI
		GuiStyle:              "laser",
		VideoFit:              "contain",
		CameraSwitcherEnabled: true,
		TorchToggleEnabled:    true,
		SingleImageFallback:   true,
		UIFPS:                 20,
		WindowWidth:           960,
		WindowHeight:          640,

		// Camera
		Resolution:           camera.ResolutionHD,
		CaptureFPS:           camera.DefaultSettings.FPS,
		CaptureFormat:        camera.DefaultSettings.Format,
		KillDeviceHolders:    true,
		StartTimeoutSec:      camera.DefaultSettings.StartTimeout.Seconds(),
		StaleFrameTimeoutSec: picker.DefaultStaleFrameAge.Seconds(),
		RestartCooldownSec:   5.0,
		MaxRestartsPerWindow: 3,
		RestartWindowSec:     30.0,
		HotplugIntervalMS:    2000,

		// Performance
		DynamicFPSEnabled:    true,
		PerfCheckIntervalMS:  2000,
		MinDynamicFPS:        5,
		CPULoadThreshold:     perf.DefaultThresholds.Load,
		CPUTempThresholdC:    perf.DefaultThresholds.Temperature,
		HealthLogIntervalSec: 30.0,
	}
}

// =============================================================================
// INI parser (minimal)
// =============================================================================

// iniData stores parsed INI sections and their key-value pairs.
type iniData map[string]map[string]string

// parseINI reads an INI file and returns its sections and key-value pairs.
// Supports comments (# and ;), sections ([name]), and key = value lines.
func parseINI(path string) (iniData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	result := make(iniData)
	currentSection := ""

	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := result[currentSection]; !ok {
				result[currentSection] = make(map[string]string)
			}
			continue
		}

		if idx := strings.IndexByte(line, '='); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			if currentSection != "" {
				result[currentSection][key] = value
			}
		}
	}

	return result, nil
}

// get returns a value from the parsed INI data.
func (d iniData) get(section, key string) (string, bool) {
	if sec, ok := d[section]; ok {
		if val, ok := sec[key]; ok {
			return val, true
		}
	}
	return "", false
}

// =============================================================================
// Type parsing helpers
// =============================================================================

// asBool parses a string as boolean. Truthy: "1","true","yes","on".
// Falsy: "0","false","no","off". Returns fallback on empty/unrecognised.
func asBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// asInt parses a string as int with optional min/max clamping.
// Pass nil for unbounded. Returns fallback on parse error.
func asInt(value string, fallback int, minVal, maxVal *int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

// asFloat parses a string as float64 with optional min/max clamping.
// Pass nil for unbounded. Returns fallback on parse error.
func asFloat(value string, fallback float64, minVal, maxVal *float64) float64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

// asList splits a comma separated value, dropping empty items.
func asList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// =============================================================================
// Load + Apply
// =============================================================================

// envOverrides are the settings the environment may replace.
type envOverrides struct {
	ConfigPath string `env:"BARCODE_PICKER_CONFIG" envDefault:"./config.ini"`
	LogFile    string `env:"BARCODE_PICKER_LOG_FILE"`
	LicenseKey string `env:"BARCODE_PICKER_LICENSE_KEY"`
	Device     string `env:"BARCODE_PICKER_DEVICE"`
}

func parseEnv() (envOverrides, error) {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return o, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// ConfigPath returns the INI file path to use, respecting env vars.
func ConfigPath() string {
	o, err := parseEnv()
	if err != nil || o.ConfigPath == "" {
		return "./config.ini"
	}
	return o.ConfigPath
}

// Load reads the INI file at the given path (or the default/env path)
// and returns a fully populated Config. Missing sections or keys
// fall back to DefaultConfig() values. Environment overrides are applied
// last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	overrides, err := parseEnv()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if path == "" {
		path = overrides.ConfigPath
	}

	// If file doesn't exist, use defaults (not an error)
	if _, statErr := os.Stat(path); statErr == nil {
		ini, err := parseINI(path)
		if err != nil {
			return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		applyINI(cfg, ini)
	} else if !os.IsNotExist(statErr) {
		return cfg, fmt.Errorf("config: %w", statErr)
	}

	applyEnv(cfg, overrides)
	return cfg, nil
}

func applyEnv(cfg *Config, o envOverrides) {
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
	}
	if o.LicenseKey != "" {
		cfg.LicenseKey = o.LicenseKey
	}
	if o.Device != "" {
		cfg.Device = o.Device
	}
}

// applyINI maps INI key-value pairs onto the Config struct.
func applyINI(cfg *Config, ini iniData) {
	str := func(section, key string, dst *string) {
		if v, ok := ini.get(section, key); ok {
			*dst = v
		}
	}
	lower := func(section, key string, dst *string) {
		if v, ok := ini.get(section, key); ok {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(section, key string, dst *bool) {
		if v, ok := ini.get(section, key); ok {
			*dst = asBool(v, *dst)
		}
	}
	integer := func(section, key string, dst *int, minVal, maxVal *int) {
		if v, ok := ini.get(section, key); ok {
			*dst = asInt(v, *dst, minVal, maxVal)
		}
	}
	float := func(section, key string, dst *float64, minVal, maxVal *float64) {
		if v, ok := ini.get(section, key); ok {
			*dst = asFloat(v, *dst, minVal, maxVal)
		}
	}

	// [logging]
	if v, ok := ini.get("logging", "level"); ok {
		cfg.LogLevel = strings.ToUpper(strings.TrimSpace(v))
	}
	str("logging", "file", &cfg.LogFile)
	integer("logging", "max_bytes", &cfg.LogMaxBytes, intPtr(1024), nil)
	integer("logging", "backup_count", &cfg.LogBackupCount, intPtr(1), nil)
	boolean("logging", "stdout", &cfg.LogToStdout)

	// [scanner]
	str("scanner", "license_key", &cfg.LicenseKey)
	str("scanner", "engine_location", &cfg.EngineLocation)
	str("scanner", "settings_file", &cfg.SettingsFile)
	if v, ok := ini.get("scanner", "symbologies"); ok {
		cfg.Symbologies = asList(v)
	}
	integer("scanner", "code_duplicate_filter", &cfg.CodeDuplicateFilter, intPtr(-1), nil)
	integer("scanner", "max_codes_per_frame", &cfg.MaxCodesPerFrame, intPtr(1), intPtr(10))
	integer("scanner", "target_fps", &cfg.TargetScanningFPS, intPtr(1), intPtr(perf.MaxScanningFPS))
	boolean("scanner", "copy_frame_buffers", &cfg.CopyFrameBuffers)

	// [gui]
	lower("gui", "style", &cfg.GuiStyle)
	lower("gui", "video_fit", &cfg.VideoFit)
	boolean("gui", "camera_switcher", &cfg.CameraSwitcherEnabled)
	boolean("gui", "torch_toggle", &cfg.TorchToggleEnabled)
	boolean("gui", "single_image_always", &cfg.SingleImageAlways)
	boolean("gui", "single_image_fallback", &cfg.SingleImageFallback)
	boolean("gui", "reload_on_show", &cfg.ReloadOnShow)
	integer("gui", "ui_fps", &cfg.UIFPS, intPtr(1), intPtr(60))
	integer("gui", "window_width", &cfg.WindowWidth, intPtr(320), nil)
	integer("gui", "window_height", &cfg.WindowHeight, intPtr(240), nil)
	boolean("gui", "fullscreen", &cfg.Fullscreen)

	// [camera]
	str("camera", "device", &cfg.Device)
	lower("camera", "resolution", &cfg.Resolution)
	integer("camera", "capture_fps", &cfg.CaptureFPS, intPtr(1), intPtr(60))
	lower("camera", "capture_format", &cfg.CaptureFormat)
	str("camera", "torch_control", &cfg.TorchControl)
	str("camera", "ffmpeg", &cfg.FFmpegBinary)
	boolean("camera", "kill_device_holders", &cfg.KillDeviceHolders)
	float("camera", "start_timeout_sec", &cfg.StartTimeoutSec, floatPtr(0.5), nil)
	float("camera", "stale_frame_timeout_sec", &cfg.StaleFrameTimeoutSec, floatPtr(0.5), nil)
	float("camera", "restart_cooldown_sec", &cfg.RestartCooldownSec, floatPtr(1.0), nil)
	integer("camera", "max_restarts_per_window", &cfg.MaxRestartsPerWindow, intPtr(1), nil)
	float("camera", "restart_window_sec", &cfg.RestartWindowSec, floatPtr(5.0), nil)
	integer("camera", "hotplug_interval_ms", &cfg.HotplugIntervalMS, intPtr(500), nil)

	// [performance]
	boolean("performance", "dynamic_fps", &cfg.DynamicFPSEnabled)
	integer("performance", "perf_check_interval_ms", &cfg.PerfCheckIntervalMS, intPtr(250), nil)
	integer("performance", "min_dynamic_fps", &cfg.MinDynamicFPS, intPtr(1), nil)
	float("performance", "cpu_load_threshold", &cfg.CPULoadThreshold, floatPtr(0.1), floatPtr(20.0))
	float("performance", "cpu_temp_threshold_c", &cfg.CPUTempThresholdC, floatPtr(30.0), floatPtr(100.0))
	float("performance", "health_log_interval_sec", &cfg.HealthLogIntervalSec, floatPtr(5.0), nil)
}

// =============================================================================
// Derived settings
// =============================================================================

// ScanSettings builds the initial engine settings. A settings file replaces
// the symbology list and filters of the [scanner] section.
func (c *Config) ScanSettings() (*scan.ScanSettings, error) {
	if c.SettingsFile != "" {
		return scan.LoadProfile(c.SettingsFile)
	}
	s := scan.NewScanSettings()
	for _, name := range c.Symbologies {
		sym, err := scan.ParseSymbology(name)
		if err != nil {
			return nil, err
		}
		if err := s.EnableSymbologies(sym); err != nil {
			return nil, err
		}
	}
	s.CodeDuplicateFilter = c.CodeDuplicateFilter
	s.MaxNumberOfCodesPerFrame = c.MaxCodesPerFrame
	return s, nil
}

// CameraSettings builds the capture settings.
func (c *Config) CameraSettings() (camera.Settings, error) {
	s, err := camera.DefaultSettings.ForResolution(c.Resolution)
	if err != nil {
		return s, err
	}
	s.FPS = c.CaptureFPS
	s.Format = c.CaptureFormat
	s.TorchControl = c.TorchControl
	s.StartTimeout = seconds(c.StartTimeoutSec)
	return s, nil
}

// Thresholds returns the host stress thresholds of the throttle.
func (c *Config) Thresholds() perf.Thresholds {
	return perf.Thresholds{Load: c.CPULoadThreshold, Temperature: c.CPUTempThresholdC}
}

// PickerOptions maps the [gui] and [scanner] sections onto picker options.
// ScanSettings and CameraSettings are left for the caller.
func (c *Config) PickerOptions() picker.Options {
	return picker.Options{
		GuiStyle:              picker.ParseGuiStyle(c.GuiStyle),
		VideoFit:              picker.ParseVideoFit(c.VideoFit),
		CameraSwitcherEnabled: c.CameraSwitcherEnabled,
		TorchToggleEnabled:    c.TorchToggleEnabled,
		TargetScanningFPS:     c.TargetScanningFPS,
		SingleImage: picker.SingleImageMode{
			Always:        c.SingleImageAlways,
			AllowFallback: c.SingleImageFallback,
		},
		ReloadOnShow:  c.ReloadOnShow,
		StaleFrameAge: seconds(c.StaleFrameTimeoutSec),
	}
}

// ChannelOptions builds the engine channel options. The host name and
// platform identify the device to the engine.
func (c *Config) ChannelOptions(logger *logrus.Logger) (scanner.Options, error) {
	settings, err := c.ScanSettings()
	if err != nil {
		return scanner.Options{}, err
	}
	host, _ := os.Hostname()
	return scanner.Options{
		LicenseKey:       c.LicenseKey,
		EngineLocation:   c.EngineLocation,
		DeviceID:         host,
		DeviceModel:      runtime.GOOS + "/" + runtime.GOARCH,
		ScanSettings:     settings,
		CopyFrameBuffers: c.CopyFrameBuffers,
		Logger:           logger,
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	if err := validate.Struct(c); err != nil {
		ok = false
		warnings = append(warnings, err.Error())
	}

	if c.LicenseKey == "" {
		ok = false
		warnings = append(warnings, "no license key configured ([scanner] license_key or BARCODE_PICKER_LICENSE_KEY)")
	}

	if cs, err := c.CameraSettings(); err == nil {
		camOK, camWarnings := cs.Check()
		ok = ok && camOK
		warnings = append(warnings, camWarnings...)
	}

	if c.MinDynamicFPS > c.TargetScanningFPS {
		warnings = append(warnings, fmt.Sprintf("MinDynamicFPS (%d) > TargetScanningFPS (%d)", c.MinDynamicFPS, c.TargetScanningFPS))
	}

	if c.TargetScanningFPS > c.CaptureFPS {
		warnings = append(warnings, fmt.Sprintf("TargetScanningFPS (%d) > CaptureFPS (%d), extra cycles find no new frame", c.TargetScanningFPS, c.CaptureFPS))
	}

	if c.SettingsFile != "" {
		if _, err := os.Stat(c.SettingsFile); err != nil {
			ok = false
			warnings = append(warnings, fmt.Sprintf("settings file: %v", err))
		}
	}

	return ok, warnings
}
