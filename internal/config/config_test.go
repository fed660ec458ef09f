package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadINI(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.ini", `
# comment
[logging]
level = debug
stdout = off

[Scanner]
license_key = abc
symbologies = EAN13, qr,,
code_duplicate_filter = -5
max_codes_per_frame = 50
target_fps = 12

[gui]
style = Viewfinder
video_fit = cover
single_image_always = yes
ui_fps = 0

[camera]
device = /dev/video2
resolution = low
capture_format = YUYV
start_timeout_sec = not-a-number

[performance]
cpu_load_threshold = 99
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LogToStdout)
	assert.Equal(t, "abc", cfg.LicenseKey)
	assert.Equal(t, []string{"ean13", "qr"}, cfg.Symbologies)
	assert.Equal(t, -1, cfg.CodeDuplicateFilter, "clamped to once-only")
	assert.Equal(t, 10, cfg.MaxCodesPerFrame)
	assert.Equal(t, 12, cfg.TargetScanningFPS)
	assert.Equal(t, "viewfinder", cfg.GuiStyle)
	assert.Equal(t, "cover", cfg.VideoFit)
	assert.True(t, cfg.SingleImageAlways)
	assert.Equal(t, 1, cfg.UIFPS)
	assert.Equal(t, "/dev/video2", cfg.Device)
	assert.Equal(t, "low", cfg.Resolution)
	assert.Equal(t, "yuyv", cfg.CaptureFormat)
	assert.Equal(t, DefaultConfig().StartTimeoutSec, cfg.StartTimeoutSec, "unparsable value keeps default")
	assert.Equal(t, 20.0, cfg.CPULoadThreshold)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "picker.ini", "[scanner]\nlicense_key = from-file\n")
	t.Setenv("BARCODE_PICKER_CONFIG", path)
	t.Setenv("BARCODE_PICKER_LICENSE_KEY", "from-env")
	t.Setenv("BARCODE_PICKER_LOG_FILE", filepath.Join(dir, "x.log"))
	t.Setenv("BARCODE_PICKER_DEVICE", "/dev/video9")

	assert.Equal(t, path, ConfigPath())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LicenseKey)
	assert.Equal(t, filepath.Join(dir, "x.log"), cfg.LogFile)
	assert.Equal(t, "/dev/video9", cfg.Device)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LicenseKey = "key"
	ok, warnings := cfg.Validate()
	assert.True(t, ok)
	assert.Empty(t, warnings)

	cfg.LicenseKey = ""
	ok, warnings = cfg.Validate()
	assert.False(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "license key")

	cfg.LicenseKey = "key"
	cfg.Symbologies = []string{"ean13", "morse"}
	cfg.GuiStyle = "crosshair"
	ok, warnings = cfg.Validate()
	assert.False(t, ok)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "Symbologies[1]")
	assert.Contains(t, warnings[0], "GuiStyle")
}

func TestValidateWarnsOnBandwidth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LicenseKey = "key"
	cfg.Resolution = "full-hd"
	cfg.CaptureFormat = "yuyv"
	ok, warnings := cfg.Validate()
	assert.False(t, ok)
	assert.NotEmpty(t, warnings)
}

func TestScanSettingsFromSection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Symbologies = []string{"ean13", "qr"}
	cfg.CodeDuplicateFilter = -1
	cfg.MaxCodesPerFrame = 3

	s, err := cfg.ScanSettings()
	require.NoError(t, err)
	assert.Equal(t, []scan.Symbology{scan.SymbologyEAN13, scan.SymbologyQR}, s.EnabledSymbologies())
	assert.Equal(t, -1, s.CodeDuplicateFilter)
	assert.Equal(t, 3, s.MaxNumberOfCodesPerFrame)

	cfg.Symbologies = []string{"morse"}
	_, err = cfg.ScanSettings()
	assert.ErrorIs(t, err, scan.ErrInvalidSymbology)
}

func TestScanSettingsFromProfile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettingsFile = writeFile(t, t.TempDir(), "profile.yaml", "enabledSymbologies: [code128]\ncodeDuplicateFilter: 250\n")

	s, err := cfg.ScanSettings()
	require.NoError(t, err)
	assert.Equal(t, []scan.Symbology{scan.SymbologyCode128}, s.EnabledSymbologies())
	assert.Equal(t, 250, s.CodeDuplicateFilter)
}

func TestDerivedSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution = "low"
	cfg.TorchControl = "led1_mode"
	cfg.StartTimeoutSec = 1.5
	cfg.GuiStyle = "viewfinder"
	cfg.VideoFit = "cover"
	cfg.SingleImageAlways = true

	cs, err := cfg.CameraSettings()
	require.NoError(t, err)
	assert.Equal(t, 640, cs.Width)
	assert.Equal(t, 480, cs.Height)
	assert.Equal(t, "led1_mode", cs.TorchControl)
	assert.Equal(t, 1500*time.Millisecond, cs.StartTimeout)

	opts := cfg.PickerOptions()
	assert.Equal(t, picker.StyleViewfinder, opts.GuiStyle)
	assert.Equal(t, picker.FitCover, opts.VideoFit)
	assert.True(t, opts.SingleImage.Always)
	assert.True(t, opts.SingleImage.AllowFallback)
	assert.Equal(t, picker.DefaultStaleFrameAge, opts.StaleFrameAge)

	cfg.Resolution = "8k"
	_, err = cfg.CameraSettings()
	assert.Error(t, err)
}

func TestChannelOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LicenseKey = "key"
	cfg.CodeDuplicateFilter = -1
	cfg.CopyFrameBuffers = true

	opts, err := cfg.ChannelOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "key", opts.LicenseKey)
	assert.True(t, opts.CopyFrameBuffers)
	assert.NotEmpty(t, opts.DeviceModel)
	require.NotNil(t, opts.ScanSettings)
	assert.Equal(t, -1, opts.ScanSettings.CodeDuplicateFilter)

	cfg.SettingsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.ChannelOptions(nil)
	assert.Error(t, err)
}

func TestRotatingFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "picker.log")
	rw, err := NewRotatingFileWriter(path, 10, 2)
	require.NoError(t, err)
	defer rw.Close()

	for _, line := range []string{"aaaaaaa\n", "bbbbbbb\n", "ccccccc\n", "ddddddd\n"} {
		_, err := rw.Write([]byte(line))
		require.NoError(t, err)
	}

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "ddddddd\n", read(path))
	assert.Equal(t, "ccccccc\n", read(path+".1"))
	assert.Equal(t, "bbbbbbb\n", read(path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestConfigureLogging(t *testing.T) {
	prevOut, prevLevel, prevFormatter := logrus.StandardLogger().Out, logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "picker.log")
	cfg.LogLevel = "WARN"
	cfg.LogToStdout = false

	var console strings.Builder
	logger, cleanup, err := ConfigureLogging(cfg, LogOptions{Console: &console, JSON: true})
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("hidden")
	logger.WithField("component", "test").Warn("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), `"component":"test"`)
	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")

	logger, cleanup2, err := ConfigureLogging(cfg, LogOptions{Console: &console, Verbose: true})
	require.NoError(t, err)
	defer cleanup2()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("chatty"))
}
