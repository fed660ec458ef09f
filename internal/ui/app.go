package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/camera"
	"barcode-picker-go/internal/config"
	"barcode-picker-go/internal/perf"
	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
)

// App is the picker window. It owns the engine channel, the camera manager
// and the picker, and runs the display, health and recovery loops.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     *config.Config
	logger  *logrus.Logger
	log     *logrus.Entry

	channel  *scanner.Channel
	cameras  *camera.Manager
	monitor  *perf.Monitor
	throttle *perf.AdaptiveController
	view     *PickerView
	status   *widget.Label

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	picker *picker.Picker

	stopCh      chan struct{}
	cleanupOnce sync.Once

	lastFrameRead uint64
	framesShown   uint64
	scans         atomic.Uint64
	cameraCount   int

	// Stale playback detection + bounded auto-restart
	restartEvents   []time.Time
	lastRestartTime time.Time
	restartLimitHit bool
	limitHitAt      time.Time
}

// NewApp creates the engine channel and camera manager from cfg and prepares
// the window. Nothing is opened until Start.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	chOpts, err := cfg.ChannelOptions(logger)
	if err != nil {
		return nil, err
	}
	camSettings, err := cfg.CameraSettings()
	if err != nil {
		return nil, err
	}
	ch, err := scanner.New(chOpts)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		log:     logger.WithField("component", "ui"),
		channel: ch,
		cameras: camera.NewManager(camera.ManagerOptions{
			Settings:    camSettings,
			Source:      camera.FFmpegSource{Binary: cfg.FFmpegBinary},
			KillHolders: cfg.KillDeviceHolders,
			Logger:      logger,
		}),
		monitor: perf.NewMonitor(perf.Sources{}),
		stopCh:  make(chan struct{}),
	}
	if cfg.DynamicFPSEnabled {
		a.throttle = perf.NewAdaptiveController(a.monitor, cfg.Thresholds(), cfg.MinDynamicFPS, cfg.TargetScanningFPS, logrus.NewEntry(logger))
	}

	a.fyneApp = app.New()
	a.window = a.fyneApp.NewWindow("Barcode Picker")
	a.window.Resize(fyne.NewSize(float32(cfg.WindowWidth), float32(cfg.WindowHeight)))
	a.window.SetFullScreen(cfg.Fullscreen)
	return a, nil
}

func (a *App) Start() {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.setupUI()
	a.window.Show()
	go a.initializePickerAsync()
	a.fyneApp.Run()
}

func (a *App) setupUI() {
	a.view = NewPickerView(Handlers{
		SwitchCamera: func() { go a.switchCamera() },
		ToggleTorch:  func() { go a.toggleTorch() },
		Upload:       a.chooseImage,
		Tap:          func() { go a.togglePause() },
		LongPress:    a.toggleMirror,
	})
	a.status = widget.NewLabel("Starting...")
	a.status.Truncation = fyne.TextTruncateEllipsis

	a.window.SetContent(container.NewBorder(nil, a.status, nil, nil, a.view.Object()))
	a.window.SetCloseIntercept(a.cleanup)
	a.window.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeySpace:
			go a.togglePause()
		case fyne.KeyC:
			go a.switchCamera()
		case fyne.KeyT:
			go a.toggleTorch()
		case fyne.KeyM:
			a.toggleMirror()
		case fyne.KeyF5:
			a.restart()
		case fyne.KeyEscape:
			a.cleanup()
		}
	})
}

func (a *App) currentPicker() *picker.Picker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.picker
}

func (a *App) setStatus(format string, args ...any) {
	a.status.SetText(fmt.Sprintf(format, args...))
}

// initializePickerAsync opens the camera off the UI goroutine; acquisition
// waits for the first frame.
func (a *App) initializePickerAsync() {
	opts := a.cfg.PickerOptions()
	opts.CameraProbe = camera.FFmpegSource{Binary: a.cfg.FFmpegBinary}.Probe
	if a.cfg.Device != "" {
		cam, err := a.findDevice(a.cfg.Device)
		if err != nil {
			a.log.WithError(err).Warn("configured device not found, using preferred camera")
		} else {
			opts.Camera = &cam
		}
	}

	p, err := picker.New(a.ctx, opts, picker.Deps{
		Engine:   a.channel,
		Cameras:  a.cameras,
		View:     a.view,
		Throttle: a.throttle,
		Logger:   a.logger,
	})
	if err != nil {
		a.log.WithError(err).Error("picker unavailable")
		a.setStatus("Camera unavailable: %v", err)
		return
	}

	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		p.Destroy(false)
		return
	}
	a.picker = p
	a.mu.Unlock()

	p.On(picker.EventReady, func(any) {
		a.setStatus("Ready (%s)", p.State())
	})
	p.On(picker.EventScan, func(payload any) {
		if res, ok := payload.(*scan.ScanResult); ok {
			a.reportScan(res)
		}
	})
	p.On(picker.EventScanError, func(payload any) {
		err, _ := payload.(error)
		a.setStatus("Scanning stopped: %v (tap to resume)", err)
	})

	if p.State() != picker.StateSingleImageFallback {
		a.startFrameRefresh()
		go a.startStaleFrameDetection()
		go a.startHotplugDetection()
	}
	if a.throttle != nil {
		go a.throttle.Run(a.ctx, time.Duration(a.cfg.PerfCheckIntervalMS)*time.Millisecond)
	}
	go a.startHealthLogging()
}

func (a *App) findDevice(device string) (camera.Camera, error) {
	cams, err := a.cameras.Cameras(a.ctx)
	if err != nil {
		return camera.Camera{}, err
	}
	for _, c := range cams {
		if c.DevicePath == device || c.DeviceID == device {
			return c, nil
		}
	}
	return camera.Camera{}, &camera.AccessError{Kind: camera.NotFound, Device: device}
}

func (a *App) reportScan(res *scan.ScanResult) {
	var codes []string
	for i, bc := range res.Barcodes {
		if res.IsRejected(i) {
			continue
		}
		a.scans.Add(1)
		a.log.WithFields(logrus.Fields{
			"symbology": bc.Symbology,
			"data":      bc.Data,
		}).Info("barcode scanned")
		codes = append(codes, fmt.Sprintf("%s: %s", bc.Symbology.HumanizedName(), bc.Data))
	}
	if len(codes) == 0 {
		a.setStatus("No barcode found")
		return
	}
	a.setStatus("%s", strings.Join(codes, "  |  "))
}

// ===== Controls =====

func (a *App) togglePause() {
	p := a.currentPicker()
	if p == nil {
		return
	}
	if !p.IsScanningPaused() {
		p.PauseScanning(false)
		a.setStatus("Paused")
		return
	}
	if err := p.ResumeScanning(a.ctx); err != nil {
		a.log.WithError(err).Warn("resume failed")
		a.setStatus("Resume failed: %v", err)
		return
	}
	a.setStatus("Scanning")
}

func (a *App) toggleMirror() {
	if p := a.currentPicker(); p != nil {
		p.SetMirrorImageEnabled(!p.IsMirrorImageEnabled())
	}
}

func (a *App) switchCamera() {
	p := a.currentPicker()
	if p == nil {
		return
	}
	if err := p.SwitchCamera(a.ctx); err != nil {
		a.log.WithError(err).Warn("camera switch failed")
		a.setStatus("Camera switch failed: %v", err)
		return
	}
	if cam, ok := p.ActiveCamera(); ok {
		a.setStatus("Camera: %s", cam.Label)
	}
}

func (a *App) toggleTorch() {
	p := a.currentPicker()
	if p == nil {
		return
	}
	if err := p.ToggleTorch(a.ctx); err != nil {
		a.log.WithError(err).Warn("torch toggle failed")
		a.setStatus("Torch: %v", err)
	}
}

// chooseImage opens a file dialog for single image scanning.
func (a *App) chooseImage() {
	d := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if rc == nil {
			return
		}
		path := rc.URI().Path()
		rc.Close()
		go a.processImageFile(path)
	}, a.window)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}))
	d.Show()
}

func (a *App) processImageFile(path string) {
	p := a.currentPicker()
	if p == nil {
		return
	}
	a.setStatus("Scanning %s...", path)
	res, err := p.ProcessImageFile(a.ctx, path)
	switch {
	case errors.Is(err, picker.ErrEngineBusy), errors.Is(err, picker.ErrScanningPaused):
		a.setStatus("Not now: %v", err)
	case err != nil:
		a.log.WithError(err).WithField("path", path).Warn("image scan failed")
		a.setStatus("Image scan failed: %v", err)
	case len(res.Barcodes) == 0:
		a.setStatus("No barcode found")
	}
}

// ===== Display =====

// startFrameRefresh copies the newest camera frame into the view at the
// configured UI rate.
func (a *App) startFrameRefresh() {
	go func() {
		uiFPS := a.cfg.UIFPS
		if uiFPS <= 0 {
			uiFPS = 30
		}
		ticker := time.NewTicker(time.Second / time.Duration(uiFPS))
		defer ticker.Stop()

		buffer := a.cameras.Frames()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
			}

			// Only update if there's a new frame (avoids unnecessary refreshes)
			frame, seq, ok := buffer.NextFrame(a.lastFrameRead)
			if !ok {
				continue
			}
			a.lastFrameRead = seq
			a.view.ShowFrame(frame)

			a.framesShown++
			if a.framesShown%90 == 1 {
				fps, total, _ := buffer.CaptureStats()
				a.log.WithFields(logrus.Fields{
					"shown":    a.framesShown,
					"captured": total,
					"dropped":  buffer.DroppedCount(),
					"fps":      fmt.Sprintf("%.1f", fps),
				}).Debug("display")
			}
		}
	}()
}

// =============================================================================
// Health Logging
// =============================================================================

// startHealthLogging periodically logs stream and host health.
// Disabled when HealthLogIntervalSec <= 0.
func (a *App) startHealthLogging() {
	interval := a.cfg.HealthLogIntervalSec
	if interval <= 0 {
		a.log.Info("health logging disabled (interval <= 0)")
		return
	}

	ticker := time.NewTicker(time.Duration(interval * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.logHealthSummary()
		}
	}
}

func (a *App) logHealthSummary() {
	p := a.currentPicker()
	if p == nil {
		return
	}

	snap := a.monitor.Last()
	if a.throttle == nil {
		var err error
		if snap, err = a.monitor.UpdateStats(); err != nil {
			a.log.WithError(err).Debug("host stats unavailable")
		}
	}

	buffer := a.cameras.Frames()
	fps, total, uptime := buffer.CaptureStats()
	fields := logrus.Fields{
		"state":     p.State().String(),
		"streaming": a.cameras.Streaming(),
		"stale":     buffer.Stale(a.staleTimeout()),
		"capture":   fmt.Sprintf("%.1f fps", fps),
		"frames":    total,
		"dropped":   buffer.DroppedCount(),
		"uptime":    uptime.Round(time.Second),
		"scans":     a.scans.Load(),
		"load":      snap.LoadAverage,
		"temp_c":    snap.Temperature,
		"mem_pct":   fmt.Sprintf("%.0f", snap.MemoryUsage),
	}
	if a.throttle != nil {
		fields["fps_limit"] = a.throttle.Limit()
	}
	a.log.WithFields(fields).Info("health")
}

// =============================================================================
// Stale Playback Detection + Bounded Auto-Restart
// =============================================================================
// A stream that stops delivering frames is reinitialized through the picker,
// bounded by:
//   - RestartCooldownSec: minimum time between restarts
//   - MaxRestartsPerWindow: max restarts allowed in RestartWindowSec
//   - Extended cooldown (2x window) when limit is reached
// =============================================================================

func (a *App) staleTimeout() time.Duration {
	return time.Duration(a.cfg.StaleFrameTimeoutSec * float64(time.Second))
}

func (a *App) startStaleFrameDetection() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.checkStalePlayback()
		}
	}
}

func (a *App) checkStalePlayback() {
	p := a.currentPicker()
	if p == nil || p.IsScanningPaused() || !p.IsVisible() {
		return
	}
	if a.cameras.Streaming() && !a.cameras.Frames().Stale(a.staleTimeout()) {
		return
	}
	if !a.allowRestart(time.Now()) {
		return
	}
	if err := p.CheckAndRecoverPlayback(a.ctx); err != nil {
		a.log.WithError(err).Warn("playback recovery failed")
		a.setStatus("Camera lost: %v", err)
		return
	}
	a.log.Info("playback recovered")
}

// allowRestart applies the restart policy and records the attempt.
func (a *App) allowRestart(now time.Time) bool {
	cooldown := time.Duration(a.cfg.RestartCooldownSec * float64(time.Second))
	window := time.Duration(a.cfg.RestartWindowSec * float64(time.Second))
	extendedCooldown := window * 2

	if !a.lastRestartTime.IsZero() && now.Sub(a.lastRestartTime) < cooldown {
		return false
	}

	if a.restartLimitHit {
		if now.Sub(a.limitHitAt) < extendedCooldown {
			return false
		}
		a.log.Info("extended cooldown passed, attempting recovery")
		a.restartEvents = nil
		a.restartLimitHit = false
	}

	recentCount := 0
	for _, t := range a.restartEvents {
		if now.Sub(t) <= window {
			recentCount++
		}
	}
	if recentCount >= a.cfg.MaxRestartsPerWindow {
		a.log.WithFields(logrus.Fields{
			"restarts": recentCount,
			"window":   window,
			"retry_in": extendedCooldown,
		}).Warn("restart limit reached")
		a.restartLimitHit = true
		a.limitHitAt = now
		return false
	}

	a.restartEvents = append(a.restartEvents, now)
	a.lastRestartTime = now

	var filtered []time.Time
	for _, t := range a.restartEvents {
		if now.Sub(t) <= window*2 {
			filtered = append(filtered, t)
		}
	}
	a.restartEvents = filtered
	return true
}

// startHotplugDetection polls the device list and updates the camera
// switcher when cameras come and go.
func (a *App) startHotplugDetection() {
	interval := time.Duration(a.cfg.HotplugIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
		p := a.currentPicker()
		if p == nil {
			continue
		}
		n, err := p.RefreshCameras(a.ctx)
		if err != nil {
			a.log.WithError(err).Debug("camera rescan failed")
			continue
		}
		if n != a.cameraCount {
			a.log.WithFields(logrus.Fields{"before": a.cameraCount, "now": n}).Info("camera count changed")
			a.cameraCount = n
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// stop releases the picker, the engine and the camera exactly once.
func (a *App) stop() bool {
	stopped := false
	a.cleanupOnce.Do(func() {
		stopped = true
		a.log.Info("cleanup: stopping")
		close(a.stopCh)
		if a.cancel != nil {
			a.cancel()
		}

		a.mu.Lock()
		p := a.picker
		a.picker = nil
		a.mu.Unlock()

		if p != nil {
			p.Destroy(true)
		} else {
			a.cameras.Close()
			a.channel.Teardown()
		}
	})
	return stopped
}

// cleanup stops everything and quits the window.
func (a *App) cleanup() {
	if a.stop() {
		a.log.Info("cleanup: complete, exiting")
	}
	a.fyneApp.Quit()
}

// restart stops everything and relaunches the executable with the same
// arguments.
func (a *App) restart() {
	a.stop()

	executable, err := os.Executable()
	if err != nil {
		a.log.WithError(err).Error("restart: executable path unknown")
		return
	}

	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		a.log.WithError(err).Error("restart: failed to start new instance")
		return
	}

	a.log.Info("restart: new instance started, exiting current")
	a.fyneApp.Quit()
}

// Cleanup stops the picker and quits the window loop. Safe from any
// goroutine, e.g. a signal handler.
func (a *App) Cleanup() {
	a.cleanup()
}

// Stop releases the camera and engine once the window loop has returned.
func (a *App) Stop() {
	a.stop()
}
