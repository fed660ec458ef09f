// Package picker ties the engine channel, a camera and a view together into
// a live barcode picker.
//
// A Picker starts inactive and activates once the engine is ready and the
// first frame has been processed. Engine errors pause it; scanning only
// resumes on an explicit ResumeScanning.
package picker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/camera"
	"barcode-picker-go/internal/eventbus"
	"barcode-picker-go/internal/perf"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
)

// Events emitted by a Picker.
const (
	EventReady        = "ready"
	EventSubmitFrame  = "submitFrame"
	EventProcessFrame = "processFrame"
	EventScan         = "scan"
	EventScanError    = "scanError"
)

var (
	ErrNoEngine           = errors.New("picker needs an engine channel")
	ErrNoView             = errors.New("picker needs a view")
	ErrScanningPaused     = errors.New("scanning is paused")
	ErrEngineBusy         = errors.New("engine is busy")
	ErrNotSingleImageMode = errors.New("picker is not in single image mode")
	ErrDestroyed          = errors.New("picker destroyed")
)

// DefaultStaleFrameAge is how old the newest frame may get before playback
// is considered stuck.
const DefaultStaleFrameAge = 3 * time.Second

// SingleImageMode controls the single-image fallback.
type SingleImageMode struct {
	// Always forces single image mode.
	Always bool
	// AllowFallback enables it when no camera stream can be used.
	AllowFallback bool
}

// Options configure a Picker. The zero value is usable.
type Options struct {
	Hidden         bool
	ScanningPaused bool
	GuiStyle       GuiStyle
	VideoFit       VideoFit
	LaserArea      *scan.SearchArea
	ViewfinderArea *scan.SearchArea

	CameraSwitcherEnabled bool
	TorchToggleEnabled    bool

	// TargetScanningFPS defaults to DefaultTargetFPS.
	TargetScanningFPS int
	SingleImage       SingleImageMode
	// ReloadOnShow reloads the video when the picker is shown again, for
	// capture stacks that keep stale frames buffered while hidden.
	ReloadOnShow bool

	ScanSettings   *scan.ScanSettings
	Camera         *camera.Camera
	CameraSettings *camera.Settings
	// SkipCameraAccess defers opening the camera to AccessCamera.
	SkipCameraAccess bool
	// CameraProbe reports a missing capture capability.
	CameraProbe func() error

	ResizeInterval time.Duration
	StaleFrameAge  time.Duration
}

// CameraManager is the camera collaborator; *camera.Manager implements it.
type CameraManager interface {
	Cameras(ctx context.Context) ([]camera.Camera, error)
	InitializeCameraWithSettings(ctx context.Context, cam *camera.Camera, settings *camera.Settings) error
	ReinitializeCamera(ctx context.Context) error
	StopStream()
	SetTorch(ctx context.Context, on bool) error
	ToggleTorch(ctx context.Context) error
	ActiveCamera() (camera.Camera, bool)
	SelectedCamera() (camera.Camera, bool)
	ActiveSettings() camera.Settings
	Streaming() bool
	TorchAvailable() bool
	Frames() *camera.FrameBuffer
	Close()
}

// Deps are the collaborators of a Picker. Cameras may be nil, which only
// works in single image mode.
type Deps struct {
	Engine   *scanner.Channel
	Cameras  CameraManager
	View     View
	Throttle *perf.AdaptiveController
	Logger   *logrus.Logger
}

// Picker is a live barcode picker.
type Picker struct {
	log   *logrus.Entry
	bus   *eventbus.Bus
	ch    *scanner.Channel
	cams  CameraManager
	view  View
	gui   *gui
	sched *scheduler
	opts  Options

	mu            sync.Mutex
	destroyed     bool
	activated     bool
	cameraAccess  bool
	cameraPaused  bool
	processing    bool
	pendingCamera *camera.Camera
	pendingSet    *camera.Settings
	ready         bool

	offReady func()
}

// New builds a picker and, unless SkipCameraAccess is set, opens the camera.
// Camera errors are returned and leave nothing running.
func New(ctx context.Context, opts Options, deps Deps) (*Picker, error) {
	if deps.Engine == nil {
		return nil, ErrNoEngine
	}
	if deps.View == nil {
		return nil, ErrNoView
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"component": "picker", "session": deps.Engine.SessionID()})
	if opts.StaleFrameAge <= 0 {
		opts.StaleFrameAge = DefaultStaleFrameAge
	}

	single, err := singleImageMode(opts, deps.Cameras)
	if err != nil {
		return nil, err
	}
	if single {
		log.Info("starting in single image mode")
	}

	if opts.ScanSettings != nil {
		if err := deps.Engine.ApplySettings(opts.ScanSettings); err != nil {
			return nil, err
		}
	}

	p := &Picker{
		log:           log,
		bus:           eventbus.New(),
		ch:            deps.Engine,
		cams:          deps.Cameras,
		view:          deps.View,
		opts:          opts,
		pendingCamera: opts.Camera,
		pendingSet:    opts.CameraSettings,
	}
	p.gui = newGui(deps.View, deps.Engine, guiConfig{
		style:                 opts.GuiStyle,
		fit:                   opts.VideoFit,
		singleImage:           single,
		reloadOnShow:          opts.ReloadOnShow,
		visible:               !opts.Hidden,
		laserArea:             cloneArea(opts.LaserArea),
		viewfinderArea:        cloneArea(opts.ViewfinderArea),
		cameraSwitcherEnabled: opts.CameraSwitcherEnabled,
		torchToggleEnabled:    opts.TorchToggleEnabled,
		resizeInterval:        opts.ResizeInterval,
	}, log)

	var frames FrameSource = noFrames{}
	if deps.Cameras != nil {
		frames = deps.Cameras.Frames()
	}
	p.sched = newScheduler(deps.Engine, frames, deps.Throttle, schedulerHooks{
		firstFrame: p.onFirstFrame,
		submitted:  p.onSubmitted,
		processed:  p.onProcessed,
		failed:     p.onEngineError,
	}, log)
	if opts.TargetScanningFPS > 0 {
		p.sched.setTargetFPS(opts.TargetScanningFPS)
	}
	if opts.ScanningPaused {
		p.sched.pause()
	}

	if !single && !opts.SkipCameraAccess {
		if err := p.AccessCamera(ctx); err != nil {
			p.gui.destroy()
			return nil, err
		}
	}

	p.offReady = deps.Engine.On(scanner.EventReady, func(any) {
		p.mu.Lock()
		if p.ready {
			p.mu.Unlock()
			return
		}
		p.ready = true
		p.mu.Unlock()
		p.log.Info("engine ready")
		if p.gui.singleImage() && !p.IsScanningPaused() {
			p.gui.setPaused(false)
		}
		p.bus.Emit(EventReady, nil)
	})
	p.gui.start()
	if !single {
		p.sched.start()
	}
	return p, nil
}

func singleImageMode(opts Options, cams CameraManager) (bool, error) {
	if opts.SingleImage.Always {
		return true, nil
	}
	var err error
	switch {
	case cams == nil:
		err = camera.ErrNoCameraAvailable
	case opts.CameraProbe != nil:
		err = opts.CameraProbe()
	}
	if err == nil {
		return false, nil
	}
	if opts.SingleImage.AllowFallback {
		return true, nil
	}
	return false, err
}

type noFrames struct{}

func (noFrames) NextFrame(uint64) (image.Image, uint64, bool) { return nil, 0, false }

// On subscribes to a picker event. Subscribing to EventReady once the engine
// is ready invokes fn immediately instead; fn runs once either way.
func (p *Picker) On(event string, fn eventbus.Listener) (off func()) {
	if event != EventReady {
		return p.bus.On(event, fn)
	}
	p.mu.Lock()
	if p.ready {
		p.mu.Unlock()
		fn(nil)
		return func() {}
	}
	off = p.bus.On(event, fn)
	p.mu.Unlock()
	return off
}

// RemoveAllListeners drops every listener of event.
func (p *Picker) RemoveAllListeners(event string) {
	p.bus.RemoveAll(event)
}

func (p *Picker) onFirstFrame() {
	if cam, ok := p.cams.ActiveCamera(); ok {
		p.gui.applyMirror(cam)
	}
	p.gui.invalidate()
	p.gui.reconcile()
}

func (p *Picker) onSubmitted(data []byte, is scan.ImageSettings) {
	snapshot := make([]byte, len(data))
	copy(snapshot, data)
	p.bus.Emit(EventSubmitFrame, &scan.ScanResult{ImageData: snapshot, ImageSettings: is})
}

func (p *Picker) onProcessed(res *scan.ScanResult) {
	p.mu.Lock()
	first := !p.activated
	p.activated = true
	p.mu.Unlock()
	if first && !p.IsScanningPaused() {
		p.gui.setPaused(false)
	}
	p.publish(res)
}

// publish emits processFrame and, for a non-empty result, scan. The flash
// runs after listeners had the chance to reject codes.
func (p *Picker) publish(res *scan.ScanResult) {
	p.bus.Emit(EventProcessFrame, res)
	if len(res.Barcodes) == 0 {
		return
	}
	p.bus.Emit(EventScan, res)
	p.gui.flash(res)
}

// onEngineError pauses and reports err. Every occurrence is reported.
func (p *Picker) onEngineError(err error) {
	var ee *scan.EngineError
	if errors.As(err, &ee) {
		p.log.WithFields(logrus.Fields{"code": ee.Code, "message": ee.Message}).Error("engine error")
	} else {
		p.log.WithError(err).Error("scan error")
	}
	p.sched.pause()
	p.gui.setPaused(true)
	p.bus.Emit(EventScanError, err)
}

// ===== Scanning =====

// ApplyScanSettings replaces the scan settings. The GUI maintained base
// search area is kept.
func (p *Picker) ApplyScanSettings(settings *scan.ScanSettings) error {
	s := settings.Clone()
	s.BaseSearchArea = p.ch.Settings().BaseSearchArea
	return p.ch.ApplySettings(s)
}

// IsScanningPaused reports whether new frames are being held back.
func (p *Picker) IsScanningPaused() bool {
	return p.sched.isPaused()
}

// PauseScanning stops submitting frames. With pauseCamera the stream is
// released too and reacquired by ResumeScanning or AccessCamera.
func (p *Picker) PauseScanning(pauseCamera bool) {
	p.sched.pause()
	p.gui.setPaused(true)
	if !pauseCamera || p.cams == nil || p.gui.singleImage() {
		return
	}
	p.mu.Lock()
	p.cameraPaused = true
	p.mu.Unlock()
	p.cams.StopStream()
	p.log.Debug("camera stream paused")
}

// ResumeScanning restarts scanning, reacquiring the camera if PauseScanning
// released it. It also clears a previous engine error.
func (p *Picker) ResumeScanning(ctx context.Context) error {
	p.mu.Lock()
	cameraPaused := p.cameraPaused
	activated := p.activated
	p.mu.Unlock()
	if cameraPaused {
		if err := p.AccessCamera(ctx); err != nil {
			return err
		}
	}
	p.sched.resume()
	if activated || p.gui.singleImage() {
		p.gui.setPaused(false)
	}
	return nil
}

// SetTargetScanningFPS sets the scan rate, clamped to 1..60.
func (p *Picker) SetTargetScanningFPS(fps int) {
	p.sched.setTargetFPS(fps)
}

// ClearSession forgets codes seen so far by the duplicate filter.
func (p *Picker) ClearSession() {
	p.ch.ClearSession()
}

// CreateParserForFormat returns a parser bound to the picker's engine.
func (p *Picker) CreateParserForFormat(format scan.DataFormat) *scanner.Parser {
	return p.ch.CreateParserForFormat(format)
}

// Scanner exposes the underlying engine channel.
func (p *Picker) Scanner() *scanner.Channel {
	return p.ch
}

func (p *Picker) IsReady() bool {
	return p.ch.IsReady()
}

// State is the current GUI state.
func (p *Picker) State() GuiState {
	return p.gui.state()
}

// ===== Camera =====

// AccessCamera opens the selected camera, or the preferred one. It is a
// no-op in single image mode or when the stream is already running.
func (p *Picker) AccessCamera(ctx context.Context) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	access, paused := p.cameraAccess, p.cameraPaused
	cam, settings := p.pendingCamera, p.pendingSet
	p.mu.Unlock()

	if access && !paused && p.cams.Streaming() {
		return nil
	}
	if access {
		if active, ok := p.cams.ActiveCamera(); ok {
			cam = &active
			s := p.cams.ActiveSettings()
			settings = &s
		}
	}
	if err := p.cams.InitializeCameraWithSettings(ctx, cam, settings); err != nil {
		return err
	}
	p.mu.Lock()
	p.cameraAccess = true
	p.cameraPaused = false
	p.mu.Unlock()
	p.afterCameraChange(ctx)
	return nil
}

// ActiveCamera returns the camera currently streaming.
func (p *Picker) ActiveCamera() (camera.Camera, bool) {
	if p.cams == nil {
		return camera.Camera{}, false
	}
	return p.cams.ActiveCamera()
}

// SetActiveCamera selects cam (nil picks the preferred camera). When the
// camera is accessed it is switched immediately; on failure the previous
// camera keeps streaming.
func (p *Picker) SetActiveCamera(ctx context.Context, cam *camera.Camera, settings *camera.Settings) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	p.mu.Lock()
	access := p.cameraAccess && !p.cameraPaused
	p.pendingCamera, p.pendingSet = cam, settings
	p.mu.Unlock()
	if !access {
		return nil
	}
	if err := p.cams.InitializeCameraWithSettings(ctx, cam, settings); err != nil {
		return err
	}
	p.afterCameraChange(ctx)
	return nil
}

// ApplyCameraSettings reopens the selected camera with settings; nil means
// camera.DefaultSettings.
func (p *Picker) ApplyCameraSettings(ctx context.Context, settings *camera.Settings) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	if settings == nil {
		s := camera.DefaultSettings
		settings = &s
	}
	var cam *camera.Camera
	if sel, ok := p.cams.SelectedCamera(); ok {
		cam = &sel
	}
	return p.SetActiveCamera(ctx, cam, settings)
}

// SwitchCamera moves to the next discovered camera, keeping the active
// settings.
func (p *Picker) SwitchCamera(ctx context.Context) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	cameras, err := p.cams.Cameras(ctx)
	if err != nil {
		return err
	}
	if len(cameras) < 2 {
		return nil
	}
	next := cameras[0]
	if active, ok := p.cams.ActiveCamera(); ok {
		for i, c := range cameras {
			if c.Identity() == active.Identity() {
				next = cameras[(i+1)%len(cameras)]
				break
			}
		}
	}
	settings := p.cams.ActiveSettings()
	p.log.WithField("camera", next.Label).Info("switching camera")
	return p.SetActiveCamera(ctx, &next, &settings)
}

// RefreshCameras rediscovers the cameras after a device was plugged in or
// removed and updates the camera switcher. It returns the camera count.
func (p *Picker) RefreshCameras(ctx context.Context) (int, error) {
	if p.cams == nil {
		return 0, nil
	}
	cameras, err := p.cams.Cameras(ctx)
	if err != nil {
		return 0, err
	}
	p.gui.setCameraCount(len(cameras))
	return len(cameras), nil
}

func (p *Picker) afterCameraChange(ctx context.Context) {
	if cameras, err := p.cams.Cameras(ctx); err == nil {
		p.gui.setCameraCount(len(cameras))
	}
	if cam, ok := p.cams.ActiveCamera(); ok {
		p.gui.applyMirror(cam)
	}
	p.gui.setTorchAvailable(p.cams.TorchAvailable())
	p.gui.invalidate()
}

// CheckAndRecoverPlayback restarts a stream that ended or stopped delivering
// frames. Called when the window returns to the foreground.
func (p *Picker) CheckAndRecoverPlayback(ctx context.Context) error {
	if p.gui.singleImage() || p.cams == nil || !p.gui.visible() {
		return nil
	}
	p.mu.Lock()
	access := p.cameraAccess && !p.cameraPaused && !p.destroyed
	p.mu.Unlock()
	if !access {
		return nil
	}
	if p.cams.Streaming() && !p.cams.Frames().Stale(p.opts.StaleFrameAge) {
		return nil
	}
	p.log.Warn("camera playback stalled, reinitializing")
	if err := p.cams.ReinitializeCamera(ctx); err != nil {
		return fmt.Errorf("recover playback: %w", err)
	}
	p.afterCameraChange(ctx)
	return nil
}

// SetMirrorImageEnabled overrides mirroring for the selected camera only.
func (p *Picker) SetMirrorImageEnabled(enabled bool) {
	if p.gui.singleImage() || p.cams == nil {
		return
	}
	sel, ok := p.cams.SelectedCamera()
	if !ok {
		return
	}
	p.gui.setMirror(sel, enabled)
	if active, ok := p.cams.ActiveCamera(); ok && active.Identity() == sel.Identity() {
		p.gui.applyMirror(active)
	}
}

// IsMirrorImageEnabled reports whether the active camera is shown mirrored.
func (p *Picker) IsMirrorImageEnabled() bool {
	if p.cams == nil {
		return false
	}
	active, ok := p.cams.ActiveCamera()
	if !ok {
		return false
	}
	return p.gui.mirrored(active)
}

// SetTorchEnabled switches the torch of the active camera.
func (p *Picker) SetTorchEnabled(ctx context.Context, on bool) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	return p.cams.SetTorch(ctx, on)
}

func (p *Picker) ToggleTorch(ctx context.Context) error {
	if p.gui.singleImage() || p.cams == nil {
		return nil
	}
	return p.cams.ToggleTorch(ctx)
}

// ===== GUI =====

func (p *Picker) SetVisible(visible bool) { p.gui.setVisible(visible) }
func (p *Picker) IsVisible() bool         { return p.gui.visible() }

func (p *Picker) SetCameraSwitcherEnabled(enabled bool) { p.gui.setCameraSwitcherEnabled(enabled) }
func (p *Picker) SetTorchToggleEnabled(enabled bool)    { p.gui.setTorchToggleEnabled(enabled) }

func (p *Picker) SetGuiStyle(style GuiStyle) { p.gui.setStyle(style) }
func (p *Picker) SetVideoFit(fit VideoFit)   { p.gui.setVideoFit(fit) }

// SetLaserArea sets the laser placement; nil follows the scan search area.
func (p *Picker) SetLaserArea(area *scan.SearchArea) { p.gui.setLaserArea(area) }

// SetViewfinderArea sets the viewfinder placement; nil follows the scan
// search area.
func (p *Picker) SetViewfinderArea(area *scan.SearchArea) { p.gui.setViewfinderArea(area) }

// ===== Single image =====

// ProcessImage scans one still image in single image mode. Images larger
// than MaxImageDimension are downscaled first. It is refused while paused or
// while the engine is busy.
func (p *Picker) ProcessImage(ctx context.Context, img image.Image) (*scan.ScanResult, error) {
	if !p.gui.singleImage() {
		return nil, ErrNotSingleImageMode
	}
	if p.IsScanningPaused() {
		return nil, ErrScanningPaused
	}
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrDestroyed
	}
	if p.processing || p.ch.Busy() {
		p.mu.Unlock()
		return nil, ErrEngineBusy
	}
	p.processing = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
	}()

	p.view.SetUploadAvailable(false)
	p.view.SetUploadProgress(0)
	defer p.view.SetUploadAvailable(true)

	img = downscale(img, MaxImageDimension)
	b := img.Bounds()
	is := scan.ImageSettings{Width: b.Dx(), Height: b.Dy(), Format: scan.RGBA8U}
	data := rgbaPixels(img)
	p.view.SetUploadProgress(30)
	if err := p.ch.ApplyImageSettings(is); err != nil {
		return nil, err
	}
	p.onSubmitted(data, is)
	p.view.SetUploadProgress(60)

	res, err := p.ch.SubmitScan(data, true).Wait(ctx)
	p.view.SetUploadProgress(100)
	if err != nil {
		if ctx.Err() == nil {
			p.onEngineError(err)
		}
		return nil, err
	}
	p.publish(res)
	return res, nil
}

// ProcessImageFile decodes and scans the image at path.
func (p *Picker) ProcessImageFile(ctx context.Context, path string) (*scan.ScanResult, error) {
	img, err := LoadImageFile(path)
	if err != nil {
		return nil, err
	}
	return p.ProcessImage(ctx, img)
}

// ===== Lifecycle =====

// Destroy stops scanning, releases the camera and, with destroyScanner, tears
// down the engine channel. The picker is unusable afterwards.
func (p *Picker) Destroy(destroyScanner bool) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.sched.shutdown()
	p.gui.destroy()
	p.offReady()
	if p.cams != nil {
		p.cams.Close()
	}
	if destroyScanner {
		p.ch.Teardown()
	}
	p.view.SetHidden(true)
	p.bus.RemoveAll("")
	p.log.Debug("picker destroyed")
}
