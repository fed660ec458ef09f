package picker

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/camera"
	"barcode-picker-go/internal/eventbus"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
)

// GuiState is the visible mode of the picker.
type GuiState int

const (
	StateActiveScanning GuiState = iota
	StatePaused
	StateSingleImageFallback
)

func (s GuiState) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateSingleImageFallback:
		return "singleImageFallback"
	}
	return "activeScanning"
}

// Layout constants.
const (
	reticleBorder = 0.025
	reticleUsable = 1 - 2*reticleBorder

	// single-image upload box reference size
	uploadRefWidth  = 500
	uploadRefHeight = 300

	DefaultResizeInterval = 200 * time.Millisecond
)

// settingsSink is the part of the engine channel the GUI feeds back into.
type settingsSink interface {
	Settings() *scan.ScanSettings
	ApplySettings(settings *scan.ScanSettings) error
	On(event string, fn eventbus.Listener) func()
}

type guiConfig struct {
	style                 GuiStyle
	fit                   VideoFit
	singleImage           bool
	reloadOnShow          bool
	visible               bool
	laserArea             *scan.SearchArea
	viewfinderArea        *scan.SearchArea
	cameraSwitcherEnabled bool
	torchToggleEnabled    bool
	resizeInterval        time.Duration
}

// gui keeps the view consistent with scanning and camera state. View calls
// are made without holding mu.
type gui struct {
	view View
	sink settingsSink
	log  *logrus.Entry

	mu             sync.Mutex
	cfg            guiConfig
	artworkPaused  bool
	lastW, lastH   float32
	lastVW, lastVH int
	mirror         map[string]bool
	cameraCount    int
	torchAvailable bool
	searchArea     scan.SearchArea

	offSettings func()
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newGui(view View, sink settingsSink, cfg guiConfig, log *logrus.Entry) *gui {
	if cfg.resizeInterval <= 0 {
		cfg.resizeInterval = DefaultResizeInterval
	}
	g := &gui{
		view:          view,
		sink:          sink,
		log:           log.WithField("component", "gui"),
		cfg:           cfg,
		artworkPaused: true,
		mirror:        make(map[string]bool),
		searchArea:    sink.Settings().SearchArea,
		stop:          make(chan struct{}),
	}
	g.offSettings = sink.On(scanner.EventSettingsChanged, func(payload any) {
		if s, ok := payload.(*scan.ScanSettings); ok {
			g.mu.Lock()
			g.searchArea = s.SearchArea
			g.mu.Unlock()
			g.placeReticle()
		}
	})

	view.SetHidden(!cfg.visible)
	view.ShowStyle(cfg.style)
	view.SetVideoFit(cfg.fit)
	view.SetScanningPaused(true)
	view.SetUploadAvailable(cfg.singleImage)
	g.placeReticle()
	g.refreshControls()
	return g
}

// start launches the resize poll.
func (g *gui) start() {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.cfg.resizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				g.reconcile()
			}
		}
	}()
}

// destroy cancels the poll and unsubscribes; it waits for the poll to exit.
func (g *gui) destroy() {
	g.stopOnce.Do(func() {
		close(g.stop)
		g.offSettings()
	})
	g.wg.Wait()
}

func (g *gui) state() GuiState {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.cfg.singleImage:
		return StateSingleImageFallback
	case g.artworkPaused:
		return StatePaused
	}
	return StateActiveScanning
}

func (g *gui) setPaused(paused bool) {
	g.mu.Lock()
	g.artworkPaused = paused
	single := g.cfg.singleImage
	g.mu.Unlock()
	g.view.SetScanningPaused(paused)
	if single {
		g.view.SetUploadAvailable(!paused)
	}
}

func (g *gui) enterSingleImage() {
	g.mu.Lock()
	g.cfg.singleImage = true
	g.lastW, g.lastH = 0, 0
	g.mu.Unlock()
	g.log.Info("single image mode")
	g.view.SetUploadAvailable(true)
	g.refreshControls()
	g.reconcile()
}

func (g *gui) singleImage() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.singleImage
}

func (g *gui) setVisible(visible bool) {
	g.mu.Lock()
	wasHidden := !g.cfg.visible
	g.cfg.visible = visible
	reload := g.cfg.reloadOnShow && visible && wasHidden
	single := g.cfg.singleImage
	g.mu.Unlock()

	g.view.SetHidden(!visible)
	if !visible || single {
		return
	}
	if reload {
		g.view.ReloadVideo()
	}
	g.view.PlayVideo()
}

func (g *gui) visible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.visible
}

// flash restarts the detection animation when at least one code survived
// the listeners.
func (g *gui) flash(result *scan.ScanResult) {
	if result == nil || result.AcceptedCount() == 0 {
		return
	}
	g.mu.Lock()
	style := g.cfg.style
	g.mu.Unlock()
	g.view.ClearFlash(style)
	// force a layout pass between removal and re-adding
	_, _ = g.view.Size()
	g.view.RestartFlash(style)
}

func (g *gui) setStyle(style GuiStyle) {
	g.mu.Lock()
	g.cfg.style = style
	g.mu.Unlock()
	g.view.ShowStyle(style)
	g.placeReticle()
}

func (g *gui) setLaserArea(area *scan.SearchArea) {
	g.mu.Lock()
	g.cfg.laserArea = cloneArea(area)
	g.mu.Unlock()
	g.placeReticle()
}

func (g *gui) setViewfinderArea(area *scan.SearchArea) {
	g.mu.Lock()
	g.cfg.viewfinderArea = cloneArea(area)
	g.mu.Unlock()
	g.placeReticle()
}

func cloneArea(a *scan.SearchArea) *scan.SearchArea {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// reticleArea maps a normalized area into the bordered reticle space.
func reticleArea(a scan.SearchArea) scan.SearchArea {
	return scan.SearchArea{
		X:      reticleBorder + a.X*reticleUsable,
		Y:      reticleBorder + a.Y*reticleUsable,
		Width:  a.Width * reticleUsable,
		Height: a.Height * reticleUsable,
	}
}

func (g *gui) placeReticle() {
	g.mu.Lock()
	style := g.cfg.style
	area := g.searchArea
	switch {
	case style == StyleLaser && g.cfg.laserArea != nil:
		area = *g.cfg.laserArea
	case style == StyleViewfinder && g.cfg.viewfinderArea != nil:
		area = *g.cfg.viewfinderArea
	}
	g.mu.Unlock()
	if style == StyleNone {
		return
	}
	g.view.PlaceReticle(style, reticleArea(area))
}

// setVideoFit switches fit. Contain always scans the full frame, so the GUI
// owned base area is reset.
func (g *gui) setVideoFit(fit VideoFit) {
	g.mu.Lock()
	g.cfg.fit = fit
	g.lastW, g.lastH = 0, 0
	g.mu.Unlock()

	g.view.SetVideoFit(fit)
	if fit == FitContain {
		g.view.SetVisibleRegion(scan.FullSearchArea)
		g.applyBaseArea(scan.FullSearchArea)
	}
	g.reconcile()
}

// invalidate forces the next reconcile to recompute the layout.
func (g *gui) invalidate() {
	g.mu.Lock()
	g.lastW, g.lastH = 0, 0
	g.mu.Unlock()
}

// reconcile compares the view size with the last known one and recomputes
// the layout on change.
func (g *gui) reconcile() {
	w, h := g.view.Size()
	vw, vh := g.view.VideoSize()

	g.mu.Lock()
	if w == g.lastW && h == g.lastH && vw == g.lastVW && vh == g.lastVH {
		g.mu.Unlock()
		return
	}
	single, fit := g.cfg.singleImage, g.cfg.fit
	if w <= 0 || h <= 0 || (!single && (vw <= 0 || vh <= 0)) {
		g.mu.Unlock()
		return
	}
	g.lastW, g.lastH, g.lastVW, g.lastVH = w, h, vw, vh
	g.mu.Unlock()

	if single {
		scale := float32(math.Min(1, math.Min(float64(w)/uploadRefWidth, float64(h)/uploadRefHeight)))
		g.view.SetUploadScale(scale)
		return
	}

	ratio := float64(vw) / float64(vh)
	if fit == FitContain {
		bw, bh := letterbox(float64(w), float64(h), ratio)
		g.view.SetVideoBounds(float32(bw), float32(bh))
		return
	}

	g.view.SetVideoBounds(w, h)
	base := coverArea(float64(w), float64(h), ratio)
	g.view.SetVisibleRegion(base)
	g.applyBaseArea(base)
	g.placeReticle()
}

// letterbox fits a video of the given aspect ratio inside w×h.
func letterbox(w, h, ratio float64) (float64, float64) {
	if w/h > ratio {
		return h * ratio, h
	}
	return w, w / ratio
}

// coverArea is the normalized part of the video visible when it covers a
// w×h container.
func coverArea(w, h, ratio float64) scan.SearchArea {
	wp, hp := 1.0, 1.0
	if ratio < w/h {
		hp = math.Min(1, h/(w/ratio))
	} else {
		wp = math.Min(1, w/(h*ratio))
	}
	return scan.SearchArea{X: (1 - wp) / 2, Y: (1 - hp) / 2, Width: wp, Height: hp}
}

func (g *gui) applyBaseArea(area scan.SearchArea) {
	settings := g.sink.Settings()
	if settings.BaseSearchArea == area {
		return
	}
	settings.BaseSearchArea = area
	if err := g.sink.ApplySettings(settings); err != nil {
		g.log.WithError(err).Warn("could not apply base search area")
		return
	}
	g.log.WithField("area", area).Debug("base search area updated")
}

// ===== Mirroring =====

func (g *gui) setMirror(cam camera.Camera, enabled bool) {
	g.mu.Lock()
	g.mirror[cam.Identity()] = enabled
	g.mu.Unlock()
}

func (g *gui) mirrored(cam camera.Camera) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.mirror[cam.Identity()]; ok {
		return v
	}
	return cam.Type == camera.Front
}

func (g *gui) applyMirror(cam camera.Camera) {
	g.view.SetMirrored(g.mirrored(cam))
}

// ===== Controls =====

func (g *gui) setCameraSwitcherEnabled(enabled bool) {
	g.mu.Lock()
	g.cfg.cameraSwitcherEnabled = enabled
	g.mu.Unlock()
	g.refreshControls()
}

func (g *gui) setTorchToggleEnabled(enabled bool) {
	g.mu.Lock()
	g.cfg.torchToggleEnabled = enabled
	g.mu.Unlock()
	g.refreshControls()
}

func (g *gui) setCameraCount(n int) {
	g.mu.Lock()
	g.cameraCount = n
	g.mu.Unlock()
	g.refreshControls()
}

func (g *gui) setTorchAvailable(available bool) {
	g.mu.Lock()
	g.torchAvailable = available
	g.mu.Unlock()
	g.refreshControls()
}

func (g *gui) refreshControls() {
	g.mu.Lock()
	switcher := g.cfg.cameraSwitcherEnabled && g.cameraCount > 1 && !g.cfg.singleImage
	torch := g.cfg.torchToggleEnabled && g.torchAvailable && !g.cfg.singleImage
	g.mu.Unlock()
	g.view.SetCameraSwitcherVisible(switcher)
	g.view.SetTorchToggleVisible(torch)
}
