package ui

import (
	"image"
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
)

var (
	colorBackground = color.RGBA{20, 20, 20, 255}
	colorLaser      = color.RGBA{255, 40, 40, 230}
	colorFinder     = color.RGBA{255, 255, 255, 200}
	colorFlash      = color.RGBA{60, 220, 90, 255}
	colorPaused     = color.RGBA{0, 0, 0, 150}
)

const flashDuration = 400 * time.Millisecond

var _ picker.View = (*PickerView)(nil)

// Handlers are the actions behind the view's controls.
type Handlers struct {
	SwitchCamera func()
	ToggleTorch  func()
	Upload       func()
	Tap          func()
	LongPress    func()
}

// PickerView renders the picker in a fyne canvas and implements
// picker.View. Frames are pushed with ShowFrame.
type PickerView struct {
	mu          sync.Mutex
	size        fyne.Size
	videoW      int
	videoH      int
	videoBounds fyne.Size
	fit         picker.VideoFit
	region      scan.SearchArea
	mirrored    bool
	hidden      bool
	playing     bool
	reticle     scan.SearchArea
	uploadShown bool
	uploadScale float32
	transform   frameTransform
	flash       *fyne.Animation

	root        *fyne.Container
	video       *canvas.Image
	laser       *canvas.Line
	viewfinder  *canvas.Rectangle
	tap         *tapArea
	paused      *fyne.Container
	uploadBox   *fyne.Container
	uploadBtn   *widget.Button
	progress    *widget.ProgressBar
	controls    *fyne.Container
	switcherBtn *widget.Button
	torchBtn    *widget.Button
	placeholder image.Image
}

// NewPickerView builds the canvas objects of the picker.
func NewPickerView(h Handlers) *PickerView {
	v := &PickerView{
		region:      scan.FullSearchArea,
		uploadScale: 1,
		placeholder: createColoredImage(64, 48, colorBackground),
	}

	v.video = canvas.NewImageFromImage(v.placeholder)
	v.video.FillMode = canvas.ImageFillContain

	v.laser = canvas.NewLine(colorLaser)
	v.laser.StrokeWidth = 2
	v.laser.Hidden = true

	v.viewfinder = canvas.NewRectangle(color.Transparent)
	v.viewfinder.StrokeColor = colorFinder
	v.viewfinder.StrokeWidth = 3
	v.viewfinder.Hidden = true

	v.tap = newTapArea(h.Tap, h.LongPress)

	pausedText := canvas.NewText("Scanning paused", color.White)
	pausedText.TextSize = 20
	pausedText.Alignment = fyne.TextAlignCenter
	v.paused = container.NewStack(canvas.NewRectangle(colorPaused), container.NewCenter(pausedText))
	v.paused.Hide()

	v.uploadBtn = widget.NewButtonWithIcon("Scan image", theme.FolderOpenIcon(), orNoop(h.Upload))
	v.progress = widget.NewProgressBar()
	v.progress.Hide()
	uploadFrame := canvas.NewRectangle(color.RGBA{40, 40, 45, 255})
	uploadFrame.StrokeColor = colorFinder
	uploadFrame.StrokeWidth = 2
	v.uploadBox = container.NewStack(uploadFrame, container.NewCenter(container.NewVBox(v.uploadBtn, v.progress)))
	v.uploadBox.Hide()

	v.switcherBtn = widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), orNoop(h.SwitchCamera))
	v.torchBtn = widget.NewButtonWithIcon("", theme.ColorChromaticIcon(), orNoop(h.ToggleTorch))
	v.switcherBtn.Hide()
	v.torchBtn.Hide()
	v.controls = container.NewHBox(v.switcherBtn, v.torchBtn)

	v.root = container.New(&pickerLayout{v: v},
		canvas.NewRectangle(colorBackground),
		v.video,
		v.laser,
		v.viewfinder,
		v.tap,
		v.paused,
		v.uploadBox,
		v.controls,
	)
	return v
}

func orNoop(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	return fn
}

// Object is the root canvas object to place in a window.
func (v *PickerView) Object() fyne.CanvasObject {
	return v.root
}

// ShowFrame displays a camera frame. Frames are dropped while the view is
// hidden or playback has not started.
func (v *PickerView) ShowFrame(frame image.Image) {
	b := frame.Bounds()
	v.mu.Lock()
	v.videoW, v.videoH = b.Dx(), b.Dy()
	if v.hidden || !v.playing || v.uploadShown {
		v.mu.Unlock()
		return
	}
	region := scan.FullSearchArea
	if v.fit == picker.FitCover {
		region = v.region
	}
	display := v.transform.apply(frame, region, v.mirrored)
	v.mu.Unlock()

	v.video.Image = display
	v.video.Refresh()
}

func (v *PickerView) relayout() {
	v.root.Refresh()
}

// ===== picker.View =====

func (v *PickerView) Size() (float32, float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size.Width, v.size.Height
}

func (v *PickerView) VideoSize() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.videoW, v.videoH
}

func (v *PickerView) SetHidden(hidden bool) {
	v.mu.Lock()
	v.hidden = hidden
	v.mu.Unlock()
	if hidden {
		v.root.Hide()
	} else {
		v.root.Show()
	}
}

// ReloadVideo drops the displayed frame so the next one starts fresh.
func (v *PickerView) ReloadVideo() {
	v.mu.Lock()
	v.transform = frameTransform{}
	v.mu.Unlock()
	v.video.Image = v.placeholder
	v.video.Refresh()
}

func (v *PickerView) PlayVideo() {
	v.mu.Lock()
	v.playing = true
	v.mu.Unlock()
}

func (v *PickerView) ShowStyle(style picker.GuiStyle) {
	v.mu.Lock()
	single := v.uploadShown
	v.mu.Unlock()
	v.laser.Hidden = single || style != picker.StyleLaser
	v.viewfinder.Hidden = single || style != picker.StyleViewfinder
	v.relayout()
}

func (v *PickerView) SetScanningPaused(paused bool) {
	v.mu.Lock()
	single := v.uploadShown
	v.mu.Unlock()
	if paused && !single {
		v.paused.Show()
	} else {
		v.paused.Hide()
	}
}

// RestartFlash animates the reticle from the detection color back to its
// resting color.
func (v *PickerView) RestartFlash(style picker.GuiStyle) {
	var anim *fyne.Animation
	switch style {
	case picker.StyleLaser:
		anim = canvas.NewColorRGBAAnimation(colorFlash, colorLaser, flashDuration, func(c color.Color) {
			v.laser.StrokeColor = c
			v.laser.Refresh()
		})
	case picker.StyleViewfinder:
		anim = canvas.NewColorRGBAAnimation(colorFlash, colorFinder, flashDuration, func(c color.Color) {
			v.viewfinder.StrokeColor = c
			v.viewfinder.Refresh()
		})
	default:
		return
	}
	v.mu.Lock()
	v.flash = anim
	v.mu.Unlock()
	anim.Start()
}

func (v *PickerView) ClearFlash(picker.GuiStyle) {
	v.mu.Lock()
	anim := v.flash
	v.flash = nil
	v.mu.Unlock()
	if anim != nil {
		anim.Stop()
	}
	v.laser.StrokeColor = colorLaser
	v.viewfinder.StrokeColor = colorFinder
	v.laser.Refresh()
	v.viewfinder.Refresh()
}

func (v *PickerView) PlaceReticle(_ picker.GuiStyle, area scan.SearchArea) {
	v.mu.Lock()
	v.reticle = area
	v.mu.Unlock()
	v.relayout()
}

func (v *PickerView) SetMirrored(mirrored bool) {
	v.mu.Lock()
	v.mirrored = mirrored
	v.mu.Unlock()
}

func (v *PickerView) SetVideoFit(fit picker.VideoFit) {
	v.mu.Lock()
	v.fit = fit
	v.mu.Unlock()
	if fit == picker.FitCover {
		v.video.FillMode = canvas.ImageFillStretch
	} else {
		v.video.FillMode = canvas.ImageFillContain
	}
	v.relayout()
}

func (v *PickerView) SetVideoBounds(w, h float32) {
	v.mu.Lock()
	v.videoBounds = fyne.NewSize(w, h)
	v.mu.Unlock()
	v.relayout()
}

func (v *PickerView) SetVisibleRegion(area scan.SearchArea) {
	v.mu.Lock()
	v.region = area
	v.mu.Unlock()
}

func (v *PickerView) SetCameraSwitcherVisible(visible bool) { setShown(v.switcherBtn, visible) }
func (v *PickerView) SetTorchToggleVisible(visible bool)    { setShown(v.torchBtn, visible) }

func (v *PickerView) SetUploadScale(scale float32) {
	v.mu.Lock()
	v.uploadScale = scale
	v.mu.Unlock()
	v.relayout()
}

// SetUploadAvailable enables the upload button. The first call with true
// switches the view to the upload box for good.
func (v *PickerView) SetUploadAvailable(available bool) {
	v.mu.Lock()
	first := available && !v.uploadShown
	if available {
		v.uploadShown = true
	}
	shown := v.uploadShown
	v.mu.Unlock()

	if available {
		v.uploadBtn.Enable()
	} else {
		v.uploadBtn.Disable()
	}
	if !shown {
		return
	}
	if first {
		v.uploadBox.Show()
		v.video.Hide()
		v.laser.Hide()
		v.viewfinder.Hide()
		v.paused.Hide()
	}
	v.relayout()
}

func (v *PickerView) SetUploadProgress(percent int) {
	if percent >= 100 {
		v.progress.SetValue(1)
		v.progress.Hide()
		return
	}
	v.progress.Show()
	v.progress.SetValue(float64(percent) / 100)
}

func setShown(obj fyne.CanvasObject, visible bool) {
	if visible {
		obj.Show()
	} else {
		obj.Hide()
	}
}
