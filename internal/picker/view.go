package picker

import (
	"sync"

	"barcode-picker-go/internal/scan"
)

// GuiStyle selects the aiming reticle.
type GuiStyle int

const (
	StyleNone GuiStyle = iota
	StyleLaser
	StyleViewfinder
)

func (s GuiStyle) String() string {
	switch s {
	case StyleLaser:
		return "laser"
	case StyleViewfinder:
		return "viewfinder"
	}
	return "none"
}

// ParseGuiStyle maps a config name to a style; unknown names give StyleNone.
func ParseGuiStyle(name string) GuiStyle {
	switch name {
	case "laser":
		return StyleLaser
	case "viewfinder":
		return StyleViewfinder
	}
	return StyleNone
}

// VideoFit is how the video fills the picker area.
type VideoFit int

const (
	FitContain VideoFit = iota
	FitCover
)

func (f VideoFit) String() string {
	if f == FitCover {
		return "cover"
	}
	return "contain"
}

// ParseVideoFit maps a config name to a fit; unknown names give FitContain.
func ParseVideoFit(name string) VideoFit {
	if name == "cover" {
		return FitCover
	}
	return FitContain
}

// View is the rendering surface driven by the GUI state machine. Sizes are
// in device independent units; areas are normalized to the view.
type View interface {
	Size() (w, h float32)
	// VideoSize is the pixel size of the current video frame, zero before
	// the first frame.
	VideoSize() (w, h int)

	SetHidden(hidden bool)
	ReloadVideo()
	PlayVideo()

	ShowStyle(style GuiStyle)
	SetScanningPaused(paused bool)
	RestartFlash(style GuiStyle)
	ClearFlash(style GuiStyle)
	PlaceReticle(style GuiStyle, area scan.SearchArea)

	SetMirrored(mirrored bool)
	SetVideoFit(fit VideoFit)
	SetVideoBounds(w, h float32)
	// SetVisibleRegion crops the video to a normalized region in cover mode.
	SetVisibleRegion(area scan.SearchArea)

	SetCameraSwitcherVisible(visible bool)
	SetTorchToggleVisible(visible bool)

	SetUploadScale(scale float32)
	SetUploadAvailable(available bool)
	SetUploadProgress(percent int)
}

// HeadlessView is a View without a screen, used by the CLI. It records the
// last value of every affordance.
type HeadlessView struct {
	mu sync.Mutex

	W, H           float32
	VideoW, VideoH int

	Hidden, Mirrored, Paused bool
	Style                    GuiStyle
	Fit                      VideoFit
	Reticle                  scan.SearchArea
	Region                   scan.SearchArea
	SwitcherVisible          bool
	TorchVisible             bool
	UploadAvailable          bool
	UploadProgress           int
	UploadScale              float32
	Flashes                  int
	Reloads                  int
}

func (v *HeadlessView) Size() (float32, float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.W, v.H
}

func (v *HeadlessView) VideoSize() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.VideoW, v.VideoH
}

// Inspect runs fn while no other goroutine can update the view.
func (v *HeadlessView) Inspect(fn func()) {
	v.set(fn)
}

func (v *HeadlessView) set(fn func()) {
	v.mu.Lock()
	fn()
	v.mu.Unlock()
}

func (v *HeadlessView) SetHidden(hidden bool)             { v.set(func() { v.Hidden = hidden }) }
func (v *HeadlessView) ReloadVideo()                      { v.set(func() { v.Reloads++ }) }
func (v *HeadlessView) PlayVideo()                        {}
func (v *HeadlessView) ShowStyle(style GuiStyle)          { v.set(func() { v.Style = style }) }
func (v *HeadlessView) SetScanningPaused(paused bool)     { v.set(func() { v.Paused = paused }) }
func (v *HeadlessView) RestartFlash(GuiStyle)             { v.set(func() { v.Flashes++ }) }
func (v *HeadlessView) ClearFlash(GuiStyle)               {}
func (v *HeadlessView) SetMirrored(mirrored bool)         { v.set(func() { v.Mirrored = mirrored }) }
func (v *HeadlessView) SetVideoFit(fit VideoFit)          { v.set(func() { v.Fit = fit }) }
func (v *HeadlessView) SetVideoBounds(float32, float32)   {}
func (v *HeadlessView) SetCameraSwitcherVisible(vis bool) { v.set(func() { v.SwitcherVisible = vis }) }
func (v *HeadlessView) SetTorchToggleVisible(vis bool)    { v.set(func() { v.TorchVisible = vis }) }
func (v *HeadlessView) SetUploadScale(scale float32)      { v.set(func() { v.UploadScale = scale }) }
func (v *HeadlessView) SetUploadAvailable(available bool) { v.set(func() { v.UploadAvailable = available }) }
func (v *HeadlessView) SetUploadProgress(percent int)     { v.set(func() { v.UploadProgress = percent }) }

func (v *HeadlessView) PlaceReticle(_ GuiStyle, area scan.SearchArea) {
	v.set(func() { v.Reticle = area })
}

func (v *HeadlessView) SetVisibleRegion(area scan.SearchArea) {
	v.set(func() { v.Region = area })
}
