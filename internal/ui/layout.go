package ui

import (
	"fyne.io/fyne/v2"

	"barcode-picker-go/internal/scan"
)

const (
	// single-image upload box reference size, scaled by SetUploadScale
	uploadBoxWidth  = 500
	uploadBoxHeight = 300

	controlsPadding = 8
)

// pickerLayout places the picker's layers: background, video, reticle, tap
// surface, paused artwork, upload box and the control bar. It records the
// size it was given so the GUI state machine can poll it.
type pickerLayout struct {
	v *PickerView
}

func (l *pickerLayout) MinSize([]fyne.CanvasObject) fyne.Size {
	return fyne.NewSize(160, 120)
}

func (l *pickerLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	v := l.v
	v.mu.Lock()
	v.size = size
	bounds := v.videoBounds
	reticle := v.reticle
	scale := v.uploadScale
	v.mu.Unlock()

	full := func(obj fyne.CanvasObject) {
		obj.Move(fyne.NewPos(0, 0))
		obj.Resize(size)
	}
	for _, obj := range objects {
		full(obj)
	}

	// video: letterboxed bounds in contain mode, full size in cover mode
	if bounds.Width > 0 && bounds.Height > 0 && bounds.Width <= size.Width && bounds.Height <= size.Height {
		v.video.Move(fyne.NewPos((size.Width-bounds.Width)/2, (size.Height-bounds.Height)/2))
		v.video.Resize(bounds)
	}

	placeReticle(v, reticle, size)

	box := fyne.NewSize(uploadBoxWidth*scale, uploadBoxHeight*scale).Max(v.uploadBox.MinSize())
	v.uploadBox.Move(fyne.NewPos((size.Width-box.Width)/2, (size.Height-box.Height)/2))
	v.uploadBox.Resize(box)

	cs := v.controls.MinSize()
	v.controls.Move(fyne.NewPos(size.Width-cs.Width-controlsPadding, size.Height-cs.Height-controlsPadding))
	v.controls.Resize(cs)
}

// placeReticle maps the normalized reticle area onto the view. The laser
// is a horizontal line through the middle of the area.
func placeReticle(v *PickerView, area scan.SearchArea, size fyne.Size) {
	x := float32(area.X) * size.Width
	y := float32(area.Y) * size.Height
	w := float32(area.Width) * size.Width
	h := float32(area.Height) * size.Height

	v.viewfinder.Move(fyne.NewPos(x, y))
	v.viewfinder.Resize(fyne.NewSize(w, h))

	v.laser.Position1 = fyne.NewPos(x, y+h/2)
	v.laser.Position2 = fyne.NewPos(x+w, y+h/2)
}
