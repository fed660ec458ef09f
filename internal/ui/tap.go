package ui

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

const (
	longPressDelay = 500 * time.Millisecond
	tapDedupWindow = 300 * time.Millisecond
)

// tapArea is a transparent surface over the video that reports taps and
// long presses. A tap toggles scanning, a long press toggles mirroring.
type tapArea struct {
	widget.BaseWidget
	bg             *canvas.Rectangle
	onTap          func()
	onLongTap      func()
	longPressTimer *time.Timer
	longPressFired bool
	releasedAt     time.Time
	mu             sync.Mutex
}

func newTapArea(onTap, onLongTap func()) *tapArea {
	t := &tapArea{
		bg:        canvas.NewRectangle(color.Transparent),
		onTap:     onTap,
		onLongTap: onLongTap,
	}
	t.ExtendBaseWidget(t)
	return t
}

func (t *tapArea) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(t.bg)
}

// MouseDown arms the long press.
func (t *tapArea) MouseDown(*desktop.MouseEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.longPressFired = false
	if t.longPressTimer != nil {
		t.longPressTimer.Stop()
	}
	t.longPressTimer = time.AfterFunc(longPressDelay, t.fireLongPress)
}

func (t *tapArea) fireLongPress() {
	t.mu.Lock()
	t.longPressFired = true
	t.mu.Unlock()
	if t.onLongTap != nil {
		t.onLongTap()
	}
}

// MouseUp ends a press; it is a tap unless the long press already fired.
func (t *tapArea) MouseUp(*desktop.MouseEvent) {
	t.mu.Lock()
	if t.longPressTimer != nil {
		t.longPressTimer.Stop()
		t.longPressTimer = nil
	}
	tap := !t.longPressFired
	t.releasedAt = time.Now()
	t.mu.Unlock()

	if tap && t.onTap != nil {
		t.onTap()
	}
}

// Tapped covers touch input, which has no mouse events. A Tapped right
// after MouseUp belongs to the same press.
func (t *tapArea) Tapped(*fyne.PointEvent) {
	t.mu.Lock()
	dup := time.Since(t.releasedAt) < tapDedupWindow
	t.mu.Unlock()

	if !dup && t.onTap != nil {
		t.onTap()
	}
}

// TappedSecondary treats a right click as a long press.
func (t *tapArea) TappedSecondary(*fyne.PointEvent) {
	if t.onLongTap != nil {
		t.onLongTap()
	}
}
