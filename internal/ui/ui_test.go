package ui

import (
	"image"
	"image/color"
	"io"
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcode-picker-go/internal/config"
	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	return img
}

func TestMirrorReuse(t *testing.T) {
	src := gradient(4, 2)
	dst := mirrorReuse(src, nil)
	assert.Equal(t, src.RGBAAt(3, 1), dst.RGBAAt(0, 1))
	assert.Equal(t, src.RGBAAt(0, 0), dst.RGBAAt(3, 0))

	// smaller frame reuses the buffer
	small := gradient(2, 2)
	again := mirrorReuse(small, dst)
	assert.Same(t, dst, again)
	assert.Equal(t, image.Rect(0, 0, 2, 2), again.Rect)
	assert.Equal(t, small.RGBAAt(1, 0), again.RGBAAt(0, 0))
}

func TestMirrorGenericSource(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	src.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})
	src.SetNRGBA(2, 0, color.NRGBA{0, 0, 255, 255})

	dst := mirrorReuse(src, nil)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, dst.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, dst.RGBAAt(2, 0))
}

func TestCropRegion(t *testing.T) {
	src := gradient(100, 50)

	assert.Same(t, src, cropRegion(src, scan.FullSearchArea).(*image.RGBA))

	cropped := cropRegion(src, scan.SearchArea{X: 0.25, Y: 0, Width: 0.5, Height: 1})
	assert.Equal(t, image.Rect(25, 0, 75, 50), cropped.Bounds())

	var tr frameTransform
	out := tr.apply(src, scan.SearchArea{X: 0.25, Y: 0, Width: 0.5, Height: 1}, true)
	assert.Equal(t, image.Rect(0, 0, 50, 50), out.Bounds())
	assert.Equal(t, src.RGBAAt(74, 0), out.(*image.RGBA).RGBAAt(0, 0))
}

func TestPickerViewLayout(t *testing.T) {
	test.NewApp()
	defer test.NewApp()

	v := NewPickerView(Handlers{})
	v.root.Resize(fyne.NewSize(400, 200))

	w, h := v.Size()
	assert.Equal(t, float32(400), w)
	assert.Equal(t, float32(200), h)

	v.ShowStyle(picker.StyleViewfinder)
	v.PlaceReticle(picker.StyleViewfinder, scan.SearchArea{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.5})
	assert.False(t, v.viewfinder.Hidden)
	assert.True(t, v.laser.Hidden)
	assert.Equal(t, fyne.NewPos(40, 40), v.viewfinder.Position())
	assert.Equal(t, fyne.NewSize(200, 100), v.viewfinder.Size())

	v.SetVideoBounds(200, 100)
	assert.Equal(t, fyne.NewPos(100, 50), v.video.Position())
	assert.Equal(t, fyne.NewSize(200, 100), v.video.Size())
}

func TestPickerViewFrames(t *testing.T) {
	test.NewApp()
	defer test.NewApp()

	v := NewPickerView(Handlers{})
	frame := gradient(64, 48)

	v.ShowFrame(frame)
	vw, vh := v.VideoSize()
	assert.Equal(t, 64, vw)
	assert.Equal(t, 48, vh)
	assert.Same(t, v.placeholder, v.video.Image, "frames are not drawn before playback")

	v.PlayVideo()
	v.ShowFrame(frame)
	assert.Same(t, frame, v.video.Image.(*image.RGBA))

	v.SetMirrored(true)
	v.ShowFrame(frame)
	assert.NotSame(t, frame, v.video.Image)

	v.ReloadVideo()
	assert.Same(t, v.placeholder, v.video.Image)
}

func TestPickerViewUploadMode(t *testing.T) {
	test.NewApp()
	defer test.NewApp()

	v := NewPickerView(Handlers{})
	v.ShowStyle(picker.StyleLaser)
	v.SetScanningPaused(true)
	assert.True(t, v.paused.Visible())
	assert.False(t, v.uploadBox.Visible())

	v.SetUploadAvailable(true)
	assert.True(t, v.uploadBox.Visible())
	assert.False(t, v.video.Visible())
	assert.False(t, v.paused.Visible())

	v.SetUploadAvailable(false)
	assert.True(t, v.uploadBox.Visible())
	assert.True(t, v.uploadBtn.Disabled())

	v.SetUploadProgress(30)
	assert.True(t, v.progress.Visible())
	assert.InDelta(t, 0.3, v.progress.Value, 1e-9)
	v.SetUploadProgress(100)
	assert.False(t, v.progress.Visible())

	v.root.Resize(fyne.NewSize(1000, 600))
	v.SetUploadScale(0.5)
	box := v.uploadBox.Size()
	assert.GreaterOrEqual(t, box.Width, float32(250))
	assert.GreaterOrEqual(t, box.Height, float32(150))
}

func TestTapAreaTapAndLongPress(t *testing.T) {
	test.NewApp()
	defer test.NewApp()

	taps, longs := make(chan struct{}, 4), make(chan struct{}, 4)
	area := newTapArea(func() { taps <- struct{}{} }, func() { longs <- struct{}{} })

	area.MouseDown(nil)
	area.MouseUp(nil)
	area.Tapped(nil)
	assert.Len(t, taps, 1, "mouse up and tapped fire once")

	area.MouseDown(nil)
	select {
	case <-longs:
	case <-time.After(2 * time.Second):
		t.Fatal("long press not detected")
	}
	area.MouseUp(nil)
	assert.Len(t, taps, 1)

	area.TappedSecondary(nil)
	assert.Len(t, longs, 1)

	// touch input only delivers Tapped
	area.releasedAt = time.Time{}
	area.Tapped(nil)
	area.Tapped(nil)
	assert.Len(t, taps, 3)
}

func TestRestartPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RestartCooldownSec = 5
	cfg.RestartWindowSec = 30
	cfg.MaxRestartsPerWindow = 2

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a := &App{cfg: cfg, log: logrus.NewEntry(logger)}

	now := time.Now()
	require.True(t, a.allowRestart(now))
	assert.False(t, a.allowRestart(now.Add(time.Second)), "cooldown")
	assert.True(t, a.allowRestart(now.Add(6*time.Second)))
	assert.False(t, a.allowRestart(now.Add(12*time.Second)), "limit reached")
	assert.True(t, a.restartLimitHit)
	assert.False(t, a.allowRestart(now.Add(67*time.Second)), "extended cooldown")
	assert.True(t, a.allowRestart(now.Add(73*time.Second)), "extended cooldown passed")
	assert.False(t, a.restartLimitHit)
}
