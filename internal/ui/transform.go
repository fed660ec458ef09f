package ui

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"barcode-picker-go/internal/scan"
)

// =============================================================================
// Frame transforms
// =============================================================================
// Camera frames are prepared for display in two steps:
//   1. In cover mode, crop to the visible region so the stretched image
//      matches what the engine scans.
//   2. When mirrored, flip horizontally into a reused RGBA buffer.
// Mirroring is cosmetic; the engine always receives the unflipped frame.
// =============================================================================

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// frameTransform holds the reusable mirror buffer of one video surface.
type frameTransform struct {
	buf *image.RGBA
}

func (t *frameTransform) apply(src image.Image, region scan.SearchArea, mirrored bool) image.Image {
	img := cropRegion(src, region)
	if !mirrored {
		return img
	}
	t.buf = mirrorReuse(img, t.buf)
	return t.buf
}

// cropRegion returns the normalized area of src. Images that cannot be
// sliced are returned whole.
func cropRegion(src image.Image, area scan.SearchArea) image.Image {
	if area.IsFull() || area.Width <= 0 || area.Height <= 0 {
		return src
	}
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+int(area.X*w),
		b.Min.Y+int(area.Y*h),
		b.Min.X+int((area.X+area.Width)*w),
		b.Min.Y+int((area.Y+area.Height)*h),
	).Intersect(b)
	if r.Empty() {
		return src
	}
	if s, ok := src.(subImager); ok {
		return s.SubImage(r)
	}
	return src
}

// mirrorReuse flips src horizontally. If dst is non-nil and has sufficient
// capacity it is reused to avoid an allocation per frame.
func mirrorReuse(src image.Image, dst *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	neededLen := w * h * 4

	if dst != nil && cap(dst.Pix) >= neededLen {
		dst.Pix = dst.Pix[:neededLen]
		dst.Stride = w * 4
		dst.Rect = image.Rect(0, 0, w, h)
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	if rgba, ok := src.(*image.RGBA); ok {
		mirrorRGBA(rgba, dst)
		return dst
	}
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	flipRows(dst)
	return dst
}

// mirrorRGBA is the fast path for *image.RGBA sources.
func mirrorRGBA(src, dst *image.RGBA) {
	b := src.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		srcRow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			copy(dstRow[(w-1-x)*4:(w-x)*4], srcRow[x*4:x*4+4])
		}
	}
}

// flipRows mirrors img in place.
func flipRows(img *image.RGBA) {
	w := img.Rect.Dx()
	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			lp, rp := row[l*4:l*4+4], row[r*4:r*4+4]
			for i := 0; i < 4; i++ {
				lp[i], rp[i] = rp[i], lp[i]
			}
		}
	}
}

func createColoredImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	r, g, b, a := c.RGBA()
	r8, g8, b8, a8 := uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8)

	// Fill first row with direct Pix writes
	stride := img.Stride
	for x := 0; x < width; x++ {
		off := x * 4
		img.Pix[off+0] = r8
		img.Pix[off+1] = g8
		img.Pix[off+2] = b8
		img.Pix[off+3] = a8
	}
	// Copy first row to remaining rows
	firstRow := img.Pix[:stride]
	for y := 1; y < height; y++ {
		copy(img.Pix[y*stride:(y+1)*stride], firstRow)
	}
	return img
}
