package engine

import (
	"image"
	"math"

	"github.com/makiuchi-d/gozxing"

	"barcode-picker-go/internal/scan"
)

// luminance converts a raw frame to 8-bit grayscale (ITU-R BT.601 weights).
func luminance(data []byte, is scan.ImageSettings) *image.Gray {
	w, h := is.Width, is.Height
	gray := image.NewGray(image.Rect(0, 0, w, h))
	switch is.Format {
	case scan.Gray8U:
		copy(gray.Pix, data)
	case scan.RGB8U, scan.RGBA8U:
		ch := is.Format.Channels()
		for i, j := 0, 0; i < w*h; i, j = i+1, j+ch {
			r, g, b := uint32(data[j]), uint32(data[j+1]), uint32(data[j+2])
			gray.Pix[i] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return gray
}

// areaRect converts a normalized area to pixel bounds inside b.
func areaRect(a scan.SearchArea, b image.Rectangle) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+int(math.Floor(a.X*w)),
		b.Min.Y+int(math.Floor(a.Y*h)),
		b.Min.X+int(math.Ceil((a.X+a.Width)*w)),
		b.Min.Y+int(math.Ceil((a.Y+a.Height)*h)),
	)
	return r.Intersect(b)
}

// crop copies r out of src into a zero-origin image.
func crop(src *image.Gray, r image.Rectangle) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		off := src.PixOffset(r.Min.X, r.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()], src.Pix[off:off+r.Dx()])
	}
	return dst
}

func invert(src *image.Gray) *image.Gray {
	dst := image.NewGray(src.Rect)
	for i, v := range src.Pix {
		dst.Pix[i] = 255 - v
	}
	return dst
}

// codeBounds estimates the pixels covered by a decoded code. 1D results
// only carry points on the scanned row, so the whole column span is taken.
// 2D points sit on finder patterns inside the symbol and are padded out.
func codeBounds(res *gozxing.Result, twoD bool, b image.Rectangle) image.Rectangle {
	points := res.GetResultPoints()
	if len(points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := points[0].GetX(), points[0].GetY()
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX, maxX = math.Min(minX, p.GetX()), math.Max(maxX, p.GetX())
		minY, maxY = math.Min(minY, p.GetY()), math.Max(maxY, p.GetY())
	}
	if !twoD {
		pad := math.Max(4, (maxX-minX)/20)
		return image.Rect(int(minX-pad), b.Min.Y, int(math.Ceil(maxX+pad)), b.Max.Y).Intersect(b)
	}
	padX := math.Max(4, (maxX-minX)/3)
	padY := math.Max(4, (maxY-minY)/3)
	return image.Rect(int(minX-padX), int(minY-padY), int(math.Ceil(maxX+padX)), int(math.Ceil(maxY+padY))).Intersect(b)
}

// blank fills r with v and reports whether anything was filled.
func blank(img *image.Gray, r image.Rectangle, v uint8) bool {
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return false
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[img.PixOffset(r.Min.X, y):img.PixOffset(r.Max.X, y)]
		for i := range row {
			row[i] = v
		}
	}
	return true
}
