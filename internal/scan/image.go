package scan

import "fmt"

// ImageFormat is the pixel layout of buffers handed to the engine.
type ImageFormat int

const (
	// Gray8U is one 8-bit luminance channel per pixel.
	Gray8U ImageFormat = iota
	// RGB8U is three 8-bit channels per pixel.
	RGB8U
	// RGBA8U is four 8-bit channels per pixel.
	RGBA8U
)

// Channels returns the byte count of one pixel, or 0 for an unknown format.
func (f ImageFormat) Channels() int {
	switch f {
	case Gray8U:
		return 1
	case RGB8U:
		return 3
	case RGBA8U:
		return 4
	}
	return 0
}

func (f ImageFormat) String() string {
	switch f {
	case Gray8U:
		return "GRAY_8U"
	case RGB8U:
		return "RGB_8U"
	case RGBA8U:
		return "RGBA_8U"
	}
	return fmt.Sprintf("ImageFormat(%d)", int(f))
}

// ImageSettings describes the frames submitted for scanning.
type ImageSettings struct {
	Width  int         `json:"width" validate:"gt=0"`
	Height int         `json:"height" validate:"gt=0"`
	Format ImageFormat `json:"format" validate:"gte=0,lte=2"`
}

// ExpectedLength is the exact buffer length a submitted frame must have.
func (s ImageSettings) ExpectedLength() int {
	return s.Width * s.Height * s.Format.Channels()
}
