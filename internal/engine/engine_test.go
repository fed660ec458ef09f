package engine

import (
	"context"
	"image"
	"image/draw"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/worker"
)

func qrFrame(t *testing.T, text string, size int) ([]byte, scan.ImageSettings) {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	require.NoError(t, err)
	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), matrix, image.Point{}, draw.Src)
	return rgba.Pix, scan.ImageSettings{Width: size, Height: size, Format: scan.RGBA8U}
}

// codeFrame renders codes encoded by w onto a white RGBA frame, one code per
// offset.
func codeFrame(t *testing.T, w gozxing.Writer, format gozxing.BarcodeFormat, width, height int, codes map[image.Point]string, cw, ch int) ([]byte, scan.ImageSettings) {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	for at, text := range codes {
		matrix, err := w.Encode(text, format, cw, ch, nil)
		require.NoError(t, err)
		b := matrix.Bounds()
		draw.Draw(rgba, image.Rect(at.X, at.Y, at.X+b.Dx(), at.Y+b.Dy()), matrix, b.Min, draw.Src)
	}
	return rgba.Pix, scan.ImageSettings{Width: width, Height: height, Format: scan.RGBA8U}
}

func readyEngine(t *testing.T, configure func(*scan.ScanSettings)) *Engine {
	t.Helper()
	e := New(nil)
	require.NoError(t, e.Load(context.Background(), worker.LibraryConfig{DeviceID: "test"}))
	_, err := e.CreateContext("key")
	require.NoError(t, err)

	s := scan.NewScanSettings()
	require.NoError(t, s.EnableSymbologies(scan.SymbologyQR))
	if configure != nil {
		configure(s)
	}
	data, err := s.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, e.SetSettings(string(data)))
	return e
}

func TestScanDecodesQR(t *testing.T) {
	e := readyEngine(t, nil)
	data, is := qrFrame(t, "hello picker", 240)
	require.NoError(t, e.SetImageSettings(is))

	codes, err := e.Scan(data, false)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, scan.SymbologyQR, codes[0].Symbology)
	assert.Equal(t, "hello picker", codes[0].Data)
	assert.NotEmpty(t, codes[0].Location)
}

func TestScanDuplicateFilterOncePerSession(t *testing.T) {
	e := readyEngine(t, func(s *scan.ScanSettings) { s.CodeDuplicateFilter = -1 })
	data, is := qrFrame(t, "once", 240)
	require.NoError(t, e.SetImageSettings(is))

	first, err := e.Scan(data, false)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := e.Scan(data, false)
	require.NoError(t, err)
	assert.Empty(t, second)

	e.ClearSession()
	third, err := e.Scan(data, false)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestScanDuplicateFilterWindow(t *testing.T) {
	e := readyEngine(t, func(s *scan.ScanSettings) { s.CodeDuplicateFilter = 500 })
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }
	data, is := qrFrame(t, "window", 240)
	require.NoError(t, e.SetImageSettings(is))

	codes, _ := e.Scan(data, false)
	assert.Len(t, codes, 1)

	now = now.Add(200 * time.Millisecond)
	codes, _ = e.Scan(data, false)
	assert.Empty(t, codes)

	now = now.Add(400 * time.Millisecond)
	codes, _ = e.Scan(data, false)
	assert.Len(t, codes, 1)
}

func TestScanHonoursSearchArea(t *testing.T) {
	e := readyEngine(t, func(s *scan.ScanSettings) {
		s.SearchArea = scan.SearchArea{X: 0, Y: 0, Width: 0.1, Height: 0.1}
	})
	data, is := qrFrame(t, "outside", 240)
	require.NoError(t, e.SetImageSettings(is))

	codes, err := e.Scan(data, false)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestScanColorInverted(t *testing.T) {
	e := readyEngine(t, func(s *scan.ScanSettings) {
		qr, _ := s.SymbologySettings(scan.SymbologyQR)
		qr.ColorInvertedEnabled = true
	})
	data, is := qrFrame(t, "inverted", 240)
	for i := range data {
		if i%4 != 3 {
			data[i] = 255 - data[i]
		}
	}
	require.NoError(t, e.SetImageSettings(is))

	codes, err := e.Scan(data, true)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "inverted", codes[0].Data)
}

func TestScanErrors(t *testing.T) {
	e := New(nil)
	_, err := e.Scan([]byte{1}, false)
	var ee *scan.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeNotInitialized, ee.Code)

	e = readyEngine(t, nil)
	_, err = e.Scan([]byte{1}, false)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeImageSettings, ee.Code)

	require.NoError(t, e.SetImageSettings(scan.ImageSettings{Width: 2, Height: 2, Format: scan.Gray8U}))
	_, err = e.Scan([]byte{1, 2, 3}, false)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeImageSettings, ee.Code)

	assert.Error(t, e.SetImageSettings(scan.ImageSettings{Width: 0, Height: 2}))
	assert.Error(t, e.SetSettings("{"))
}

func TestCreateContextRequiresLoad(t *testing.T) {
	e := New(nil)
	_, err := e.CreateContext("key")
	assert.Error(t, err)

	require.NoError(t, e.Load(context.Background(), worker.LibraryConfig{}))
	features, err := e.CreateContext("key")
	require.NoError(t, err)
	assert.Contains(t, features.Symbologies, scan.SymbologyQR)
}

func TestParseUnsupportedFormat(t *testing.T) {
	e := readyEngine(t, nil)
	_, err := e.Parse(scan.DataFormatHIBC, "+A99912345/$$52001510X3", "")
	var ee *scan.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CodeUnsupportedFormat, ee.Code)
}

func TestScanDecodesEachSymbology(t *testing.T) {
	cases := []struct {
		sym    scan.Symbology
		writer gozxing.Writer
		format gozxing.BarcodeFormat
		text   string
		want   string
		w, h   int
	}{
		{scan.SymbologyCode93, oned.NewCode93Writer(), gozxing.BarcodeFormat_CODE_93, "PICKER93", "PICKER93", 300, 80},
		{scan.SymbologyCodabar, oned.NewCodaBarWriter(), gozxing.BarcodeFormat_CODABAR, "A123456B", "123456", 300, 80},
		{scan.SymbologyDataMatrix, datamatrix.NewDataMatrixWriter(), gozxing.BarcodeFormat_DATA_MATRIX, "picker dm", "picker dm", 160, 160},
	}
	for _, tc := range cases {
		t.Run(string(tc.sym), func(t *testing.T) {
			e := readyEngine(t, func(s *scan.ScanSettings) {
				require.NoError(t, s.EnableSymbologies(tc.sym))
			})
			data, is := codeFrame(t, tc.writer, tc.format, tc.w+40, tc.h+40, map[image.Point]string{{X: 20, Y: 20}: tc.text}, tc.w, tc.h)
			require.NoError(t, e.SetImageSettings(is))

			codes, err := e.Scan(data, true)
			require.NoError(t, err)
			require.Len(t, codes, 1)
			assert.Equal(t, tc.sym, codes[0].Symbology)
			assert.Equal(t, tc.want, codes[0].Data)
		})
	}
}

func TestSupportedSymbologies(t *testing.T) {
	supported := SupportedSymbologies()
	for _, sym := range []scan.Symbology{scan.SymbologyCode93, scan.SymbologyCodabar, scan.SymbologyDataMatrix, scan.SymbologyAztec} {
		assert.Contains(t, supported, sym)
	}
}

func TestScanSeveralQRCodesPerFrame(t *testing.T) {
	codes := map[image.Point]string{{X: 10, Y: 10}: "first code", {X: 230, Y: 10}: "second code"}
	data, is := codeFrame(t, qrcode.NewQRCodeWriter(), gozxing.BarcodeFormat_QR_CODE, 440, 220, codes, 200, 200)

	e := readyEngine(t, func(s *scan.ScanSettings) { s.MaxNumberOfCodesPerFrame = 5 })
	require.NoError(t, e.SetImageSettings(is))
	found, err := e.Scan(data, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first code", "second code"}, barcodeData(found))

	capped := readyEngine(t, func(s *scan.ScanSettings) { s.MaxNumberOfCodesPerFrame = 1 })
	require.NoError(t, capped.SetImageSettings(is))
	found, err = capped.Scan(data, true)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestScanSeveral1DCodesPerFrame(t *testing.T) {
	codes := map[image.Point]string{{X: 10, Y: 10}: "LEFT-001", {X: 330, Y: 10}: "RIGHT-002"}
	data, is := codeFrame(t, oned.NewCode128Writer(), gozxing.BarcodeFormat_CODE_128, 650, 120, codes, 300, 100)

	e := readyEngine(t, func(s *scan.ScanSettings) {
		require.NoError(t, s.EnableSymbologies(scan.SymbologyCode128))
		s.MaxNumberOfCodesPerFrame = 3
	})
	require.NoError(t, e.SetImageSettings(is))
	found, err := e.Scan(data, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"LEFT-001", "RIGHT-002"}, barcodeData(found))
}

func barcodeData(codes []scan.Barcode) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, c.Data)
	}
	return out
}
