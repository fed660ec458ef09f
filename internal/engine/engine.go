// Package engine is the recognition engine hosted inside the worker. It
// decodes frames with gozxing and parses GS1 element strings.
package engine

import (
	"context"
	"fmt"
	"image"
	"time"
	"unicode/utf8"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/worker"
)

type readerSpec struct {
	twoD   bool
	format gozxing.BarcodeFormat
	create func() gozxing.Reader
	// multi, when set, finds every code of the symbology in one pass.
	multi  func() multi.MultipleBarcodeReader
}

var readerSpecs = map[scan.Symbology]readerSpec{
	scan.SymbologyEAN13:           {format: gozxing.BarcodeFormat_EAN_13, create: func() gozxing.Reader { return oned.NewEAN13Reader() }},
	scan.SymbologyEAN8:            {format: gozxing.BarcodeFormat_EAN_8, create: func() gozxing.Reader { return oned.NewEAN8Reader() }},
	scan.SymbologyUPCA:            {format: gozxing.BarcodeFormat_UPC_A, create: func() gozxing.Reader { return oned.NewUPCAReader() }},
	scan.SymbologyUPCE:            {format: gozxing.BarcodeFormat_UPC_E, create: func() gozxing.Reader { return oned.NewUPCEReader() }},
	scan.SymbologyCode128:         {format: gozxing.BarcodeFormat_CODE_128, create: func() gozxing.Reader { return oned.NewCode128Reader() }},
	scan.SymbologyCode39:          {format: gozxing.BarcodeFormat_CODE_39, create: func() gozxing.Reader { return oned.NewCode39Reader() }},
	scan.SymbologyCode93:          {format: gozxing.BarcodeFormat_CODE_93, create: func() gozxing.Reader { return oned.NewCode93Reader() }},
	scan.SymbologyCodabar:         {format: gozxing.BarcodeFormat_CODABAR, create: func() gozxing.Reader { return oned.NewCodaBarReader() }},
	scan.SymbologyInterleaved2of5: {format: gozxing.BarcodeFormat_ITF, create: func() gozxing.Reader { return oned.NewITFReader() }},
	scan.SymbologyQR: {
		twoD:   true,
		format: gozxing.BarcodeFormat_QR_CODE,
		create: func() gozxing.Reader { return qrcode.NewQRCodeReader() },
		multi:  multiqr.NewQRCodeMultiReader,
	},
	scan.SymbologyDataMatrix: {twoD: true, format: gozxing.BarcodeFormat_DATA_MATRIX, create: func() gozxing.Reader { return datamatrix.NewDataMatrixReader() }},
	scan.SymbologyAztec:      {twoD: true, format: gozxing.BarcodeFormat_AZTEC, create: func() gozxing.Reader { return aztec.NewAztecReader() }},
}

// SupportedSymbologies lists the symbologies this engine can decode.
func SupportedSymbologies() []scan.Symbology {
	var out []scan.Symbology
	for _, s := range scan.AllSymbologies() {
		if _, ok := readerSpecs[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

type activeReader struct {
	symbology scan.Symbology
	spec      readerSpec
	inverted  bool
	counts    map[int]bool
	impl      gozxing.Reader
	multi     multi.MultipleBarcodeReader
}

// Engine implements worker.Engine. It is not safe for concurrent use; the
// worker goroutine is its only caller.
type Engine struct {
	log *logrus.Entry
	now func() time.Time

	loaded   bool
	licensed bool
	settings *scan.WireSettings
	image    *scan.ImageSettings
	readers  []activeReader
	dupes    *duplicateFilter
	warned   map[scan.Symbology]bool
}

// New creates an unloaded engine.
func New(log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		log:    log.WithField("component", "engine"),
		now:    time.Now,
		dupes:  newDuplicateFilter(),
		warned: make(map[scan.Symbology]bool),
	}
}

// Load prepares the engine. The gozxing readers need no external assets, so
// the library location is only recorded.
func (e *Engine) Load(ctx context.Context, cfg worker.LibraryConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.loaded = true
	e.log.WithFields(logrus.Fields{
		"device":   cfg.DeviceID,
		"location": cfg.Location,
		"session":  cfg.SessionID,
	}).Info("engine loaded")
	return nil
}

// CreateContext accepts any non-empty license key and reports static features.
func (e *Engine) CreateContext(licenseKey string) (worker.LicenseFeatures, error) {
	if !e.loaded {
		return worker.LicenseFeatures{}, engineError(CodeNotInitialized, "engine library not loaded")
	}
	if licenseKey == "" {
		return worker.LicenseFeatures{}, engineError(CodeNotInitialized, "license key missing")
	}
	e.licensed = true
	return worker.LicenseFeatures{Symbologies: SupportedSymbologies()}, nil
}

// SetSettings applies a canonical settings message.
func (e *Engine) SetSettings(settingsJSON string) error {
	ws, err := scan.ParseWireSettings([]byte(settingsJSON))
	if err != nil {
		return engineError(CodeInvalidSettings, err.Error())
	}
	if ws.MaxNumberOfCodesPerFrame < 1 {
		ws.MaxNumberOfCodesPerFrame = 1
	}
	e.settings = ws
	e.readers = e.readers[:0]
	for _, sym := range scan.AllSymbologies() {
		cfg, ok := ws.Symbologies[string(sym)]
		if !ok || !cfg.Enabled {
			continue
		}
		spec, ok := readerSpecs[sym]
		if !ok {
			if !e.warned[sym] {
				e.warned[sym] = true
				e.log.WithField("symbology", sym).Warn("symbology not supported by this engine, ignoring")
			}
			continue
		}
		r := activeReader{
			symbology: sym,
			spec:      spec,
			inverted:  cfg.ColorInvertedEnabled,
			impl:      spec.create(),
		}
		if spec.multi != nil {
			r.multi = spec.multi()
		}
		if len(cfg.ActiveSymbolCounts) > 0 {
			r.counts = make(map[int]bool, len(cfg.ActiveSymbolCounts))
			for _, c := range cfg.ActiveSymbolCounts {
				r.counts[c] = true
			}
		}
		e.readers = append(e.readers, r)
	}
	e.log.WithFields(logrus.Fields{
		"readers":    len(e.readers),
		"dup_filter": ws.CodeDuplicateFilter,
		"max_codes":  ws.MaxNumberOfCodesPerFrame,
		"gpu":        ws.GPUAcceleration,
		"blurry":     ws.BlurryRecognition,
	}).Debug("settings applied")
	return nil
}

// SetImageSettings records the layout of subsequent frames.
func (e *Engine) SetImageSettings(settings scan.ImageSettings) error {
	if settings.Width <= 0 || settings.Height <= 0 || settings.Format.Channels() == 0 {
		return engineError(CodeInvalidSettings, fmt.Sprintf("invalid image settings %dx%d %s", settings.Width, settings.Height, settings.Format))
	}
	e.image = &settings
	return nil
}

// ClearSession forgets every code seen by the duplicate filter.
func (e *Engine) ClearSession() {
	e.dupes.reset()
}

// Scan decodes one frame.
func (e *Engine) Scan(data []byte, highQuality bool) ([]scan.Barcode, error) {
	if !e.loaded || !e.licensed {
		return nil, engineError(CodeNotInitialized, "engine context not initialized")
	}
	if e.image == nil {
		return nil, engineError(CodeImageSettings, "no image settings")
	}
	if len(data) != e.image.ExpectedLength() {
		return nil, engineError(CodeImageSettings, "image data does not match image settings")
	}
	if e.settings == nil || len(e.readers) == 0 {
		return nil, nil
	}

	frame := luminance(data, *e.image)
	area2D := e.settings.SearchArea
	area1D := area2D
	if e.settings.CodeLocation2D != nil {
		area2D = e.settings.CodeLocation2D.Area
	}
	if e.settings.CodeLocation1D != nil {
		area1D = e.settings.CodeLocation1D.Area
	}

	hints := map[gozxing.DecodeHintType]interface{}{}
	if highQuality {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	var (
		found []scan.Barcode
		seen  = make(map[string]bool)
		now   = e.now()
	)
	for _, r := range e.readers {
		if len(found) >= e.settings.MaxNumberOfCodesPerFrame {
			break
		}
		area := area1D
		if r.spec.twoD {
			area = area2D
		}
		rect := areaRect(area, frame.Rect)
		if rect.Dx() < 2 || rect.Dy() < 2 {
			continue
		}
		region := crop(frame, rect)
		for _, res := range decodeAll(r, region, hints, e.settings.MaxNumberOfCodesPerFrame-len(found)) {
			bc := toBarcode(res, r.symbology, rect.Min)
			if r.counts != nil && !r.counts[utf8.RuneCountInString(bc.Data)] {
				continue
			}
			key := string(bc.Symbology) + "\x00" + bc.Data
			if seen[key] {
				continue
			}
			seen[key] = true
			if !e.dupes.admit(key, e.settings.CodeDuplicateFilter, now) {
				continue
			}
			found = append(found, bc)
		}
	}
	return found, nil
}

// maxDecodePasses bounds the blank-and-retry loop of single-code readers.
const maxDecodePasses = 16

// decodeAll finds up to limit codes in region. Multi-code readers take one
// pass; single-code readers decode again after blanking each code found.
// region is owned by the caller and gets modified.
func decodeAll(r activeReader, region *image.Gray, hints map[gozxing.DecodeHintType]interface{}, limit int) []*gozxing.Result {
	if limit <= 0 {
		return nil
	}
	if r.multi != nil {
		res := decodeMulti(r.multi, region, hints)
		if len(res) == 0 && r.inverted {
			res = decodeMulti(r.multi, invert(region), hints)
		}
		if len(res) > 0 {
			if len(res) > limit {
				res = res[:limit]
			}
			return res
		}
	}

	var out []*gozxing.Result
	texts := make(map[string]bool)
	for pass := 0; pass < maxDecodePasses && len(out) < limit; pass++ {
		res, background := decode(r.impl, region, hints), uint8(255)
		if res == nil && r.inverted {
			res, background = decode(r.impl, invert(region), hints), 0
		}
		if res == nil || texts[res.GetText()] {
			break
		}
		texts[res.GetText()] = true
		out = append(out, res)
		if !blank(region, codeBounds(res, r.spec.twoD, region.Rect), background) {
			break
		}
	}
	return out
}

func decodeMulti(r multi.MultipleBarcodeReader, img image.Image, hints map[gozxing.DecodeHintType]interface{}) []*gozxing.Result {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil
	}
	res, err := r.DecodeMultiple(bmp, hints)
	if err != nil {
		return nil
	}
	return res
}

func decode(r gozxing.Reader, img image.Image, hints map[gozxing.DecodeHintType]interface{}) *gozxing.Result {
	defer r.Reset()
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil
	}
	res, err := r.Decode(bmp, hints)
	if err != nil {
		return nil
	}
	return res
}

func toBarcode(res *gozxing.Result, sym scan.Symbology, offset image.Point) scan.Barcode {
	bc := scan.Barcode{
		Symbology: sym,
		Data:      res.GetText(),
		RawData:   res.GetRawBytes(),
	}
	if bc.RawData == nil {
		bc.RawData = []byte(bc.Data)
	}
	for _, p := range res.GetResultPoints() {
		bc.Location = append(bc.Location, scan.Point{
			X: p.GetX() + float64(offset.X),
			Y: p.GetY() + float64(offset.Y),
		})
	}
	return bc
}

// Parse handles a parse-string request.
func (e *Engine) Parse(format scan.DataFormat, text string, optionsJSON string) (string, error) {
	if !e.loaded || !e.licensed {
		return "", engineError(CodeNotInitialized, "engine context not initialized")
	}
	switch format {
	case scan.DataFormatGS1AI:
		return parseGS1(text, optionsJSON)
	}
	return "", engineError(CodeUnsupportedFormat, fmt.Sprintf("unsupported data format: %s", format))
}
