package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombinedSearchAreaClamps(t *testing.T) {
	s := NewScanSettings()
	s.BaseSearchArea = SearchArea{X: 0.5, Y: 0, Width: 0.6, Height: 1}

	assert.Equal(t, SearchArea{X: 0.5, Y: 0, Width: 0.6, Height: 1}, s.CombinedSearchArea())

	s.BaseSearchArea = SearchArea{X: 0.9, Y: 0.9, Width: 1, Height: 1}
	s.SearchArea = SearchArea{X: 0.5, Y: 0.5, Width: 1, Height: 1}
	got := s.CombinedSearchArea()
	assert.Equal(t, 1.0, got.X)
	assert.Equal(t, 1.0, got.Y)
	assert.Equal(t, 1.0, got.Width)
	assert.Equal(t, 1.0, got.Height)
}

func TestMarshalJSONIsIdempotent(t *testing.T) {
	s := NewScanSettings()
	require.NoError(t, s.EnableSymbologies(SymbologyQR, SymbologyEAN13, SymbologyCode128, SymbologyUPCA))
	code39, err := s.SymbologySettings(SymbologyCode39)
	require.NoError(t, err)
	code39.EnableExtensions(ExtensionFullASCII, ExtensionStripLeadingFNC1)
	code39.EnableChecksums(ChecksumMod43)
	s.SearchArea = SearchArea{X: 0.1, Y: 0.2, Width: 0.5, Height: 0.5}

	first, err := json.Marshal(s)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestMarshalJSONFullFrameOmitsLocationHints(t *testing.T) {
	s := NewScanSettings()
	require.NoError(t, s.EnableSymbologies(SymbologyQR))

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"symbologies": {"qr": {"enabled": true, "colorInvertedEnabled": false}},
		"codeDuplicateFilter": 0,
		"maxNumberOfCodesPerFrame": 1,
		"searchArea": {"x": 0, "y": 0, "width": 1, "height": 1},
		"gpuAcceleration": true,
		"blurryRecognition": true
	}`, string(data))
}

func TestMarshalJSONPartialAreaAddsLocationHints(t *testing.T) {
	s := NewScanSettings()
	s.SearchArea = SearchArea{X: 0, Y: 0.2, Width: 1, Height: 0.4}

	w := s.Wire()
	require.NotNil(t, w.CodeLocation1D)
	require.NotNil(t, w.CodeLocation2D)
	assert.Equal(t, w.SearchArea, w.CodeLocation2D.Area)
	assert.InDelta(t, 0.2+0.4*0.75/2, w.CodeLocation1D.Area.Y, 1e-9)
	assert.InDelta(t, 0.1, w.CodeLocation1D.Area.Height, 1e-9)
	assert.Equal(t, 1.0, w.CodeLocation1D.Area.Width)
}

func TestSymbologyExtensionsSerializeOnlyWhenCustomized(t *testing.T) {
	s := NewScanSettings()
	plain, _ := s.SymbologySettings(SymbologyCode128)
	plain.Enabled = true
	custom, _ := s.SymbologySettings(SymbologyCode39)
	custom.EnableExtensions(Extension("not_a_real_extension"))
	custom.SetActiveSymbolCountsRange(7, 9)

	w := s.Wire()
	assert.Nil(t, w.Symbologies["code128"].Extensions)
	assert.Nil(t, w.Symbologies["code128"].Checksums)
	assert.Nil(t, w.Symbologies["code128"].ActiveSymbolCounts)

	require.NotNil(t, w.Symbologies["code39"].Extensions)
	assert.Empty(t, *w.Symbologies["code39"].Extensions)
	assert.Equal(t, []int{7, 8, 9}, w.Symbologies["code39"].ActiveSymbolCounts)
}

func TestInvalidSymbology(t *testing.T) {
	s := NewScanSettings()
	err := s.EnableSymbologies(Symbology("bogus"))
	assert.ErrorIs(t, err, ErrInvalidSymbology)

	_, err = ParseSymbology("EAN13")
	assert.NoError(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewScanSettings()
	require.NoError(t, s.EnableSymbologies(SymbologyQR))
	c := s.Clone()
	require.NoError(t, c.DisableSymbologies(SymbologyQR))
	c.BaseSearchArea = SearchArea{X: 0.25, Width: 0.5, Height: 1}

	assert.True(t, s.IsSymbologyEnabled(SymbologyQR))
	assert.Equal(t, FullSearchArea, s.BaseSearchArea)
}

func TestParseWireSettingsRoundTrip(t *testing.T) {
	s := NewScanSettings()
	require.NoError(t, s.EnableSymbologies(SymbologyEAN8))
	s.CodeDuplicateFilter = -1
	data, err := s.MarshalJSON()
	require.NoError(t, err)

	w, err := ParseWireSettings(data)
	require.NoError(t, err)
	assert.Equal(t, -1, w.CodeDuplicateFilter)
	assert.True(t, w.Symbologies["ean8"].Enabled)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	s := NewScanSettings()
	s.MaxNumberOfCodesPerFrame = 0
	assert.Error(t, s.Validate())

	s = NewScanSettings()
	s.CodeDuplicateFilter = -2
	assert.Error(t, s.Validate())

	assert.NoError(t, NewScanSettings().Validate())
}
