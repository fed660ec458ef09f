package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageSettingsExpectedLength(t *testing.T) {
	cases := []struct {
		format ImageFormat
		want   int
	}{
		{Gray8U, 6},
		{RGB8U, 18},
		{RGBA8U, 24},
		{ImageFormat(9), 0},
	}
	for _, tc := range cases {
		t.Run(tc.format.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, ImageSettings{Width: 3, Height: 2, Format: tc.format}.ExpectedLength())
		})
	}
}

func TestScanResultRejectCode(t *testing.T) {
	r := &ScanResult{Barcodes: []Barcode{{Data: "a"}, {Data: "b"}}}
	assert.Equal(t, 2, r.AcceptedCount())

	r.RejectCode(1)
	r.RejectCode(1)
	r.RejectCode(7)
	assert.True(t, r.IsRejected(1))
	assert.False(t, r.IsRejected(0))
	assert.Equal(t, 1, r.AcceptedCount())
}

func TestNewParserResult(t *testing.T) {
	res, err := NewParserResult(`[{"name":"01","parsed":"09521234543213","rawString":"0109521234543213"},{"name":"10","parsed":"ABC","rawString":"10ABC"}]`)
	require.NoError(t, err)
	assert.Len(t, res.Fields, 2)
	assert.Equal(t, "ABC", res.FieldsByName["10"].Parsed)

	_, err = NewParserResult("not json")
	assert.Error(t, err)
}

func TestUnsupportedPlatformError(t *testing.T) {
	err := &UnsupportedPlatformError{Missing: []string{"ffmpeg"}}
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
	assert.Contains(t, err.Error(), "ffmpeg")
}

func TestEngineErrorFormat(t *testing.T) {
	err := &EngineError{Code: 3, Message: "no image settings"}
	assert.Equal(t, "no image settings (3)", err.Error())
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
enabledSymbologies: [ean13, qr]
codeDuplicateFilter: -1
maxNumberOfCodesPerFrame: 3
searchArea: {x: 0, y: 0.25, width: 1, height: 0.5}
symbologies:
  code39:
    enabled: true
    activeSymbolCounts: [7, 8]
    extensions: [full_ascii]
    checksums: [mod43]
`), 0o644))

	s, err := LoadProfile(path)
	require.NoError(t, err)
	assert.True(t, s.IsSymbologyEnabled(SymbologyEAN13))
	assert.True(t, s.IsSymbologyEnabled(SymbologyQR))
	assert.True(t, s.IsSymbologyEnabled(SymbologyCode39))
	assert.Equal(t, -1, s.CodeDuplicateFilter)
	assert.Equal(t, 3, s.MaxNumberOfCodesPerFrame)
	assert.Equal(t, 0.25, s.SearchArea.Y)

	code39, _ := s.SymbologySettings(SymbologyCode39)
	assert.Equal(t, []Extension{ExtensionFullASCII}, code39.EnabledExtensions())
	assert.Equal(t, []Checksum{ChecksumMod43}, code39.EnabledChecksums())
}

func TestLoadProfileRejectsUnknownSymbology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabledSymbologies: [nope]\n"), 0o644))

	_, err := LoadProfile(path)
	assert.Error(t, err)
}
