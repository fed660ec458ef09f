package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// SearchArea is a rectangle normalized to [0,1] relative to the frame.
type SearchArea struct {
	X      float64 `json:"x" yaml:"x" validate:"gte=0,lte=1"`
	Y      float64 `json:"y" yaml:"y" validate:"gte=0,lte=1"`
	Width  float64 `json:"width" yaml:"width" validate:"gte=0,lte=1"`
	Height float64 `json:"height" yaml:"height" validate:"gte=0,lte=1"`
}

// FullSearchArea covers the whole frame.
var FullSearchArea = SearchArea{X: 0, Y: 0, Width: 1, Height: 1}

// IsFull reports whether the area covers the frame at percent granularity.
func (a SearchArea) IsFull() bool {
	return math.Round(a.X*100) == 0 &&
		math.Round(a.Y*100) == 0 &&
		math.Round(a.Width*100) == 100 &&
		math.Round(a.Height*100) == 100
}

// Compose maps inner (relative to a) into frame coordinates. Every
// component is clamped to [0,1].
func (a SearchArea) Compose(inner SearchArea) SearchArea {
	return SearchArea{
		X:      clamp01(a.X + inner.X*a.Width),
		Y:      clamp01(a.Y + inner.Y*a.Height),
		Width:  clamp01(a.Width * inner.Width),
		Height: clamp01(a.Height * inner.Height),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// SymbologySettings configures recognition of one symbology.
type SymbologySettings struct {
	Enabled              bool
	ColorInvertedEnabled bool

	activeSymbolCounts []int
	extensions         map[Extension]struct{}
	checksums          map[Checksum]struct{}
	customExtensions   bool
	customChecksums    bool
}

// ActiveSymbolCounts returns the configured symbol counts; empty means engine defaults.
func (s *SymbologySettings) ActiveSymbolCounts() []int {
	return append([]int(nil), s.activeSymbolCounts...)
}

// SetActiveSymbolCounts replaces the list of accepted symbol counts.
func (s *SymbologySettings) SetActiveSymbolCounts(counts []int) {
	s.activeSymbolCounts = append([]int(nil), counts...)
}

// SetActiveSymbolCountsRange accepts every count in [minCount, maxCount].
func (s *SymbologySettings) SetActiveSymbolCountsRange(minCount, maxCount int) {
	s.activeSymbolCounts = s.activeSymbolCounts[:0]
	for c := minCount; c <= maxCount; c++ {
		s.activeSymbolCounts = append(s.activeSymbolCounts, c)
	}
}

// EnableExtensions turns on the given extensions. Unknown values are ignored.
func (s *SymbologySettings) EnableExtensions(exts ...Extension) {
	s.customExtensions = true
	if s.extensions == nil {
		s.extensions = make(map[Extension]struct{})
	}
	for _, e := range exts {
		if knownExtensions[e] {
			s.extensions[e] = struct{}{}
		}
	}
}

// DisableExtensions turns off the given extensions.
func (s *SymbologySettings) DisableExtensions(exts ...Extension) {
	s.customExtensions = true
	for _, e := range exts {
		delete(s.extensions, e)
	}
}

// EnabledExtensions returns the enabled extensions in sorted order.
func (s *SymbologySettings) EnabledExtensions() []Extension {
	out := make([]Extension, 0, len(s.extensions))
	for e := range s.extensions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EnableChecksums turns on the given checksums. Unknown values are ignored.
func (s *SymbologySettings) EnableChecksums(sums ...Checksum) {
	s.customChecksums = true
	if s.checksums == nil {
		s.checksums = make(map[Checksum]struct{})
	}
	for _, c := range sums {
		if knownChecksums[c] {
			s.checksums[c] = struct{}{}
		}
	}
}

// DisableChecksums turns off the given checksums.
func (s *SymbologySettings) DisableChecksums(sums ...Checksum) {
	s.customChecksums = true
	for _, c := range sums {
		delete(s.checksums, c)
	}
}

// EnabledChecksums returns the enabled checksums in sorted order.
func (s *SymbologySettings) EnabledChecksums() []Checksum {
	out := make([]Checksum, 0, len(s.checksums))
	for c := range s.checksums {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *SymbologySettings) clone() *SymbologySettings {
	c := *s
	c.activeSymbolCounts = append([]int(nil), s.activeSymbolCounts...)
	if s.extensions != nil {
		c.extensions = make(map[Extension]struct{}, len(s.extensions))
		for e := range s.extensions {
			c.extensions[e] = struct{}{}
		}
	}
	if s.checksums != nil {
		c.checksums = make(map[Checksum]struct{}, len(s.checksums))
		for k := range s.checksums {
			c.checksums[k] = struct{}{}
		}
	}
	return &c
}

func (s *SymbologySettings) wire() WireSymbology {
	w := WireSymbology{
		Enabled:              s.Enabled,
		ColorInvertedEnabled: s.ColorInvertedEnabled,
	}
	if len(s.activeSymbolCounts) > 0 {
		w.ActiveSymbolCounts = append([]int(nil), s.activeSymbolCounts...)
	}
	if s.customExtensions {
		exts := make([]string, 0, len(s.extensions))
		for _, e := range s.EnabledExtensions() {
			exts = append(exts, string(e))
		}
		w.Extensions = &exts
	}
	if s.customChecksums {
		sums := make([]string, 0, len(s.checksums))
		for _, c := range s.EnabledChecksums() {
			sums = append(sums, string(c))
		}
		w.Checksums = &sums
	}
	return w
}

// ScanSettings is the engine configuration applied through the channel.
//
// SearchArea is the caller's rectangle; BaseSearchArea is maintained by the
// GUI (the visible part of the video in cover mode). The engine sees the
// composition of both.
type ScanSettings struct {
	CodeDuplicateFilter      int        `validate:"gte=-1"`
	MaxNumberOfCodesPerFrame int        `validate:"gte=1,lte=10"`
	SearchArea               SearchArea `validate:"required"`
	BaseSearchArea           SearchArea
	GPUAcceleration          bool
	BlurryRecognition        bool

	symbologies map[Symbology]*SymbologySettings
}

// NewScanSettings returns settings with every symbology disabled.
func NewScanSettings() *ScanSettings {
	return &ScanSettings{
		CodeDuplicateFilter:      0,
		MaxNumberOfCodesPerFrame: 1,
		SearchArea:               FullSearchArea,
		BaseSearchArea:           FullSearchArea,
		GPUAcceleration:          true,
		BlurryRecognition:        true,
		symbologies:              make(map[Symbology]*SymbologySettings),
	}
}

// SymbologySettings returns the mutable configuration of sym, creating it on
// first access.
func (s *ScanSettings) SymbologySettings(sym Symbology) (*SymbologySettings, error) {
	if !sym.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbology, sym)
	}
	if s.symbologies == nil {
		s.symbologies = make(map[Symbology]*SymbologySettings)
	}
	ss, ok := s.symbologies[sym]
	if !ok {
		ss = &SymbologySettings{}
		s.symbologies[sym] = ss
	}
	return ss, nil
}

// IsSymbologyEnabled reports the enabled flag of sym.
func (s *ScanSettings) IsSymbologyEnabled(sym Symbology) bool {
	ss, ok := s.symbologies[sym]
	return ok && ss.Enabled
}

// EnableSymbologies enables every given symbology.
func (s *ScanSettings) EnableSymbologies(syms ...Symbology) error {
	return s.setEnabled(true, syms)
}

// DisableSymbologies disables every given symbology.
func (s *ScanSettings) DisableSymbologies(syms ...Symbology) error {
	return s.setEnabled(false, syms)
}

func (s *ScanSettings) setEnabled(enabled bool, syms []Symbology) error {
	for _, sym := range syms {
		ss, err := s.SymbologySettings(sym)
		if err != nil {
			return err
		}
		ss.Enabled = enabled
	}
	return nil
}

// EnabledSymbologies lists enabled symbologies in wire-name order.
func (s *ScanSettings) EnabledSymbologies() []Symbology {
	var out []Symbology
	for sym, ss := range s.symbologies {
		if ss.Enabled {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CombinedSearchArea is the rectangle the engine scans.
func (s *ScanSettings) CombinedSearchArea() SearchArea {
	return s.BaseSearchArea.Compose(s.SearchArea)
}

// Clone returns a deep copy.
func (s *ScanSettings) Clone() *ScanSettings {
	c := *s
	c.symbologies = make(map[Symbology]*SymbologySettings, len(s.symbologies))
	for sym, ss := range s.symbologies {
		c.symbologies[sym] = ss.clone()
	}
	return &c
}

// WireSymbology is the per-symbology part of the settings message.
type WireSymbology struct {
	Enabled              bool      `json:"enabled"`
	ColorInvertedEnabled bool      `json:"colorInvertedEnabled"`
	ActiveSymbolCounts   []int     `json:"activeSymbolCounts,omitempty"`
	Extensions           *[]string `json:"extensions,omitempty"`
	Checksums            *[]string `json:"checksums,omitempty"`
}

// CodeLocation is a location hint sent alongside a partial search area.
type CodeLocation struct {
	Area SearchArea `json:"area"`
}

// WireSettings is the canonical settings message understood by the engine.
type WireSettings struct {
	Symbologies              map[string]WireSymbology `json:"symbologies"`
	CodeDuplicateFilter      int                      `json:"codeDuplicateFilter"`
	MaxNumberOfCodesPerFrame int                      `json:"maxNumberOfCodesPerFrame"`
	SearchArea               SearchArea               `json:"searchArea"`
	CodeLocation1D           *CodeLocation            `json:"codeLocation1d,omitempty"`
	CodeLocation2D           *CodeLocation            `json:"codeLocation2d,omitempty"`
	GPUAcceleration          bool                     `json:"gpuAcceleration"`
	BlurryRecognition        bool                     `json:"blurryRecognition"`
}

// Wire builds the canonical message form of s.
func (s *ScanSettings) Wire() WireSettings {
	w := WireSettings{
		Symbologies:              make(map[string]WireSymbology, len(s.symbologies)),
		CodeDuplicateFilter:      s.CodeDuplicateFilter,
		MaxNumberOfCodesPerFrame: s.MaxNumberOfCodesPerFrame,
		SearchArea:               s.CombinedSearchArea(),
		GPUAcceleration:          s.GPUAcceleration,
		BlurryRecognition:        s.BlurryRecognition,
	}
	for sym, ss := range s.symbologies {
		w.Symbologies[string(sym)] = ss.wire()
	}
	if !w.SearchArea.IsFull() {
		area := w.SearchArea
		w.CodeLocation1D = &CodeLocation{Area: SearchArea{
			X:      area.X,
			Y:      area.Y + area.Height*0.75/2,
			Width:  area.Width,
			Height: area.Height * 0.25,
		}}
		w.CodeLocation2D = &CodeLocation{Area: area}
	}
	return w
}

// MarshalJSON renders the canonical settings message. Symbology keys are
// emitted in sorted order so equal settings always produce equal bytes.
func (s *ScanSettings) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Wire())
}

// ParseWireSettings decodes a settings message.
func ParseWireSettings(data []byte) (*WireSettings, error) {
	var w WireSettings
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &w, nil
}
