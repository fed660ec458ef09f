package scan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"barcode-picker-go/internal/validate"
)

// Profile is the on-disk YAML form of ScanSettings.
//
//	enabledSymbologies: [ean13, qr]
//	codeDuplicateFilter: 1000
//	searchArea: {x: 0, y: 0.25, width: 1, height: 0.5}
//	symbologies:
//	  code39:
//	    enabled: true
//	    activeSymbolCounts: [7, 8, 9]
//	    extensions: [full_ascii]
//	    checksums: [mod43]
type Profile struct {
	EnabledSymbologies       []string                    `yaml:"enabledSymbologies" validate:"dive,symbology"`
	CodeDuplicateFilter      *int                        `yaml:"codeDuplicateFilter" validate:"omitempty,gte=-1"`
	MaxNumberOfCodesPerFrame *int                        `yaml:"maxNumberOfCodesPerFrame" validate:"omitempty,gte=1,lte=10"`
	SearchArea               *SearchArea                 `yaml:"searchArea"`
	GPUAcceleration          *bool                       `yaml:"gpuAcceleration"`
	BlurryRecognition        *bool                       `yaml:"blurryRecognition"`
	Symbologies              map[string]SymbologyProfile `yaml:"symbologies" validate:"dive,keys,symbology,endkeys"`
}

// SymbologyProfile is the YAML form of SymbologySettings. Nil slices leave
// the engine defaults in place.
type SymbologyProfile struct {
	Enabled              bool     `yaml:"enabled"`
	ColorInvertedEnabled bool     `yaml:"colorInvertedEnabled"`
	ActiveSymbolCounts   []int    `yaml:"activeSymbolCounts" validate:"dive,gte=1"`
	Extensions           []string `yaml:"extensions"`
	Checksums            []string `yaml:"checksums"`
}

// Validate checks field ranges.
func (s *ScanSettings) Validate() error {
	return validate.Struct(s)
}

// Settings converts the profile onto a fresh NewScanSettings base.
func (p *Profile) Settings() (*ScanSettings, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid scan profile: %w", err)
	}
	s := NewScanSettings()
	for _, name := range p.EnabledSymbologies {
		sym, err := ParseSymbology(name)
		if err != nil {
			return nil, err
		}
		if err := s.EnableSymbologies(sym); err != nil {
			return nil, err
		}
	}
	if p.CodeDuplicateFilter != nil {
		s.CodeDuplicateFilter = *p.CodeDuplicateFilter
	}
	if p.MaxNumberOfCodesPerFrame != nil {
		s.MaxNumberOfCodesPerFrame = *p.MaxNumberOfCodesPerFrame
	}
	if p.SearchArea != nil {
		s.SearchArea = *p.SearchArea
	}
	if p.GPUAcceleration != nil {
		s.GPUAcceleration = *p.GPUAcceleration
	}
	if p.BlurryRecognition != nil {
		s.BlurryRecognition = *p.BlurryRecognition
	}
	for name, sp := range p.Symbologies {
		sym, err := ParseSymbology(name)
		if err != nil {
			return nil, err
		}
		ss, _ := s.SymbologySettings(sym)
		ss.Enabled = sp.Enabled
		ss.ColorInvertedEnabled = sp.ColorInvertedEnabled
		ss.SetActiveSymbolCounts(sp.ActiveSymbolCounts)
		if sp.Extensions != nil {
			exts := make([]Extension, 0, len(sp.Extensions))
			for _, e := range sp.Extensions {
				exts = append(exts, Extension(e))
			}
			ss.EnableExtensions(exts...)
		}
		if sp.Checksums != nil {
			sums := make([]Checksum, 0, len(sp.Checksums))
			for _, c := range sp.Checksums {
				sums = append(sums, Checksum(c))
			}
			ss.EnableChecksums(sums...)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan profile: %w", err)
	}
	return s, nil
}

// LoadProfile reads a YAML scan profile from path.
func LoadProfile(path string) (*ScanSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scan profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse scan profile %s: %w", path, err)
	}
	return p.Settings()
}
