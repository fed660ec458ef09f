package scan

import (
	"fmt"
	"sort"
	"strings"

	"barcode-picker-go/internal/validate"
)

// Symbology identifies a barcode family by its wire name.
type Symbology string

const (
	SymbologyAztec              Symbology = "aztec"
	SymbologyCodabar            Symbology = "codabar"
	SymbologyCode11             Symbology = "code11"
	SymbologyCode128            Symbology = "code128"
	SymbologyCode25             Symbology = "code25"
	SymbologyCode32             Symbology = "code32"
	SymbologyCode39             Symbology = "code39"
	SymbologyCode93             Symbology = "code93"
	SymbologyDataMatrix         Symbology = "data-matrix"
	SymbologyDotCode            Symbology = "dotcode"
	SymbologyEAN13              Symbology = "ean13"
	SymbologyEAN8               Symbology = "ean8"
	SymbologyFiveDigitAddOn     Symbology = "five-digit-add-on"
	SymbologyGS1Databar         Symbology = "databar"
	SymbologyGS1DatabarExpanded Symbology = "databar-expanded"
	SymbologyGS1DatabarLimited  Symbology = "databar-limited"
	SymbologyInterleaved2of5    Symbology = "itf"
	SymbologyKIX                Symbology = "kix"
	SymbologyLAPA4SC            Symbology = "lapa4sc"
	SymbologyMaxiCode           Symbology = "maxicode"
	SymbologyMicroPDF417        Symbology = "micropdf417"
	SymbologyMicroQR            Symbology = "microqr"
	SymbologyMSIPlessey         Symbology = "msi-plessey"
	SymbologyPDF417             Symbology = "pdf417"
	SymbologyQR                 Symbology = "qr"
	SymbologyRM4SCC             Symbology = "rm4scc"
	SymbologyTwoDigitAddOn      Symbology = "two-digit-add-on"
	SymbologyUPCA               Symbology = "upca"
	SymbologyUPCE               Symbology = "upce"
	SymbologyUnknown            Symbology = "unknown"
)

var humanizedNames = map[Symbology]string{
	SymbologyAztec:              "Aztec",
	SymbologyCodabar:            "Codabar",
	SymbologyCode11:             "Code 11",
	SymbologyCode128:            "Code 128",
	SymbologyCode25:             "Code 25",
	SymbologyCode32:             "Code 32",
	SymbologyCode39:             "Code 39",
	SymbologyCode93:             "Code 93",
	SymbologyDataMatrix:         "Data Matrix",
	SymbologyDotCode:            "DotCode",
	SymbologyEAN13:              "EAN-13",
	SymbologyEAN8:               "EAN-8",
	SymbologyFiveDigitAddOn:     "Five-Digit Add-On",
	SymbologyGS1Databar:         "GS1 DataBar 14",
	SymbologyGS1DatabarExpanded: "GS1 DataBar Expanded",
	SymbologyGS1DatabarLimited:  "GS1 DataBar Limited",
	SymbologyInterleaved2of5:    "Interleaved Two of Five",
	SymbologyKIX:                "KIX",
	SymbologyLAPA4SC:            "LAPA4SC",
	SymbologyMaxiCode:           "MaxiCode",
	SymbologyMicroPDF417:        "MicroPDF417",
	SymbologyMicroQR:            "Micro QR",
	SymbologyMSIPlessey:         "MSI-Plessey",
	SymbologyPDF417:             "PDF417",
	SymbologyQR:                 "QR",
	SymbologyRM4SCC:             "RM4SCC",
	SymbologyTwoDigitAddOn:      "Two-Digit Add-On",
	SymbologyUPCA:               "UPC-A",
	SymbologyUPCE:               "UPC-E",
	SymbologyUnknown:            "Unknown",
}

func init() {
	validate.RegisterTag("symbology", func(v string) bool {
		_, err := ParseSymbology(v)
		return err == nil
	})
}

// HumanizedName returns a display name, e.g. "EAN-13" for ean13.
func (s Symbology) HumanizedName() string {
	if name, ok := humanizedNames[s]; ok {
		return name
	}
	return humanizedNames[SymbologyUnknown]
}

// Valid reports whether s is a known, scannable symbology.
func (s Symbology) Valid() bool {
	_, ok := humanizedNames[s]
	return ok && s != SymbologyUnknown
}

// ParseSymbology accepts a wire name case-insensitively.
func ParseSymbology(name string) (Symbology, error) {
	s := Symbology(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbology, name)
	}
	return s, nil
}

// AllSymbologies lists every scannable symbology in wire-name order.
func AllSymbologies() []Symbology {
	out := make([]Symbology, 0, len(humanizedNames)-1)
	for s := range humanizedNames {
		if s != SymbologyUnknown {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Extension is an optional symbology-specific engine behaviour.
type Extension string

const (
	ExtensionDirectPartMarkingMode      Extension = "direct_part_marking_mode"
	ExtensionFullASCII                  Extension = "full_ascii"
	ExtensionRelaxedSharpQuietZoneCheck Extension = "relaxed_sharp_quiet_zone_check"
	ExtensionRemoveLeadingZero          Extension = "remove_leading_zero"
	ExtensionRemoveLeadingUPCAZero      Extension = "remove_leading_upca_zero"
	ExtensionReturnAsUPCA               Extension = "return_as_upca"
	ExtensionStripLeadingFNC1           Extension = "strip_leading_fnc1"
)

var knownExtensions = map[Extension]bool{
	ExtensionDirectPartMarkingMode:      true,
	ExtensionFullASCII:                  true,
	ExtensionRelaxedSharpQuietZoneCheck: true,
	ExtensionRemoveLeadingZero:          true,
	ExtensionRemoveLeadingUPCAZero:      true,
	ExtensionReturnAsUPCA:               true,
	ExtensionStripLeadingFNC1:           true,
}

// Checksum is an optional checksum verified by the engine.
type Checksum string

const (
	ChecksumMod10   Checksum = "mod10"
	ChecksumMod11   Checksum = "mod11"
	ChecksumMod16   Checksum = "mod16"
	ChecksumMod43   Checksum = "mod43"
	ChecksumMod47   Checksum = "mod47"
	ChecksumMod103  Checksum = "mod103"
	ChecksumMod1010 Checksum = "mod1010"
	ChecksumMod1110 Checksum = "mod1110"
)

var knownChecksums = map[Checksum]bool{
	ChecksumMod10:   true,
	ChecksumMod11:   true,
	ChecksumMod16:   true,
	ChecksumMod43:   true,
	ChecksumMod47:   true,
	ChecksumMod103:  true,
	ChecksumMod1010: true,
	ChecksumMod1110: true,
}
