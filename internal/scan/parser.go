package scan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataFormat selects the parser used for a parse-string request.
type DataFormat int

const (
	DataFormatGS1AI   DataFormat = 1
	DataFormatHIBC    DataFormat = 2
	DataFormatDLID    DataFormat = 3
	DataFormatMRTD    DataFormat = 4
	DataFormatSwissQR DataFormat = 5
)

func (f DataFormat) String() string {
	switch f {
	case DataFormatGS1AI:
		return "gs1"
	case DataFormatHIBC:
		return "hibc"
	case DataFormatDLID:
		return "dlid"
	case DataFormatMRTD:
		return "mrtd"
	case DataFormatSwissQR:
		return "swissqr"
	}
	return fmt.Sprintf("DataFormat(%d)", int(f))
}

// ParseDataFormat maps a CLI-style name ("gs1", "hibc", ...) to a DataFormat.
func ParseDataFormat(name string) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gs1", "gs1ai", "gs1_ai":
		return DataFormatGS1AI, nil
	case "hibc":
		return DataFormatHIBC, nil
	case "dlid":
		return DataFormatDLID, nil
	case "mrtd":
		return DataFormatMRTD, nil
	case "swissqr", "swiss_qr":
		return DataFormatSwissQR, nil
	}
	return 0, fmt.Errorf("unknown data format %q", name)
}

// ParserField is one element of a parsed string.
type ParserField struct {
	Name      string `json:"name"`
	Parsed    any    `json:"parsed"`
	RawString string `json:"rawString"`
}

// ParserResult is the decoded form of a parse-string reply.
type ParserResult struct {
	JSONString   string
	Fields       []ParserField
	FieldsByName map[string]ParserField
}

// NewParserResult decodes the engine's JSON array of fields.
func NewParserResult(jsonString string) (*ParserResult, error) {
	var fields []ParserField
	if err := json.Unmarshal([]byte(jsonString), &fields); err != nil {
		return nil, fmt.Errorf("decode parser result: %w", err)
	}
	res := &ParserResult{
		JSONString:   jsonString,
		Fields:       fields,
		FieldsByName: make(map[string]ParserField, len(fields)),
	}
	for _, f := range fields {
		res.FieldsByName[f.Name] = f
	}
	return res, nil
}
