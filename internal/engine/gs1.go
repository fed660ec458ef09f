package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"barcode-picker-go/internal/scan"
)

const groupSeparator = "\x1d"

type aiKind int

const (
	aiText aiKind = iota
	aiNumeric
	aiDate
	aiDecimal
)

type aiDef struct {
	length   int // fixed length, or maximum length when variable
	variable bool
	kind     aiKind
}

// aiTable is keyed by AI; decimal AIs (31nn-36nn) are keyed by their first
// three digits and carry the decimal position in the fourth.
var aiTable = map[string]aiDef{
	"00":   {length: 18, kind: aiNumeric},
	"01":   {length: 14, kind: aiNumeric},
	"02":   {length: 14, kind: aiNumeric},
	"10":   {length: 20, variable: true},
	"11":   {length: 6, kind: aiDate},
	"12":   {length: 6, kind: aiDate},
	"13":   {length: 6, kind: aiDate},
	"15":   {length: 6, kind: aiDate},
	"16":   {length: 6, kind: aiDate},
	"17":   {length: 6, kind: aiDate},
	"20":   {length: 2, kind: aiNumeric},
	"21":   {length: 20, variable: true},
	"22":   {length: 20, variable: true},
	"240":  {length: 30, variable: true},
	"241":  {length: 30, variable: true},
	"250":  {length: 30, variable: true},
	"251":  {length: 30, variable: true},
	"30":   {length: 8, variable: true, kind: aiNumeric},
	"310":  {length: 6, kind: aiDecimal},
	"311":  {length: 6, kind: aiDecimal},
	"312":  {length: 6, kind: aiDecimal},
	"313":  {length: 6, kind: aiDecimal},
	"320":  {length: 6, kind: aiDecimal},
	"330":  {length: 6, kind: aiDecimal},
	"37":   {length: 8, variable: true, kind: aiNumeric},
	"400":  {length: 30, variable: true},
	"401":  {length: 30, variable: true},
	"402":  {length: 17, kind: aiNumeric},
	"403":  {length: 30, variable: true},
	"410":  {length: 13, kind: aiNumeric},
	"411":  {length: 13, kind: aiNumeric},
	"412":  {length: 13, kind: aiNumeric},
	"413":  {length: 13, kind: aiNumeric},
	"414":  {length: 13, kind: aiNumeric},
	"415":  {length: 13, kind: aiNumeric},
	"420":  {length: 20, variable: true},
	"422":  {length: 3, kind: aiNumeric},
	"8004": {length: 30, variable: true},
	"8005": {length: 6, kind: aiNumeric},
	"8020": {length: 25, variable: true},
	"90":   {length: 30, variable: true},
}

// aiPrefixLength maps the first two digits of an AI to its total length.
func aiPrefixLength(prefix string) int {
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	switch {
	case n <= 22 || n == 30 || n == 37 || n >= 90:
		return 2
	case n >= 23 && n <= 25, n >= 40 && n <= 42:
		return 3
	case n >= 31 && n <= 36, n >= 70 && n <= 71, n >= 80 && n <= 82:
		return 4
	}
	return 0
}

func lookupAI(ai string) (aiDef, bool) {
	if def, ok := aiTable[ai]; ok {
		return def, true
	}
	if len(ai) == 4 {
		if def, ok := aiTable[ai[:3]]; ok && def.kind == aiDecimal {
			return def, true
		}
	}
	if len(ai) == 2 && ai >= "91" && ai <= "99" {
		return aiDef{length: 90, variable: true}, true
	}
	return aiDef{}, false
}

var humanReadableAI = regexp.MustCompile(`\((\d{2,4})\)([^(]*)`)

type gs1Options struct {
	StrictMode bool `json:"strictMode"`
}

type gs1Element struct {
	ai    string
	value string
}

func parseGS1(text, optionsJSON string) (string, error) {
	var opts gs1Options
	if strings.TrimSpace(optionsJSON) != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &opts); err != nil {
			return "", engineError(CodeParseFailure, "invalid parser options: "+err.Error())
		}
	}

	elements, err := splitGS1(text)
	if err != nil {
		return "", err
	}
	fields := make([]scan.ParserField, 0, len(elements))
	for _, el := range elements {
		def, _ := lookupAI(el.ai)
		parsed, err := convertAI(el.ai, def, el.value, opts.StrictMode)
		if err != nil {
			return "", err
		}
		fields = append(fields, scan.ParserField{
			Name:      el.ai,
			Parsed:    parsed,
			RawString: el.ai + el.value,
		})
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "", engineError(CodeParseFailure, err.Error())
	}
	return string(out), nil
}

func splitGS1(text string) ([]gs1Element, error) {
	s := strings.TrimSpace(text)
	for _, id := range []string{"]C1", "]e0", "]d2", "]Q3", "]J1"} {
		s = strings.TrimPrefix(s, id)
	}
	s = strings.TrimLeft(s, groupSeparator)
	if s == "" {
		return nil, engineError(CodeParseFailure, "empty GS1 element string")
	}

	if strings.HasPrefix(s, "(") {
		var out []gs1Element
		for _, m := range humanReadableAI.FindAllStringSubmatch(s, -1) {
			if _, ok := lookupAI(m[1]); !ok {
				return nil, engineError(CodeParseFailure, "unknown application identifier "+m[1])
			}
			out = append(out, gs1Element{ai: m[1], value: m[2]})
		}
		if len(out) == 0 {
			return nil, engineError(CodeParseFailure, "no application identifiers found")
		}
		return out, nil
	}

	var out []gs1Element
	for len(s) > 0 {
		if len(s) < 2 {
			return nil, engineError(CodeParseFailure, "truncated element string")
		}
		n := aiPrefixLength(s[:2])
		if n == 0 || len(s) < n {
			return nil, engineError(CodeParseFailure, "unknown application identifier at "+strconv.Quote(s))
		}
		ai := s[:n]
		def, ok := lookupAI(ai)
		if !ok {
			return nil, engineError(CodeParseFailure, "unknown application identifier "+ai)
		}
		rest := s[n:]
		var value string
		if def.variable {
			end := strings.Index(rest, groupSeparator)
			if end < 0 {
				end = len(rest)
			}
			if end > def.length {
				return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s exceeds %d characters", ai, def.length))
			}
			value, rest = rest[:end], strings.TrimPrefix(rest[end:], groupSeparator)
		} else {
			if len(rest) < def.length {
				return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s needs %d characters", ai, def.length))
			}
			value, rest = rest[:def.length], strings.TrimPrefix(rest[def.length:], groupSeparator)
		}
		out = append(out, gs1Element{ai: ai, value: value})
		s = rest
	}
	return out, nil
}

func convertAI(ai string, def aiDef, value string, strict bool) (any, error) {
	if !def.variable && len(value) != def.length {
		return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s needs %d characters, got %d", ai, def.length, len(value)))
	}
	switch def.kind {
	case aiNumeric:
		if !isDigits(value) {
			return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s must be numeric", ai))
		}
		if strict && (ai == "00" || ai == "01" || ai == "02") && !validCheckDigit(value) {
			return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s has an invalid check digit", ai))
		}
		return value, nil
	case aiDate:
		if !isDigits(value) {
			return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s must be a YYMMDD date", ai))
		}
		yy, _ := strconv.Atoi(value[0:2])
		mm, _ := strconv.Atoi(value[2:4])
		dd, _ := strconv.Atoi(value[4:6])
		if mm < 1 || mm > 12 || dd > 31 {
			return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s has an invalid date", ai))
		}
		return map[string]int{"year": 2000 + yy, "month": mm, "day": dd}, nil
	case aiDecimal:
		if !isDigits(value) || len(ai) != 4 {
			return nil, engineError(CodeParseFailure, fmt.Sprintf("AI %s must be numeric", ai))
		}
		decimals := int(ai[3] - '0')
		n, _ := strconv.ParseFloat(value, 64)
		for i := 0; i < decimals; i++ {
			n /= 10
		}
		return n, nil
	}
	return value, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validCheckDigit verifies a GS1 mod-10 check digit.
func validCheckDigit(s string) bool {
	sum := 0
	for i := len(s) - 2; i >= 0; i-- {
		d := int(s[i] - '0')
		if (len(s)-2-i)%2 == 0 {
			d *= 3
		}
		sum += d
	}
	return (10-sum%10)%10 == int(s[len(s)-1]-'0')
}
