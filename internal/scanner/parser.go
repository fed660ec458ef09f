package scanner

import (
	"sync"
	"unicode/utf8"

	"barcode-picker-go/internal/scan"
)

// Parser parses strings of one data format through a Channel.
type Parser struct {
	ch     *Channel
	format scan.DataFormat

	mu      sync.Mutex
	options map[string]any
}

// CreateParserForFormat returns a Parser bound to this channel.
func (c *Channel) CreateParserForFormat(format scan.DataFormat) *Parser {
	return &Parser{ch: c, format: format}
}

// Format returns the parser's data format.
func (p *Parser) Format() scan.DataFormat {
	return p.format
}

// SetOptions replaces the options sent with every parse request.
func (p *Parser) SetOptions(options map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.options = make(map[string]any, len(options))
	for k, v := range options {
		p.options[k] = v
	}
}

// ParseString parses text.
func (p *Parser) ParseString(text string) *Call[*scan.ParserResult] {
	p.mu.Lock()
	opts := p.options
	p.mu.Unlock()
	return p.ch.SubmitParse(p.format, text, opts)
}

// ParseRawData parses raw barcode bytes. Bytes that are not valid UTF-8 are
// parsed as the empty string.
func (p *Parser) ParseRawData(data []byte) *Call[*scan.ParserResult] {
	text := ""
	if utf8.Valid(data) {
		text = string(data)
	}
	return p.ParseString(text)
}
