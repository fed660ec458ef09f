package engine

import "barcode-picker-go/internal/scan"

// Error codes reported across the worker boundary.
const (
	CodeNotInitialized    = 1
	CodeUnsupportedFormat = 2
	CodeImageSettings     = 3
	CodeParseFailure      = 4
	CodeInvalidSettings   = 5
)

func engineError(code int, msg string) error {
	return &scan.EngineError{Code: code, Message: msg}
}
