package scan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLibraryNotConfigured means the channel was created without a license key.
	ErrLibraryNotConfigured = errors.New("library not configured: a license key is required")
	// ErrUnsupportedPlatform means the host lacks a capability the channel needs.
	ErrUnsupportedPlatform = errors.New("platform does not support scanning")
	// ErrNoImageSettings means a scan was submitted before image settings were applied.
	ErrNoImageSettings = errors.New("no image settings set up in the scanner")
	// ErrImageSettingsDataMismatch means the buffer length does not match width*height*channels.
	ErrImageSettingsDataMismatch = errors.New("the provided image data doesn't match the previously set image settings")
	// ErrInvalidSymbology is returned for unknown symbology names.
	ErrInvalidSymbology = errors.New("invalid symbology")
)

// UnsupportedPlatformError lists the capabilities that were found missing.
type UnsupportedPlatformError struct {
	Missing []string
}

func (e *UnsupportedPlatformError) Error() string {
	if len(e.Missing) == 0 {
		return ErrUnsupportedPlatform.Error()
	}
	return fmt.Sprintf("%s (missing: %s)", ErrUnsupportedPlatform, strings.Join(e.Missing, ", "))
}

func (e *UnsupportedPlatformError) Is(target error) bool {
	return target == ErrUnsupportedPlatform
}

// EngineError is an opaque failure reported by the recognition engine.
type EngineError struct {
	Code    int
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}
