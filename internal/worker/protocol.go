// Package worker defines the message protocol between the scanner channel and
// the isolated context hosting the recognition engine, plus a goroutine-based
// implementation of that context.
package worker

import (
	"context"

	"barcode-picker-go/internal/scan"
)

// MessageType discriminates protocol messages.
type MessageType string

// Outbound (channel -> worker).
const (
	MsgLoadLibrary   MessageType = "load-library"
	MsgLicenseKey    MessageType = "license-key"
	MsgSettings      MessageType = "settings"
	MsgImageSettings MessageType = "image-settings"
	MsgClearSession  MessageType = "clear-session"
	MsgWork          MessageType = "work"
	MsgParseString   MessageType = "parse-string"
)

// Inbound (worker -> channel).
const (
	MsgStatus            MessageType = "status"
	MsgLicenseFeatures   MessageType = "license-features"
	MsgWorkResult        MessageType = "work-result"
	MsgWorkError         MessageType = "work-error"
	MsgParseStringResult MessageType = "parse-string-result"
	MsgParseStringError  MessageType = "parse-string-error"
)

// StatusReady is the payload of the status message sent once the engine is loaded.
const StatusReady = "ready"

// LibraryConfig is the payload of load-library.
type LibraryConfig struct {
	DeviceID    string
	Location    string
	DeviceModel string
	SessionID   string
}

// LicenseFeatures is what the engine reports for a license key.
type LicenseFeatures struct {
	HiddenLogoAllowed bool
	Symbologies       []scan.Symbology
}

// Outbound is a message posted to the worker. Only the fields relevant to
// Type are set.
type Outbound struct {
	Type          MessageType
	RequestID     uint64
	Library       *LibraryConfig
	LicenseKey    string
	Settings      string
	ImageSettings *scan.ImageSettings
	Data          []byte
	HighQuality   bool
	DataFormat    scan.DataFormat
	Text          string
	Options       string
}

// WireError is an engine failure carried across the boundary.
type WireError struct {
	Code    int
	Message string
}

// Inbound is a message received from the worker.
type Inbound struct {
	Type      MessageType
	RequestID uint64
	Status    string
	Features  *LicenseFeatures
	Barcodes  []scan.Barcode
	Result    string
	Error     *WireError
}

// Worker is the isolated execution context. PostMessage never blocks.
type Worker interface {
	PostMessage(msg Outbound)
	Messages() <-chan Inbound
	Terminate()
}

// Engine is the recognition library hosted by a worker. Methods are only
// ever called from the worker's goroutine.
type Engine interface {
	Load(ctx context.Context, cfg LibraryConfig) error
	CreateContext(licenseKey string) (LicenseFeatures, error)
	SetSettings(settingsJSON string) error
	SetImageSettings(settings scan.ImageSettings) error
	ClearSession()
	Scan(data []byte, highQuality bool) ([]scan.Barcode, error)
	Parse(format scan.DataFormat, text string, optionsJSON string) (string, error)
}
