// Package scanner owns the worker that hosts the recognition engine and
// correlates its asynchronous replies with the requests that caused them.
package scanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/engine"
	"barcode-picker-go/internal/eventbus"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/worker"
)

// Events emitted on the channel's bus.
const (
	EventReady           = "ready"
	EventLicenseFeatures = "licenseFeatures"
	EventSettingsChanged = "newScanSettings"
)

// ErrChannelClosed is returned by requests made after Teardown.
var ErrChannelClosed = errors.New("scanner channel torn down")

// Options configures a Channel.
type Options struct {
	LicenseKey     string
	EngineLocation string
	DeviceID       string
	DeviceModel    string
	ScanSettings   *scan.ScanSettings
	ImageSettings  *scan.ImageSettings

	// CopyFrameBuffers sends the worker a copy of every frame instead of
	// handing over the caller's buffer.
	CopyFrameBuffers bool

	// Probe reports missing platform capabilities; nil means supported.
	Probe func() error

	// NewWorker creates the worker; nil starts a Local worker around the
	// gozxing engine.
	NewWorker func(log *logrus.Entry) worker.Worker

	Logger *logrus.Logger
}

type requestKind int

const (
	kindScan requestKind = iota
	kindParse
)

func (k requestKind) String() string {
	if k == kindParse {
		return "parse"
	}
	return "scan"
}

type requestKey struct {
	kind requestKind
	id   uint64
}

type pendingOp struct {
	kind    requestKind
	resolve func(msg worker.Inbound)
	reject  func(err *scan.EngineError)
}

// Channel is the only path to the engine. All methods are non-blocking and
// safe for concurrent use.
type Channel struct {
	log        *logrus.Entry
	sessionID  string
	bus        *eventbus.Bus
	worker     worker.Worker
	copyFrames bool

	mu            sync.Mutex
	closed        bool
	ready         bool
	features      *worker.LicenseFeatures
	settings      *scan.ScanSettings
	imageSettings *scan.ImageSettings
	scanSeq       uint64
	parseSeq      uint64
	scanQueue     int
	pending       map[requestKey]*pendingOp

	stop chan struct{}
	done chan struct{}
}

// Done is closed once the reply dispatcher has exited after Teardown.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// New validates preconditions, starts the worker and posts the initial
// configuration. It fails before any worker exists when the license key is
// blank or the platform probe reports a missing capability.
func New(opts Options) (*Channel, error) {
	if opts.Probe != nil {
		if err := opts.Probe(); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(opts.LicenseKey) == "" {
		return nil, scan.ErrLibraryNotConfigured
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	sessionID := uuid.NewString()
	log := logger.WithFields(logrus.Fields{"component": "channel", "session": sessionID})

	settings := opts.ScanSettings
	if settings == nil {
		settings = scan.NewScanSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}

	newWorker := opts.NewWorker
	if newWorker == nil {
		newWorker = func(l *logrus.Entry) worker.Worker {
			return worker.NewLocal(engine.New(l), l)
		}
	}

	c := &Channel{
		log:        log,
		sessionID:  sessionID,
		bus:        eventbus.New(),
		worker:     newWorker(logger.WithField("session", sessionID)),
		copyFrames: opts.CopyFrameBuffers,
		settings:   settings.Clone(),
		pending:    make(map[requestKey]*pendingOp),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.dispatch(c.worker.Messages())

	c.worker.PostMessage(worker.Outbound{
		Type: worker.MsgLoadLibrary,
		Library: &worker.LibraryConfig{
			DeviceID:    opts.DeviceID,
			Location:    opts.EngineLocation,
			DeviceModel: opts.DeviceModel,
			SessionID:   sessionID,
		},
	})
	c.worker.PostMessage(worker.Outbound{Type: worker.MsgLicenseKey, LicenseKey: opts.LicenseKey})
	c.postSettings(c.settings)
	if opts.ImageSettings != nil {
		if err := c.ApplyImageSettings(*opts.ImageSettings); err != nil {
			c.Teardown()
			return nil, err
		}
	}
	log.Debug("channel created")
	return c, nil
}

// SessionID identifies this channel in logs.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// On subscribes to a channel event. Subscribing to EventReady after the
// engine is ready invokes fn immediately instead; fn runs once either way.
func (c *Channel) On(event string, fn eventbus.Listener) (off func()) {
	if event != EventReady {
		return c.bus.On(event, fn)
	}
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		fn(nil)
		return func() {}
	}
	off = c.bus.On(event, fn)
	c.mu.Unlock()
	return off
}

// IsReady reports whether the engine has finished loading.
func (c *Channel) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// LicenseFeatures returns the features reported by the engine, if any yet.
func (c *Channel) LicenseFeatures() *worker.LicenseFeatures {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features
}

// Settings returns a copy of the last applied scan settings.
func (c *Channel) Settings() *scan.ScanSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Clone()
}

// ImageSettings returns the current image settings, or nil.
func (c *Channel) ImageSettings() *scan.ImageSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imageSettings == nil {
		return nil
	}
	is := *c.imageSettings
	return &is
}

// ApplySettings posts settings to the engine without waiting for an
// acknowledgement and notifies EventSettingsChanged listeners.
func (c *Channel) ApplySettings(settings *scan.ScanSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("scan settings: %w", err)
	}
	clone := settings.Clone()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.settings = clone
	c.mu.Unlock()

	c.postSettings(clone)
	c.bus.Emit(EventSettingsChanged, clone.Clone())
	return nil
}

func (c *Channel) postSettings(s *scan.ScanSettings) {
	data, err := s.MarshalJSON()
	if err != nil {
		c.log.WithError(err).Error("serialize scan settings")
		return
	}
	c.worker.PostMessage(worker.Outbound{Type: worker.MsgSettings, Settings: string(data)})
}

// ApplyImageSettings posts the layout of subsequent frames.
func (c *Channel) ApplyImageSettings(settings scan.ImageSettings) error {
	if settings.Format.Channels() == 0 || settings.Width <= 0 || settings.Height <= 0 {
		return fmt.Errorf("invalid image settings %dx%d %s", settings.Width, settings.Height, settings.Format)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.imageSettings = &settings
	// Posted under the lock so no work message can overtake it.
	is := settings
	c.worker.PostMessage(worker.Outbound{Type: worker.MsgImageSettings, ImageSettings: &is})
	c.mu.Unlock()
	return nil
}

// ClearSession asks the engine to forget previously seen codes.
func (c *Channel) ClearSession() {
	c.worker.PostMessage(worker.Outbound{Type: worker.MsgClearSession})
}

// Busy reports whether any scan request is awaiting its reply.
func (c *Channel) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanQueue > 0
}

// SubmitScan posts one frame. Length and usage-order problems fail
// immediately without contacting the worker. Unless CopyFrameBuffers is set,
// data belongs to the worker afterwards and must not be modified.
func (c *Channel) SubmitScan(data []byte, highQuality bool) *Call[*scan.ScanResult] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return failedCall[*scan.ScanResult](ErrChannelClosed)
	}
	if c.imageSettings == nil {
		return failedCall[*scan.ScanResult](scan.ErrNoImageSettings)
	}
	is := *c.imageSettings
	if len(data) != is.ExpectedLength() {
		return failedCall[*scan.ScanResult](scan.ErrImageSettingsDataMismatch)
	}

	c.scanSeq++
	id := c.scanSeq
	c.scanQueue++
	snapshot := bytes.Clone(data)
	call := newCall[*scan.ScanResult]()
	c.pending[requestKey{kindScan, id}] = &pendingOp{
		kind: kindScan,
		resolve: func(msg worker.Inbound) {
			call.settle(&scan.ScanResult{
				Barcodes:      msg.Barcodes,
				ImageData:     snapshot,
				ImageSettings: is,
			}, nil)
		},
		reject: func(err *scan.EngineError) {
			call.settle(nil, err)
		},
	}

	payload := data
	if c.copyFrames {
		payload = bytes.Clone(data)
	}
	c.worker.PostMessage(worker.Outbound{
		Type:        worker.MsgWork,
		RequestID:   id,
		Data:        payload,
		HighQuality: highQuality,
	})
	return call
}

// SubmitParse posts a parse-string request. Parse ids are independent of
// scan ids and no ordering is promised between the two kinds of replies.
func (c *Channel) SubmitParse(format scan.DataFormat, text string, options map[string]any) *Call[*scan.ParserResult] {
	optionsJSON := "{}"
	if len(options) > 0 {
		data, err := json.Marshal(options)
		if err != nil {
			return failedCall[*scan.ParserResult](fmt.Errorf("parser options: %w", err))
		}
		optionsJSON = string(data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return failedCall[*scan.ParserResult](ErrChannelClosed)
	}

	c.parseSeq++
	id := c.parseSeq
	call := newCall[*scan.ParserResult]()
	c.pending[requestKey{kindParse, id}] = &pendingOp{
		kind: kindParse,
		resolve: func(msg worker.Inbound) {
			res, err := scan.NewParserResult(msg.Result)
			call.settle(res, err)
		},
		reject: func(err *scan.EngineError) {
			call.settle(nil, err)
		},
	}
	c.worker.PostMessage(worker.Outbound{
		Type:       worker.MsgParseString,
		RequestID:  id,
		DataFormat: format,
		Text:       text,
		Options:    optionsJSON,
	})
	return call
}

// Teardown terminates the worker. Pending calls are abandoned and will not
// settle.
func (c *Channel) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	orphaned := len(c.pending)
	c.pending = make(map[requestKey]*pendingOp)
	c.scanQueue = 0
	c.mu.Unlock()

	c.worker.Terminate()
	close(c.stop)
	c.bus.RemoveAll("")
	c.log.WithField("orphaned", orphaned).Debug("channel torn down")
}

func (c *Channel) take(kind requestKind, id uint64) *pendingOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := requestKey{kind, id}
	op, ok := c.pending[key]
	if !ok {
		return nil
	}
	delete(c.pending, key)
	if kind == kindScan {
		c.scanQueue--
	}
	return op
}

func (c *Channel) dispatch(msgs <-chan worker.Inbound) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(msg)
		}
	}
}

func (c *Channel) handle(msg worker.Inbound) {
	switch msg.Type {
	case worker.MsgStatus:
		if msg.Status != worker.StatusReady {
			return
		}
		c.mu.Lock()
		if c.ready {
			c.mu.Unlock()
			return
		}
		c.ready = true
		c.mu.Unlock()
		c.log.Info("engine ready")
		c.bus.Emit(EventReady, nil)

	case worker.MsgLicenseFeatures:
		c.mu.Lock()
		c.features = msg.Features
		c.mu.Unlock()
		c.bus.Emit(EventLicenseFeatures, msg.Features)

	case worker.MsgWorkResult, worker.MsgWorkError:
		c.settle(kindScan, msg, msg.Type == worker.MsgWorkError)

	case worker.MsgParseStringResult, worker.MsgParseStringError:
		c.settle(kindParse, msg, msg.Type == worker.MsgParseStringError)

	default:
		c.log.WithField("type", msg.Type).Warn("unexpected worker message")
	}
}

func (c *Channel) settle(kind requestKind, msg worker.Inbound, failed bool) {
	op := c.take(kind, msg.RequestID)
	if op == nil {
		c.log.WithFields(logrus.Fields{"kind": kind, "request": msg.RequestID}).Debug("reply for unknown request")
		return
	}
	if !failed {
		op.resolve(msg)
		return
	}
	ee := &scan.EngineError{Code: -1, Message: "unknown engine error"}
	if msg.Error != nil {
		ee = &scan.EngineError{Code: msg.Error.Code, Message: msg.Error.Message}
	}
	c.log.WithFields(logrus.Fields{
		"kind":    kind,
		"request": msg.RequestID,
		"code":    ee.Code,
	}).Debug(ee.Message)
	op.reject(ee)
}
