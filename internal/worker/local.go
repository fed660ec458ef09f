package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/scan"
)

// Local hosts an Engine on a dedicated goroutine. Messages are processed
// strictly in posting order, one at a time; the inbox is unbounded so
// PostMessage never blocks the caller.
type Local struct {
	engine Engine
	log    *logrus.Entry

	mu         sync.Mutex
	inbox      []Outbound
	terminated bool

	wake     chan struct{}
	out      chan Inbound
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocal starts a worker goroutine around engine.
func NewLocal(engine Engine, log *logrus.Entry) *Local {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Local{
		engine: engine,
		log:    log.WithField("component", "worker"),
		wake:   make(chan struct{}, 1),
		out:    make(chan Inbound, 16),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go w.run()
	return w
}

// PostMessage queues msg for the worker goroutine.
func (w *Local) PostMessage(msg Outbound) {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return
	}
	w.inbox = append(w.inbox, msg)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Messages returns the reply stream. It is closed once the worker exits.
func (w *Local) Messages() <-chan Inbound {
	return w.out
}

// Terminate stops the worker. Queued messages are dropped and no further
// replies are delivered.
func (w *Local) Terminate() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.terminated = true
		w.inbox = nil
		w.mu.Unlock()
		w.cancel()
		close(w.stopCh)
	})
}

// Done is closed when the worker goroutine has exited.
func (w *Local) Done() <-chan struct{} {
	return w.done
}

func (w *Local) pop() (Outbound, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated || len(w.inbox) == 0 {
		return Outbound{}, false
	}
	msg := w.inbox[0]
	w.inbox[0] = Outbound{}
	w.inbox = w.inbox[1:]
	return msg, true
}

func (w *Local) run() {
	defer close(w.done)
	defer close(w.out)

	for {
		select {
		case <-w.stopCh:
			return
		case <-w.wake:
		}

		for {
			msg, ok := w.pop()
			if !ok {
				break
			}
			reply, ok := w.handle(msg)
			if !ok {
				continue
			}
			select {
			case w.out <- reply:
			case <-w.stopCh:
				return
			}
		}
	}
}

func (w *Local) handle(msg Outbound) (Inbound, bool) {
	switch msg.Type {
	case MsgLoadLibrary:
		cfg := LibraryConfig{}
		if msg.Library != nil {
			cfg = *msg.Library
		}
		if err := w.engine.Load(w.ctx, cfg); err != nil {
			w.log.WithError(err).Error("engine load failed")
			return Inbound{}, false
		}
		return Inbound{Type: MsgStatus, Status: StatusReady}, true

	case MsgLicenseKey:
		features, err := w.engine.CreateContext(msg.LicenseKey)
		if err != nil {
			w.log.WithError(err).Error("engine context creation failed")
			return Inbound{}, false
		}
		return Inbound{Type: MsgLicenseFeatures, Features: &features}, true

	case MsgSettings:
		if err := w.engine.SetSettings(msg.Settings); err != nil {
			w.log.WithError(err).Warn("settings rejected")
		}
		return Inbound{}, false

	case MsgImageSettings:
		if msg.ImageSettings == nil {
			return Inbound{}, false
		}
		if err := w.engine.SetImageSettings(*msg.ImageSettings); err != nil {
			w.log.WithError(err).Warn("image settings rejected")
		}
		return Inbound{}, false

	case MsgClearSession:
		w.engine.ClearSession()
		return Inbound{}, false

	case MsgWork:
		barcodes, err := w.engine.Scan(msg.Data, msg.HighQuality)
		if err != nil {
			return Inbound{Type: MsgWorkError, RequestID: msg.RequestID, Error: toWireError(err)}, true
		}
		return Inbound{Type: MsgWorkResult, RequestID: msg.RequestID, Barcodes: barcodes}, true

	case MsgParseString:
		result, err := w.engine.Parse(msg.DataFormat, msg.Text, msg.Options)
		if err != nil {
			return Inbound{Type: MsgParseStringError, RequestID: msg.RequestID, Error: toWireError(err)}, true
		}
		return Inbound{Type: MsgParseStringResult, RequestID: msg.RequestID, Result: result}, true
	}

	w.log.WithField("type", msg.Type).Warn("unknown message type")
	return Inbound{}, false
}

func toWireError(err error) *WireError {
	var ee *scan.EngineError
	if errors.As(err, &ee) {
		return &WireError{Code: ee.Code, Message: ee.Message}
	}
	return &WireError{Code: -1, Message: err.Error()}
}
