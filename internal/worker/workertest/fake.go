// Package workertest provides a scriptable Worker for tests.
package workertest

import (
	"sync"

	"barcode-picker-go/internal/worker"
)

// Fake records posted messages and lets tests inject replies. An optional
// Responder produces replies automatically.
type Fake struct {
	mu         sync.Mutex
	posted     []worker.Outbound
	terminated bool
	out        chan worker.Inbound

	// Responder, when set, is called for every posted message; returned
	// messages are delivered in order.
	Responder func(msg worker.Outbound) []worker.Inbound
}

// New creates a Fake with a generously buffered reply channel.
func New() *Fake {
	return &Fake{out: make(chan worker.Inbound, 256)}
}

// PostMessage implements worker.Worker.
func (f *Fake) PostMessage(msg worker.Outbound) {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return
	}
	f.posted = append(f.posted, msg)
	responder := f.Responder
	f.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(msg) {
			f.Reply(reply)
		}
	}
}

// Messages implements worker.Worker.
func (f *Fake) Messages() <-chan worker.Inbound {
	return f.out
}

// Terminate implements worker.Worker.
func (f *Fake) Terminate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
}

// Terminated reports whether Terminate was called.
func (f *Fake) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// Reply delivers msg as if the worker had sent it.
func (f *Fake) Reply(msg worker.Inbound) {
	f.out <- msg
}

// Posted returns a copy of every message posted so far.
func (f *Fake) Posted() []worker.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]worker.Outbound(nil), f.posted...)
}

// PostedOfType returns the posted messages with the given type.
func (f *Fake) PostedOfType(t worker.MessageType) []worker.Outbound {
	var out []worker.Outbound
	for _, m := range f.Posted() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// ReadyResponder answers load-library with a ready status and every work
// message with an empty result.
func ReadyResponder(msg worker.Outbound) []worker.Inbound {
	switch msg.Type {
	case worker.MsgLoadLibrary:
		return []worker.Inbound{{Type: worker.MsgStatus, Status: worker.StatusReady}}
	case worker.MsgWork:
		return []worker.Inbound{{Type: worker.MsgWorkResult, RequestID: msg.RequestID}}
	}
	return nil
}
