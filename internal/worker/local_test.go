package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcode-picker-go/internal/scan"
)

type stubEngine struct {
	mu       sync.Mutex
	calls    []string
	scanErr  error
	block    chan struct{}
	barcodes []scan.Barcode
}

func (e *stubEngine) record(s string) {
	e.mu.Lock()
	e.calls = append(e.calls, s)
	e.mu.Unlock()
}

func (e *stubEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *stubEngine) Load(context.Context, LibraryConfig) error { e.record("load"); return nil }
func (e *stubEngine) CreateContext(string) (LicenseFeatures, error) {
	e.record("context")
	return LicenseFeatures{}, nil
}
func (e *stubEngine) SetSettings(string) error                  { e.record("settings"); return nil }
func (e *stubEngine) SetImageSettings(scan.ImageSettings) error { e.record("image"); return nil }
func (e *stubEngine) ClearSession()                             { e.record("clear") }
func (e *stubEngine) Scan([]byte, bool) ([]scan.Barcode, error) {
	if e.block != nil {
		<-e.block
	}
	e.record("scan")
	return e.barcodes, e.scanErr
}
func (e *stubEngine) Parse(scan.DataFormat, string, string) (string, error) {
	e.record("parse")
	return "[]", nil
}

func next(t *testing.T, w *Local) Inbound {
	t.Helper()
	select {
	case msg := <-w.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker reply")
	}
	return Inbound{}
}

func TestLocalProcessesInOrder(t *testing.T) {
	eng := &stubEngine{barcodes: []scan.Barcode{{Data: "x"}}}
	w := NewLocal(eng, nil)
	defer w.Terminate()

	w.PostMessage(Outbound{Type: MsgLoadLibrary})
	w.PostMessage(Outbound{Type: MsgLicenseKey, LicenseKey: "k"})
	w.PostMessage(Outbound{Type: MsgSettings, Settings: "{}"})
	w.PostMessage(Outbound{Type: MsgImageSettings, ImageSettings: &scan.ImageSettings{Width: 1, Height: 1}})
	w.PostMessage(Outbound{Type: MsgWork, RequestID: 1})
	w.PostMessage(Outbound{Type: MsgParseString, RequestID: 1})

	assert.Equal(t, MsgStatus, next(t, w).Type)
	assert.Equal(t, MsgLicenseFeatures, next(t, w).Type)
	res := next(t, w)
	assert.Equal(t, MsgWorkResult, res.Type)
	assert.Equal(t, uint64(1), res.RequestID)
	assert.Len(t, res.Barcodes, 1)
	assert.Equal(t, MsgParseStringResult, next(t, w).Type)

	assert.Equal(t, []string{"load", "context", "settings", "image", "scan", "parse"}, eng.Calls())
}

func TestLocalReportsEngineErrors(t *testing.T) {
	eng := &stubEngine{scanErr: &scan.EngineError{Code: 3, Message: "no image settings"}}
	w := NewLocal(eng, nil)
	defer w.Terminate()

	w.PostMessage(Outbound{Type: MsgWork, RequestID: 7})
	msg := next(t, w)
	assert.Equal(t, MsgWorkError, msg.Type)
	assert.Equal(t, uint64(7), msg.RequestID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, 3, msg.Error.Code)

	eng.scanErr = errors.New("boom")
	w.PostMessage(Outbound{Type: MsgWork, RequestID: 8})
	msg = next(t, w)
	assert.Equal(t, -1, msg.Error.Code)
}

func TestLocalTerminateDropsQueuedWork(t *testing.T) {
	eng := &stubEngine{block: make(chan struct{})}
	w := NewLocal(eng, nil)

	w.PostMessage(Outbound{Type: MsgWork, RequestID: 1})
	w.PostMessage(Outbound{Type: MsgWork, RequestID: 2})
	time.Sleep(20 * time.Millisecond)
	w.Terminate()
	close(eng.block)

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.LessOrEqual(t, len(eng.Calls()), 1)

	w.PostMessage(Outbound{Type: MsgWork, RequestID: 3})
	assert.LessOrEqual(t, len(eng.Calls()), 1)
}
