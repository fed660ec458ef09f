package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/worker"
	"barcode-picker-go/internal/worker/workertest"
)

func newTestChannel(t *testing.T, fake *workertest.Fake, mutate func(*Options)) *Channel {
	t.Helper()
	opts := Options{
		LicenseKey: "test-key",
		NewWorker:  func(*logrus.Entry) worker.Worker { return fake },
	}
	if mutate != nil {
		mutate(&opts)
	}
	ch, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(ch.Teardown)
	return ch
}

func waitCall[T any](t *testing.T, c *Call[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := c.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "call did not settle")
	return v, err
}

func TestNewPreconditions(t *testing.T) {
	created := false
	factory := func(*logrus.Entry) worker.Worker { created = true; return workertest.New() }

	_, err := New(Options{LicenseKey: "  ", NewWorker: factory})
	assert.ErrorIs(t, err, scan.ErrLibraryNotConfigured)

	_, err = New(Options{
		LicenseKey: "k",
		NewWorker:  factory,
		Probe:      func() error { return &scan.UnsupportedPlatformError{Missing: []string{"ffmpeg"}} },
	})
	assert.ErrorIs(t, err, scan.ErrUnsupportedPlatform)
	assert.False(t, created)
}

func TestNewPostsInitialConfiguration(t *testing.T) {
	fake := workertest.New()
	newTestChannel(t, fake, func(o *Options) {
		o.ImageSettings = &scan.ImageSettings{Width: 4, Height: 2, Format: scan.RGBA8U}
	})

	var types []worker.MessageType
	for _, m := range fake.Posted() {
		types = append(types, m.Type)
	}
	assert.Equal(t, []worker.MessageType{
		worker.MsgLoadLibrary,
		worker.MsgLicenseKey,
		worker.MsgSettings,
		worker.MsgImageSettings,
	}, types)
}

func TestSubmitScanValidatesLength(t *testing.T) {
	formats := []scan.ImageFormat{scan.Gray8U, scan.RGB8U, scan.RGBA8U}
	sizes := [][2]int{{1, 1}, {3, 2}, {16, 9}}
	for _, f := range formats {
		for _, sz := range sizes {
			fake := workertest.New()
			fake.Responder = workertest.ReadyResponder
			ch := newTestChannel(t, fake, nil)
			is := scan.ImageSettings{Width: sz[0], Height: sz[1], Format: f}
			require.NoError(t, ch.ApplyImageSettings(is))
			want := sz[0] * sz[1] * f.Channels()

			for _, n := range []int{want - 1, want + 1, 0} {
				if n == want || n < 0 {
					continue
				}
				_, err := waitCall(t, ch.SubmitScan(make([]byte, n), false))
				assert.ErrorIs(t, err, scan.ErrImageSettingsDataMismatch, "%s %v len %d", f, sz, n)
			}
			assert.Empty(t, fake.PostedOfType(worker.MsgWork), "mismatch must not reach the worker")

			res, err := waitCall(t, ch.SubmitScan(make([]byte, want), false))
			require.NoError(t, err)
			assert.Equal(t, is, res.ImageSettings)
			assert.Len(t, fake.PostedOfType(worker.MsgWork), 1)
		}
	}
}

func TestSubmitScanWithoutImageSettings(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)

	_, err := waitCall(t, ch.SubmitScan([]byte{1, 2, 3}, false))
	assert.ErrorIs(t, err, scan.ErrNoImageSettings)
	assert.Empty(t, fake.PostedOfType(worker.MsgWork))
	assert.False(t, ch.Busy())
}

func TestRequestIDsIncreasePerKind(t *testing.T) {
	fake := workertest.New()
	fake.Responder = workertest.ReadyResponder
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 1, Height: 1, Format: scan.Gray8U}))

	for i := 0; i < 5; i++ {
		ch.SubmitScan([]byte{0}, false)
		ch.SubmitParse(scan.DataFormatGS1AI, "01", nil)
	}

	check := func(msgs []worker.Outbound) {
		require.Len(t, msgs, 5)
		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i].RequestID, msgs[i-1].RequestID)
		}
		assert.Equal(t, uint64(1), msgs[0].RequestID)
	}
	check(fake.PostedOfType(worker.MsgWork))
	check(fake.PostedOfType(worker.MsgParseString))
}

func TestBusyLifecycle(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 2, Height: 1, Format: scan.Gray8U}))
	assert.False(t, ch.Busy())

	first := ch.SubmitScan([]byte{1, 2}, false)
	assert.True(t, ch.Busy())
	second := ch.SubmitScan([]byte{3, 4}, true)

	fake.Reply(worker.Inbound{Type: worker.MsgWorkResult, RequestID: 1})
	_, err := waitCall(t, first)
	require.NoError(t, err)
	assert.True(t, ch.Busy(), "second request still pending")

	fake.Reply(worker.Inbound{Type: worker.MsgWorkError, RequestID: 2, Error: &worker.WireError{Code: 9, Message: "engine broke"}})
	_, err = waitCall(t, second)
	var ee *scan.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 9, ee.Code)
	assert.Equal(t, "engine broke (9)", ee.Error())
	assert.False(t, ch.Busy())
}

func TestScanResultCarriesSnapshot(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 2, Height: 1, Format: scan.Gray8U}))

	buf := []byte{7, 8}
	call := ch.SubmitScan(buf, false)
	buf[0] = 99

	fake.Reply(worker.Inbound{
		Type:      worker.MsgWorkResult,
		RequestID: 1,
		Barcodes:  []scan.Barcode{{Symbology: scan.SymbologyQR, Data: "x"}},
	})
	res, err := waitCall(t, call)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8}, res.ImageData)
	assert.Len(t, res.Barcodes, 1)
}

func TestCopyFrameBuffers(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, func(o *Options) { o.CopyFrameBuffers = true })
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 1, Height: 1, Format: scan.Gray8U}))

	buf := []byte{5}
	ch.SubmitScan(buf, false)
	buf[0] = 6
	work := fake.PostedOfType(worker.MsgWork)
	require.Len(t, work, 1)
	assert.Equal(t, byte(5), work[0].Data[0])
}

func TestParseRepliesOutOfOrder(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 1, Height: 1, Format: scan.Gray8U}))

	scanCall := ch.SubmitScan([]byte{1}, false)
	parser := ch.CreateParserForFormat(scan.DataFormatGS1AI)
	parser.SetOptions(map[string]any{"strictMode": true})
	parseCall := parser.ParseString("0109506000134352")

	parseMsgs := fake.PostedOfType(worker.MsgParseString)
	require.Len(t, parseMsgs, 1)
	assert.JSONEq(t, `{"strictMode":true}`, parseMsgs[0].Options)

	fake.Reply(worker.Inbound{Type: worker.MsgParseStringResult, RequestID: 1, Result: `[{"name":"01","parsed":"09506000134352","rawString":"0109506000134352"}]`})
	res, err := waitCall(t, parseCall)
	require.NoError(t, err)
	assert.Equal(t, "09506000134352", res.FieldsByName["01"].Parsed)
	assert.True(t, ch.Busy())

	fake.Reply(worker.Inbound{Type: worker.MsgWorkResult, RequestID: 1})
	_, err = waitCall(t, scanCall)
	require.NoError(t, err)
}

func TestParseRawDataInvalidUTF8(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	ch.CreateParserForFormat(scan.DataFormatGS1AI).ParseRawData([]byte{0xff, 0xfe})

	msgs := fake.PostedOfType(worker.MsgParseString)
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].Text)
	assert.Equal(t, "{}", msgs[0].Options)
}

func TestReadyEvent(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)

	var fired atomic.Int32
	ch.On(EventReady, func(any) { fired.Add(1) })
	assert.False(t, ch.IsReady())

	fake.Reply(worker.Inbound{Type: worker.MsgStatus, Status: worker.StatusReady})
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	late := false
	ch.On(EventReady, func(any) { late = true })
	assert.True(t, late)
}

func TestReadyListenerRunsOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		fake := workertest.New()
		ch := newTestChannel(t, fake, nil)

		var fired atomic.Int32
		go fake.Reply(worker.Inbound{Type: worker.MsgStatus, Status: worker.StatusReady})
		ch.On(EventReady, func(any) { fired.Add(1) })

		require.Eventually(t, func() bool { return fired.Load() >= 1 }, time.Second, time.Millisecond)
		fake.Reply(worker.Inbound{Type: worker.MsgStatus, Status: worker.StatusReady})
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, int32(1), fired.Load())
	}
}

func TestApplySettingsNotifies(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)

	var got *scan.ScanSettings
	ch.On(EventSettingsChanged, func(p any) { got = p.(*scan.ScanSettings) })

	s := scan.NewScanSettings()
	require.NoError(t, s.EnableSymbologies(scan.SymbologyEAN13))
	require.NoError(t, ch.ApplySettings(s))

	require.NotNil(t, got)
	assert.True(t, got.IsSymbologyEnabled(scan.SymbologyEAN13))
	settingsMsgs := fake.PostedOfType(worker.MsgSettings)
	require.Len(t, settingsMsgs, 2)
	assert.Contains(t, settingsMsgs[1].Settings, `"ean13"`)

	bad := scan.NewScanSettings()
	bad.MaxNumberOfCodesPerFrame = 0
	assert.Error(t, ch.ApplySettings(bad))
}

func TestTeardownOrphansPending(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 1, Height: 1, Format: scan.Gray8U}))

	call := ch.SubmitScan([]byte{1}, false)
	ch.Teardown()
	assert.True(t, fake.Terminated())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = waitCall(t, ch.SubmitScan([]byte{1}, false))
	assert.ErrorIs(t, err, ErrChannelClosed)
	ch.Teardown()
}

func TestUnknownReplyIgnored(t *testing.T) {
	fake := workertest.New()
	ch := newTestChannel(t, fake, nil)
	require.NoError(t, ch.ApplyImageSettings(scan.ImageSettings{Width: 1, Height: 1, Format: scan.Gray8U}))
	call := ch.SubmitScan([]byte{1}, false)

	fake.Reply(worker.Inbound{Type: worker.MsgWorkResult, RequestID: 42})
	fake.Reply(worker.Inbound{Type: worker.MsgParseStringResult, RequestID: 1, Result: "[]"})
	time.Sleep(20 * time.Millisecond)
	assert.True(t, ch.Busy())

	fake.Reply(worker.Inbound{Type: worker.MsgWorkResult, RequestID: 1})
	_, err := waitCall(t, call)
	assert.NoError(t, err)
}

func TestChannelWithLocalWorker(t *testing.T) {
	ch, err := New(Options{LicenseKey: "k"})
	require.NoError(t, err)
	defer ch.Teardown()

	ready := make(chan struct{})
	var once sync.Once
	ch.On(EventReady, func(any) { once.Do(func() { close(ready) }) })
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never became ready")
	}

	res, err := waitCall(t, ch.CreateParserForFormat(scan.DataFormatGS1AI).ParseString("(01)09506000134352"))
	require.NoError(t, err)
	assert.Len(t, res.Fields, 1)
}
