package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Source opens the MJPEG byte stream of a camera. inputFormat is the V4L2
// input format to request ("mjpeg", "yuyv422"), or empty to let the driver
// choose.
type Source interface {
	Open(ctx context.Context, cam Camera, s Settings, inputFormat string) (io.ReadCloser, error)
}

// streamError is implemented by streams that can explain why they ended.
type streamError interface {
	Err() error
}

// inputFormats returns the V4L2 input formats to try, preferred first.
func inputFormats(format string) []string {
	switch format {
	case "yuyv":
		return []string{"yuyv422", "mjpeg", ""}
	case "auto":
		return []string{""}
	default:
		return []string{"mjpeg", "yuyv422", ""}
	}
}

// ===== FFmpeg source =====

// FFmpegSource captures through an ffmpeg child process that re-encodes the
// device stream as MJPEG on stdout.
type FFmpegSource struct {
	Binary string
}

// Probe reports whether the ffmpeg binary can be found.
func (f FFmpegSource) Probe() error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return &AccessError{Kind: NoCameraAvailable, Device: bin, Err: err}
	}
	return nil
}

// Open implements Source.
func (f FFmpegSource) Open(ctx context.Context, cam Camera, s Settings, inputFormat string) (io.ReadCloser, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{"-hide_banner", "-loglevel", "error",
		"-thread_queue_size", "512", "-probesize", "32", "-analyzeduration", "0",
		"-f", "v4l2"}
	if inputFormat != "" {
		args = append(args, "-input_format", inputFormat)
	}
	args = append(args,
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", strconv.Itoa(s.FPS),
		"-i", cam.DevicePath,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-")

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &AccessError{Kind: NotReadable, Device: cam.DevicePath, Err: err}
		}
		return nil, classify(cam.DevicePath, err)
	}
	return &ffmpegStream{ReadCloser: stdout, cmd: cmd, stderr: stderr, device: cam.DevicePath}, nil
}

type ffmpegStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *syncBuffer
	device string
	once   sync.Once
}

// Close kills the process and reaps it.
func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// Err maps ffmpeg's diagnostics to an access error.
func (s *ffmpegStream) Err() error {
	msg := strings.TrimSpace(s.stderr.String())
	if msg == "" {
		return nil
	}
	return classifyFFmpeg(s.device, msg)
}

func classifyFFmpeg(device, msg string) *AccessError {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "device or resource busy"):
		return &AccessError{Kind: NotReadable, Device: device, Err: fmt.Errorf("%s: %w", msg, syscall.EBUSY)}
	case strings.Contains(lower, "permission denied"):
		return &AccessError{Kind: PermissionDenied, Device: device, Err: errors.New(msg)}
	case strings.Contains(lower, "no such file or directory"), strings.Contains(lower, "no such device"):
		return &AccessError{Kind: NotFound, Device: device, Err: errors.New(msg)}
	}
	return &AccessError{Kind: NotReadable, Device: device, Err: errors.New(msg)}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// ffmpeg only needs to explain the first failure
	if b.buf.Len() > 4096 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ===== Capture worker =====

// CaptureWorker feeds one camera's frames into a FrameBuffer. When the
// stream ends after frames have flowed it reconnects with a bounded backoff.
type CaptureWorker struct {
	camera   Camera
	settings Settings
	source   Source
	buffer   *FrameBuffer
	log      *logrus.Entry

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	first   chan error
	started atomic.Bool

	frameCount    atomic.Uint64
	errorCount    atomic.Uint32
	skippedFrames atomic.Uint64
}

// NewCaptureWorker creates a capture worker writing into buffer.
func NewCaptureWorker(cam Camera, s Settings, source Source, buffer *FrameBuffer, log *logrus.Entry) *CaptureWorker {
	return &CaptureWorker{
		camera:   cam,
		settings: s.withDefaults(),
		source:   source,
		buffer:   buffer,
		log:      log.WithField("device", cam.DeviceID),
		done:     make(chan struct{}),
		first:    make(chan error, 1),
	}
}

// Start launches capture and waits for the first frame. It fails with an
// *AccessError when no frame arrives within the start timeout or the device
// refuses access, and with kind Aborted when ctx ends first.
func (cw *CaptureWorker) Start(ctx context.Context) error {
	if cw.running.Swap(true) {
		return fmt.Errorf("capture worker already running")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	cw.cancel = cancel
	go cw.captureLoop(loopCtx)

	timer := time.NewTimer(cw.settings.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-cw.first:
		if err != nil {
			cw.Stop()
			return err
		}
		return nil
	case <-timer.C:
		cw.Stop()
		return &AccessError{Kind: NotReadable, Device: cw.camera.DevicePath,
			Err: fmt.Errorf("no frame within %s", cw.settings.StartTimeout)}
	case <-ctx.Done():
		cw.Stop()
		return &AccessError{Kind: Aborted, Device: cw.camera.DevicePath, Err: ctx.Err()}
	}
}

// Stop ends capture and waits until the device is released.
func (cw *CaptureWorker) Stop() {
	if !cw.running.Swap(false) {
		return
	}
	cw.cancel()
	<-cw.done
}

// Running reports whether the worker is capturing.
func (cw *CaptureWorker) Running() bool {
	return cw.running.Load()
}

// Stats returns capture statistics
func (cw *CaptureWorker) Stats() (frames uint64, errs uint32, skipped uint64) {
	return cw.frameCount.Load(), cw.errorCount.Load(), cw.skippedFrames.Load()
}

func (cw *CaptureWorker) signalFirst(err error) {
	select {
	case cw.first <- err:
	default:
	}
}

func (cw *CaptureWorker) captureLoop(ctx context.Context) {
	defer close(cw.done)

	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second
	for ctx.Err() == nil {
		frames, err := cw.runFormats(ctx)
		if ctx.Err() != nil {
			return
		}
		if !cw.started.Load() {
			if err == nil {
				err = &AccessError{Kind: NotReadable, Device: cw.camera.DevicePath, Err: io.ErrUnexpectedEOF}
			}
			cw.signalFirst(err)
			return
		}
		if frames > 0 {
			backoff = 500 * time.Millisecond
		}
		cw.log.WithError(err).WithField("retry_in", backoff).Warn("stream ended, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runFormats tries each input format until one produces frames.
func (cw *CaptureWorker) runFormats(ctx context.Context) (int, error) {
	var lastErr error
	for _, format := range inputFormats(cw.settings.Format) {
		stream, err := cw.source.Open(ctx, cw.camera, cw.settings, format)
		if err != nil {
			lastErr = classify(cw.camera.DevicePath, err)
			var ae *AccessError
			if errors.As(lastErr, &ae) && ae.Kind != NotReadable {
				return 0, lastErr
			}
			continue
		}
		cw.log.WithFields(logrus.Fields{
			"format": format,
			"size":   fmt.Sprintf("%dx%d", cw.settings.Width, cw.settings.Height),
			"fps":    cw.settings.FPS,
		}).Debug("stream opened")

		stop := context.AfterFunc(ctx, func() { stream.Close() })
		frames, err := cw.pump(ctx, stream)
		stop()
		stream.Close()
		if frames > 0 {
			return frames, err
		}
		if se, ok := stream.(streamError); ok && se.Err() != nil {
			lastErr = se.Err()
		} else if err != nil {
			lastErr = &AccessError{Kind: NotReadable, Device: cw.camera.DevicePath, Err: err}
		}
		var ae *AccessError
		if errors.As(lastErr, &ae) && ae.Kind != NotReadable {
			return 0, lastErr
		}
	}
	return 0, lastErr
}

// pump decodes frames until the stream ends. Frames arriving faster than the
// configured rate are skipped before decoding.
func (cw *CaptureWorker) pump(ctx context.Context, r io.Reader) (int, error) {
	split := newMJPEGSplitter(r)
	minInterval := time.Second / time.Duration(cw.settings.FPS)
	var last time.Time
	frames := 0
	for ctx.Err() == nil {
		data, err := split.Next()
		if err != nil {
			return frames, err
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < minInterval {
			cw.skippedFrames.Add(1)
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			cw.errorCount.Add(1)
			cw.buffer.MarkDropped()
			continue
		}
		last = now
		frames++
		cw.buffer.Write(img)
		count := cw.frameCount.Add(1)
		if !cw.started.Swap(true) {
			b := img.Bounds()
			cw.log.WithField("size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy())).Info("first frame")
			cw.signalFirst(nil)
		}
		if count%300 == 0 {
			cw.log.WithFields(logrus.Fields{
				"frames":  count,
				"skipped": cw.skippedFrames.Load(),
				"errors":  cw.errorCount.Load(),
			}).Debug("capture progress")
		}
	}
	return frames, ctx.Err()
}

// ===== MJPEG framing =====

const (
	maxSeekBytes  = 100000
	maxFrameBytes = 4 << 20
)

// mjpegSplitter cuts a concatenated JPEG stream at SOI/EOI markers.
type mjpegSplitter struct {
	r       io.Reader
	buf     []byte
	pending []byte
}

func newMJPEGSplitter(r io.Reader) *mjpegSplitter {
	return &mjpegSplitter{r: r, buf: make([]byte, 8192), pending: make([]byte, 0, 65536)}
}

func (s *mjpegSplitter) fill() error {
	n, err := s.r.Read(s.buf)
	s.pending = append(s.pending, s.buf[:n]...)
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// Next returns the next complete JPEG image.
func (s *mjpegSplitter) Next() ([]byte, error) {
	// SOI
	for {
		if i := bytes.Index(s.pending, []byte{0xFF, 0xD8}); i >= 0 {
			s.pending = s.pending[i:]
			break
		}
		if len(s.pending) > maxSeekBytes {
			s.pending = append(s.pending[:0], s.pending[len(s.pending)-1:]...)
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	// EOI
	from := 2
	for {
		if i := bytes.Index(s.pending[from:], []byte{0xFF, 0xD9}); i >= 0 {
			end := from + i + 2
			frame := bytes.Clone(s.pending[:end])
			s.pending = append(s.pending[:0], s.pending[end:]...)
			return frame, nil
		}
		if len(s.pending) > maxFrameBytes {
			s.pending = s.pending[:0]
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
		}
		from = max(2, len(s.pending)-1)
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}
