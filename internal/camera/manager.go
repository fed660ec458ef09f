package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/helpers"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Settings Settings
	Paths    Paths

	// Source defaults to FFmpegSource.
	Source Source

	// Discover defaults to scanning Paths.
	Discover func(ctx context.Context) ([]Camera, error)

	// KillHolders terminates processes holding a busy device before one retry.
	KillHolders bool

	Logger *logrus.Logger
}

// Manager owns the single active camera stream. Switching releases the
// current stream before acquiring the next; a failed acquisition restores the
// previous camera and leaves the active state unchanged.
type Manager struct {
	opts   ManagerOptions
	log    *logrus.Entry
	buffer *FrameBuffer

	// switchMu serializes acquisitions; mu guards state and is never held
	// while waiting on a device.
	switchMu sync.Mutex
	mu       sync.RWMutex

	closed         bool
	selected       *Camera
	active         *Camera
	activeSettings Settings
	worker         *CaptureWorker
	torchAvailable bool
	torchOn        bool
}

// NewManager creates a camera manager; no device is touched until a camera
// is initialized.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Source == nil {
		opts.Source = FFmpegSource{}
	}
	if opts.Discover == nil {
		paths := opts.Paths
		opts.Discover = func(ctx context.Context) ([]Camera, error) { return Discover(ctx, paths) }
	}
	opts.Settings = opts.Settings.withDefaults()
	return &Manager{
		opts:   opts,
		log:    logger.WithField("component", "camera"),
		buffer: NewFrameBuffer(),
	}
}

// Frames returns the buffer the active stream writes into.
func (m *Manager) Frames() *FrameBuffer {
	return m.buffer
}

// Cameras discovers the available cameras.
func (m *Manager) Cameras(ctx context.Context) ([]Camera, error) {
	cameras, err := m.opts.Discover(ctx)
	if err != nil {
		return nil, err
	}
	m.log.WithField("count", len(cameras)).Debug("cameras discovered")
	return cameras, nil
}

// ActiveCamera returns the camera whose stream is (or was last) active.
func (m *Manager) ActiveCamera() (Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return Camera{}, false
	}
	return *m.active, true
}

// SelectedCamera returns the camera requested most recently, which differs
// from the active camera while an acquisition is in progress.
func (m *Manager) SelectedCamera() (Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selected == nil {
		return Camera{}, false
	}
	return *m.selected, true
}

// ActiveSettings returns the settings of the active stream.
func (m *Manager) ActiveSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return m.opts.Settings
	}
	return m.activeSettings
}

// Streaming reports whether a capture stream is running.
func (m *Manager) Streaming() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.worker != nil && m.worker.Running()
}

// TorchAvailable reports whether the active camera has a torch control.
func (m *Manager) TorchAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.torchAvailable
}

// InitializeCameraWithSettings makes cam the active camera. A nil cam picks
// the preferred camera, nil settings keep the active settings.
func (m *Manager) InitializeCameraWithSettings(ctx context.Context, cam *Camera, settings *Settings) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	target, err := m.resolve(ctx, cam)
	if err != nil {
		return err
	}
	s := m.ActiveSettings()
	if settings != nil {
		s = settings.withDefaults()
	}

	m.mu.Lock()
	prev, prevSettings, prevSelected := m.active, m.activeSettings, m.selected
	m.selected = &target
	old := m.worker
	m.worker = nil
	m.torchOn = false
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	m.buffer.Reset()

	log := m.log.WithFields(logrus.Fields{"device": target.DeviceID, "label": target.Label})
	w, err := m.acquire(ctx, target, s)
	if err != nil {
		log.WithError(err).Warn("camera acquisition failed")
		m.restore(prev, prevSettings, prevSelected, old != nil)
		return err
	}

	torch := hasControl(ctx, target, s.TorchControl)
	m.mu.Lock()
	m.active = &target
	m.activeSettings = s
	m.worker = w
	m.torchAvailable = torch
	m.mu.Unlock()
	log.WithFields(logrus.Fields{
		"size":  fmt.Sprintf("%dx%d", s.Width, s.Height),
		"fps":   s.FPS,
		"torch": torch,
	}).Info("camera active")
	return nil
}

func (m *Manager) resolve(ctx context.Context, cam *Camera) (Camera, error) {
	if cam != nil {
		return *cam, nil
	}
	cameras, err := m.Cameras(ctx)
	if err != nil {
		return Camera{}, classify("", err)
	}
	preferred, ok := PreferredCamera(cameras)
	if !ok {
		return Camera{}, ErrNoCameraAvailable
	}
	return preferred, nil
}

func (m *Manager) acquire(ctx context.Context, cam Camera, s Settings) (*CaptureWorker, error) {
	w := NewCaptureWorker(cam, s, m.opts.Source, m.buffer, m.log)
	err := w.Start(ctx)
	if err == nil {
		return w, nil
	}
	if !m.opts.KillHolders || !busy(err) {
		return nil, err
	}
	if !helpers.KillDeviceHolders(ctx, cam.DevicePath, m.log) {
		return nil, err
	}
	w = NewCaptureWorker(cam, s, m.opts.Source, m.buffer, m.log)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// restore brings back the previous stream after a failed switch. The
// previous acquisition is retried without the caller's context, which may be
// what aborted the switch.
func (m *Manager) restore(prev *Camera, prevSettings Settings, prevSelected *Camera, wasStreaming bool) {
	m.mu.Lock()
	m.selected = prevSelected
	m.mu.Unlock()
	if prev == nil || !wasStreaming {
		return
	}
	w, err := m.acquire(context.Background(), *prev, prevSettings)
	if err != nil {
		m.log.WithError(err).WithField("device", prev.DeviceID).Error("could not restore previous camera")
		return
	}
	m.mu.Lock()
	m.worker = w
	m.mu.Unlock()
}

// ReinitializeCamera restarts the active camera's stream.
func (m *Manager) ReinitializeCamera(ctx context.Context) error {
	m.mu.RLock()
	active, s := m.active, m.activeSettings
	m.mu.RUnlock()
	if active == nil {
		return m.InitializeCameraWithSettings(ctx, nil, nil)
	}
	cam := *active
	return m.InitializeCameraWithSettings(ctx, &cam, &s)
}

// StopStream releases the device but remembers the active camera.
func (m *Manager) StopStream() {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	m.mu.Lock()
	w := m.worker
	m.worker = nil
	m.torchOn = false
	m.mu.Unlock()
	if w != nil {
		w.Stop()
		m.log.Debug("stream stopped")
	}
}

// SetTorch switches the torch of the active camera.
func (m *Manager) SetTorch(ctx context.Context, on bool) error {
	m.mu.RLock()
	active, s, available := m.active, m.activeSettings, m.torchAvailable
	m.mu.RUnlock()
	if active == nil || !available {
		return ErrTorchUnsupported
	}
	if err := setTorch(ctx, *active, s.TorchControl, on); err != nil {
		return err
	}
	m.mu.Lock()
	m.torchOn = on
	m.mu.Unlock()
	return nil
}

// ToggleTorch inverts the torch state.
func (m *Manager) ToggleTorch(ctx context.Context) error {
	m.mu.RLock()
	on := m.torchOn
	m.mu.RUnlock()
	return m.SetTorch(ctx, !on)
}

// TorchOn reports the last torch state set.
func (m *Manager) TorchOn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.torchOn
}

// Close stops the stream; the manager cannot be reused.
func (m *Manager) Close() {
	m.StopStream()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
