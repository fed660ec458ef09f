package picker

import (
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"barcode-picker-go/internal/perf"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
)

// FrameSource yields the newest camera frame.
type FrameSource interface {
	NextFrame(lastSeq uint64) (image.Image, uint64, bool)
}

// scanSubmitter is the part of the engine channel the scheduler drives.
type scanSubmitter interface {
	IsReady() bool
	Busy() bool
	ImageSettings() *scan.ImageSettings
	ApplyImageSettings(settings scan.ImageSettings) error
	SubmitScan(data []byte, highQuality bool) *scanner.Call[*scan.ScanResult]
}

// DefaultTargetFPS is the scanning rate before SetTargetScanningFPS.
const DefaultTargetFPS = 30

type schedulerHooks struct {
	firstFrame func()
	submitted  func(data []byte, is scan.ImageSettings)
	processed  func(result *scan.ScanResult)
	failed     func(err error)
}

// scheduler runs the capture loop: one timer, at most one scan in flight.
// A cycle that finds nothing to do re-checks after perf.IdleTick.
type scheduler struct {
	ch       scanSubmitter
	frames   FrameSource
	cadence  *perf.Cadence
	throttle *perf.AdaptiveController
	hooks    schedulerHooks
	log      *logrus.Entry
	now      func() time.Time

	mu        sync.Mutex
	timer     *time.Timer
	running   bool
	paused    bool
	fatal     bool
	inFlight  bool
	seenFirst bool
	lastSeq   uint64
	targetFPS int
	stop      chan struct{}
}

func newScheduler(ch scanSubmitter, frames FrameSource, throttle *perf.AdaptiveController, hooks schedulerHooks, log *logrus.Entry) *scheduler {
	return &scheduler{
		ch:        ch,
		frames:    frames,
		cadence:   &perf.Cadence{},
		throttle:  throttle,
		hooks:     hooks,
		log:       log.WithField("component", "scheduler"),
		now:       time.Now,
		targetFPS: DefaultTargetFPS,
		stop:      make(chan struct{}),
	}
}

func (s *scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.scheduleLocked(0)
}

// shutdown stops the loop for good. A scan in flight is abandoned.
func (s *scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.stop)
}

func (s *scheduler) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// resume clears pause and a latched engine failure.
func (s *scheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.fatal = false
	if s.running && !s.inFlight {
		s.scheduleLocked(0)
	}
}

func (s *scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// setTargetFPS clamps fps to 1..perf.MaxScanningFPS.
func (s *scheduler) setTargetFPS(fps int) {
	if fps < 1 {
		fps = 1
	}
	if fps > perf.MaxScanningFPS {
		fps = perf.MaxScanningFPS
	}
	s.mu.Lock()
	s.targetFPS = fps
	s.mu.Unlock()
}

func (s *scheduler) effectiveFPSLocked() int {
	if s.throttle != nil {
		return s.throttle.Cap(s.targetFPS)
	}
	return s.targetFPS
}

func (s *scheduler) scheduleLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.cycle)
}

func (s *scheduler) cycle() {
	s.mu.Lock()
	if !s.running || s.paused || s.fatal || s.inFlight {
		s.mu.Unlock()
		return
	}
	if !s.ch.IsReady() || s.ch.Busy() {
		s.scheduleLocked(perf.IdleTick)
		s.mu.Unlock()
		return
	}
	img, seq, ok := s.frames.NextFrame(s.lastSeq)
	if !ok {
		s.scheduleLocked(perf.IdleTick)
		s.mu.Unlock()
		return
	}
	s.lastSeq = seq
	b := img.Bounds()
	if b.Dx() <= 2 || b.Dy() <= 2 {
		s.scheduleLocked(perf.IdleTick)
		s.mu.Unlock()
		return
	}
	first := !s.seenFirst
	s.seenFirst = true
	s.inFlight = true
	s.mu.Unlock()

	if first && s.hooks.firstFrame != nil {
		s.hooks.firstFrame()
	}

	data := rgbaPixels(img)
	is := scan.ImageSettings{Width: b.Dx(), Height: b.Dy(), Format: scan.RGBA8U}
	if cur := s.ch.ImageSettings(); cur == nil || *cur != is {
		if err := s.ch.ApplyImageSettings(is); err != nil {
			s.finish(nil, err, 0)
			return
		}
		s.log.WithField("size", is).Debug("image settings applied")
	}
	if s.hooks.submitted != nil {
		s.hooks.submitted(data, is)
	}

	started := s.now()
	call := s.ch.SubmitScan(data, false)
	go func() {
		select {
		case <-s.stop:
			return
		case <-call.Done():
		}
		res, err := call.Result()
		s.finish(res, err, s.now().Sub(started))
	}()
}

func (s *scheduler) finish(res *scan.ScanResult, err error, took time.Duration) {
	s.mu.Lock()
	s.inFlight = false
	if !s.running {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.fatal = true
		s.mu.Unlock()
		s.log.WithError(err).Debug("scan failed, scheduling stopped")
		if s.hooks.failed != nil {
			s.hooks.failed(err)
		}
		return
	}
	s.cadence.Record(took)
	paused := s.paused
	s.mu.Unlock()

	if !paused && s.hooks.processed != nil {
		s.hooks.processed(res)
	}

	s.mu.Lock()
	if s.running && !s.paused && !s.fatal {
		s.scheduleLocked(s.cadence.NextDelay(s.effectiveFPSLocked()))
	}
	s.mu.Unlock()
}
