package camera

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tphakala/motioncam/internal/cpuspec"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// Scene parameters for the synthetic stream. The block moves for
// burstSeconds out of every cycleSeconds and rests otherwise.
const (
	cycleSeconds = 20
	burstSeconds = 4
	blockStep    = 4
	background   = 48
	blockLuma    = 220
)

// Simulated is a hardware-free camera rendering a synthetic scene.
type Simulated struct {
	mu sync.Mutex

	cfg  Config
	fps  int
	seq  uint64
	next time.Time
	pace bool
	now  func() time.Time

	recFile   *os.File
	recPath   string
	recStart  time.Time
	recFrames int

	cpu    cpuspec.CPUSpec
	closed bool
	log    logger.Logger
}

// SimulatedOption configures a Simulated camera.
type SimulatedOption func(*Simulated)

// WithoutPacing returns frames as fast as they are requested instead of at
// the configured framerate.
func WithoutPacing() SimulatedOption {
	return func(s *Simulated) { s.pace = false }
}

// NewSimulated creates a simulated camera.
func NewSimulated(cfg Config, opts ...SimulatedOption) *Simulated {
	if cfg.Framerate <= 0 {
		cfg.Framerate = 15
	}
	s := &Simulated{
		cfg:  cfg,
		fps:  cfg.Framerate,
		pace: true,
		now:  time.Now,
		cpu:  cpuspec.GetCPUSpec(),
		log:  logger.Global().Module(componentName).With(logger.String("backend", BackendSimulated)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextLowresFrame renders the next frame, waiting for its slot at the current framerate.
func (s *Simulated) NextLowresFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	wait := time.Duration(0)
	if s.pace {
		now := s.now()
		if s.next.IsZero() || s.next.Before(now) {
			s.next = now
		}
		wait = s.next.Sub(now)
		s.next = s.next.Add(time.Second / time.Duration(s.fps))
	}
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.seq++
	if s.recFile != nil {
		s.recFrames++
	}
	w, h := s.cfg.LowresResolution[0], s.cfg.LowresResolution[1]
	return &Frame{
		Data:   renderScene(w, h, s.seq, s.fps),
		Width:  w,
		Height: h,
		Seq:    s.seq,
		Time:   s.now(),
	}, nil
}

// renderScene draws a static gradient with a bright block. The block advances
// blockStep pixels per frame during the burst phase of each cycle.
func renderScene(w, h int, seq uint64, fps int) []byte {
	data := make([]byte, w*h)
	for y := range h {
		row := data[y*w : (y+1)*w]
		for x := range row {
			row[x] = byte(background + (x+y)%16)
		}
	}

	bw, bh := max(w/8, 1), max(h/8, 1)
	span := max(w-bw, 1)

	cycle := uint64(cycleSeconds * fps)
	burst := uint64(burstSeconds * fps)
	phase := seq % cycle
	moved := (seq / cycle) * burst
	if phase < burst {
		moved += phase
	} else {
		moved += burst
	}

	bx := int((moved * blockStep) % uint64(span))
	by := (h - bh) / 2
	for y := by; y < by+bh; y++ {
		row := data[y*w+bx : y*w+bx+bw]
		for x := range row {
			row[x] = blockLuma
		}
	}
	return data
}

// StartRecording opens a placeholder file at path. It returns false when
// already recording or when the file cannot be created.
func (s *Simulated) StartRecording(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.recFile != nil {
		return false
	}
	f, err := os.Create(path) //nolint:gosec // G304: path generated by the recorder
	if err != nil {
		s.log.Error("Failed to create recording file",
			logger.String("path", path),
			logger.Error(errors.New(err).
				Component(componentName).
				Category(errors.CategoryFileIO).
				Context("operation", "start_recording").
				Build()))
		return false
	}
	s.recFile = f
	s.recPath = path
	s.recStart = s.now()
	s.recFrames = 0
	s.log.Info("Recording started", logger.String("path", path))
	return true
}

// StopRecording writes a short summary into the placeholder file and closes it.
func (s *Simulated) StopRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRecordingLocked()
}

func (s *Simulated) stopRecordingLocked() bool {
	if s.recFile == nil {
		return false
	}
	f, path := s.recFile, s.recPath
	s.recFile, s.recPath = nil, ""

	_, werr := fmt.Fprintf(f, "simulated recording\nstart=%s\nduration=%s\nframes=%d\nresolution=%dx%d\n",
		s.recStart.Format(time.RFC3339), s.now().Sub(s.recStart).Round(time.Millisecond),
		s.recFrames, s.cfg.MainResolution[0], s.cfg.MainResolution[1])
	if err := errors.Join(werr, f.Close()); err != nil {
		s.log.Warn("Failed to finalize recording file", logger.String("path", path), logger.Error(err))
	}
	s.log.Info("Recording stopped", logger.String("path", path), logger.Int("frames", s.recFrames))
	return true
}

// SetFramerate changes the pacing of subsequent frames.
func (s *Simulated) SetFramerate(fps int) bool {
	if fps <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.fps != fps {
		s.log.Info("Framerate changed", logger.Int("from", s.fps), logger.Int("to", fps))
		s.fps = fps
	}
	return true
}

// Info describes the simulated camera.
func (s *Simulated) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Backend:          BackendSimulated,
		MainResolution:   s.cfg.MainResolution,
		LowresResolution: s.cfg.LowresResolution,
		Framerate:        s.fps,
		Recording:        s.recFile != nil,
		RecordingPath:    s.recPath,
		FramesCaptured:   s.seq,
		HFlip:            s.cfg.HFlip,
		VFlip:            s.cfg.VFlip,
		CPU:              s.cpu,
	}
}

// Close stops any recording. Further frames return ErrClosed.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.stopRecordingLocked()
	s.closed = true
	return nil
}
