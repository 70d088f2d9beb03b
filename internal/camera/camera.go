// Package camera provides the capture collaborator of the surveillance loop:
// low-resolution grayscale frames for motion detection, and full-resolution
// recording to a file on command.
//
// Two backends exist. Simulated renders a synthetic scene with a block that
// moves in periodic bursts and writes small placeholder recordings; it needs
// no hardware. FFmpeg decodes a V4L2 device, RTSP stream or file with an
// ffmpeg child process and records through a second ffmpeg process.
//
// Every command is safe in a mismatched state: stopping when not recording
// returns false, starting while recording returns false. Implementations
// guard their state with a mutex; the frame loop and the thermal sampler
// call into the same camera concurrently.
package camera

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tphakala/motioncam/internal/cpuspec"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/privacy"
)

const componentName = "camera"

// Backend names.
const (
	BackendSimulated = "simulated"
	BackendFFmpeg    = "ffmpeg"
)

// ErrClosed is returned by NextLowresFrame after Close.
var ErrClosed = errors.NewStd("camera closed")

// Frame is one low-resolution luma frame: Width*Height bytes, row-major.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    uint64
	Time   time.Time
}

// Info describes the camera for status output.
type Info struct {
	Backend          string          `json:"backend"`
	Source           string          `json:"source,omitempty"`
	MainResolution   [2]int          `json:"mainResolution"`
	LowresResolution [2]int          `json:"lowresResolution"`
	Framerate        int             `json:"framerate"`
	Recording        bool            `json:"recording"`
	RecordingPath    string          `json:"recordingPath,omitempty"`
	FramesCaptured   uint64          `json:"framesCaptured"`
	HFlip            bool            `json:"hflip"`
	VFlip            bool            `json:"vflip"`
	CPU              cpuspec.CPUSpec `json:"cpu"`
}

// Camera is the capture collaborator.
type Camera interface {
	// NextLowresFrame waits for the next frame. A nil frame with a nil
	// error means no frame arrived in time and the caller should retry.
	NextLowresFrame(ctx context.Context) (*Frame, error)
	StartRecording(path string) bool
	StopRecording() bool
	SetFramerate(fps int) bool
	Info() Info
	Close() error
}

// Config configures a camera backend.
type Config struct {
	Backend          string
	Source           string
	FfmpegPath       string
	MainResolution   [2]int
	LowresResolution [2]int
	Framerate        int
	HFlip            bool
	VFlip            bool
	Bitrate          int
	FrameTimeout     time.Duration
}

// DefaultFrameTimeout bounds the wait for one frame when Config.FrameTimeout is zero.
const DefaultFrameTimeout = 2 * time.Second

func (c *Config) validate() error {
	switch {
	case c.LowresResolution[0] <= 0 || c.LowresResolution[1] <= 0:
		return validationError("low-resolution stream size %dx%d must be positive", c.LowresResolution[0], c.LowresResolution[1])
	case c.MainResolution[0] <= 0 || c.MainResolution[1] <= 0:
		return validationError("main stream size %dx%d must be positive", c.MainResolution[0], c.MainResolution[1])
	case c.Framerate <= 0:
		return validationError("framerate %d must be positive", c.Framerate)
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = DefaultFrameTimeout
	}
	return nil
}

// OpenOptions controls retries when opening a hardware backend.
type OpenOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// DefaultOpenOptions retries five times starting at one second.
var DefaultOpenOptions = OpenOptions{MaxRetries: 5, InitialInterval: time.Second}

// Open constructs the configured backend. The ffmpeg backend is retried with
// exponential backoff until the first frame arrives; an unavailable camera
// after the last retry is returned as an error.
func Open(ctx context.Context, cfg Config, opts OpenOptions) (Camera, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Global().Module(componentName)

	switch cfg.Backend {
	case BackendSimulated, "":
		log.Info("Using simulated camera",
			logger.Int("width", cfg.LowresResolution[0]),
			logger.Int("height", cfg.LowresResolution[1]),
			logger.Int("fps", cfg.Framerate))
		return NewSimulated(cfg), nil
	case BackendFFmpeg:
	default:
		return nil, validationError("unknown camera backend %q", cfg.Backend)
	}

	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		if opts.InitialInterval > 0 {
			ebo.InitialInterval = opts.InitialInterval
		}
		ebo.Reset()
		return backoff.WithMaxRetries(ebo, opts.MaxRetries)
	}

	cam, err := NewFFmpeg(cfg)
	if err != nil {
		return nil, err
	}

	attempt := 0
	op := func() error {
		attempt++
		return cam.open(ctx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Camera not ready, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", next),
			logger.String("source", privacy.SanitizeURL(cfg.Source)),
			logger.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(newBackoff(), ctx), notify); err != nil {
		_ = cam.Close()
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryCamera).
			Context("operation", "open_camera").
			Context("attempts", attempt).
			Build()
	}
	return cam, nil
}

func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()
}
