package camera

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/motioncam/internal/cpuspec"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/privacy"
)

const (
	// stopGracePeriod is how long a recording ffmpeg gets to finalize its
	// container after "q" before it is killed.
	stopGracePeriod = 5 * time.Second
	killWaitTimeout = 2 * time.Second
	stderrTailBytes = 2048
	// maxFrameStalls consecutive frame timeouts restart the decoder.
	maxFrameStalls = 3
)

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTailBytes; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// process is one ffmpeg child. err is valid once done is closed.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	frames chan *Frame
	done   chan struct{}
	err    error
}

// FFmpeg captures from any source ffmpeg can open. The low-resolution
// stream is decoded to raw gray frames on stdout; recording runs a second
// ffmpeg process on the same source, so the source must allow two readers
// (RTSP, files, or a V4L2 device fronted by a streaming server).
type FFmpeg struct {
	mu sync.Mutex

	cfg     Config
	fps     int
	preview *process
	restart bool
	stalls  int

	recorder *process
	recPath  string

	seq       atomic.Uint64
	cpu       cpuspec.CPUSpec
	closed    bool
	stopGrace time.Duration
	log       logger.Logger
}

// NewFFmpeg validates cfg and resolves the ffmpeg binary. No process is
// started until the first frame is requested.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Source == "" {
		return nil, validationError("ffmpeg backend requires a source")
	}

	bin := cfg.FfmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("operation", "resolve_ffmpeg").
			Context("ffmpeg_path", bin).
			Build()
	}
	cfg.FfmpegPath = resolved

	return &FFmpeg{
		cfg:       cfg,
		fps:       cfg.Framerate,
		cpu:       cpuspec.GetCPUSpec(),
		stopGrace: stopGracePeriod,
		log: logger.Global().Module(componentName).With(
			logger.String("backend", BackendFFmpeg),
			logger.String("source", privacy.SanitizeURL(cfg.Source))),
	}, nil
}

// open starts the decoder and waits for its first frame.
func (f *FFmpeg) open(ctx context.Context) error {
	p, err := f.currentPreview()
	if err != nil {
		return err
	}

	timer := time.NewTimer(f.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case fr := <-p.frames:
		// keep it for the first consumer unless a newer frame took the slot
		select {
		case p.frames <- fr:
		default:
		}
		f.log.Info("Camera opened",
			logger.Int("width", fr.Width),
			logger.Int("height", fr.Height),
			logger.Int("fps", f.cfg.Framerate))
		return nil
	case <-p.done:
		f.dropPreview(p)
		return f.exitError(p, "open_camera")
	case <-timer.C:
		f.dropPreview(p)
		return errors.Newf("no frame from ffmpeg within %s", f.cfg.FrameTimeout).
			Component(componentName).
			Category(errors.CategoryCamera).
			Context("operation", "open_camera").
			Build()
	case <-ctx.Done():
		f.dropPreview(p)
		return ctx.Err()
	}
}

// NextLowresFrame returns the most recent decoded frame. A frame timeout
// returns (nil, nil); repeated timeouts restart the decoder.
func (f *FFmpeg) NextLowresFrame(ctx context.Context) (*Frame, error) {
	p, err := f.currentPreview()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(f.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case fr := <-p.frames:
		f.noteFrame()
		return fr, nil
	case <-p.done:
		select {
		case fr := <-p.frames:
			return fr, nil
		default:
		}
		f.dropPreview(p)
		return nil, f.exitError(p, "read_frame")
	case <-timer.C:
		f.noteStall()
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FFmpeg) noteFrame() {
	f.mu.Lock()
	f.stalls = 0
	f.mu.Unlock()
}

func (f *FFmpeg) noteStall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalls++
	if f.stalls >= maxFrameStalls {
		f.log.Warn("No frames from ffmpeg, restarting decoder",
			logger.Int("stalls", f.stalls),
			logger.Duration("frame_timeout", f.cfg.FrameTimeout))
		f.stalls = 0
		f.restart = true
	}
}

// currentPreview returns the running decoder, starting or restarting it as needed.
func (f *FFmpeg) currentPreview() (*process, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if f.restart && f.preview != nil {
		stale := f.preview
		f.preview = nil
		f.restart = false
		f.mu.Unlock()

		// the old decoder must release the device before a new one opens it
		f.terminate(stale, 0)

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, ErrClosed
		}
	}
	defer f.mu.Unlock()

	f.restart = false
	if f.preview == nil {
		p, err := f.startPreviewLocked()
		if err != nil {
			return nil, err
		}
		f.preview = p
	}
	return f.preview, nil
}

func (f *FFmpeg) startPreviewLocked() (*process, error) {
	args := previewArgs(f.cfg, f.fps)
	cmd := exec.Command(f.cfg.FfmpegPath, args...) //nolint:gosec // G204: binary resolved at construction, args built internally
	setupProcessGroup(cmd)

	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, f.startError(err, "start_decoder")
	}
	if err := cmd.Start(); err != nil {
		return nil, f.startError(err, "start_decoder")
	}

	p := &process{
		cmd:    cmd,
		stderr: stderr,
		frames: make(chan *Frame, 1),
		done:   make(chan struct{}),
	}
	go f.readFrames(p, stdout)

	f.log.Debug("Decoder started", logger.Int("pid", cmd.Process.Pid), logger.Int("fps", f.fps))
	return p, nil
}

// readFrames slices stdout into frames. Only the newest frame is kept when
// the consumer falls behind.
func (f *FFmpeg) readFrames(p *process, stdout io.Reader) {
	defer close(p.done)

	w, h := f.cfg.LowresResolution[0], f.cfg.LowresResolution[1]
	var readErr error
	for {
		buf := make([]byte, w*h)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			readErr = err
			break
		}
		fr := &Frame{Data: buf, Width: w, Height: h, Seq: f.seq.Add(1), Time: time.Now()}
		select {
		case p.frames <- fr:
		default:
			select {
			case <-p.frames:
			default:
			}
			select {
			case p.frames <- fr:
			default:
			}
		}
	}

	waitErr := p.cmd.Wait()
	switch {
	case waitErr != nil:
		p.err = waitErr
	case readErr != io.EOF && readErr != io.ErrUnexpectedEOF:
		p.err = readErr
	default:
		p.err = io.EOF
	}
}

// dropPreview forgets p if it is still the active decoder and kills it.
func (f *FFmpeg) dropPreview(p *process) {
	f.mu.Lock()
	if f.preview == p {
		f.preview = nil
	}
	f.mu.Unlock()
	f.terminate(p, 0)
}

// terminate stops p. With a grace period and a stdin pipe it first asks
// ffmpeg to quit so the output file is finalized.
func (f *FFmpeg) terminate(p *process, grace time.Duration) {
	if grace > 0 && p.stdin != nil {
		_, _ = io.WriteString(p.stdin, "q")
		_ = p.stdin.Close()
		timer := time.NewTimer(grace)
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-timer.C:
			f.log.Warn("ffmpeg did not exit after quit request, killing",
				logger.Int("pid", p.cmd.Process.Pid),
				logger.Duration("grace", grace))
		}
	}

	if err := killProcessGroup(p.cmd); err != nil {
		if killErr := p.cmd.Process.Kill(); killErr != nil {
			f.log.Warn("Failed to kill ffmpeg", logger.Int("pid", p.cmd.Process.Pid), logger.Error(killErr))
		}
	}

	timer := time.NewTimer(killWaitTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		// the wait goroutine still reaps the process
		f.log.Warn("ffmpeg cleanup timeout, process will be reaped asynchronously",
			logger.Int("pid", p.cmd.Process.Pid))
	}
}

// StartRecording spawns an encoder writing the source to path.
func (f *FFmpeg) StartRecording(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.recorder != nil {
		return false
	}

	args := recordArgs(f.cfg, path, f.fps, f.cpu.EncoderThreads())
	cmd := exec.Command(f.cfg.FfmpegPath, args...) //nolint:gosec // G204: binary resolved at construction, args built internally
	setupProcessGroup(cmd)
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		f.log.Error("Failed to start recording", logger.String("path", path), logger.Error(f.startError(err, "start_recording")))
		return false
	}

	p := &process{cmd: cmd, stdin: stdin, stderr: stderr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	f.recorder, f.recPath = p, path
	f.log.Info("Recording started", logger.String("path", path), logger.Int("pid", cmd.Process.Pid))
	return true
}

// StopRecording asks the encoder to finish the file and waits for it.
func (f *FFmpeg) StopRecording() bool {
	f.mu.Lock()
	p, path := f.recorder, f.recPath
	f.recorder, f.recPath = nil, ""
	f.mu.Unlock()

	if p == nil {
		return false
	}

	f.terminate(p, f.stopGrace)
	select {
	case <-p.done:
		if p.err != nil && !isKilled(p.err) {
			f.log.Warn("Recording encoder exited with error",
				logger.String("path", path),
				logger.Error(p.err),
				logger.String("stderr", privacy.ScrubMessage(p.stderr.String())))
		}
	default:
	}
	f.log.Info("Recording stopped", logger.String("path", path))
	return true
}

// SetFramerate restarts the decoder at fps on the next frame request. A
// running recording keeps its rate until the next segment.
func (f *FFmpeg) SetFramerate(fps int) bool {
	if fps <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.fps != fps {
		f.log.Info("Framerate changed", logger.Int("from", f.fps), logger.Int("to", fps))
		f.fps = fps
		f.restart = true
	}
	return true
}

// Info describes the ffmpeg camera.
func (f *FFmpeg) Info() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Info{
		Backend:          BackendFFmpeg,
		Source:           privacy.SanitizeURL(f.cfg.Source),
		MainResolution:   f.cfg.MainResolution,
		LowresResolution: f.cfg.LowresResolution,
		Framerate:        f.fps,
		Recording:        f.recorder != nil,
		RecordingPath:    f.recPath,
		FramesCaptured:   f.seq.Load(),
		HFlip:            f.cfg.HFlip,
		VFlip:            f.cfg.VFlip,
		CPU:              f.cpu,
	}
}

// Close stops the recording, if any, and the decoder.
func (f *FFmpeg) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	preview, rec := f.preview, f.recorder
	f.preview, f.recorder, f.recPath = nil, nil, ""
	f.mu.Unlock()

	if rec != nil {
		f.terminate(rec, f.stopGrace)
	}
	if preview != nil {
		f.terminate(preview, 0)
	}
	return nil
}

func (f *FFmpeg) startError(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryCamera).
		Context("operation", operation).
		Build()
}

func (f *FFmpeg) exitError(p *process, operation string) error {
	msg := "ffmpeg exited"
	if p.err != nil {
		msg += ": " + p.err.Error()
	}
	if tail := p.stderr.String(); tail != "" {
		msg += ": " + privacy.ScrubMessage(tail)
	}
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryCamera).
		Context("operation", operation).
		Build()
}

func isKilled(err error) bool {
	s := err.Error()
	return strings.Contains(s, "signal: killed") || strings.Contains(s, "signal: terminated")
}

func inputArgs(cfg Config) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case strings.HasPrefix(cfg.Source, "rtsp://"), strings.HasPrefix(cfg.Source, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp")
	case strings.HasPrefix(cfg.Source, "/dev/video"):
		args = append(args, "-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", cfg.MainResolution[0], cfg.MainResolution[1]))
	}
	return append(args, "-i", cfg.Source)
}

func videoFilter(fps, width, height int, hflip, vflip bool) string {
	filters := []string{"fps=" + strconv.Itoa(fps), fmt.Sprintf("scale=%d:%d", width, height)}
	if hflip {
		filters = append(filters, "hflip")
	}
	if vflip {
		filters = append(filters, "vflip")
	}
	return strings.Join(filters, ",")
}

func previewArgs(cfg Config, fps int) []string {
	args := append([]string{"-nostdin"}, inputArgs(cfg)...)
	return append(args,
		"-an",
		"-vf", videoFilter(fps, cfg.LowresResolution[0], cfg.LowresResolution[1], cfg.HFlip, cfg.VFlip),
		"-pix_fmt", "gray",
		"-f", "rawvideo",
		"pipe:1")
}

func recordArgs(cfg Config, path string, fps, threads int) []string {
	args := inputArgs(cfg)
	args = append(args,
		"-an",
		"-vf", videoFilter(fps, cfg.MainResolution[0], cfg.MainResolution[1], cfg.HFlip, cfg.VFlip),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-threads", strconv.Itoa(threads))
	if cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(cfg.Bitrate))
	}
	if strings.EqualFold(filepath.Ext(path), ".mp4") {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-y", path)
}
