package surveillance

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/recorder"
	"github.com/tphakala/motioncam/internal/thermal"
)

const (
	testWidth  = 8
	testHeight = 8
)

// step is one scripted frame: still repeats the previous image, moving flips it.
type step bool

const (
	still  step = false
	moving step = true
)

func script(parts ...[]step) []step {
	var out []step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func repeat(s step, n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// fakeCamera replays a frame script, then reports no frame available.
type fakeCamera struct {
	mu sync.Mutex

	steps    []step
	pos      int
	pixel    byte
	seq      uint64
	err      error
	errCount int
	infinite bool // keep moving after the script ends

	refuseStart bool
	recording   bool
	path        string
	starts      []string
	stops       int
	fps         int
	closed      bool
}

func (c *fakeCamera) NextLowresFrame(ctx context.Context) (*camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, camera.ErrClosed
	}
	if c.errCount > 0 {
		c.errCount--
		return nil, c.err
	}

	var s step
	switch {
	case c.pos < len(c.steps):
		s = c.steps[c.pos]
		c.pos++
	case c.infinite:
		s = moving
	default:
		return nil, ctx.Err()
	}

	if s == moving {
		c.pixel ^= 0xff
	}
	data := make([]byte, testWidth*testHeight)
	for i := range data {
		data[i] = c.pixel
	}
	c.seq++
	return &camera.Frame{Data: data, Width: testWidth, Height: testHeight, Seq: c.seq, Time: time.Now()}, nil
}

func (c *fakeCamera) StartRecording(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording || c.refuseStart {
		return false
	}
	if err := os.WriteFile(path, []byte("video"), 0o600); err != nil {
		return false
	}
	c.recording = true
	c.path = path
	c.starts = append(c.starts, path)
	return true
}

func (c *fakeCamera) StopRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return false
	}
	c.recording = false
	c.stops++
	return true
}

func (c *fakeCamera) SetFramerate(fps int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
	return true
}

func (c *fakeCamera) Info() camera.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return camera.Info{
		Backend:          "fake",
		LowresResolution: [2]int{testWidth, testHeight},
		Framerate:        c.fps,
		Recording:        c.recording,
		RecordingPath:    c.path,
	}
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.recording = false
	return nil
}

func (c *fakeCamera) snapshot() (starts []string, stops, fps int, recording, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.starts...), c.stops, c.fps, c.recording, c.closed
}

// fakeProbe always reports the same temperature.
type fakeProbe struct {
	mu   sync.Mutex
	temp float64
	err  error
}

func (p *fakeProbe) set(temp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.temp = temp
}

func (p *fakeProbe) ReadCPUTemperature(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temp, p.err
}

func (p *fakeProbe) ReadThrottleFlags(context.Context) (thermal.ThrottleFlags, error) {
	return 0, nil
}

// eventLog is a bus consumer collecting delivered events.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Name() string { return "test" }

func (l *eventLog) Consume(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) kinds() []events.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Kind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

type testSystem struct {
	sys     *System
	cam     *fakeCamera
	rec     *recorder.Manager
	storage *diskmanager.Enforcer
	metrics *observability.Metrics
	events  *eventLog
	dir     string
	saved   [][]motion.ZoneConfig
}

type testOptions struct {
	steps     []step
	probe     thermal.Probe
	segment   time.Duration
	minFrames int
	cfg       func(*Config)
	cam       func(*fakeCamera)
}

func newTestSystem(t *testing.T, opts testOptions) *testSystem {
	t.Helper()

	dir := t.TempDir()
	cam := &fakeCamera{steps: opts.steps, fps: 2}
	if opts.cam != nil {
		opts.cam(cam)
	}

	if opts.segment == 0 {
		opts.segment = time.Hour
	}
	rec, err := recorder.NewManager(recorder.Config{
		StoragePath:       dir,
		Format:            "mp4",
		CameraID:          "cam0",
		SegmentDuration:   opts.segment,
		PostRecordSeconds: 1,
	})
	require.NoError(t, err)

	storage, err := diskmanager.NewEnforcer(diskmanager.Policy{
		StoragePath:   dir,
		Extension:     "mp4",
		RetentionDays: 7,
		MaxStorageGB:  1,
	}, diskmanager.WithDiskUsage(func(string) (diskmanager.DiskSpaceInfo, error) {
		return diskmanager.DiskSpaceInfo{TotalBytes: 64 << 30, FreeBytes: 32 << 30}, nil
	}))
	require.NoError(t, err)

	if opts.minFrames == 0 {
		opts.minFrames = 2
	}
	detector, err := motion.NewDetector(motion.Config{
		Width:     testWidth,
		Height:    testHeight,
		Threshold: 7,
		MinFrames: opts.minFrames,
	})
	require.NoError(t, err)

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	log := &eventLog{}
	bus := events.NewBus(events.Config{DedupeWindow: time.Hour})
	require.NoError(t, bus.Register(log))
	bus.Start()
	t.Cleanup(func() { _ = bus.Shutdown(time.Second) })

	ts := &testSystem{cam: cam, rec: rec, storage: storage, metrics: m, events: log, dir: dir}

	cfg := Config{
		CameraID:          "cam0",
		Framerate:         2,
		ThrottleReduceFPS: 1,
		CriticalFPS:       1,
		ErrorBackoff:      time.Millisecond,
		IdleSleep:         time.Millisecond,
		PersistZones: func(z []motion.ZoneConfig) error {
			ts.saved = append(ts.saved, z)
			return nil
		},
	}
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}

	sys, err := New(cfg, Deps{
		Camera:   cam,
		Detector: detector,
		Recorder: rec,
		Storage:  storage,
		Probe:    opts.probe,
		Thermal: thermal.Config{
			Thresholds: thermal.Thresholds{Warning: 55, Throttle: 65, Critical: 75},
			Interval:   time.Hour,
		},
		Metrics: m,
		Events:  bus,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown() })

	ts.sys = sys
	return ts
}

// metricValue reads a counter or gauge sample from the registry. Labels are
// matched as name/value pairs; a missing series reads as zero.
func metricValue(t *testing.T, m *observability.Metrics, name string, labels ...string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want []string) bool {
	for i := 0; i+1 < len(want); i += 2 {
		found := false
		for _, p := range pairs {
			if p.GetName() == want[i] && p.GetValue() == want[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
