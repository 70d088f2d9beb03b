package thermal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = Thresholds{Warning: 55, Throttle: 65, Critical: 75}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) add(kind string, temp float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf("%s@%.0f", kind, temp))
}

func (l *recordingListener) OnWarning(temp float64)  { l.add("warning", temp) }
func (l *recordingListener) OnThrottle(temp float64) { l.add("throttle", temp) }
func (l *recordingListener) OnCritical(temp float64) { l.add("critical", temp) }
func (l *recordingListener) OnNormal(temp float64)   { l.add("normal", temp) }

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeProbe struct {
	mu    sync.Mutex
	temps []float64
	err   error
	flags ThrottleFlags
	calls atomic.Int32
}

func (p *fakeProbe) ReadCPUTemperature(context.Context) (float64, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	if len(p.temps) == 0 {
		return 40, nil
	}
	t := p.temps[0]
	if len(p.temps) > 1 {
		p.temps = p.temps[1:]
	}
	return t, nil
}

func (p *fakeProbe) ReadThrottleFlags(context.Context) (ThrottleFlags, error) {
	return p.flags, nil
}

func newTestController(t *testing.T, probe Probe, l Listener, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(Config{Thresholds: defaultThresholds, Interval: time.Hour, HistorySize: 60}, probe, l, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(time.Second) })
	return c
}

func TestClassifyLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		temp float64
		want State
	}{
		{40, StateNormal},
		{54.9, StateNormal},
		{55, StateWarning},
		{60, StateWarning},
		{65, StateThrottled},
		{74.9, StateThrottled},
		{75, StateCritical},
		{90, StateCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultThresholds.Classify(tt.temp), "temp %v", tt.temp)
	}
}

func TestThrottleFiresOnceAndNormalOnce(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	c := newTestController(t, &fakeProbe{}, l)

	for range 5 {
		c.Observe(50)
	}
	for range 10 {
		c.Observe(68)
	}
	state, latched := c.State()
	assert.Equal(t, StateThrottled, state)
	assert.True(t, latched)

	for range 5 {
		c.Observe(45)
	}
	state, latched = c.State()
	assert.Equal(t, StateNormal, state)
	assert.False(t, latched)

	assert.Equal(t, []string{"throttle@68", "normal@45"}, l.Events())
}

func TestWarningIsLevelTriggeredAndKeepsLatch(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	c := newTestController(t, &fakeProbe{}, l)

	c.Observe(60)
	c.Observe(60)
	c.Observe(70) // throttle, latch set
	c.Observe(60) // warning while latched: latch stays set
	_, latched := c.State()
	assert.True(t, latched)
	c.Observe(50) // normal clears latch

	assert.Equal(t, []string{"warning@60", "warning@60", "throttle@70", "warning@60", "normal@50"}, l.Events())
}

func TestMovesBetweenThrottledAndCriticalFireNothingWhileLatched(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	c := newTestController(t, &fakeProbe{}, l)

	c.Observe(66)
	c.Observe(80)
	c.Observe(70)
	c.Observe(80)
	state, _ := c.State()
	assert.Equal(t, StateCritical, state)
	assert.Equal(t, []string{"throttle@66"}, l.Events())
}

func TestCriticalFromNormalFiresCritical(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	c := newTestController(t, &fakeProbe{}, l)

	c.Observe(40)
	c.Observe(76)
	c.Observe(77)
	c.Observe(40)
	assert.Equal(t, []string{"critical@76", "normal@40"}, l.Events())
}

func TestNormalWithoutLatchFiresNothing(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	c := newTestController(t, &fakeProbe{}, l)

	c.Observe(40)
	c.Observe(41)
	assert.Empty(t, l.Events())
}

func TestSampleProbeFailureSkipsCycle(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	probe := &fakeProbe{err: fmt.Errorf("vcgencmd: not found")}
	c := newTestController(t, probe, l)

	require.Error(t, c.Sample(context.Background()))

	st := c.Status()
	assert.Zero(t, st.HistorySize)
	assert.Equal(t, uint64(1), st.ProbeErrors)
	assert.Empty(t, l.Events())
}

func TestMissingSensorWarningIsRateLimited(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var hookCalls int
	c := newTestController(t, &fakeProbe{err: fmt.Errorf("no thermal zone")}, nil,
		WithClock(func() time.Time { return now }),
		WithSampleHook(func(Status, error) { hookCalls++ }))

	tests := []struct {
		at             time.Duration
		wantLog        bool
		wantSuppressed int
	}{
		{at: 0, wantLog: true},
		{at: 5 * time.Second},
		{at: 10 * time.Second},
		{at: 55 * time.Second},
		{at: time.Minute, wantLog: true, wantSuppressed: 3},
		{at: time.Minute + 5*time.Second},
		{at: 2 * time.Minute, wantLog: true, wantSuppressed: 1},
	}

	start := now
	for _, tt := range tests {
		now = start.Add(tt.at)
		suppressed, ok := c.allowFailureLog()
		assert.Equal(t, tt.wantLog, ok, "at %s", tt.at)
		assert.Equal(t, tt.wantSuppressed, suppressed, "at %s", tt.at)
	}

	// sampling itself is never skipped
	for range 5 {
		c.sampleAndLog()
	}
	assert.Equal(t, 5, hookCalls)
	assert.Equal(t, uint64(5), c.Status().ProbeErrors)
}

func TestSampleRecordsFlags(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{temps: []float64{62.5}, flags: 0x50005}
	c := newTestController(t, probe, nil)

	require.NoError(t, c.Sample(context.Background()))
	st := c.Status()
	assert.InDelta(t, 62.5, st.CurrentTemp, 0)
	assert.Equal(t, StateWarning, st.State)
	assert.Equal(t, ThrottleFlags(0x50005), st.ThrottleFlags)
	assert.Equal(t, []string{"under_voltage", "throttled", "under_voltage_occurred", "throttling_occurred"}, st.ThrottleConditions)
	assert.Equal(t, defaultThresholds, st.Thresholds)
}

func TestHistoryIsBoundedAndWindowed(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewController(Config{Thresholds: defaultThresholds, Interval: time.Second, HistorySize: 3},
		&fakeProbe{}, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for _, temp := range []float64{40, 42, 44, 46, 48} {
		now = now.Add(time.Minute)
		c.Observe(temp)
	}

	assert.Equal(t, 3, c.Status().HistorySize)
	assert.InDelta(t, 46.0, c.Average(), 1e-9)

	recent := c.History(90 * time.Second)
	require.Len(t, recent, 2)
	assert.InDelta(t, 46.0, recent[0].Temperature, 0)
	assert.InDelta(t, 48.0, recent[1].Temperature, 0)

	assert.Len(t, c.History(time.Hour), 3)
}

func TestStartSamplesImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	l := &recordingListener{}
	probe := &fakeProbe{temps: []float64{70}}
	c, err := NewController(Config{Thresholds: defaultThresholds, Interval: 10 * time.Millisecond}, probe, l)
	require.NoError(t, err)

	c.Start()
	c.Start() // second call is a no-op

	require.Eventually(t, func() bool { return probe.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(time.Second))

	// sustained throttled samples fire once
	assert.Equal(t, []string{"throttle@70"}, l.Events())
}

func TestSampleHookSeesFailures(t *testing.T) {
	t.Parallel()

	probe := &fakeProbe{err: fmt.Errorf("no sensor")}
	var (
		mu     sync.Mutex
		errs   int
		states []State
	)
	hook := func(st Status, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs++
		}
		states = append(states, st.State)
	}

	c, err := NewController(Config{Thresholds: defaultThresholds, Interval: time.Hour}, probe, nil, WithSampleHook(hook))
	require.NoError(t, err)
	c.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errs == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateNormal}, states)
	assert.Equal(t, uint64(1), c.Status().ProbeErrors)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	c, err := NewController(Config{Thresholds: defaultThresholds, Interval: time.Second}, &fakeProbe{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Stop(10*time.Millisecond))
}

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewController(Config{Thresholds: Thresholds{Warning: 70, Throttle: 65, Critical: 75}, Interval: time.Second}, &fakeProbe{}, nil)
	require.Error(t, err)
	_, err = NewController(Config{Thresholds: defaultThresholds}, &fakeProbe{}, nil)
	require.Error(t, err)
}

func TestListenerFuncsSkipsNil(t *testing.T) {
	t.Parallel()

	var got float64
	l := ListenerFuncs{Throttle: func(temp float64) { got = temp }}
	l.OnWarning(1)
	l.OnCritical(2)
	l.OnNormal(3)
	l.OnThrottle(66)
	assert.InDelta(t, 66.0, got, 0)
}
