// Package thermal monitors CPU temperature and drives throttling decisions.
//
// The Controller classifies each temperature sample into Normal, Warning,
// Throttled or Critical. Entering Throttled or Critical latches the
// controller and notifies the Listener once; the latch is released, with a
// single OnNormal, only when the temperature falls back below the warning
// threshold. Warning is reported on every sample and never touches the latch.
package thermal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const componentName = "thermal"

// DefaultHistorySize is the number of samples kept when Config.HistorySize is zero.
const DefaultHistorySize = 60

// failureLogInterval spaces out repeated sensor failure warnings.
const failureLogInterval = time.Minute

// Listener receives thermal transitions. Calls are made synchronously on the
// sampling goroutine and must not block for long.
type Listener interface {
	OnWarning(temp float64)
	OnThrottle(temp float64)
	OnCritical(temp float64)
	OnNormal(temp float64)
}

// ListenerFuncs adapts functions to Listener; nil fields are skipped.
type ListenerFuncs struct {
	Warning  func(temp float64)
	Throttle func(temp float64)
	Critical func(temp float64)
	Normal   func(temp float64)
}

func (f ListenerFuncs) OnWarning(temp float64) {
	if f.Warning != nil {
		f.Warning(temp)
	}
}

func (f ListenerFuncs) OnThrottle(temp float64) {
	if f.Throttle != nil {
		f.Throttle(temp)
	}
}

func (f ListenerFuncs) OnCritical(temp float64) {
	if f.Critical != nil {
		f.Critical(temp)
	}
}

func (f ListenerFuncs) OnNormal(temp float64) {
	if f.Normal != nil {
		f.Normal(temp)
	}
}

// Config configures a Controller.
type Config struct {
	Thresholds  Thresholds
	Interval    time.Duration // sampling interval
	HistorySize int
}

// Status is a snapshot of the controller.
type Status struct {
	CurrentTemp        float64       `json:"currentTemp"`
	AverageTemp        float64       `json:"averageTemp"`
	State              State         `json:"state"`
	Throttled          bool          `json:"throttled"` // latch
	Thresholds         Thresholds    `json:"thresholds"`
	ThrottleFlags      ThrottleFlags `json:"throttleFlags"`
	ThrottleConditions []string      `json:"throttleConditions"`
	HistorySize        int           `json:"historySize"`
	LastSample         time.Time     `json:"lastSample,omitzero"`
	ProbeErrors        uint64        `json:"probeErrors"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSampleHook registers fn to run after every scheduled sample with the
// resulting status and the probe error, if any.
func WithSampleHook(fn func(Status, error)) Option {
	return func(c *Controller) { c.onSample = fn }
}

// Controller is the thermal hysteresis controller. It owns its sampling
// goroutine; all methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	cfg      Config
	probe    Probe
	listener Listener
	now      func() time.Time
	onSample func(Status, error)

	state       State
	latched     bool
	current     float64
	flags       ThrottleFlags
	hist        *history
	lastSample  time.Time
	probeErrors uint64

	// Sampling goroutine only.
	failLimit *rate.Limiter
	failMuted int

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	log logger.Logger
}

// NewController creates a Controller. listener may be nil.
func NewController(cfg Config, probe Probe, listener Listener, opts ...Option) (*Controller, error) {
	t := cfg.Thresholds
	if t.Warning >= t.Throttle || t.Throttle >= t.Critical {
		return nil, errors.Newf("thresholds must satisfy warning < throttle < critical, got %.1f/%.1f/%.1f",
			t.Warning, t.Throttle, t.Critical).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Interval <= 0 {
		return nil, errors.Newf("sampling interval %s must be positive", cfg.Interval).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		probe:    probe,
		listener: listener,
		now:      time.Now,
		hist:     newHistory(cfg.HistorySize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      logger.Global().Module(componentName),

		failLimit: rate.NewLimiter(rate.Every(failureLogInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// transition is the callback decided by one classification step.
type transition int

const (
	fireNone transition = iota
	fireWarning
	fireThrottle
	fireCritical
	fireNormal
)

// Observe records temp and performs one classification step, notifying the
// listener when the step calls for it.
func (c *Controller) Observe(temp float64) State {
	c.mu.Lock()
	now := c.now()
	c.hist.add(Sample{Time: now, Temperature: temp})
	c.current = temp
	c.lastSample = now

	prev := c.state
	next := c.cfg.Thresholds.Classify(temp)
	fire := fireNone

	switch next {
	case StateCritical:
		if !c.latched {
			c.latched = true
			fire = fireCritical
		}
	case StateThrottled:
		if !c.latched {
			c.latched = true
			fire = fireThrottle
		}
	case StateWarning:
		fire = fireWarning
	case StateNormal:
		if c.latched {
			c.latched = false
			fire = fireNormal
		}
	}
	c.state = next
	c.mu.Unlock()

	if prev != next {
		c.log.Info("Thermal state changed",
			logger.String("from", prev.String()),
			logger.String("to", next.String()),
			logger.Float64("temp_c", temp))
	}

	switch fire {
	case fireCritical:
		c.log.Error("CPU temperature critical", logger.Float64("temp_c", temp))
		c.listener.OnCritical(temp)
	case fireThrottle:
		c.log.Warn("CPU temperature high, throttling", logger.Float64("temp_c", temp))
		c.listener.OnThrottle(temp)
	case fireWarning:
		c.listener.OnWarning(temp)
	case fireNormal:
		c.log.Info("CPU temperature back to normal", logger.Float64("temp_c", temp))
		c.listener.OnNormal(temp)
	case fireNone:
	}

	return next
}

// Sample reads the probe once and classifies the reading. A temperature read
// failure skips the cycle: nothing is recorded and no callback fires.
func (c *Controller) Sample(ctx context.Context) error {
	temp, err := c.probe.ReadCPUTemperature(ctx)
	if err != nil {
		c.mu.Lock()
		c.probeErrors++
		c.mu.Unlock()
		return err
	}

	flags, err := c.probe.ReadThrottleFlags(ctx)
	if err != nil {
		c.log.Debug("Failed to read throttle flags", logger.Error(err))
		flags = 0
	}
	c.mu.Lock()
	c.flags = flags
	c.mu.Unlock()

	if flags.UnderVoltage() {
		c.log.Warn("Under-voltage detected", logger.String("flags", flags.String()))
	}
	if flags.Throttled() || flags.FrequencyCapped() {
		c.log.Warn("Firmware throttling active",
			logger.String("flags", flags.String()),
			logger.Any("conditions", flags.Conditions()))
	}

	c.Observe(temp)
	return nil
}

// Start launches the sampling goroutine: one sample immediately, then one per interval.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.log.Info("Starting thermal monitoring",
		logger.Duration("interval", c.cfg.Interval),
		logger.Float64("warning_c", c.cfg.Thresholds.Warning),
		logger.Float64("throttle_c", c.cfg.Thresholds.Throttle),
		logger.Float64("critical_c", c.cfg.Thresholds.Critical))

	go c.loop()
}

func (c *Controller) loop() {
	defer close(c.done)

	c.sampleAndLog()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sampleAndLog()
		case <-c.ctx.Done():
			c.log.Debug("Thermal monitor loop stopping")
			return
		}
	}
}

func (c *Controller) sampleAndLog() {
	err := c.Sample(c.ctx)
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		if suppressed, ok := c.allowFailureLog(); ok {
			fields := []logger.Field{logger.Error(err)}
			if suppressed > 0 {
				fields = append(fields, logger.Int("suppressed", suppressed))
			}
			c.log.Warn("Failed to read CPU temperature, skipping sample", fields...)
		}
	}
	if c.onSample != nil {
		c.onSample(c.Status(), err)
	}
}

// allowFailureLog reports whether a sensor failure may be logged now and how
// many failures were dropped since the last logged one. A host without a
// readable sensor logs once per failureLogInterval instead of every sample.
func (c *Controller) allowFailureLog() (suppressed int, ok bool) {
	if !c.failLimit.AllowN(c.now(), 1) {
		c.failMuted++
		return 0, false
	}
	suppressed, c.failMuted = c.failMuted, 0
	return suppressed, true
}

// Stop cancels sampling and waits up to timeout for the goroutine to exit.
func (c *Controller) Stop(timeout time.Duration) error {
	c.cancel()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return errors.Newf("thermal monitor did not stop within %s", timeout).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
}

// State returns the current state and latch.
func (c *Controller) State() (state State, latched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.latched
}

// Average returns the mean temperature over the retained history.
func (c *Controller) Average() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.average()
}

// History returns samples from the last window, oldest first.
func (c *Controller) History(window time.Duration) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.since(c.now().Add(-window))
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		CurrentTemp:        c.current,
		AverageTemp:        c.hist.average(),
		State:              c.state,
		Throttled:          c.latched,
		Thresholds:         c.cfg.Thresholds,
		ThrottleFlags:      c.flags,
		ThrottleConditions: c.flags.Conditions(),
		HistorySize:        c.hist.len(),
		LastSample:         c.lastSample,
		ProbeErrors:        c.probeErrors,
	}
}
