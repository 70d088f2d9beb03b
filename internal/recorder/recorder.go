// Package recorder manages the lifecycle of motion recording sessions.
//
// The Manager decides when a session starts, when it stops after motion
// ends, and when a long session is rotated into a new file. It does not
// write video itself; the caller forwards the session path to the camera.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	componentName = "recorder"

	// timestampLayout is the file name timestamp, e.g. 20250131_142501.
	timestampLayout = "20060102_150405"

	storageDirPermissions = 0o755
)

// ErrAlreadyRecording is returned by StartRecording when a session is active.
var ErrAlreadyRecording = errors.NewStd("recording already in progress")

// State is the recorder state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopReason tells the caller why a session should end.
type StopReason int

const (
	StopNone StopReason = iota
	// StopSegmentRotation: the session reached the segment duration. The
	// caller stops and may immediately start a new session.
	StopSegmentRotation
	// StopPostRecord: no motion for the post-record period.
	StopPostRecord
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopSegmentRotation:
		return "segment_rotation"
	case StopPostRecord:
		return "post_record"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Session is one recording file.
type Session struct {
	ID                string    `json:"id"`
	Path              string    `json:"path"`
	EventType         string    `json:"eventType"`
	Start             time.Time `json:"start"`
	LastMotion        time.Time `json:"lastMotion"`
	FramesSinceMotion int       `json:"framesSinceMotion"`
}

// Duration returns how long the session has been running at now.
func (s Session) Duration(now time.Time) time.Duration {
	return now.Sub(s.Start)
}

// Config configures a Manager.
type Config struct {
	StoragePath       string
	Format            string // file extension without the dot
	CameraID          string
	SegmentDuration   time.Duration
	PostRecordSeconds int
}

// Stats is a snapshot of the recorder.
type Stats struct {
	State           State     `json:"state"`
	Current         *Session  `json:"current,omitempty"`
	TotalRecordings uint64    `json:"totalRecordings"`
	TotalBytes      int64     `json:"totalBytes"`
	LastStop        time.Time `json:"lastStop,omitzero"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is the recording lifecycle state machine. It is safe for concurrent
// use, though in practice only the frame loop mutates it.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	now     func() time.Time
	state   State
	current *Session
	// pending is set between StartRecording and CommitRecording.
	pending bool

	totalRecordings uint64
	totalBytes      int64
	lastStop        time.Time

	log logger.Logger
}

// NewManager creates a Manager and its storage directory. A storage directory
// that cannot be created is a fatal configuration error.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, errors.Newf("storage path cannot be empty").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.SegmentDuration <= 0 {
		return nil, errors.Newf("segment duration %s must be positive", cfg.SegmentDuration).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Format == "" {
		cfg.Format = "mp4"
	}

	if err := os.MkdirAll(cfg.StoragePath, storageDirPermissions); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "create_storage_dir").
			Context("path", cfg.StoragePath).
			Build()
	}

	m := &Manager{
		cfg: cfg,
		now: time.Now,
		log: logger.Global().Module(componentName),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// ShouldStartRecording reports whether a session should start: only when idle
// and motion is triggered.
func (m *Manager) ShouldStartRecording(motion bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateIdle && motion
}

// ShouldStopRecording advances the post-record counter and reports whether the
// active session should end. Segment rotation is checked first and fires
// regardless of motion. A motion frame resets the post-record counter.
func (m *Manager) ShouldStopRecording(motion bool, framerate int) StopReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecording || m.current == nil {
		return StopNone
	}

	now := m.now()
	if now.Sub(m.current.Start) >= m.cfg.SegmentDuration {
		return StopSegmentRotation
	}

	if motion {
		m.current.FramesSinceMotion = 0
		m.current.LastMotion = now
		return StopNone
	}

	m.current.FramesSinceMotion++
	if m.current.FramesSinceMotion >= framerate*m.cfg.PostRecordSeconds {
		return StopPostRecord
	}
	return StopNone
}

// StartRecording reserves a session for eventType. The session stays pending
// until the camera accepts it: call CommitRecording when it does and
// AbortRecording when it does not. When a session is already active it is
// returned together with ErrAlreadyRecording.
func (m *Manager) StartRecording(eventType string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRecording && m.current != nil {
		return *m.current, ErrAlreadyRecording
	}

	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		Path:       m.sessionPath(now, eventType),
		EventType:  eventType,
		Start:      now,
		LastMotion: now,
	}

	m.current = s
	m.state = StateRecording
	m.pending = true

	return *s, nil
}

// CommitRecording marks the pending session as recording and counts it. It
// returns false when no session is pending.
func (m *Manager) CommitRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.pending {
		return false
	}
	m.pending = false
	m.totalRecordings++

	m.log.Info("Recording started",
		logger.String("session_id", m.current.ID),
		logger.String("path", m.current.Path),
		logger.String("event", m.current.EventType))
	return true
}

// AbortRecording drops a pending session. Totals and the last stop time are
// left untouched. It returns false when no session is pending.
func (m *Manager) AbortRecording() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.pending {
		return Session{}, false
	}
	s := *m.current
	m.current = nil
	m.pending = false
	m.state = StateIdle

	m.log.Debug("Recording aborted",
		logger.String("session_id", s.ID),
		logger.String("path", s.Path))
	return s, true
}

// StopRecording ends the committed session, adds its file size to the
// recorded total and returns it. It returns false when idle or when the
// session is still pending.
func (m *Manager) StopRecording() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.pending {
		return Session{}, false
	}

	s := *m.current
	var size int64
	if info, err := os.Stat(s.Path); err == nil {
		size = info.Size()
		m.totalBytes += size
	}

	now := m.now()
	m.current = nil
	m.state = StateIdle
	m.lastStop = now

	m.log.Info("Recording stopped",
		logger.String("session_id", s.ID),
		logger.String("path", s.Path),
		logger.Duration("duration", s.Duration(now)),
		logger.Int64("size_bytes", size))

	return s, true
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Stats returns a snapshot of the recorder.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		State:           m.state,
		TotalRecordings: m.totalRecordings,
		TotalBytes:      m.totalBytes,
		LastStop:        m.lastStop,
	}
	if m.current != nil {
		cur := *m.current
		st.Current = &cur
	}
	return st
}

// StoragePath returns the recordings directory.
func (m *Manager) StoragePath() string {
	return m.cfg.StoragePath
}

// sessionPath builds {storage}/{YYYYMMDD_HHMMSS}_{event}_{camera}.{ext}.
// Two sessions started within the same second get the same name.
func (m *Manager) sessionPath(start time.Time, eventType string) string {
	name := fmt.Sprintf("%s_%s_%s.%s", start.Format(timestampLayout), eventType, m.cfg.CameraID, m.cfg.Format)
	return filepath.Join(m.cfg.StoragePath, name)
}
