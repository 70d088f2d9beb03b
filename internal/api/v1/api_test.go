package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/recorder"
	"github.com/tphakala/motioncam/internal/surveillance"
	"github.com/tphakala/motioncam/internal/thermal"
)

func testError(cat errors.ErrorCategory, msg string) error {
	return errors.Newf("%s", msg).Component("test").Category(cat).Build()
}

// fakeSystem is an in-memory Surveillance.
type fakeSystem struct {
	mu sync.Mutex

	running     bool
	zones       []motion.ZoneConfig
	level       string
	threshold   float64
	resets      int
	recordings  []diskmanager.Recording
	listCalls   int
	dir         string
	active      *recorder.Session
	storage     diskmanager.StorageStats
	thermal     *thermal.Status
	history     []thermal.Sample
	lastWindow  time.Duration
	commandErr  error
	recordErr   error
	deleteCalls []string
}

func newFakeSystem(t *testing.T) *fakeSystem {
	t.Helper()
	return &fakeSystem{
		running:   true,
		zones:     []motion.ZoneConfig{{Name: motion.FullFrameZone, Width: 320, Height: 240, Enabled: true}},
		level:     "medium",
		threshold: 7,
		dir:       t.TempDir(),
	}
}

func (f *fakeSystem) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSystem) Status() surveillance.Status {
	return surveillance.Status{Running: f.Running(), Framerate: 15, Camera: f.CameraInfo()}
}

func (f *fakeSystem) Zones() []motion.ZoneState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]motion.ZoneState, 0, len(f.zones))
	for _, z := range f.zones {
		out = append(out, motion.ZoneState{ZoneConfig: z})
	}
	return out
}

func (f *fakeSystem) indexOf(name string) int {
	for i, z := range f.zones {
		if z.Name == name {
			return i
		}
	}
	return -1
}

func (f *fakeSystem) AddZone(cfg motion.ZoneConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg.X+cfg.Width > 320 || cfg.Y+cfg.Height > 240 {
		return testError(errors.CategoryValidation, "zone exceeds frame bounds")
	}
	if f.indexOf(cfg.Name) >= 0 {
		return testError(errors.CategoryValidation, "zone already exists")
	}
	f.zones = append(f.zones, cfg)
	return nil
}

func (f *fakeSystem) setEnabled(name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(name)
	if i < 0 {
		return testError(errors.CategoryNotFound, "zone not found")
	}
	f.zones[i].Enabled = enabled
	return nil
}

func (f *fakeSystem) EnableZone(name string) error  { return f.setEnabled(name, true) }
func (f *fakeSystem) DisableZone(name string) error { return f.setEnabled(name, false) }

func (f *fakeSystem) RemoveZone(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(name)
	if i < 0 {
		return testError(errors.CategoryNotFound, "zone not found")
	}
	f.zones = append(f.zones[:i], f.zones[i+1:]...)
	return nil
}

func (f *fakeSystem) Sensitivity() surveillance.Sensitivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return surveillance.Sensitivity{Level: f.level, Threshold: f.threshold, MinFrames: 3, Presets: motion.Presets()}
}

func (f *fakeSystem) SetSensitivity(level string) error {
	threshold, ok := motion.Presets()[level]
	if !ok {
		return testError(errors.CategoryValidation, "unknown sensitivity level")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level, f.threshold = level, threshold
	return nil
}

func (f *fakeSystem) SetThreshold(threshold float64) error {
	if threshold <= 0 {
		return testError(errors.CategoryValidation, "threshold must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = threshold
	f.level = "custom"
	return nil
}

func (f *fakeSystem) ResetDetector() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeSystem) Recordings() ([]diskmanager.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	return append([]diskmanager.Recording(nil), f.recordings...), nil
}

func (f *fakeSystem) RecordingPath(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", testError(errors.CategoryValidation, "invalid recording name")
	}
	path := filepath.Join(f.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", testError(errors.CategoryNotFound, "recording not found")
	}
	return path, nil
}

func (f *fakeSystem) DeleteRecording(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, name)
	if f.active != nil && filepath.Base(f.active.Path) == name {
		return testError(errors.CategoryConflict, "recording in progress")
	}
	for i, r := range f.recordings {
		if r.Name == name {
			f.recordings = append(f.recordings[:i], f.recordings[i+1:]...)
			return nil
		}
	}
	return testError(errors.CategoryNotFound, "recording not found")
}

func (f *fakeSystem) Storage() diskmanager.StorageStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storage
}

func (f *fakeSystem) ThermalStatus() (thermal.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.thermal == nil {
		return thermal.Status{}, false
	}
	return *f.thermal, true
}

func (f *fakeSystem) ThermalHistory(window time.Duration) []thermal.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWindow = window
	return f.history
}

func (f *fakeSystem) CameraInfo() camera.Info {
	return camera.Info{Backend: "simulated", LowresResolution: [2]int{320, 240}, Framerate: 15}
}

func (f *fakeSystem) StartManualRecording(context.Context) (recorder.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandErr != nil {
		return recorder.Session{}, false, f.commandErr
	}
	if f.active != nil {
		return *f.active, false, nil
	}
	f.active = &recorder.Session{ID: "s1", Path: filepath.Join(f.dir, "20240101_120000_manual_cam0.mp4"), EventType: "manual"}
	return *f.active, true, nil
}

func (f *fakeSystem) StopManualRecording(context.Context) (recorder.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandErr != nil {
		return recorder.Session{}, false, f.commandErr
	}
	if f.active == nil {
		return recorder.Session{}, false, nil
	}
	s := *f.active
	f.active = nil
	return s, true, nil
}

// setupTest returns an echo instance with the controller mounted.
func setupTest(t *testing.T, sys *fakeSystem, opts ...Option) (*echo.Echo, *observability.Metrics) {
	t.Helper()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	e := echo.New()
	_, err = New(e, sys, m, opts...)
	require.NoError(t, err)
	return e, m
}

func doRequest(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresSystem(t *testing.T) {
	t.Parallel()
	_, err := New(echo.New(), nil, nil)
	require.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])

	sys.mu.Lock()
	sys.running = false
	sys.mu.Unlock()

	rec = doRequest(t, e, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "stopped", body["status"])
}

func TestStatusAndCamera(t *testing.T) {
	t.Parallel()

	e, _ := setupTest(t, newFakeSystem(t))

	rec := doRequest(t, e, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	for _, key := range []string{"running", "motion", "recording", "camera", "storage"} {
		assert.Contains(t, st, key)
	}
	assert.NotContains(t, st, "thermal", "thermal is omitted when disabled")

	rec = doRequest(t, e, http.MethodGet, "/api/v1/camera", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[camera.Info](t, rec)
	assert.Equal(t, "simulated", info.Backend)
	assert.Equal(t, [2]int{320, 240}, info.LowresResolution)
}

func TestZoneRoutes(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
		wantLen  int
	}{
		{"create", http.MethodPost, "/api/v1/zones", `{"name":"door","x":0,"y":0,"width":100,"height":100}`, http.StatusCreated, 2},
		{"duplicate", http.MethodPost, "/api/v1/zones", `{"name":"door","x":0,"y":0,"width":10,"height":10}`, http.StatusBadRequest, 0},
		{"out of bounds", http.MethodPost, "/api/v1/zones", `{"name":"wide","x":300,"y":0,"width":100,"height":10}`, http.StatusBadRequest, 0},
		{"malformed", http.MethodPost, "/api/v1/zones", `{"name":`, http.StatusBadRequest, 0},
		{"disable", http.MethodPost, "/api/v1/zones/door/disable", "", http.StatusOK, 2},
		{"enable", http.MethodPost, "/api/v1/zones/door/enable", "", http.StatusOK, 2},
		{"enable missing", http.MethodPost, "/api/v1/zones/garage/enable", "", http.StatusNotFound, 0},
		{"delete", http.MethodDelete, "/api/v1/zones/door", "", http.StatusOK, 1},
		{"delete missing", http.MethodDelete, "/api/v1/zones/door", "", http.StatusNotFound, 0},
		{"list", http.MethodGet, "/api/v1/zones", "", http.StatusOK, 1},
	}

	for _, tt := range tests {
		rec := doRequest(t, e, tt.method, tt.target, tt.body)
		require.Equal(t, tt.wantCode, rec.Code, "%s: %s", tt.name, rec.Body.String())
		if tt.wantCode >= http.StatusBadRequest {
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, resp.Code, tt.name)
			assert.NotEmpty(t, resp.CorrelationID, tt.name)
			continue
		}
		resp := decode[zonesResponse](t, rec)
		assert.Equal(t, tt.wantLen, resp.Count, tt.name)
	}
}

func TestCreateZoneDefaultsToEnabled(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/zones", `{"name":"a","width":10,"height":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, e, http.MethodPost, "/api/v1/zones", `{"name":"b","width":10,"height":10,"enabled":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[zonesResponse](t, rec)
	require.Len(t, resp.Zones, 3)
	assert.True(t, resp.Zones[1].Enabled)
	assert.False(t, resp.Zones[2].Enabled)
}

func TestSensitivityRoutes(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/motion/sensitivity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sens := decode[surveillance.Sensitivity](t, rec)
	assert.Equal(t, "medium", sens.Level)
	assert.Len(t, sens.Presets, 4)

	tests := []struct {
		name          string
		target        string
		body          string
		wantCode      int
		wantThreshold float64
	}{
		{"preset", "/api/v1/motion/sensitivity", `{"level":"high"}`, http.StatusOK, 4},
		{"raw threshold", "/api/v1/motion/sensitivity", `{"threshold":9.5}`, http.StatusOK, 9.5},
		{"unknown preset", "/api/v1/motion/sensitivity", `{"level":"extreme"}`, http.StatusBadRequest, 0},
		{"empty", "/api/v1/motion/sensitivity", `{}`, http.StatusBadRequest, 0},
		{"threshold", "/api/v1/motion/threshold", `{"threshold":3}`, http.StatusOK, 3},
		{"threshold missing", "/api/v1/motion/threshold", `{}`, http.StatusBadRequest, 0},
		{"threshold negative", "/api/v1/motion/threshold", `{"threshold":-1}`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		rec := doRequest(t, e, http.MethodPost, tt.target, tt.body)
		require.Equal(t, tt.wantCode, rec.Code, "%s: %s", tt.name, rec.Body.String())
		if tt.wantCode == http.StatusOK {
			got := decode[surveillance.Sensitivity](t, rec)
			assert.InDelta(t, tt.wantThreshold, got.Threshold, 0, tt.name)
		}
	}

	rec = doRequest(t, e, http.MethodPost, "/api/v1/motion/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sys.resets)
}

func TestRecordingsListingIsCached(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	sys.recordings = []diskmanager.Recording{
		{Name: "20240102_120000_motion_cam0.mp4", Size: 300},
		{Name: "20240101_120000_motion_cam0.mp4", Size: 200},
	}
	e, _ := setupTest(t, sys, WithListingTTL(time.Hour))

	for range 3 {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/recordings", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[RecordingsResponse](t, rec)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, int64(500), resp.TotalBytes)
		assert.Equal(t, "20240102_120000_motion_cam0.mp4", resp.Recordings[0].Name)
	}
	assert.Equal(t, 1, sys.listCalls)

	rec := doRequest(t, e, http.MethodDelete, "/api/v1/recordings/20240101_120000_motion_cam0.mp4", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/recordings", "")
	resp := decode[RecordingsResponse](t, rec)
	assert.Equal(t, 1, resp.Count, "delete invalidates the cached listing")
	assert.Equal(t, 2, sys.listCalls)
}

func TestRecordingsListingWithoutCache(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys, WithListingTTL(0))

	rec := doRequest(t, e, http.MethodGet, "/api/v1/recordings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recordings":[],"count":0,"totalBytes":0}`, rec.Body.String())

	doRequest(t, e, http.MethodGet, "/api/v1/recordings", "")
	assert.Equal(t, 2, sys.listCalls)

	sys.recordErr = testError(errors.CategoryFileIO, "scan failed")
	rec = doRequest(t, e, http.MethodGet, "/api/v1/recordings", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDownloadRecording(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	name := "20240101_120000_motion_cam0.mp4"
	require.NoError(t, os.WriteFile(filepath.Join(sys.dir, name), []byte("video-bytes"), 0o600))
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/recordings/"+name, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), name)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/recordings/missing.mp4", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualRecordingRoutes(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/recording/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RecordingCommandResponse](t, rec)
	assert.True(t, resp.Changed)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "manual", resp.Session.EventType)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/recording/start", "")
	resp = decode[RecordingCommandResponse](t, rec)
	assert.False(t, resp.Changed, "second start is a no-op")

	rec = doRequest(t, e, http.MethodDelete, "/api/v1/recordings/20240101_120000_manual_cam0.mp4", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "active recording cannot be deleted")

	rec = doRequest(t, e, http.MethodPost, "/api/v1/recording/stop", "")
	resp = decode[RecordingCommandResponse](t, rec)
	assert.True(t, resp.Changed)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/recording/stop", "")
	resp = decode[RecordingCommandResponse](t, rec)
	assert.False(t, resp.Changed)
	assert.Nil(t, resp.Session)

	sys.commandErr = testError(errors.CategoryState, "surveillance stopped")
	rec = doRequest(t, e, http.MethodPost, "/api/v1/recording/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStorageWarning(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/storage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[StorageResponse](t, rec).Warning)

	sys.storage = diskmanager.StorageStats{RecordingsCount: 4, LowFreeSpace: true}
	rec = doRequest(t, e, http.MethodGet, "/api/v1/storage", "")
	resp := decode[StorageResponse](t, rec)
	assert.Equal(t, 4, resp.RecordingsCount)
	assert.NotEmpty(t, resp.Warning)
}

func TestThermalRoutes(t *testing.T) {
	t.Parallel()

	sys := newFakeSystem(t)
	e, _ := setupTest(t, sys)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/thermal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())

	sys.thermal = &thermal.Status{CurrentTemp: 66, State: thermal.StateThrottled, Throttled: true}
	sys.history = []thermal.Sample{{Temperature: 64}, {Temperature: 66}}

	rec = doRequest(t, e, http.MethodGet, "/api/v1/thermal", "")
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["enabled"])
	assert.InDelta(t, 66.0, body["currentTemp"], 0)
	assert.Equal(t, true, body["throttled"])

	tests := []struct {
		query      string
		wantCode   int
		wantWindow time.Duration
	}{
		{"", http.StatusOK, 10 * time.Minute},
		{"?minutes=30", http.StatusOK, 30 * time.Minute},
		{"?minutes=0", http.StatusBadRequest, 0},
		{"?minutes=abc", http.StatusBadRequest, 0},
		{"?minutes=100000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/thermal/history"+tt.query, "")
		require.Equal(t, tt.wantCode, rec.Code, tt.query)
		if tt.wantCode == http.StatusOK {
			resp := decode[ThermalHistoryResponse](t, rec)
			assert.Equal(t, 2, resp.Count, tt.query)
			assert.Equal(t, tt.wantWindow, sys.lastWindow, tt.query)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := setupTest(t, newFakeSystem(t))

	rec := doRequest(t, e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "motion_frames_processed_total")
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{testError(errors.CategoryValidation, "v"), http.StatusBadRequest},
		{testError(errors.CategoryNotFound, "n"), http.StatusNotFound},
		{testError(errors.CategoryConflict, "c"), http.StatusConflict},
		{testError(errors.CategoryState, "s"), http.StatusServiceUnavailable},
		{testError(errors.CategoryTimeout, "t"), http.StatusGatewayTimeout},
		{testError(errors.CategoryFileIO, "f"), http.StatusInternalServerError},
		{errors.NewStd("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForError(tt.err), tt.err.Error())
	}
}
