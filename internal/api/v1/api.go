// Package api implements the JSON control API of motioncam.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability"
	"github.com/tphakala/motioncam/internal/recorder"
	"github.com/tphakala/motioncam/internal/surveillance"
	"github.com/tphakala/motioncam/internal/thermal"
)

const (
	componentName = "api"

	// BasePath is the prefix of every control route.
	BasePath = "/api/v1"

	// DefaultListingTTL bounds how stale a cached recordings listing can be.
	DefaultListingTTL = 5 * time.Second

	recordingsCacheKey = "recordings"
)

// Surveillance is the control surface served by the API.
type Surveillance interface {
	Running() bool
	Status() surveillance.Status

	Zones() []motion.ZoneState
	AddZone(cfg motion.ZoneConfig) error
	EnableZone(name string) error
	DisableZone(name string) error
	RemoveZone(name string) error

	Sensitivity() surveillance.Sensitivity
	SetSensitivity(level string) error
	SetThreshold(threshold float64) error
	ResetDetector()

	Recordings() ([]diskmanager.Recording, error)
	RecordingPath(name string) (string, error)
	DeleteRecording(name string) error
	Storage() diskmanager.StorageStats

	ThermalStatus() (thermal.Status, bool)
	ThermalHistory(window time.Duration) []thermal.Sample
	CameraInfo() camera.Info

	StartManualRecording(ctx context.Context) (recorder.Session, bool, error)
	StopManualRecording(ctx context.Context) (recorder.Session, bool, error)
}

var _ Surveillance = (*surveillance.System)(nil)

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	sys          Surveillance
	metrics      *observability.Metrics
	listingCache *cache.Cache
	listingTTL   time.Duration
	startTime    time.Time
	log          logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithListingTTL sets how long a recordings listing is served from cache.
// Zero disables caching.
func WithListingTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.listingTTL = ttl
	}
}

// WithLogger replaces the module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// New creates the API controller and registers its routes on e. m may be
// nil, in which case /metrics is not mounted.
func New(e *echo.Echo, sys Surveillance, m *observability.Metrics, opts ...Option) (*Controller, error) {
	if e == nil || sys == nil {
		return nil, errors.Newf("echo instance and surveillance system are required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		Echo:       e,
		sys:        sys,
		metrics:    m,
		listingTTL: DefaultListingTTL,
		startTime:  time.Now(),
		log:        logger.Global().Module(componentName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.listingTTL > 0 {
		// No janitor: the single key is replaced on expiry.
		c.listingCache = cache.New(c.listingTTL, 0)
	}

	c.Group = e.Group(BasePath)
	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/status", c.GetStatus)
	c.Group.GET("/camera", c.GetCamera)

	c.initZoneRoutes()
	c.initMotionRoutes()
	c.initRecordingRoutes()
	c.initThermalRoutes()

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HealthCheck reports 200 while the frame loop runs and 503 otherwise.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	running := c.sys.Running()
	status, code := "healthy", http.StatusOK
	if !running {
		status, code = "stopped", http.StatusServiceUnavailable
	}

	uptime := time.Since(c.startTime)
	return ctx.JSON(code, map[string]any{
		"status":         status,
		"running":        running,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// GetStatus returns the full system snapshot.
func (c *Controller) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.sys.Status())
}

// GetCamera returns the camera description.
func (c *Controller) GetCamera(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.sys.CameraInfo())
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString(),
	}
}

// StatusForError maps an error category to an HTTP status.
func StatusForError(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryState):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an error response. code 0 derives the status from the
// error category.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if code == 0 {
		code = StatusForError(err)
	}
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API request rejected", fields...)
	}

	return ctx.JSON(code, resp)
}

func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()
}
