package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (c *Controller) initMotionRoutes() {
	m := c.Group.Group("/motion")
	m.GET("/sensitivity", c.GetSensitivity)
	m.POST("/sensitivity", c.SetSensitivity)
	m.POST("/threshold", c.SetThreshold)
	m.POST("/reset", c.ResetDetector)
}

// SensitivityRequest selects a preset by level or sets a raw threshold.
// Level wins when both are given.
type SensitivityRequest struct {
	Level     string   `json:"level,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// GetSensitivity returns the sensitivity and the preset table.
func (c *Controller) GetSensitivity(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.sys.Sensitivity())
}

// SetSensitivity applies a preset or a raw threshold.
func (c *Controller) SetSensitivity(ctx echo.Context) error {
	var req SensitivityRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid sensitivity request", http.StatusBadRequest)
	}

	var err error
	switch {
	case req.Level != "":
		err = c.sys.SetSensitivity(req.Level)
	case req.Threshold != nil:
		err = c.sys.SetThreshold(*req.Threshold)
	default:
		err = badRequest("either level or threshold is required")
	}
	if err != nil {
		return c.HandleError(ctx, err, "Failed to set sensitivity", 0)
	}
	return ctx.JSON(http.StatusOK, c.sys.Sensitivity())
}

// SetThreshold sets a raw MSE threshold.
func (c *Controller) SetThreshold(ctx echo.Context) error {
	var req SensitivityRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid threshold request", http.StatusBadRequest)
	}
	if req.Threshold == nil {
		return c.HandleError(ctx, badRequest("threshold is required"), "Failed to set threshold", 0)
	}
	if err := c.sys.SetThreshold(*req.Threshold); err != nil {
		return c.HandleError(ctx, err, "Failed to set threshold", 0)
	}
	return ctx.JSON(http.StatusOK, c.sys.Sensitivity())
}

// ResetDetector clears zone baselines and debounce counters.
func (c *Controller) ResetDetector(ctx echo.Context) error {
	c.sys.ResetDetector()
	return ctx.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
