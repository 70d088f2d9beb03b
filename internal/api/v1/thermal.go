package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/motioncam/internal/thermal"
)

const (
	defaultHistoryMinutes = 10
	maxHistoryMinutes     = 24 * 60
)

func (c *Controller) initThermalRoutes() {
	c.Group.GET("/thermal", c.GetThermal)
	c.Group.GET("/thermal/history", c.GetThermalHistory)
}

// ThermalResponse is the thermal status; only Enabled is set when thermal
// monitoring is off.
type ThermalResponse struct {
	Enabled bool `json:"enabled"`
	*thermal.Status
}

// ThermalHistoryResponse holds the samples of the requested window, oldest first.
type ThermalHistoryResponse struct {
	Minutes int              `json:"minutes"`
	Count   int              `json:"count"`
	Samples []thermal.Sample `json:"samples"`
}

// GetThermal returns the thermal controller status.
func (c *Controller) GetThermal(ctx echo.Context) error {
	st, ok := c.sys.ThermalStatus()
	if !ok {
		return ctx.JSON(http.StatusOK, ThermalResponse{})
	}
	return ctx.JSON(http.StatusOK, ThermalResponse{Enabled: true, Status: &st})
}

// GetThermalHistory returns the samples of the last ?minutes (default 10).
func (c *Controller) GetThermalHistory(ctx echo.Context) error {
	minutes := defaultHistoryMinutes
	if raw := ctx.QueryParam("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryMinutes {
			return c.HandleError(ctx,
				badRequest("minutes must be an integer between 1 and %d", maxHistoryMinutes),
				"Invalid history window", 0)
		}
		minutes = n
	}

	samples := c.sys.ThermalHistory(time.Duration(minutes) * time.Minute)
	if samples == nil {
		samples = []thermal.Sample{}
	}
	return ctx.JSON(http.StatusOK, ThermalHistoryResponse{
		Minutes: minutes,
		Count:   len(samples),
		Samples: samples,
	})
}
