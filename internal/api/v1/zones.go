package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/motioncam/internal/motion"
)

func (c *Controller) initZoneRoutes() {
	zones := c.Group.Group("/zones")
	zones.GET("", c.ListZones)
	zones.POST("", c.CreateZone)
	zones.POST("/:name/enable", c.EnableZone)
	zones.POST("/:name/disable", c.DisableZone)
	zones.DELETE("/:name", c.DeleteZone)
}

// ZoneRequest is the body of POST /zones. Enabled defaults to true.
type ZoneRequest struct {
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type zonesResponse struct {
	Zones []motion.ZoneState `json:"zones"`
	Count int                `json:"count"`
}

func (c *Controller) zones() zonesResponse {
	z := c.sys.Zones()
	return zonesResponse{Zones: z, Count: len(z)}
}

// ListZones returns every detection zone.
func (c *Controller) ListZones(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.zones())
}

// CreateZone adds a zone and returns the updated zone list.
func (c *Controller) CreateZone(ctx echo.Context) error {
	var req ZoneRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid zone definition", http.StatusBadRequest)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cfg := motion.ZoneConfig{
		Name:    req.Name,
		X:       req.X,
		Y:       req.Y,
		Width:   req.Width,
		Height:  req.Height,
		Enabled: enabled,
	}
	if err := c.sys.AddZone(cfg); err != nil {
		return c.HandleError(ctx, err, "Failed to add zone", 0)
	}
	return ctx.JSON(http.StatusCreated, c.zones())
}

// EnableZone enables a zone by name.
func (c *Controller) EnableZone(ctx echo.Context) error {
	if err := c.sys.EnableZone(ctx.Param("name")); err != nil {
		return c.HandleError(ctx, err, "Failed to enable zone", 0)
	}
	return ctx.JSON(http.StatusOK, c.zones())
}

// DisableZone disables a zone by name.
func (c *Controller) DisableZone(ctx echo.Context) error {
	if err := c.sys.DisableZone(ctx.Param("name")); err != nil {
		return c.HandleError(ctx, err, "Failed to disable zone", 0)
	}
	return ctx.JSON(http.StatusOK, c.zones())
}

// DeleteZone removes a zone by name.
func (c *Controller) DeleteZone(ctx echo.Context) error {
	if err := c.sys.RemoveZone(ctx.Param("name")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete zone", 0)
	}
	return ctx.JSON(http.StatusOK, c.zones())
}
