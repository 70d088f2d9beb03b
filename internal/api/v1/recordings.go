package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/motioncam/internal/diskmanager"
	"github.com/tphakala/motioncam/internal/recorder"
)

func (c *Controller) initRecordingRoutes() {
	recs := c.Group.Group("/recordings")
	recs.GET("", c.ListRecordings)
	recs.GET("/:name", c.DownloadRecording)
	recs.DELETE("/:name", c.DeleteRecording)

	c.Group.GET("/storage", c.GetStorage)

	rec := c.Group.Group("/recording")
	rec.POST("/start", c.StartRecording)
	rec.POST("/stop", c.StopRecording)
}

// RecordingsResponse lists recordings newest first.
type RecordingsResponse struct {
	Recordings []diskmanager.Recording `json:"recordings"`
	Count      int                     `json:"count"`
	TotalBytes int64                   `json:"totalBytes"`
}

// ListRecordings returns the recordings, served from a short-lived cache.
func (c *Controller) ListRecordings(ctx echo.Context) error {
	if c.listingCache != nil {
		if cached, found := c.listingCache.Get(recordingsCacheKey); found {
			if resp, ok := cached.(RecordingsResponse); ok {
				return ctx.JSON(http.StatusOK, resp)
			}
		}
	}

	recs, err := c.sys.Recordings()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list recordings", 0)
	}

	resp := RecordingsResponse{Recordings: recs, Count: len(recs)}
	if resp.Recordings == nil {
		resp.Recordings = []diskmanager.Recording{}
	}
	for _, r := range recs {
		resp.TotalBytes += r.Size
	}

	if c.listingCache != nil {
		c.listingCache.SetDefault(recordingsCacheKey, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// DownloadRecording streams one recording as an attachment.
func (c *Controller) DownloadRecording(ctx echo.Context) error {
	name := ctx.Param("name")
	path, err := c.sys.RecordingPath(name)
	if err != nil {
		return c.HandleError(ctx, err, "Recording not available", 0)
	}
	return ctx.Attachment(path, name)
}

// DeleteRecording deletes a finished recording.
func (c *Controller) DeleteRecording(ctx echo.Context) error {
	if err := c.sys.DeleteRecording(ctx.Param("name")); err != nil {
		return c.HandleError(ctx, err, "Failed to delete recording", 0)
	}
	c.invalidateListing()
	return ctx.NoContent(http.StatusNoContent)
}

func (c *Controller) invalidateListing() {
	if c.listingCache != nil {
		c.listingCache.Delete(recordingsCacheKey)
	}
}

// StorageResponse adds a human-readable warning to the storage stats.
type StorageResponse struct {
	diskmanager.StorageStats
	Warning string `json:"warning,omitempty"`
}

// GetStorage returns the last storage snapshot.
func (c *Controller) GetStorage(ctx echo.Context) error {
	resp := StorageResponse{StorageStats: c.sys.Storage()}
	if resp.LowFreeSpace {
		resp.Warning = "filesystem free space is below 5 GB"
	}
	return ctx.JSON(http.StatusOK, resp)
}

// RecordingCommandResponse reports the outcome of a manual start or stop.
type RecordingCommandResponse struct {
	Changed bool              `json:"changed"`
	Session *recorder.Session `json:"session,omitempty"`
}

// StartRecording starts a manual recording. Starting while a session is
// active returns that session with changed=false.
func (c *Controller) StartRecording(ctx echo.Context) error {
	sess, started, err := c.sys.StartManualRecording(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start recording", 0)
	}
	return ctx.JSON(http.StatusOK, RecordingCommandResponse{Changed: started, Session: &sess})
}

// StopRecording stops the active recording, manual or motion triggered.
func (c *Controller) StopRecording(ctx echo.Context) error {
	sess, stopped, err := c.sys.StopManualRecording(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to stop recording", 0)
	}
	resp := RecordingCommandResponse{Changed: stopped}
	if stopped {
		resp.Session = &sess
		c.invalidateListing()
	}
	return ctx.JSON(http.StatusOK, resp)
}
