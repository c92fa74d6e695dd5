package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mattes337/logsink/internal/cleanup"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

// CleanupAPI exposes the cleanup scheduler.
type CleanupAPI struct {
	scheduler *cleanup.Scheduler
	logger    observability.Logger
}

// NewCleanupAPI creates a CleanupAPI.
func NewCleanupAPI(scheduler *cleanup.Scheduler, logger observability.Logger) *CleanupAPI {
	if logger == nil {
		logger = observability.NewLogger("api.cleanup")
	}
	return &CleanupAPI{scheduler: scheduler, logger: logger}
}

// RegisterRoutes registers the cleanup routes.
func (api *CleanupAPI) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/cleanup")
	{
		group.GET("/status", api.status)
		group.GET("/config", api.config)
		group.POST("/run", api.run)
	}
}

// status handles GET /cleanup/status.
func (api *CleanupAPI) status(c *gin.Context) {
	c.JSON(http.StatusOK, api.scheduler.Status())
}

// config handles GET /cleanup/config.
func (api *CleanupAPI) config(c *gin.Context) {
	c.JSON(http.StatusOK, api.scheduler.Config())
}

// run handles POST /cleanup/run: a synchronous on-demand run. A run already
// in flight yields 409.
func (api *CleanupAPI) run(c *gin.Context) {
	stats, err := api.scheduler.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, models.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "Cleanup is already running"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
