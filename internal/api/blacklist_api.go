package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mattes337/logsink/internal/blacklist"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

// BlacklistAPI handles blacklist pattern management.
type BlacklistAPI struct {
	cache  *blacklist.Cache
	logger observability.Logger
}

// NewBlacklistAPI creates a BlacklistAPI.
func NewBlacklistAPI(cache *blacklist.Cache, logger observability.Logger) *BlacklistAPI {
	if logger == nil {
		logger = observability.NewLogger("api.blacklist")
	}
	return &BlacklistAPI{cache: cache, logger: logger}
}

// RegisterRoutes registers the blacklist routes.
func (api *BlacklistAPI) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/blacklist")
	{
		group.GET("", api.list)
		group.POST("", api.create)
		group.PUT("/:id", api.update)
		group.DELETE("/:id", api.remove)
		group.DELETE("", api.clear)
		group.POST("/test", api.test)
		group.GET("/statistics", api.statistics)
		group.POST("/refresh", api.refresh)
	}
}

type patternRequest struct {
	Pattern       string  `json:"pattern"`
	PatternType   string  `json:"patternType"`
	ApplicationID *string `json:"applicationId"`
	Reason        *string `json:"reason"`
}

func (r *patternRequest) toModel() (*models.BlacklistPattern, error) {
	if r.Pattern == "" {
		return nil, models.ErrInvalidInput
	}
	pt := models.PatternType(r.PatternType)
	if pt == "" {
		pt = models.PatternSubstring
	}
	if !models.ValidPatternType(pt) {
		return nil, models.ErrInvalidInput
	}
	app := r.ApplicationID
	if app != nil && *app == "" {
		app = nil
	}
	return &models.BlacklistPattern{
		Pattern:       r.Pattern,
		PatternType:   pt,
		ApplicationID: app,
		Reason:        r.Reason,
	}, nil
}

// list handles GET /blacklist. An applicationId query narrows the result to
// that application's own patterns.
func (api *BlacklistAPI) list(c *gin.Context) {
	var filter *string
	if app := c.Query("applicationId"); app != "" {
		filter = &app
	}
	patterns, err := api.cache.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalPatterns": len(patterns),
		"patterns":      patterns,
	})
}

// create handles POST /blacklist.
func (api *BlacklistAPI) create(c *gin.Context) {
	var req patternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pattern, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern is required and patternType must be exact, substring, or regex"})
		return
	}
	if err := api.cache.Add(c.Request.Context(), pattern); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "pattern": pattern})
}

// update handles PUT /blacklist/:id.
func (api *BlacklistAPI) update(c *gin.Context) {
	id, ok := api.patternID(c)
	if !ok {
		return
	}
	var req patternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pattern, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern is required and patternType must be exact, substring, or regex"})
		return
	}
	pattern.ID = id
	if err := api.cache.Update(c.Request.Context(), pattern); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pattern": pattern})
}

// remove handles DELETE /blacklist/:id.
func (api *BlacklistAPI) remove(c *gin.Context) {
	id, ok := api.patternID(c)
	if !ok {
		return
	}
	if err := api.cache.Remove(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// clear handles DELETE /blacklist.
func (api *BlacklistAPI) clear(c *gin.Context) {
	if err := api.cache.Clear(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// test handles POST /blacklist/test: dry-run matching without admission.
func (api *BlacklistAPI) test(c *gin.Context) {
	var req struct {
		Message       string `json:"message"`
		ApplicationID string `json:"applicationId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	pattern, matched := api.cache.Match(c.Request.Context(), req.Message, req.ApplicationID)
	resp := gin.H{"isBlacklisted": matched}
	if matched {
		resp["pattern"] = pattern
	}
	c.JSON(http.StatusOK, resp)
}

// statistics handles GET /blacklist/statistics.
func (api *BlacklistAPI) statistics(c *gin.Context) {
	c.JSON(http.StatusOK, api.cache.Statistics())
}

// refresh handles POST /blacklist/refresh: forces an index rebuild.
func (api *BlacklistAPI) refresh(c *gin.Context) {
	if err := api.cache.Refresh(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (api *BlacklistAPI) patternID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pattern id"})
		return 0, false
	}
	return id, true
}
