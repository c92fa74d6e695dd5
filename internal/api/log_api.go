package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/admission"
	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/lifecycle"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store"
)

// logStore is the slice of the store the log handlers read from.
type logStore interface {
	store.IssueStore
	store.DuplicateStore
}

// LogAPI handles the /log surface: admission, listings, lifecycle
// transitions, and image streaming.
type LogAPI struct {
	pipeline *admission.Pipeline
	engine   *lifecycle.Engine
	store    logStore
	images   *images.Store
	logger   observability.Logger
}

// NewLogAPI creates a LogAPI.
func NewLogAPI(pipeline *admission.Pipeline, engine *lifecycle.Engine, st logStore, imgs *images.Store, logger observability.Logger) *LogAPI {
	if logger == nil {
		logger = observability.NewLogger("api.log")
	}
	return &LogAPI{pipeline: pipeline, engine: engine, store: st, images: imgs, logger: logger}
}

// RegisterRoutes registers all log-related routes.
func (api *LogAPI) RegisterRoutes(router gin.IRouter) {
	router.POST("/log", api.admit)
	app := router.Group("/log/:app")
	{
		app.GET("", api.listAll)
		app.GET("/open", api.listState(models.StateRevert, models.StateOpen))
		app.GET("/pending", api.listState(models.StatePending))
		app.GET("/in-progress", api.listState(models.StateInProgress))
		app.GET("/done", api.listState(models.StateDone))
		app.GET("/statistics", api.statistics)
		app.GET("/img/:filename", api.streamImage)

		app.PATCH("/:id/in-progress", api.startProgress)
		app.PUT("/:id", api.setDone)
		app.PATCH("/:id/revert", api.revert)
		app.POST("/:id", api.forceReopen)
		app.PATCH("/:id/plan", api.setPlan)
		app.PATCH("/:id/issue-fields", api.setIssueFields)

		app.DELETE("", api.purgeAll)
		app.DELETE("/closed", api.purgeClosed)
		app.DELETE("/:id", api.closeIssue)
	}
}

type admitRequest struct {
	ApplicationID string         `json:"applicationId"`
	Message       string         `json:"message"`
	Timestamp     *time.Time     `json:"timestamp"`
	Context       models.JSONMap `json:"context"`
	Type          *string        `json:"type"`
	Effort        *string        `json:"effort"`
	Plan          *string        `json:"plan"`
	LLMOutput     *string        `json:"llmOutput"`
}

// admit handles POST /log.
func (api *LogAPI) admit(c *gin.Context) {
	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := api.pipeline.Admit(c.Request.Context(), admission.Request{
		ApplicationID: req.ApplicationID,
		Message:       req.Message,
		Timestamp:     req.Timestamp,
		Context:       req.Context,
		Type:          req.Type,
		Effort:        req.Effort,
		Plan:          req.Plan,
		LLMOutput:     req.LLMOutput,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"logged":       result.Issue,
		"deduplicated": result.Deduplicated,
		"action":       result.Action,
	})
}

// listAll handles GET /log/:app.
func (api *LogAPI) listAll(c *gin.Context) {
	app := c.Param("app")
	logs, err := api.store.List(c.Request.Context(), app)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applicationId": app,
		"totalLogs":     len(logs),
		"logs":          logs,
	})
}

// listState handles the state-scoped listings. The open view is the union
// of open and revert, revert first.
func (api *LogAPI) listState(states ...models.IssueState) gin.HandlerFunc {
	return func(c *gin.Context) {
		app := c.Param("app")
		logs, err := api.store.List(c.Request.Context(), app, states...)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"applicationId": app,
			"totalLogs":     len(logs),
			"logs":          logs,
		})
	}
}

// startProgress handles PATCH /log/:app/:id/in-progress.
func (api *LogAPI) startProgress(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	issue, err := api.engine.StartProgress(c.Request.Context(), app, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": issue.State, "log": issue})
}

type doneRequest struct {
	Message    *string        `json:"message"`
	Error      *string        `json:"error"`
	GitCommit  *string        `json:"git_commit"`
	Statistics models.JSONMap `json:"statistics"`
}

// setDone handles PUT /log/:app/:id.
func (api *LogAPI) setDone(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	var req doneRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	llmMessage := req.Message
	if llmMessage == nil {
		llmMessage = req.Error
	}
	issue, err := api.engine.SetDone(c.Request.Context(), app, id, lifecycle.DoneParams{
		LLMMessage: llmMessage,
		GitCommit:  req.GitCommit,
		Statistics: req.Statistics,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": issue.State, "log": issue})
}

// revert handles PATCH /log/:app/:id/revert.
func (api *LogAPI) revert(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	var req struct {
		RevertReason *string `json:"revertReason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := api.engine.Revert(c.Request.Context(), app, id, req.RevertReason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": issue.State, "log": issue})
}

// forceReopen handles POST /log/:app/:id.
func (api *LogAPI) forceReopen(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	var req struct {
		RejectReason *string `json:"rejectReason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := api.engine.ForceReopen(c.Request.Context(), app, id, req.RejectReason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": issue.State, "log": issue})
}

// setPlan handles PATCH /log/:app/:id/plan.
func (api *LogAPI) setPlan(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Plan == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plan is required"})
		return
	}
	issue, err := api.engine.SetPlan(c.Request.Context(), app, id, req.Plan)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "log": issue})
}

// setIssueFields handles PATCH /log/:app/:id/issue-fields.
func (api *LogAPI) setIssueFields(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	var req struct {
		Plan      *string `json:"plan"`
		Type      *string `json:"type"`
		Effort    *string `json:"effort"`
		LLMOutput *string `json:"llmOutput"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, err := api.engine.SetIssueFields(c.Request.Context(), app, id, lifecycle.IssueFields{
		Plan:      req.Plan,
		Type:      req.Type,
		Effort:    req.Effort,
		LLMOutput: req.LLMOutput,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "log": issue})
}

// closeIssue handles DELETE /log/:app/:id.
func (api *LogAPI) closeIssue(c *gin.Context) {
	app, id, ok := api.appAndID(c)
	if !ok {
		return
	}
	issue, err := api.engine.Close(c.Request.Context(), app, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "state": issue.State})
}

// purgeAll handles DELETE /log/:app.
func (api *LogAPI) purgeAll(c *gin.Context) {
	app := c.Param("app")
	deleted, err := api.engine.Purge(c.Request.Context(), app, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

// purgeClosed handles DELETE /log/:app/closed.
func (api *LogAPI) purgeClosed(c *gin.Context) {
	app := c.Param("app")
	deleted, err := api.engine.Purge(c.Request.Context(), app, models.StateClosed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

// statistics handles GET /log/:app/statistics.
func (api *LogAPI) statistics(c *gin.Context) {
	app := c.Param("app")
	counts, err := api.store.CountByState(c.Request.Context(), app)
	if err != nil {
		respondError(c, err)
		return
	}
	total := 0
	byState := map[string]int{}
	for _, state := range []models.IssueState{
		models.StatePending, models.StateOpen, models.StateInProgress,
		models.StateDone, models.StateRevert, models.StateClosed,
	} {
		byState[string(state)] = counts[state]
		total += counts[state]
	}
	duplicates, err := api.store.CountEdges(c.Request.Context(), app)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applicationId": app,
		"statistics": gin.H{
			"total":      total,
			"byState":    byState,
			"duplicates": duplicates,
		},
	})
}

// streamImage handles GET /log/:app/img/:filename.
func (api *LogAPI) streamImage(c *gin.Context) {
	app := c.Param("app")
	filename := c.Param("filename")
	if !strings.HasPrefix(filename, app+"-img-") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename does not belong to this application"})
		return
	}
	if !api.images.Exists(filename) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}
	path, err := api.images.Path(filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.File(path)
}

// appAndID extracts and validates the :app and :id route params.
func (api *LogAPI) appAndID(c *gin.Context) (string, uuid.UUID, bool) {
	app := c.Param("app")
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
		return "", uuid.Nil, false
	}
	return app, id, true
}
