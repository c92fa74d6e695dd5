package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/embedding"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

const defaultSimilarLimit = 5

// EmbeddingAPI exposes the embedding worker and similarity search.
type EmbeddingAPI struct {
	worker *embedding.Worker
	client embedding.Client
	store  embedding.WorkerStore
	logger observability.Logger
}

// NewEmbeddingAPI creates an EmbeddingAPI.
func NewEmbeddingAPI(worker *embedding.Worker, client embedding.Client, st embedding.WorkerStore, logger observability.Logger) *EmbeddingAPI {
	if logger == nil {
		logger = observability.NewLogger("api.embedding")
	}
	return &EmbeddingAPI{worker: worker, client: client, store: st, logger: logger}
}

// RegisterRoutes registers the embedding routes.
func (api *EmbeddingAPI) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/embedding")
	{
		group.GET("/status", api.status)
		group.GET("/pending", api.pending)
		group.POST("/process", api.process)
		group.POST("/process/:id", api.processOne)
		group.GET("/similar/:app/:id", api.similar)
		group.POST("/search/:app", api.search)
	}
}

// status handles GET /embedding/status.
func (api *EmbeddingAPI) status(c *gin.Context) {
	c.JSON(http.StatusOK, api.worker.Status(c.Request.Context()))
}

// pending handles GET /embedding/pending.
func (api *EmbeddingAPI) pending(c *gin.Context) {
	limit := api.limit(c, 50)
	issues, err := api.store.ListPending(c.Request.Context(), limit, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalPending": len(issues),
		"logs":         issues,
	})
}

// process handles POST /embedding/process: one synchronous worker tick. A
// tick already in flight yields 409.
func (api *EmbeddingAPI) process(c *gin.Context) {
	if err := api.worker.Process(c.Request.Context()); err != nil {
		if errors.Is(err, models.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "Embedding processing is already running"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": api.worker.Status(c.Request.Context())})
}

// processOne handles POST /embedding/process/:id for a single pending issue.
func (api *EmbeddingAPI) processOne(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
		return
	}
	if err := api.worker.ProcessIssue(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// similar handles GET /embedding/similar/:app/:id: nearest neighbors of an
// already-embedded issue.
func (api *EmbeddingAPI) similar(c *gin.Context) {
	app := c.Param("app")
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
		return
	}
	issue, err := api.store.Get(c.Request.Context(), app, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !issue.HasEmbedding() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "log entry has no embedding yet"})
		return
	}
	neighbors, err := api.store.Similar(c.Request.Context(), app, issue.Embedding, api.limit(c, defaultSimilarLimit), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applicationId": app,
		"logId":         id,
		"similar":       neighbors,
	})
}

// search handles POST /embedding/search/:app: free-text semantic search.
func (api *EmbeddingAPI) search(c *gin.Context) {
	app := c.Param("app")
	var req struct {
		Text  string `json:"text"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultSimilarLimit
	}

	vector, err := api.client.Embed(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	results, err := api.store.Similar(c.Request.Context(), app, vector, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"applicationId": app,
		"results":       results,
	})
}

func (api *EmbeddingAPI) limit(c *gin.Context, fallback int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			return n
		}
	}
	return fallback
}
