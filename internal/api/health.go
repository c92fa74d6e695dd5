package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks backing-service liveness. Satisfied by the postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated health endpoint.
func HealthHandler(db Pinger, version string) gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		components := gin.H{"database": "healthy"}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			components["database"] = err.Error()
		}

		c.JSON(code, gin.H{
			"status":     status,
			"version":    version,
			"uptime":     time.Since(started).Round(time.Second).String(),
			"components": components,
		})
	}
}
